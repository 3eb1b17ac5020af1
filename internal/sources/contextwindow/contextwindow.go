// Package contextwindow is the tier-1 source for context usage figures
// the host already computed and supplied on stdin.
package contextwindow

import (
	"context"
	"fmt"

	"github.com/wilbur182/pulse/internal/source"
)

// Descriptor returns the context-window data source.
func Descriptor() source.Descriptor {
	return source.New("context-window", source.TierInstant, source.Options{}, fetch, merge)
}

func fetch(_ context.Context, inv *source.Invocation) (source.ContextWindowInfo, error) {
	in := inv.Input.ContextWindow
	if in == nil {
		return source.ContextWindowInfo{}, fmt.Errorf("contextwindow: not supplied by host")
	}
	info := source.ContextWindowInfo{
		UsedTokens: in.UsedTokens,
		MaxTokens:  in.MaxTokens,
	}
	if in.MaxTokens > 0 {
		info.UsedPercent = float64(in.UsedTokens) / float64(in.MaxTokens) * 100
	}
	return info, nil
}

func merge(info source.ContextWindowInfo, h *source.Health) {
	h.ContextWindow = &info
}
