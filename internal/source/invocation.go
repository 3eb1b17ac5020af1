package source

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wilbur182/pulse/internal/cache"
	"github.com/wilbur182/pulse/internal/checkpoint"
	"github.com/wilbur182/pulse/internal/config"
	"github.com/wilbur182/pulse/internal/diag"
	"github.com/wilbur182/pulse/internal/flight"
	"github.com/wilbur182/pulse/internal/scanner"
	"github.com/wilbur182/pulse/internal/store"
)

// Invocation is the explicit context object for one run of the status
// process. Everything a fetch needs hangs off it; there is no package
// level mutable state, so the one-process-one-invocation lifetime is
// visible in the types.
type Invocation struct {
	ID    string
	Cfg   *config.Config
	Log   logrus.FieldLogger
	Input *Input

	Checkpoints *checkpoint.Manager
	Scanner     *scanner.Scanner
	Results     *cache.Cache[scanner.ScanResult]
	Store       *store.Store
	Flight      *flight.Coordinator
	Diag        *diag.Recorder

	Now func() time.Time
}

// Clock returns the invocation clock, defaulting to time.Now.
func (inv *Invocation) Clock() time.Time {
	if inv.Now != nil {
		return inv.Now()
	}
	return time.Now()
}

// Input is the JSON document the host writes on stdin.
type Input struct {
	SessionID      string              `json:"session_id"`
	TranscriptPath string              `json:"transcript_path"`
	CWD            string              `json:"cwd"`
	Model          ModelInput          `json:"model"`
	ContextWindow  *ContextWindowInput `json:"context_window"`
}

// ModelInput identifies the model the host is currently driving.
type ModelInput struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// ContextWindowInput carries pre-computed context usage, when the host
// supplies it.
type ContextWindowInput struct {
	UsedTokens int `json:"used_tokens"`
	MaxTokens  int `json:"max_tokens"`
}

// ParseInput decodes and validates the host document.
func ParseInput(r io.Reader) (*Input, error) {
	var in Input
	dec := json.NewDecoder(r)
	if err := dec.Decode(&in); err != nil {
		return nil, fmt.Errorf("parse host input: %w", err)
	}
	if in.SessionID == "" {
		return nil, fmt.Errorf("host input: missing session_id")
	}
	return &in, nil
}
