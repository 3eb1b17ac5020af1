// Package billing is the tier-3 source running the external metering
// command. The command is expensive (multiple seconds) and its answer is
// identical for every session on the machine, so results flow through
// the shared cache store under the "billing" freshness category and
// refreshes are single-flighted across processes.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/wilbur182/pulse/internal/source"
)

// CategoryName is the freshness category billing data is cached under.
const CategoryName = "billing"

// meterDoc is the JSON document the metering command emits on stdout.
type meterDoc struct {
	CostUSD         float64   `json:"cost_usd"`
	TotalTokens     int64     `json:"total_tokens"`
	InputTokens     int64     `json:"input_tokens"`
	OutputTokens    int64     `json:"output_tokens"`
	BurnRatePerHour float64   `json:"burn_rate_per_hour"`
	PeriodStart     time.Time `json:"period_start"`
	PeriodEnd       time.Time `json:"period_end"`
}

// Descriptor returns the billing data source.
func Descriptor(timeout time.Duration) source.Descriptor {
	return source.New(
		"billing",
		source.TierGlobal,
		source.Options{Category: CategoryName, Timeout: timeout},
		fetch,
		merge,
	)
}

func fetch(ctx context.Context, inv *source.Invocation) (source.BillingInfo, error) {
	cfg := inv.Cfg.Billing
	out, err := runMeter(ctx, cfg.Command, cfg.TermGrace)
	if err != nil {
		return source.BillingInfo{}, err
	}
	return Parse(out)
}

// Parse decodes the metering document.
func Parse(out []byte) (source.BillingInfo, error) {
	var doc meterDoc
	if err := json.Unmarshal(bytes.TrimSpace(out), &doc); err != nil {
		return source.BillingInfo{}, errors.Wrap(err, "billing: parse meter output")
	}
	info := source.BillingInfo{
		CostUSD:         doc.CostUSD,
		TotalTokens:     doc.TotalTokens,
		InputTokens:     doc.InputTokens,
		OutputTokens:    doc.OutputTokens,
		BurnRatePerHour: doc.BurnRatePerHour,
		PeriodStart:     doc.PeriodStart,
		PeriodEnd:       doc.PeriodEnd,
	}
	if info.TotalTokens == 0 {
		info.TotalTokens = info.InputTokens + info.OutputTokens
	}
	return info, nil
}

// runMeter executes the metering argv. On context cancellation the
// subprocess first gets SIGTERM, then SIGKILL after the grace period, so
// a wedged meter cannot linger past the invocation.
func runMeter(ctx context.Context, argv []string, grace time.Duration) ([]byte, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("billing: no meter command configured")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "billing: start meter")
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return nil, errors.Wrap(err, "billing: meter failed")
		}
		return stdout.Bytes(), nil
	case <-ctx.Done():
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(grace):
			_ = cmd.Process.Kill()
			<-done
		}
		return nil, ctx.Err()
	}
}

func merge(info source.BillingInfo, h *source.Health) {
	h.Billing = &info
}
