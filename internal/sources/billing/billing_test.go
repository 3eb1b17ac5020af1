package billing

import (
	"context"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	out := []byte(`{
		"cost_usd": 12.34,
		"total_tokens": 500000,
		"input_tokens": 400000,
		"output_tokens": 100000,
		"burn_rate_per_hour": 0.8,
		"period_start": "2026-08-01T00:00:00Z",
		"period_end": "2026-09-01T00:00:00Z"
	}`)

	info, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if info.CostUSD != 12.34 {
		t.Errorf("CostUSD = %v, want 12.34", info.CostUSD)
	}
	if info.TotalTokens != 500000 {
		t.Errorf("TotalTokens = %d, want 500000", info.TotalTokens)
	}
	if info.BurnRatePerHour != 0.8 {
		t.Errorf("BurnRatePerHour = %v, want 0.8", info.BurnRatePerHour)
	}
	if info.PeriodStart.IsZero() || info.PeriodEnd.IsZero() {
		t.Error("period bounds should parse")
	}
}

func TestParseDerivesTotalTokens(t *testing.T) {
	info, err := Parse([]byte(`{"input_tokens": 300, "output_tokens": 200}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if info.TotalTokens != 500 {
		t.Errorf("TotalTokens = %d, want 500 (input + output)", info.TotalTokens)
	}
}

func TestParseTrimsWhitespace(t *testing.T) {
	if _, err := Parse([]byte("\n  {\"cost_usd\": 1}\n")); err != nil {
		t.Errorf("Parse with surrounding whitespace: %v", err)
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := Parse([]byte("meter exploded")); err == nil {
		t.Error("non-JSON meter output should fail")
	}
}

func TestRunMeter(t *testing.T) {
	out, err := runMeter(context.Background(), []string{"echo", `{"cost_usd": 1}`}, time.Second)
	if err != nil {
		t.Fatalf("runMeter: %v", err)
	}
	if _, err := Parse(out); err != nil {
		t.Errorf("Parse of echoed output: %v", err)
	}
}

func TestRunMeterNoCommand(t *testing.T) {
	if _, err := runMeter(context.Background(), nil, time.Second); err == nil {
		t.Error("empty argv should fail")
	}
}

func TestRunMeterCommandFails(t *testing.T) {
	if _, err := runMeter(context.Background(), []string{"false"}, time.Second); err == nil {
		t.Error("non-zero exit should fail")
	}
}

func TestRunMeterCancelledTerminates(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := runMeter(ctx, []string{"sleep", "30"}, 200*time.Millisecond)
	elapsed := time.Since(start)

	if err == nil {
		t.Error("cancelled meter should report an error")
	}
	if elapsed > 3*time.Second {
		t.Errorf("runMeter took %v, want prompt termination after cancel", elapsed)
	}
}
