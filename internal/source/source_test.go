package source

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRegistryOrderAndDuplicates(t *testing.T) {
	r := NewRegistry()

	for _, id := range []string{"a", "b", "c"} {
		d := Descriptor{ID: id, Tier: TierSession}
		if err := r.Register(d); err != nil {
			t.Fatalf("Register %s: %v", id, err)
		}
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	for i, d := range r.All() {
		want := []string{"a", "b", "c"}[i]
		if d.ID != want {
			t.Errorf("All()[%d].ID = %s, want %s (registration order)", i, d.ID, want)
		}
	}

	if err := r.Register(Descriptor{ID: "b", Tier: TierSession}); err == nil {
		t.Error("duplicate ID should be rejected")
	}
	if err := r.Register(Descriptor{Tier: TierSession}); err == nil {
		t.Error("empty ID should be rejected")
	}
}

func TestRegisterGlobalRequiresCategory(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Descriptor{ID: "g", Tier: TierGlobal}); err == nil {
		t.Error("global descriptor without a category should be rejected")
	}
	if err := r.Register(Descriptor{ID: "g", Tier: TierGlobal, Category: "billing"}); err != nil {
		t.Errorf("Register: %v", err)
	}
}

func TestNewTypedDescriptor(t *testing.T) {
	type payload struct {
		N int `json:"n"`
	}
	d := New("typed", TierGlobal, Options{Category: "billing", Timeout: time.Second},
		func(ctx context.Context, inv *Invocation) (payload, error) {
			return payload{N: 5}, nil
		},
		func(v payload, h *Health) {
			h.Transcript = &TranscriptInfo{MessageCount: v.N}
		})

	res, err := d.Fetch(context.Background(), &Invocation{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	var h Health
	d.Merge(res, &h)
	if h.Transcript == nil || h.Transcript.MessageCount != 5 {
		t.Errorf("merged = %+v, want MessageCount 5", h.Transcript)
	}

	// Decode rehydrates a stored cache entry back into the same type.
	dec, err := d.Decode([]byte(`{"n":9}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	h = Health{}
	d.Merge(dec, &h)
	if h.Transcript == nil || h.Transcript.MessageCount != 9 {
		t.Errorf("decoded merge = %+v, want MessageCount 9", h.Transcript)
	}

	if _, err := d.Decode([]byte(`{`)); err == nil {
		t.Error("Decode should fail on malformed data")
	}

	// A mismatched result type is dropped, not merged.
	h = Health{}
	d.Merge("wrong type", &h)
	if h.Transcript != nil {
		t.Errorf("mismatched merge = %+v, want untouched record", h.Transcript)
	}
}

func TestParseInput(t *testing.T) {
	in, err := ParseInput(strings.NewReader(`{
		"session_id": "S1",
		"transcript_path": "/tmp/s1.jsonl",
		"cwd": "/work",
		"model": {"id": "m-1", "display_name": "M One"},
		"context_window": {"used_tokens": 4000, "max_tokens": 200000}
	}`))
	if err != nil {
		t.Fatalf("ParseInput: %v", err)
	}
	if in.SessionID != "S1" || in.TranscriptPath != "/tmp/s1.jsonl" || in.CWD != "/work" {
		t.Errorf("parsed = %+v", in)
	}
	if in.Model.DisplayName != "M One" {
		t.Errorf("Model = %+v, want M One", in.Model)
	}
	if in.ContextWindow == nil || in.ContextWindow.MaxTokens != 200000 {
		t.Errorf("ContextWindow = %+v", in.ContextWindow)
	}
}

func TestParseInputMissingSession(t *testing.T) {
	if _, err := ParseInput(strings.NewReader(`{"cwd": "/work"}`)); err == nil {
		t.Error("missing session_id should be rejected")
	}
}

func TestParseInputMalformed(t *testing.T) {
	if _, err := ParseInput(strings.NewReader(`not json`)); err == nil {
		t.Error("malformed input should be rejected")
	}
}

func TestInvocationClock(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	inv := &Invocation{Now: func() time.Time { return fixed }}
	if got := inv.Clock(); !got.Equal(fixed) {
		t.Errorf("Clock = %v, want %v", got, fixed)
	}

	inv = &Invocation{}
	if inv.Clock().IsZero() {
		t.Error("default clock should not be zero")
	}
}
