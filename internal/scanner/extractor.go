package scanner

import (
	"encoding/json"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Finding is one deduplicated content-extractor hit.
type Finding struct {
	Extractor   string    `json:"extractor"`
	Text        string    `json:"text"`
	At          time.Time `json:"at,omitempty"`
	Fingerprint uint64    `json:"fingerprint"`
}

// Extractor mines findings out of newly scanned transcript records.
// Extractors only ever see bytes appended since the last checkpoint;
// deduplication across scans happens via fingerprints.
type Extractor interface {
	ID() string
	Extract(rec *Record) []Finding
}

// Fingerprint produces the stable dedup key for a finding's text.
func Fingerprint(extractorID, text string) uint64 {
	return xxhash.Sum64String(extractorID + "\x00" + text)
}

// DefaultExtractors returns the built-in extractor set.
func DefaultExtractors() []Extractor {
	return []Extractor{commandExtractor{}, toolErrorExtractor{}}
}

// commandExtractor records slash commands the user issued, so the status
// line can surface the last explicit action taken.
type commandExtractor struct{}

func (commandExtractor) ID() string { return "command" }

func (commandExtractor) Extract(rec *Record) []Finding {
	if rec.Type != "user" {
		return nil
	}
	name := commandName(rec.Text)
	if name == "" {
		return nil
	}
	return []Finding{{
		Extractor:   "command",
		Text:        name,
		At:          rec.Timestamp,
		Fingerprint: Fingerprint("command", name+"@"+rec.Timestamp.Format(time.RFC3339)),
	}}
}

// toolErrorExtractor records failed tool results, a cheap proxy for
// "something went wrong recently in this session".
type toolErrorExtractor struct{}

func (toolErrorExtractor) ID() string { return "tool_error" }

func (toolErrorExtractor) Extract(rec *Record) []Finding {
	if rec.Type != "user" {
		return nil
	}
	var findings []Finding
	for _, b := range rec.Blocks {
		if b.Type != "tool_result" || !b.IsError {
			continue
		}
		text := truncatePreview(b.Text, 120)
		if text == "" {
			text = "tool error"
		}
		findings = append(findings, Finding{
			Extractor:   "tool_error",
			Text:        text,
			At:          rec.Timestamp,
			Fingerprint: Fingerprint("tool_error", text),
		})
	}
	return findings
}

// extractorState is the per-extractor slice of checkpoint state:
// retained findings plus the fingerprints already seen.
type extractorState struct {
	Findings []Finding `json:"findings,omitempty"`
	Seen     []uint64  `json:"seen,omitempty"`
}

// extractorRun is the in-memory working state for one extractor during a
// scan.
type extractorRun struct {
	ex       Extractor
	findings []Finding
	seen     map[uint64]struct{}
}

func newExtractorRun(ex Extractor, saved json.RawMessage) *extractorRun {
	run := &extractorRun{ex: ex, seen: make(map[uint64]struct{})}
	if len(saved) > 0 {
		var st extractorState
		if err := json.Unmarshal(saved, &st); err == nil {
			run.findings = st.Findings
			for _, fp := range st.Seen {
				run.seen[fp] = struct{}{}
			}
		}
	}
	return run
}

// observe runs the extractor over one record, deduplicating by
// fingerprint and capping retained findings at maxFindings (oldest
// dropped first).
func (r *extractorRun) observe(rec *Record, maxFindings int) {
	for _, f := range r.ex.Extract(rec) {
		if _, dup := r.seen[f.Fingerprint]; dup {
			continue
		}
		r.seen[f.Fingerprint] = struct{}{}
		r.findings = append(r.findings, f)
		if maxFindings > 0 && len(r.findings) > maxFindings {
			r.findings = r.findings[len(r.findings)-maxFindings:]
		}
	}
}

func (r *extractorRun) state() json.RawMessage {
	st := extractorState{Findings: r.findings, Seen: make([]uint64, 0, len(r.seen))}
	for fp := range r.seen {
		st.Seen = append(st.Seen, fp)
	}
	data, err := json.Marshal(st)
	if err != nil {
		return nil
	}
	return data
}

// decodeFindings pulls retained findings back out of persisted state.
func decodeFindings(saved json.RawMessage) []Finding {
	if len(saved) == 0 {
		return nil
	}
	var st extractorState
	if err := json.Unmarshal(saved, &st); err != nil {
		return nil
	}
	return st.Findings
}
