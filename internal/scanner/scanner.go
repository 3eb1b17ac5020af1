// Package scanner produces a running summary of one append-only JSONL
// transcript at cost proportional to the bytes appended since the last
// scan, resuming from a persisted checkpoint.
package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wilbur182/pulse/internal/checkpoint"
	"github.com/wilbur182/pulse/internal/config"
)

// previewMaxLen bounds the stored last-message preview.
const previewMaxLen = 200

// readBufPool recycles delta-read buffers across scans.
var readBufPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 64*1024)
		return &b
	},
}

// ScanKind records how a result was produced.
type ScanKind string

const (
	// KindCached means the prior summary was returned with zero bytes read.
	KindCached ScanKind = "cached"
	// KindIncremental means only the appended delta was parsed.
	KindIncremental ScanKind = "incremental"
	// KindFull means the whole file was parsed.
	KindFull ScanKind = "full"
	// KindTail means a bounded tail was parsed and the count approximated.
	KindTail ScanKind = "tail"
)

// ScanResult is the running transcript summary for one session.
type ScanResult struct {
	SessionID    string
	Path         string
	MessageCount int
	// Approximate is set when the count came from the tail-scan
	// byte-ratio heuristic rather than line parsing.
	Approximate bool
	LastMessage *checkpoint.LastMessage
	Findings    []Finding
	Kind        ScanKind
	BytesRead   int64
}

// SizeEstimate approximates the in-memory footprint for cache accounting.
func (r ScanResult) SizeEstimate() int {
	n := 256
	if r.LastMessage != nil {
		n += len(r.LastMessage.Text)
	}
	for _, f := range r.Findings {
		n += len(f.Text) + 64
	}
	return n
}

// Scanner performs checkpointed incremental scans.
type Scanner struct {
	ckpts      *checkpoint.Manager
	cfg        config.ScannerConfig
	extractors []Extractor
	log        logrus.FieldLogger
}

// New creates a scanner. A nil extractor slice gets the built-in set.
func New(ckpts *checkpoint.Manager, cfg config.ScannerConfig, log logrus.FieldLogger, extractors []Extractor) *Scanner {
	if extractors == nil {
		extractors = DefaultExtractors()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scanner{ckpts: ckpts, cfg: cfg, extractors: extractors, log: log}
}

// Scan summarizes the transcript at path for the session. It never
// returns an error: any failure degrades to the prior checkpoint-derived
// summary.
func (s *Scanner) Scan(ctx context.Context, sessionID, path string) ScanResult {
	ckpt, err := s.ckpts.Load(sessionID, path)
	if err != nil {
		s.log.WithError(err).WithField("session", sessionID).Debug("checkpoint load failed")
		ckpt = nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return s.fromCheckpoint(sessionID, path, ckpt)
	}
	size := info.Size()

	if ckpt != nil && size == ckpt.Size && info.ModTime().Equal(ckpt.ModTime) {
		// Unchanged file: prior summary, zero bytes read.
		return s.fromCheckpoint(sessionID, path, ckpt)
	}

	if ckpt == nil || size < ckpt.ByteOffset {
		// Missing checkpoint, or truncation/rotation. Offsets only
		// move backward through this reset.
		return s.rescan(sessionID, path, info, ckpt)
	}

	if size-ckpt.ByteOffset > s.cfg.LargeDeltaBytes {
		return s.rescan(sessionID, path, info, ckpt)
	}

	res, ok := s.incremental(sessionID, path, info, ckpt)
	if !ok {
		return s.fromCheckpoint(sessionID, path, ckpt)
	}
	return res
}

// fromCheckpoint rebuilds the prior summary without touching the file.
func (s *Scanner) fromCheckpoint(sessionID, path string, ckpt *checkpoint.Checkpoint) ScanResult {
	res := ScanResult{SessionID: sessionID, Path: path, Kind: KindCached}
	if ckpt == nil {
		return res
	}
	res.MessageCount = ckpt.MessageCount
	res.Approximate = ckpt.Approximate
	res.LastMessage = ckpt.LastMessage
	for _, ex := range s.extractors {
		res.Findings = append(res.Findings, decodeFindings(ckpt.ExtractorState[ex.ID()])...)
	}
	return res
}

// rescan rebuilds the summary from scratch: a bounded tail read for large
// files, a whole-file parse otherwise. Prior extractor state is discarded
// since findings would otherwise double on a rotated file.
func (s *Scanner) rescan(sessionID, path string, info os.FileInfo, prior *checkpoint.Checkpoint) ScanResult {
	if info.Size() > s.cfg.TailThresholdBytes {
		return s.tailScan(sessionID, path, info, prior)
	}
	return s.fullScan(sessionID, path, info, prior)
}

func (s *Scanner) fullScan(sessionID, path string, info os.FileInfo, prior *checkpoint.Checkpoint) ScanResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return s.fromCheckpoint(sessionID, path, prior)
	}

	parsed := completeLines(data)
	st := s.newScanState(nil)
	st.consume(parsed, s.cfg.MaxFindings)

	res := ScanResult{
		SessionID:    sessionID,
		Path:         path,
		MessageCount: st.count,
		LastMessage:  st.last,
		Findings:     st.allFindings(),
		Kind:         KindFull,
		BytesRead:    info.Size(),
	}
	s.persist(sessionID, path, info, int64(len(parsed)), st, false)
	return res
}

func (s *Scanner) tailScan(sessionID, path string, info os.FileInfo, prior *checkpoint.Checkpoint) ScanResult {
	size := info.Size()
	start := size - s.cfg.TailReadBytes
	if start < 0 {
		start = 0
	}

	f, err := os.Open(path)
	if err != nil {
		return s.fromCheckpoint(sessionID, path, prior)
	}
	defer f.Close()

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return s.fromCheckpoint(sessionID, path, prior)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return s.fromCheckpoint(sessionID, path, prior)
	}

	// The first line in the window is almost certainly partial.
	skipped := 0
	if start > 0 {
		nl := bytes.IndexByte(data, '\n')
		if nl < 0 {
			return s.fromCheckpoint(sessionID, path, prior)
		}
		skipped = nl + 1
		data = data[skipped:]
	}
	parsed := completeLines(data)

	st := s.newScanState(nil)
	st.consume(parsed, s.cfg.MaxFindings)

	// Approximate total count from the byte ratio; the tail window is
	// too small to count the whole file.
	approx := int(size / s.cfg.AvgLineBytes)
	if approx < st.count {
		approx = st.count
	}

	res := ScanResult{
		SessionID:    sessionID,
		Path:         path,
		MessageCount: approx,
		Approximate:  true,
		LastMessage:  st.last,
		Findings:     st.allFindings(),
		Kind:         KindTail,
		BytesRead:    int64(len(data)) + int64(skipped),
	}
	st.count = approx
	s.persist(sessionID, path, info, start+int64(skipped)+int64(len(parsed)), st, true)
	return res
}

// incremental parses exactly the appended range [offset, size). Only
// complete newline-terminated lines are decoded; a trailing partial line
// waits for a future scan.
func (s *Scanner) incremental(sessionID, path string, info os.FileInfo, ckpt *checkpoint.Checkpoint) (ScanResult, bool) {
	f, err := os.Open(path)
	if err != nil {
		return ScanResult{}, false
	}
	defer f.Close()

	if _, err := f.Seek(ckpt.ByteOffset, io.SeekStart); err != nil {
		return ScanResult{}, false
	}

	delta := info.Size() - ckpt.ByteOffset
	bufp := readBufPool.Get().(*[]byte)
	defer readBufPool.Put(bufp)
	buf := *bufp
	if int64(cap(buf)) < delta {
		buf = make([]byte, delta)
		*bufp = buf
	}
	buf = buf[:delta]

	if _, err := io.ReadFull(f, buf); err != nil {
		return ScanResult{}, false
	}

	parsed := completeLines(buf)

	st := s.newScanState(ckpt)
	st.consume(parsed, s.cfg.MaxFindings)

	res := ScanResult{
		SessionID:    sessionID,
		Path:         path,
		MessageCount: st.count,
		Approximate:  ckpt.Approximate,
		LastMessage:  st.last,
		Findings:     st.allFindings(),
		Kind:         KindIncremental,
		BytesRead:    delta,
	}
	s.persist(sessionID, path, info, ckpt.ByteOffset+int64(len(parsed)), st, ckpt.Approximate)
	return res, true
}

// completeLines returns the prefix of data ending at the last newline.
func completeLines(data []byte) []byte {
	cut := bytes.LastIndexByte(data, '\n')
	if cut < 0 {
		return nil
	}
	return data[:cut+1]
}

// scanState accumulates counts, the last human message, and extractor
// findings over a byte range.
type scanState struct {
	count int
	last  *checkpoint.LastMessage
	runs  []*extractorRun
}

// newScanState seeds working state from a checkpoint (nil for rescans).
func (s *Scanner) newScanState(ckpt *checkpoint.Checkpoint) *scanState {
	st := &scanState{}
	var saved map[string]json.RawMessage
	if ckpt != nil {
		st.count = ckpt.MessageCount
		st.last = ckpt.LastMessage
		saved = ckpt.ExtractorState
	}
	for _, ex := range s.extractors {
		st.runs = append(st.runs, newExtractorRun(ex, saved[ex.ID()]))
	}
	return st
}

func (st *scanState) consume(data []byte, maxFindings int) {
	for len(data) > 0 {
		nl := bytes.IndexByte(data, '\n')
		line := data[:nl]
		data = data[nl+1:]

		rec := parseRecord(line)
		if rec == nil {
			continue
		}
		st.count++
		if rec.Type == "user" && rec.Text != "" {
			st.last = &checkpoint.LastMessage{
				Role:      "user",
				Text:      truncatePreview(rec.Text, previewMaxLen),
				Timestamp: rec.Timestamp,
			}
		}
		for _, run := range st.runs {
			run.observe(rec, maxFindings)
		}
	}
}

func (st *scanState) allFindings() []Finding {
	var out []Finding
	for _, run := range st.runs {
		out = append(out, run.findings...)
	}
	return out
}

// persist writes the new checkpoint. Failures are logged, never raised:
// the worst case is a redundant rescan next invocation.
func (s *Scanner) persist(sessionID, path string, info os.FileInfo, offset int64, st *scanState, approximate bool) {
	exState := make(map[string]json.RawMessage, len(st.runs))
	for _, run := range st.runs {
		if data := run.state(); data != nil {
			exState[run.ex.ID()] = data
		}
	}
	ckpt := &checkpoint.Checkpoint{
		SessionID:      sessionID,
		Path:           path,
		ByteOffset:     offset,
		Size:           info.Size(),
		ModTime:        info.ModTime(),
		MessageCount:   st.count,
		Approximate:    approximate,
		LastMessage:    st.last,
		ExtractorState: exState,
		UpdatedAt:      time.Now(),
	}
	if err := s.ckpts.Save(ckpt); err != nil {
		s.log.WithError(err).WithField("session", sessionID).Debug("checkpoint save failed")
	}
}
