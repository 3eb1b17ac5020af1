package source

import "time"

// Health is the aggregate record produced by one invocation. Each field
// below the header is a disjoint subtree owned by exactly one source;
// unresolved sources leave their subtree nil.
type Health struct {
	SessionID   string    `json:"sessionId"`
	Invocation  string    `json:"invocation"`
	GeneratedAt time.Time `json:"generatedAt"`
	Version     string    `json:"version,omitempty"`

	ContextWindow *ContextWindowInfo `json:"contextWindow,omitempty"`
	Transcript    *TranscriptInfo    `json:"transcript,omitempty"`
	Git           *GitInfo           `json:"git,omitempty"`
	Billing       *BillingInfo       `json:"billing,omitempty"`
	Quota         *QuotaInfo         `json:"quota,omitempty"`
}

// ContextWindowInfo reports context usage figures supplied by the host.
type ContextWindowInfo struct {
	UsedTokens  int     `json:"usedTokens"`
	MaxTokens   int     `json:"maxTokens"`
	UsedPercent float64 `json:"usedPercent"`
}

// TranscriptInfo summarizes the session transcript scan.
type TranscriptInfo struct {
	MessageCount int        `json:"messageCount"`
	Approximate  bool       `json:"approximate,omitempty"`
	LastMessage  *MessageAt `json:"lastMessage,omitempty"`
	Findings     []Finding  `json:"findings,omitempty"`
}

// MessageAt is a message preview with its timestamp.
type MessageAt struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Finding is one deduplicated content-extractor hit from the transcript.
type Finding struct {
	Extractor   string    `json:"extractor"`
	Text        string    `json:"text"`
	At          time.Time `json:"at,omitempty"`
	Fingerprint uint64    `json:"fingerprint"`
}

// GitInfo describes the working tree of the host cwd.
type GitInfo struct {
	Branch     string `json:"branch"`
	Ahead      int    `json:"ahead"`
	Behind     int    `json:"behind"`
	DirtyFiles int    `json:"dirtyFiles"`
}

// BillingInfo describes the currently active billing period as reported
// by the metering subprocess.
type BillingInfo struct {
	CostUSD         float64   `json:"costUSD"`
	TotalTokens     int64     `json:"totalTokens"`
	InputTokens     int64     `json:"inputTokens"`
	OutputTokens    int64     `json:"outputTokens"`
	BurnRatePerHour float64   `json:"burnRatePerHour"`
	PeriodStart     time.Time `json:"periodStart"`
	PeriodEnd       time.Time `json:"periodEnd"`
}

// QuotaInfo reports weekly quota consumption. Source is "manual" when the
// user-managed quota document supplied the value, "derived" otherwise.
type QuotaInfo struct {
	WeeklyPercent float64 `json:"weeklyPercent"`
	Source        string  `json:"source"`
}
