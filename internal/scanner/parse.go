package scanner

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/buger/jsonparser"
)

// xmlTagRegex matches XML/HTML-like tags for stripping from user text.
var xmlTagRegex = regexp.MustCompile(`<[^>]+>`)

// Record is one parsed transcript line relevant to the summary.
type Record struct {
	Type      string // "user" or "assistant"
	Role      string
	Timestamp time.Time
	// Text is the joined text content, XML wrappers stripped for user
	// turns.
	Text   string
	Blocks []Block
}

// Block is one typed content block inside a message.
type Block struct {
	Type     string
	Text     string
	ToolName string
	IsError  bool
}

type rawRecord struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Message   *rawMessage `json:"message"`
}

type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type rawBlock struct {
	Type    string      `json:"type"`
	Text    string      `json:"text"`
	Name    string      `json:"name"`
	Content interface{} `json:"content"`
	IsError bool        `json:"is_error"`
}

// parseRecord decodes one transcript line. Returns nil for lines that are
// not human or assistant turns, or that fail to parse; the scanner never
// raises parse errors.
func parseRecord(line []byte) *Record {
	// Cheap reject before the full unmarshal: most non-message lines
	// (summaries, progress events) never reach encoding/json.
	typ, err := jsonparser.GetString(line, "type")
	if err != nil || (typ != "user" && typ != "assistant") {
		return nil
	}

	var raw rawRecord
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil
	}
	if raw.Message == nil {
		return nil
	}

	rec := &Record{
		Type:      raw.Type,
		Role:      raw.Message.Role,
		Timestamp: raw.Timestamp,
	}
	rec.Text, rec.Blocks = parseContent(raw.Message.Content)
	if rec.Type == "user" {
		rec.Text = extractUserText(rec.Text)
	}
	return rec
}

// parseContent extracts joined text and typed blocks from the content
// field, which is either a plain string or an array of blocks.
func parseContent(rawContent json.RawMessage) (string, []Block) {
	if len(rawContent) == 0 {
		return "", nil
	}

	var strContent string
	if err := json.Unmarshal(rawContent, &strContent); err == nil {
		return strContent, []Block{{Type: "text", Text: strContent}}
	}

	var rawBlocks []rawBlock
	if err := json.Unmarshal(rawContent, &rawBlocks); err != nil {
		return "", nil
	}

	texts := make([]string, 0, len(rawBlocks))
	blocks := make([]Block, 0, len(rawBlocks))
	for _, rb := range rawBlocks {
		b := Block{Type: rb.Type, ToolName: rb.Name, IsError: rb.IsError}
		switch rb.Type {
		case "text":
			b.Text = rb.Text
			texts = append(texts, rb.Text)
		case "tool_result":
			if s, ok := rb.Content.(string); ok {
				b.Text = s
			} else if rb.Content != nil {
				if data, err := json.Marshal(rb.Content); err == nil {
					b.Text = string(data)
				}
			}
		}
		blocks = append(blocks, b)
	}
	return strings.Join(texts, "\n"), blocks
}

// extractUserText strips the XML wrappers the host injects around user
// turns (command tags, caveats, reminders) down to the actual request.
func extractUserText(s string) string {
	if start := strings.Index(s, "<user_query>"); start >= 0 {
		if end := strings.Index(s, "</user_query>"); end > start {
			if extracted := strings.TrimSpace(s[start+len("<user_query>") : end]); extracted != "" {
				return extracted
			}
		}
	}

	if name := commandName(s); name != "" {
		return name
	}

	cleaned := xmlTagRegex.ReplaceAllString(s, " ")
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	// Caveat-only turns carry no user content worth previewing.
	if strings.HasPrefix(cleaned, "Caveat:") || strings.HasPrefix(cleaned, "DO NOT respond") {
		return ""
	}
	return cleaned
}

// commandName extracts a slash command from a user turn, either from
// <command-name> tags or a bare leading slash.
func commandName(s string) string {
	if start := strings.Index(s, "<command-name>"); start >= 0 {
		if end := strings.Index(s[start:], "</command-name>"); end > 0 {
			return strings.TrimSpace(s[start+len("<command-name>") : start+end])
		}
	}
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "/") {
		if fields := strings.Fields(trimmed); len(fields) > 0 && len(fields[0]) > 1 {
			return fields[0]
		}
	}
	return ""
}

// truncatePreview limits last-message previews to a display-safe length.
func truncatePreview(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
