package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Earlier releases kept two flat per-feature files per session instead of
// one checkpoint: a scan position file and a last-message file. They are
// merged into a v2 checkpoint on first load after an upgrade, then
// removed, so accumulated history survives the format change.

type legacyCount struct {
	Path    string    `json:"path"`
	Offset  int64     `json:"offset"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
	Count   int       `json:"count"`
}

type legacyLastMsg struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *Manager) legacyCountPath(sessionID string) string {
	return filepath.Join(filepath.Dir(m.dir), "count-"+sessionID+".json")
}

func (m *Manager) legacyLastMsgPath(sessionID string) string {
	return filepath.Join(filepath.Dir(m.dir), "lastmsg-"+sessionID+".json")
}

// migrateLegacy builds a checkpoint from legacy state files, persists it,
// and removes the old files. Returns nil when no usable legacy state
// exists for the scanned path.
func (m *Manager) migrateLegacy(sessionID, path string) *Checkpoint {
	countData, countErr := os.ReadFile(m.legacyCountPath(sessionID))
	msgData, msgErr := os.ReadFile(m.legacyLastMsgPath(sessionID))
	if countErr != nil && msgErr != nil {
		return nil
	}

	c := &Checkpoint{
		Version:   SchemaVersion,
		SessionID: sessionID,
		Path:      path,
	}

	if countErr == nil {
		var lc legacyCount
		if err := json.Unmarshal(countData, &lc); err == nil && lc.Path == path {
			c.ByteOffset = lc.Offset
			c.Size = lc.Size
			c.ModTime = lc.ModTime
			c.MessageCount = lc.Count
		}
	}
	if msgErr == nil {
		var lm legacyLastMsg
		if err := json.Unmarshal(msgData, &lm); err == nil && lm.Text != "" {
			c.LastMessage = &LastMessage{Role: lm.Role, Text: lm.Text, Timestamp: lm.Timestamp}
		}
	}

	if c.ByteOffset == 0 && c.MessageCount == 0 && c.LastMessage == nil {
		return nil
	}

	if err := m.Save(c); err != nil {
		m.log.WithError(err).WithField("session", sessionID).Debug("legacy migration save failed")
		return c
	}
	os.Remove(m.legacyCountPath(sessionID))
	os.Remove(m.legacyLastMsgPath(sessionID))
	return c
}
