package runtime

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"loaf/internal/compact"
)

// RolloutMessage is one transcript row in the per-session rollout file.
type RolloutMessage struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	HasImages bool      `json:"has_images,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// appendRollout appends one message to the rollout JSONL.
func appendRollout(path string, msg RolloutMessage) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// loadRollout reads the transcript, skipping malformed lines.
func loadRollout(path string) ([]RolloutMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []RolloutMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg RolloutMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, scanner.Err()
}

// historyFromRollout converts transcript rows into backfill input.
func historyFromRollout(msgs []RolloutMessage) []compact.HistoryMessage {
	out := make([]compact.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, compact.HistoryMessage{Role: m.Role, Text: m.Text, HasImages: m.HasImages})
	}
	return out
}
