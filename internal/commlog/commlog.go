// Package commlog persists routed comms as append-only JSON-lines files and
// legion state as wholesale-overwritten JSON snapshots.
package commlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Log owns the on-disk layout:
//
//	{base}/{legion}/timeline.jsonl
//	{base}/{legion}/minions/{minion}.jsonl
//	{base}/{legion}/channels/{channel}.jsonl
//	{base}/{legion}/state.json
//
// JSONL files are append-only and never rewritten. The mutex enforces a
// single writer per process; callers already serialize per legion.
type Log struct {
	basePath string
	mu       sync.Mutex
}

func New(basePath string) (*Log, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &Log{basePath: basePath}, nil
}

func (l *Log) AppendTimeline(legionID string, record any) error {
	return l.appendLine(filepath.Join(l.basePath, legionID, "timeline.jsonl"), record)
}

func (l *Log) AppendMinion(legionID, minionID string, record any) error {
	return l.appendLine(filepath.Join(l.basePath, legionID, "minions", minionID+".jsonl"), record)
}

func (l *Log) AppendChannel(legionID, channelID string, record any) error {
	return l.appendLine(filepath.Join(l.basePath, legionID, "channels", channelID+".jsonl"), record)
}

// WriteSnapshot replaces the legion state snapshot atomically via a temp
// file and rename.
func (l *Log) WriteSnapshot(legionID string, state any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	dir := filepath.Join(l.basePath, legionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create legion dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := filepath.Join(dir, ".state.json.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, "state.json")); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot loads the last written state snapshot into v. Returns
// os.ErrNotExist if no snapshot has been written yet.
func (l *Log) ReadSnapshot(legionID string, v any) error {
	data, err := os.ReadFile(filepath.Join(l.basePath, legionID, "state.json"))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (l *Log) appendLine(path string, record any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("append log: %w", err)
	}
	return f.Close()
}

// ReadAll returns every record in a JSONL file, oldest first. Missing files
// yield an empty slice; the logs are created lazily on first append.
func ReadAll[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []T
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec T
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// TimelinePath returns the timeline log path for a legion.
func (l *Log) TimelinePath(legionID string) string {
	return filepath.Join(l.basePath, legionID, "timeline.jsonl")
}

func (l *Log) MinionPath(legionID, minionID string) string {
	return filepath.Join(l.basePath, legionID, "minions", minionID+".jsonl")
}

func (l *Log) ChannelPath(legionID, channelID string) string {
	return filepath.Join(l.basePath, legionID, "channels", channelID+".jsonl")
}
