package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Compile-time assertion that FileJournal satisfies the Journal interface.
var _ Journal = (*FileJournal)(nil)

// FileJournal persists the incremental log as append-only JSON lines in
// <dir>/<session>.log and the final snapshot as a single JSON document in
// <dir>/<session>.json.
//
// Every append opens the log file in O_APPEND mode, writes one line, and
// fsyncs before closing, so a record that Append acknowledged survives a
// crash. Thread-safe for concurrent use.
type FileJournal struct {
	mu       sync.Mutex
	logPath  string
	snapPath string
}

// NewFileJournal creates a FileJournal for one session under dir.
// The directory is created if it does not exist.
func NewFileJournal(dir, sessionID string) (*FileJournal, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("ledger: file journal requires a session id")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create journal dir %q: %w", dir, err)
	}
	return &FileJournal{
		logPath:  filepath.Join(dir, sessionID+".log"),
		snapPath: filepath.Join(dir, sessionID+".json"),
	}, nil
}

// Append implements [Journal.Append].
func (j *FileJournal) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ledger: journal append: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ledger: marshal record: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: open log %q: %w", j.logPath, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("ledger: write log record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("ledger: sync log: %w", err)
	}
	return nil
}

// WriteSnapshot implements [Journal.WriteSnapshot]. The snapshot is written
// to a temporary file first and renamed into place so a partially written
// snapshot is never observable.
func (j *FileJournal) WriteSnapshot(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ledger: write snapshot: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: marshal snapshot: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	tmp := j.snapPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("ledger: write snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, j.snapPath); err != nil {
		return fmt.Errorf("ledger: rename snapshot into place: %w", err)
	}
	return nil
}

// Close implements [Journal.Close]. FileJournal holds no open handles
// between calls, so Close is a no-op.
func (j *FileJournal) Close() error { return nil }

// LogPath returns the path of the incremental log file.
func (j *FileJournal) LogPath() string { return j.logPath }

// SnapshotPath returns the path of the final snapshot file.
func (j *FileJournal) SnapshotPath() string { return j.snapPath }
