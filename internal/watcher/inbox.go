// Package watcher feeds register exports dropped into an inbox directory
// into the local queue.
package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Guizzs26/hff-sync/internal/db"
	"github.com/Guizzs26/hff-sync/internal/ingest"

	"github.com/fsnotify/fsnotify"
)

const (
	ProcessedDir = "processed"
	RejectedDir  = "rejected"

	defaultSettle = 500 * time.Millisecond
)

// Submitter appends a record to the local queue under a caller-chosen uuid
type Submitter interface {
	SubmitWithID(ctx context.Context, id string, payload json.RawMessage) error
}

// ImportResult summarizes one imported file
type ImportResult struct {
	File       string
	Submitted  int
	Duplicates int // participants already in the local queue
	Skipped    int // rows the parser rejected
}

// Inbox watches a directory for .csv register exports. Files are imported
// once they stop changing, then moved to processed/ (or rejected/ when they
// cannot be parsed).
type Inbox struct {
	dir    string
	parser *ingest.Parser
	sink   Submitter
	logger *slog.Logger
	settle time.Duration
}

func NewInbox(dir string, parser *ingest.Parser, sink Submitter, logger *slog.Logger) *Inbox {
	return &Inbox{
		dir:    dir,
		parser: parser,
		sink:   sink,
		logger: logger.With("inbox", dir),
		settle: defaultSettle,
	}
}

// Run imports files already present, then watches for new ones until ctx ends
func (in *Inbox) Run(ctx context.Context) error {
	for _, sub := range []string{ProcessedDir, RejectedDir} {
		if err := os.MkdirAll(filepath.Join(in.dir, sub), 0o755); err != nil {
			return fmt.Errorf("failed to prepare inbox: %w", err)
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(in.dir); err != nil {
		return fmt.Errorf("failed to watch inbox %s: %w", in.dir, err)
	}

	// Files dropped while the agent was down
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return fmt.Errorf("failed to list inbox: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && isRegisterFile(e.Name()) {
			in.process(ctx, filepath.Join(in.dir, e.Name()))
		}
	}

	in.logger.Info("Watching inbox for register exports")

	// path -> last write seen; a file is imported once it has been quiet for settle
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(in.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if filepath.Dir(ev.Name) != filepath.Clean(in.dir) || !isRegisterFile(ev.Name) {
				continue
			}
			pending[ev.Name] = time.Now()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			in.logger.Warn("Inbox watcher error", "error", err)

		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < in.settle {
					continue
				}
				delete(pending, path)
				in.process(ctx, path)
			}
		}
	}
}

func (in *Inbox) process(ctx context.Context, path string) {
	l := in.logger.With("file", filepath.Base(path))

	res, err := in.ImportFile(ctx, path)
	if err != nil {
		var parseErr *parseError
		if !errors.As(err, &parseErr) {
			// Local store trouble: leave the file so the next start retries it
			l.Error("Import failed, file left in inbox", "error", err)
			return
		}
		l.Warn("Register file rejected", "error", err)
		in.move(path, RejectedDir, l)
		return
	}

	l.Info("Register imported",
		"submitted", res.Submitted,
		"duplicates", res.Duplicates,
		"skipped_rows", res.Skipped,
	)
	in.move(path, ProcessedDir, l)
}

type parseError struct{ err error }

func (e *parseError) Error() string { return e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

// ImportFile parses one register file and submits every valid participant
// under its deterministic uuid. Participants already queued are counted as duplicates.
func (in *Inbox) ImportFile(ctx context.Context, path string) (ImportResult, error) {
	res := ImportResult{File: filepath.Base(path)}

	reg, err := in.parser.ReadFile(path)
	if err != nil {
		return res, &parseError{err}
	}
	res.Skipped = len(reg.SkippedRows)

	for _, p := range reg.Participants {
		payload, err := json.Marshal(p)
		if err != nil {
			return res, fmt.Errorf("encode participant %s: %w", p.ID, err)
		}

		err = in.sink.SubmitWithID(ctx, ingest.ParticipantUUID(p), payload)
		switch {
		case err == nil:
			res.Submitted++
		case errors.Is(err, db.ErrDuplicateIdentifier):
			res.Duplicates++
		default:
			return res, err
		}
	}
	return res, nil
}

// move renames into sub, adding a timestamp when the name is taken
func (in *Inbox) move(path, sub string, l *slog.Logger) {
	base := filepath.Base(path)
	dst := filepath.Join(in.dir, sub, base)
	if _, err := os.Stat(dst); err == nil {
		ext := filepath.Ext(base)
		dst = filepath.Join(in.dir, sub, fmt.Sprintf("%s-%s%s",
			strings.TrimSuffix(base, ext), time.Now().UTC().Format("20060102T150405"), ext))
	}
	if err := os.Rename(path, dst); err != nil {
		l.Error("Failed to move register file", "dest", dst, "error", err)
	}
}

func isRegisterFile(name string) bool {
	base := filepath.Base(name)
	return strings.EqualFold(filepath.Ext(base), ".csv") && !strings.HasPrefix(base, ".")
}
