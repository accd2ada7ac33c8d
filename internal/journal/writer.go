// Package journal provides the durable, append-only JobEvent log and the
// in-process event bus the API's events(job_id) operation streams from.
package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/antigravity-dev/chakravarti/internal/model"
)

// Writer appends model.JobEvent records to a JSONL file, one job per file,
// under a journal directory. Every Append fsyncs before returning so a
// recorded event survives a crash immediately after the write that produced
// it (invariant I4: side effects are never observed before their causing
// event is durable).
type Writer struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
	seqs  map[string]int
}

// NewWriter opens a Writer rooted at dir, creating it if necessary.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("journal: create dir %s: %w", dir, err)
	}
	return &Writer{dir: dir, files: make(map[string]*os.File), seqs: make(map[string]int)}, nil
}

func (w *Writer) pathFor(jobID string) string {
	return filepath.Join(w.dir, jobID+".jsonl")
}

func (w *Writer) fileFor(jobID string) (*os.File, error) {
	if f, ok := w.files[jobID]; ok {
		return f, nil
	}
	f, err := os.OpenFile(w.pathFor(jobID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", w.pathFor(jobID), err)
	}
	w.files[jobID] = f
	return f, nil
}

// Append assigns event the next monotonic seq for event.JobID (spec §3/§8's
// P4: seq values are 1..N, contiguous and strictly increasing per job),
// marshals it to JSON, and appends it (with a trailing newline) to
// event.JobID's journal file, fsyncing before returning.
func (w *Writer) Append(event model.JobEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.fileFor(event.JobID)
	if err != nil {
		return err
	}

	if _, loaded := w.seqs[event.JobID]; !loaded {
		last, err := w.lastSeqLocked(event.JobID)
		if err != nil {
			return err
		}
		w.seqs[event.JobID] = last
	}
	w.seqs[event.JobID]++
	event.Seq = w.seqs[event.JobID]

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("journal: marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("journal: write event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("journal: fsync: %w", err)
	}
	return nil
}

// lastSeqLocked returns the highest seq already durably recorded for jobID,
// or 0 if its journal file doesn't exist yet. Callers must hold w.mu.
func (w *Writer) lastSeqLocked(jobID string) (int, error) {
	data, err := os.ReadFile(w.pathFor(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("journal: read %s: %w", w.pathFor(jobID), err)
	}

	last := 0
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var e model.JobEvent
		if err := dec.Decode(&e); err != nil {
			break
		}
		last = e.Seq
	}
	return last, nil
}

// Read replays every event durably recorded for jobID, in append order.
func (w *Writer) Read(jobID string) ([]model.JobEvent, error) {
	data, err := os.ReadFile(w.pathFor(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("journal: read %s: %w", w.pathFor(jobID), err)
	}

	var events []model.JobEvent
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var e model.JobEvent
		if err := dec.Decode(&e); err != nil {
			break
		}
		events = append(events, e)
	}
	return events, nil
}

// Close closes every journal file this Writer has opened.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	for _, f := range w.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
