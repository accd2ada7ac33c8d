package journal

import (
	"testing"
	"time"

	"github.com/antigravity-dev/chakravarti/internal/model"
)

func TestWriterAppendAndRead(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	t.Cleanup(func() { w.Close() })

	events := []model.JobEvent{
		{JobID: "job-1", Kind: model.EventJobCreated, Timestamp: time.Now()},
		{JobID: "job-1", Kind: model.EventPlanCreated, Timestamp: time.Now()},
		{JobID: "job-1", Kind: model.EventJobSucceeded, Timestamp: time.Now()},
	}
	for _, e := range events {
		if err := w.Append(e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := w.Read("job-1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("Read() returned %d events, want %d", len(got), len(events))
	}
	for i, e := range got {
		if e.Kind != events[i].Kind {
			t.Errorf("event %d kind = %q, want %q", i, e.Kind, events[i].Kind)
		}
	}
}

func TestWriterReadUnknownJobReturnsNoEvents(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	t.Cleanup(func() { w.Close() })

	got, err := w.Read("never-seen")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no events for unknown job, got %d", len(got))
	}
}

func TestWriterAssignsContiguousMonotonicSeq(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	t.Cleanup(func() { w.Close() })

	for i := 0; i < 3; i++ {
		if err := w.Append(model.JobEvent{JobID: "job-1", Kind: model.EventStepStarted}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := w.Append(model.JobEvent{JobID: "job-2", Kind: model.EventJobCreated}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := w.Read("job-1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	for i, e := range got {
		if e.Seq != i+1 {
			t.Errorf("event %d seq = %d, want %d", i, e.Seq, i+1)
		}
	}

	job2, err := w.Read("job-2")
	if err != nil {
		t.Fatalf("Read(job-2) error = %v", err)
	}
	if len(job2) != 1 || job2[0].Seq != 1 {
		t.Fatalf("job-2 seq = %+v, want a single event with seq 1 (per-job sequence)", job2)
	}
}

func TestWriterResumesSeqFromExistingFile(t *testing.T) {
	dir := t.TempDir()
	w1, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	if err := w1.Append(model.JobEvent{JobID: "job-1", Kind: model.EventJobCreated}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := w1.Append(model.JobEvent{JobID: "job-1", Kind: model.EventPlanCreated}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := w1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	w2, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	t.Cleanup(func() { w2.Close() })
	if err := w2.Append(model.JobEvent{JobID: "job-1", Kind: model.EventJobSucceeded}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := w2.Read("job-1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(got) != 3 || got[2].Seq != 3 {
		t.Fatalf("events = %+v, want 3 events with the third carrying seq 3", got)
	}
}

func TestWriterSeparatesJobsIntoDistinctFiles(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	t.Cleanup(func() { w.Close() })

	if err := w.Append(model.JobEvent{JobID: "job-1", Kind: model.EventJobCreated}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := w.Append(model.JobEvent{JobID: "job-2", Kind: model.EventJobCreated}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	job1, err := w.Read("job-1")
	if err != nil {
		t.Fatalf("Read(job-1) error = %v", err)
	}
	job2, err := w.Read("job-2")
	if err != nil {
		t.Fatalf("Read(job-2) error = %v", err)
	}
	if len(job1) != 1 || len(job2) != 1 {
		t.Fatalf("expected 1 event per job, got job1=%d job2=%d", len(job1), len(job2))
	}
}
