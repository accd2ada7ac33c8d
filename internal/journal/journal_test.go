package journal

import (
	"testing"
	"time"

	"github.com/antigravity-dev/chakravarti/internal/model"
)

func TestJournalRecordIsDurableAndPublished(t *testing.T) {
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })

	ch, unsubscribe := j.Subscribe("job-1", 4)
	defer unsubscribe()

	event := model.JobEvent{JobID: "job-1", Kind: model.EventJobCreated, Timestamp: time.Now()}
	if err := j.Record(event); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	history, err := j.History("job-1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 || history[0].Kind != model.EventJobCreated {
		t.Fatalf("unexpected history: %+v", history)
	}

	select {
	case got := <-ch:
		if got.Kind != model.EventJobCreated {
			t.Errorf("got kind %q, want %q", got.Kind, model.EventJobCreated)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live event")
	}
}
