package journal

import "github.com/antigravity-dev/chakravarti/internal/model"

// Journal is the Orchestrator's single entry point for recording and
// observing a Job's progress: Record durably appends an event (fsync
// before return) and then fans it out to live subscribers, in that order,
// so a subscriber never observes an event the durable log doesn't already
// have (invariant I4).
type Journal struct {
	writer *Writer
	bus    *Bus
}

// Open builds a Journal backed by a JSONL writer rooted at dir and a fresh
// in-process event Bus.
func Open(dir string) (*Journal, error) {
	w, err := NewWriter(dir)
	if err != nil {
		return nil, err
	}
	return &Journal{writer: w, bus: NewBus()}, nil
}

// Record durably appends event, then publishes it to live subscribers of
// event.JobID.
func (j *Journal) Record(event model.JobEvent) error {
	if err := j.writer.Append(event); err != nil {
		return err
	}
	j.bus.Publish(event)
	return nil
}

// History replays every durably recorded event for jobID, in order.
func (j *Journal) History(jobID string) ([]model.JobEvent, error) {
	return j.writer.Read(jobID)
}

// Subscribe streams jobID's future events to the returned channel. Callers
// that also want history should call Subscribe first, then History: an
// event recorded between the two calls then appears in both rather than in
// neither, whereas History-then-Subscribe silently drops it.
func (j *Journal) Subscribe(jobID string, buffer int) (<-chan model.JobEvent, func()) {
	return j.bus.Subscribe(jobID, buffer)
}

// Close releases the underlying journal files.
func (j *Journal) Close() error {
	return j.writer.Close()
}
