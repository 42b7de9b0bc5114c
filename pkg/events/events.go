// Package events publishes job lifecycle changes.
//
// Every status change lands in a bounded in-memory bus that clients poll
// incrementally by sequence number. Terminal changes are also forwarded to
// optional sinks such as Kafka.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/psantana5/spotdl-api/pkg/models"
)

// Event is a sequenced job status change
type Event struct {
	Seq            int64            `json:"seq"`
	Timestamp      time.Time        `json:"timestamp"`
	JobID          string           `json:"task_id"`
	Kind           models.JobKind   `json:"kind"`
	Status         models.JobStatus `json:"status"`
	ResultLocation string           `json:"file_path,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// Terminal reports whether the event ends its job
func (e Event) Terminal() bool {
	return models.IsTerminalState(e.Status)
}

// FromJob builds an unsequenced event from a job snapshot
func FromJob(job *models.Job) Event {
	return Event{
		JobID:          job.ID,
		Kind:           job.Kind,
		Status:         job.Status,
		ResultLocation: job.ResultLocation,
		Error:          job.Error,
	}
}

// Bus stores recent events and provides incremental reads.
type Bus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewBus creates a bounded in-memory event buffer.
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &Bus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *Bus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *Bus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// LastSeq returns the sequence number of the newest event
func (b *Bus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}

// Sink receives terminal events
type Sink interface {
	Send(ctx context.Context, event Event) error
}

// Dispatcher feeds the bus and forwards terminal events to sinks
type Dispatcher struct {
	bus    *Bus
	sinks  []Sink
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher over bus
func NewDispatcher(bus *Bus, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{bus: bus, sinks: sinks, logger: logger}
}

// Bus returns the underlying bus
func (d *Dispatcher) Bus() *Bus {
	return d.bus
}

// JobChanged records a job snapshot. Sink failures are logged only.
func (d *Dispatcher) JobChanged(ctx context.Context, job *models.Job) {
	event := d.bus.Publish(FromJob(job))
	if !event.Terminal() {
		return
	}
	for _, sink := range d.sinks {
		if err := sink.Send(ctx, event); err != nil {
			d.logger.Warn("event sink failed",
				zap.String("job_id", event.JobID),
				zap.Int64("seq", event.Seq),
				zap.Error(err))
		}
	}
}
