package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/psantana5/spotdl-api/pkg/models"
)

func TestBusSinceAndTrim(t *testing.T) {
	bus := NewBus(3)
	for i := 0; i < 5; i++ {
		bus.Publish(Event{JobID: "j", Status: models.JobStatusQueued})
	}

	all := bus.Since(0)
	if len(all) != 3 {
		t.Fatalf("expected 3 retained events, got %d", len(all))
	}
	if all[0].Seq != 3 || all[2].Seq != 5 {
		t.Errorf("unexpected sequence range %d..%d", all[0].Seq, all[2].Seq)
	}
	if got := bus.Since(4); len(got) != 1 || got[0].Seq != 5 {
		t.Errorf("Since(4) = %+v", got)
	}
	if bus.LastSeq() != 5 {
		t.Errorf("LastSeq = %d", bus.LastSeq())
	}
}

type recordingSink struct {
	events []Event
	err    error
}

func (r *recordingSink) Send(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestDispatcherForwardsTerminalOnly(t *testing.T) {
	sink := &recordingSink{}
	failing := &recordingSink{err: errors.New("down")}
	d := NewDispatcher(NewBus(10), nil, failing, sink)

	job := &models.Job{ID: "j1", Kind: models.KindTrack, Status: models.JobStatusQueued}
	d.JobChanged(context.Background(), job)
	job.Status = models.JobStatusDownloading
	d.JobChanged(context.Background(), job)
	job.Status = models.JobStatusCompleted
	job.ResultLocation = "/x.mp3"
	d.JobChanged(context.Background(), job)

	if n := len(d.Bus().Since(0)); n != 3 {
		t.Errorf("bus holds %d events, want 3", n)
	}
	if len(sink.events) != 1 || sink.events[0].Status != models.JobStatusCompleted {
		t.Errorf("sink got %+v", sink.events)
	}
	if len(failing.events) != 1 {
		t.Errorf("a failing sink must not stop delivery")
	}
}

func TestKafkaSink(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var e Event
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.JobID != "j1" || e.Status != models.JobStatusFailed {
			return errors.New("unexpected event payload")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := NewKafkaSinkFromProducer(producer, "spotdl.jobs")
	ev := Event{Seq: 1, JobID: "j1", Status: models.JobStatusFailed, Error: "rate limited"}

	if err := sink.Send(context.Background(), ev); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if err := sink.Send(context.Background(), ev); !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Errorf("expected ErrOutOfBrokers, got %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
