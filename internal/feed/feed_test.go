package feed

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fieldtrack/tracker/internal/model"
)

type memWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

func (w *memWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

func discard() *log.Logger { return log.New(io.Discard, "", 0) }

func TestPublishLocationFlushesToMainTopic(t *testing.T) {
	main := &memWriter{}
	dlq := &memWriter{}
	f := newFeed(main, dlq, discard())
	defer f.Close()

	lat := 28.61
	f.PublishLocation(model.LocationUpdate{AgentID: "A1", Latitude: &lat}, time.Now())

	deadline := time.Now().Add(time.Second)
	for main.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if main.count() != 1 {
		t.Fatalf("expected 1 message, got %d", main.count())
	}

	msg := main.msgs[0]
	if string(msg.Key) != "A1" {
		t.Fatalf("message key: got %q", msg.Key)
	}
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatalf("event not valid JSON: %v", err)
	}
	if ev.Kind != "location" || ev.AgentID != "A1" || ev.EventID == "" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Location == nil || *ev.Location.Latitude != 28.61 {
		t.Fatalf("location payload missing: %+v", ev)
	}
	if dlq.count() != 0 {
		t.Fatalf("dlq received %d messages", dlq.count())
	}
}

func TestCloseFlushesPendingEvents(t *testing.T) {
	main := &memWriter{}
	f := newFeed(main, &memWriter{}, discard())

	for i := 0; i < 10; i++ {
		f.PublishStatus(model.StatusUpdate{AgentID: "A1", Status: "ONLINE"}, time.Now())
	}
	f.Close()

	if main.count() != 10 {
		t.Fatalf("Close lost events: got %d want 10", main.count())
	}
}

func TestQuarantineWritesDLQEnvelope(t *testing.T) {
	dlq := &memWriter{}
	f := newFeed(&memWriter{}, dlq, discard())
	defer f.Close()

	f.Quarantine("fieldtrack/agents/location", []byte(`{broken`), io.ErrUnexpectedEOF)

	if dlq.count() != 1 {
		t.Fatalf("expected 1 dlq message, got %d", dlq.count())
	}
	var env map[string]any
	if err := json.Unmarshal(dlq.msgs[0].Value, &env); err != nil {
		t.Fatalf("dlq envelope not valid JSON: %v", err)
	}
	if env["topic"] != "fieldtrack/agents/location" {
		t.Fatalf("topic missing: %v", env)
	}
	if env["error"] != io.ErrUnexpectedEOF.Error() {
		t.Fatalf("cause missing: %v", env)
	}
	if env["original"] != "{broken" {
		t.Fatalf("original payload not preserved: %v", env["original"])
	}
}
