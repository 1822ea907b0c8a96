// Package feed publishes reconciled presence mutations to kafka for
// downstream consumers (history, analytics), and quarantines malformed
// broker payloads on a DLQ topic.
package feed

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/fieldtrack/tracker/internal/config"
	"github.com/fieldtrack/tracker/internal/model"
)

// Event is the envelope written to the main topic.
type Event struct {
	EventID    string                `json:"eventId"`
	Kind       string                `json:"kind"` // "location" or "status"
	AgentID    string                `json:"agentId"`
	ReceivedAt time.Time             `json:"receivedAt"`
	Location   *model.LocationUpdate `json:"location,omitempty"`
	Status     *model.StatusUpdate   `json:"status,omitempty"`
}

// messageWriter is the kafka.Writer surface the feed uses; tests inject
// an in-memory implementation.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Feed batches events in a background loop and flushes them either when
// the batch fills or on a short tick, on top of the writer's own async
// batching.
type Feed struct {
	main messageWriter
	dlq  messageWriter
	log  *log.Logger

	inputCh  chan kafka.Message
	stopCh   chan struct{}
	doneCh   chan struct{}
	maxBatch int
	tick     time.Duration
}

func NewKafkaFeed(cfg *config.Config) *Feed {
	return newFeed(
		newWriter(cfg, cfg.KafkaTopic),
		newWriter(cfg, cfg.KafkaDLQTopic),
		cfg.Logger,
	)
}

func newFeed(main, dlq messageWriter, logger *log.Logger) *Feed {
	if logger == nil {
		logger = log.Default()
	}
	f := &Feed{
		main:     main,
		dlq:      dlq,
		log:      logger,
		inputCh:  make(chan kafka.Message, 10_000),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		maxBatch: 500,
		tick:     50 * time.Millisecond,
	}
	go f.loop()
	return f
}

func newWriter(cfg *config.Config, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},

		BatchSize:    1000,
		BatchBytes:   1 << 20,
		BatchTimeout: 5 * time.Millisecond,

		RequiredAcks: parseAcks(cfg.KafkaRequiredAcks),
		Async:        true,
		Compression:  parseCompression(cfg.KafkaCompression),
	}
}

func (f *Feed) loop() {
	defer close(f.doneCh)
	batch := make([]kafka.Message, 0, f.maxBatch)
	t := time.NewTicker(f.tick)
	defer t.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := f.main.WriteMessages(context.Background(), batch...); err != nil {
			f.log.Printf("[kafka] feed write failed (%d events dropped): %v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case m := <-f.inputCh:
			batch = append(batch, m)
			if len(batch) >= f.maxBatch {
				flush()
			}
		case <-t.C:
			flush()
		case <-f.stopCh:
			for {
				select {
				case m := <-f.inputCh:
					batch = append(batch, m)
				default:
					flush()
					return
				}
			}
		}
	}
}

// PublishLocation enqueues a location mutation event. The feed is a side
// channel: a full buffer drops the event rather than stalling reconciliation.
func (f *Feed) PublishLocation(ev model.LocationUpdate, receivedAt time.Time) {
	f.publish(Event{
		EventID:    uuid.NewString(),
		Kind:       "location",
		AgentID:    ev.AgentID,
		ReceivedAt: receivedAt,
		Location:   &ev,
	})
}

// PublishStatus enqueues a status mutation event.
func (f *Feed) PublishStatus(ev model.StatusUpdate, receivedAt time.Time) {
	f.publish(Event{
		EventID:    uuid.NewString(),
		Kind:       "status",
		AgentID:    ev.AgentID,
		ReceivedAt: receivedAt,
		Status:     &ev,
	})
}

func (f *Feed) publish(ev Event) {
	buf, err := json.Marshal(ev)
	if err != nil {
		f.log.Printf("[kafka] marshal event: %v", err)
		return
	}
	select {
	case f.inputCh <- kafka.Message{Key: []byte(ev.AgentID), Value: buf}:
	default:
		f.log.Printf("[kafka] feed buffer full, dropping %s event for %s", ev.Kind, ev.AgentID)
	}
}

// Quarantine writes a malformed broker payload to the DLQ with the parse
// error and the original bytes.
func (f *Feed) Quarantine(topic string, payload []byte, cause error) {
	dlq := map[string]any{
		"error":      cause.Error(),
		"original":   json.RawMessage(payload),
		"topic":      topic,
		"receivedAt": time.Now().UTC().Format(time.RFC3339Nano),
	}
	buf, err := json.Marshal(dlq)
	if err != nil {
		// The original bytes were not valid JSON; wrap them as a string.
		dlq["original"] = string(payload)
		buf, _ = json.Marshal(dlq)
	}
	if err := f.dlq.WriteMessages(context.Background(), kafka.Message{Key: []byte("invalid"), Value: buf}); err != nil {
		f.log.Printf("[kafka] dlq write failed: %v", err)
	}
}

// Close flushes buffered events and closes both writers.
func (f *Feed) Close() {
	close(f.stopCh)
	<-f.doneCh
	_ = f.main.Close()
	_ = f.dlq.Close()
}

func parseCompression(s string) kafka.Compression {
	switch strings.ToLower(s) {
	case "", "none", "no", "off", "0":
		return kafka.Compression(0)
	case "gzip":
		return kafka.Gzip
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Snappy
	}
}

func parseAcks(s string) kafka.RequiredAcks {
	switch strings.ToLower(s) {
	case "none":
		return kafka.RequireNone
	case "all":
		return kafka.RequireAll
	default:
		return kafka.RequireOne
	}
}
