// Package relay mirrors appended audit entries onto a Kafka topic for SIEM
// and downstream compliance consumers. The ledger's own store remains the
// source of truth: the relay is fail-open behind a circuit breaker, and a
// broker outage never blocks or fails an append.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"custodia/internal/audit"
	"custodia/pkg/platform/circuit"
)

// payload is the JSON structure published per entry. Digests only; raw
// sensitive values never left the stores and never enter the stream.
type payload struct {
	Seq         uint64 `json:"seq"`
	ID          string `json:"id"`
	Timestamp   string `json:"timestamp"`
	Actor       string `json:"actor"`
	Action      string `json:"action"`
	SubjectType string `json:"subject_type"`
	SubjectID   string `json:"subject_id"`
	PrevDigest  string `json:"prev_digest,omitempty"`
	NewDigest   string `json:"new_digest,omitempty"`
	Outcome     string `json:"outcome"`
	Detail      string `json:"detail,omitempty"`
}

// Relay publishes entries asynchronously through a franz-go client.
type Relay struct {
	client  *kgo.Client
	topic   string
	logger  *slog.Logger
	breaker *circuit.Breaker
}

// New connects to the given brokers. The returned Relay implements
// audit.Mirror.
func New(brokers []string, topic string, logger *slog.Logger) (*Relay, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Relay{
		client:  client,
		topic:   topic,
		logger:  logger,
		breaker: circuit.New("audit-relay", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(2)),
	}, nil
}

// Publish mirrors one entry. Errors are logged and counted against the
// breaker; while the breaker is open entries are skipped until the cooldown
// elapses, after which probe publishes test whether the broker recovered.
func (r *Relay) Publish(ctx context.Context, entry audit.Entry) {
	if !r.breaker.Allow() {
		return
	}

	value, err := json.Marshal(payload{
		Seq:         entry.Seq,
		ID:          entry.ID.String(),
		Timestamp:   entry.Timestamp.Format(time.RFC3339Nano),
		Actor:       entry.Actor,
		Action:      string(entry.Action),
		SubjectType: string(entry.SubjectType),
		SubjectID:   entry.SubjectID,
		PrevDigest:  entry.PrevDigest,
		NewDigest:   entry.NewDigest,
		Outcome:     string(entry.Outcome),
		Detail:      entry.Detail,
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "marshal relay payload", "error", err.Error())
		return
	}

	record := &kgo.Record{
		Topic: r.topic,
		Key:   []byte(string(entry.SubjectType) + "/" + entry.SubjectID),
		Value: value,
	}
	r.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			_, change := r.breaker.RecordFailure()
			if change.Opened {
				r.logger.Warn("audit relay circuit opened", "topic", r.topic, "error", err.Error())
			}
			return
		}
		_, change := r.breaker.RecordSuccess()
		if change.Closed {
			r.logger.Info("audit relay circuit closed", "topic", r.topic)
		}
	})
}

// Close flushes buffered records and releases the client.
func (r *Relay) Close(ctx context.Context) error {
	if err := r.client.Flush(ctx); err != nil {
		return err
	}
	r.client.Close()
	return nil
}
