package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// DefaultTopic carries decision events to the reporting side.
const DefaultTopic = "trapper.decisions"

// publishBatch limits how many outbox entries one drain cycle ships.
const publishBatch = 100

// Publisher drains the decision outbox into Kafka. At-least-once: an entry
// is marked published only after the broker acknowledges it, so consumers
// must dedupe on decision id.
type Publisher struct {
	outbox   Outbox
	client   *kgo.Client
	topic    string
	interval time.Duration
	logger   *slog.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the structured logger.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = logger }
}

// WithPublishInterval overrides the outbox poll interval.
func WithPublishInterval(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.interval = d }
}

// NewPublisher constructs an outbox drainer over an existing Kafka client.
func NewPublisher(outbox Outbox, client *kgo.Client, topic string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		outbox:   outbox,
		client:   client,
		topic:    topic,
		interval: time.Second,
		logger:   slog.Default(),
	}
	if p.topic == "" {
		p.topic = DefaultTopic
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureTopic creates the decision topic if the cluster does not have it.
func (p *Publisher) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(p.client)
	resp, err := adm.CreateTopic(ctx, partitions, replication, nil, p.topic)
	if err != nil {
		return fmt.Errorf("ensure topic %s: %w", p.topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("ensure topic %s: %w", p.topic, resp.Err)
	}
	return nil
}

// Run drains the outbox until the context is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.DrainOnce(ctx); err != nil {
				p.logger.ErrorContext(ctx, "decision outbox drain failed",
					slog.String("error", err.Error()))
			}
		}
	}
}

// DrainOnce publishes one batch of pending entries.
func (p *Publisher) DrainOnce(ctx context.Context) error {
	entries, err := p.outbox.Pending(ctx, publishBatch)
	if err != nil {
		return fmt.Errorf("load pending decision events: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	records := make([]*kgo.Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, &kgo.Record{
			Topic: p.topic,
			// Keyed by decision id: consumers dedupe and partitions
			// keep per-decision ordering.
			Key:   []byte(e.DecisionID.String()),
			Value: e.Payload,
		})
	}
	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce decision events: %w", err)
	}

	seqs := make([]int64, 0, len(entries))
	for _, e := range entries {
		seqs = append(seqs, e.Seq)
	}
	if err := p.outbox.MarkPublished(ctx, seqs); err != nil {
		return fmt.Errorf("mark decision events published: %w", err)
	}
	p.logger.DebugContext(ctx, "decision events published", slog.Int("count", len(seqs)))
	return nil
}
