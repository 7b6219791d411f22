// Package relay drains the audit outbox to Kafka so external
// subscribers (dashboards, notification services) observe ledger state
// transitions without coupling to the engine's storage.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"custodia/pkg/platform/audit/store/postgres"
)

const defaultBatchSize = 100

// Relay polls the outbox and publishes pending entries to a Kafka topic.
// Delivery is at-least-once: an entry is marked published only after the
// produce is acknowledged, so consumers must tolerate duplicates.
type Relay struct {
	store    *postgres.Store
	client   *kgo.Client
	topic    string
	interval time.Duration
	logger   *slog.Logger
}

// New creates a relay. Brokers and topic come from config; the kgo
// client is owned by the relay and closed on Run exit.
func New(store *postgres.Store, brokers []string, topic string, interval time.Duration, logger *slog.Logger) (*Relay, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Relay{
		store:    store,
		client:   client,
		topic:    topic,
		interval: interval,
		logger:   logger,
	}, nil
}

// Run polls until the context is cancelled. Publish failures are logged
// and retried on the next tick; the outbox row stays pending.
func (r *Relay) Run(ctx context.Context) error {
	defer r.client.Close()

	if err := r.ensureTopic(ctx); err != nil {
		r.logger.WarnContext(ctx, "audit topic creation failed, relying on broker auto-create",
			"topic", r.topic, "error", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.drain(ctx); err != nil {
				r.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

// ensureTopic creates the audit topic when the broker does not have it.
func (r *Relay) ensureTopic(ctx context.Context) error {
	adm := kadm.NewClient(r.client)
	resp, err := adm.CreateTopics(ctx, 1, -1, nil, r.topic)
	if err != nil {
		return err
	}
	for _, ct := range resp.Sorted() {
		if ct.Err != nil && !errors.Is(ct.Err, kerr.TopicAlreadyExists) {
			return ct.Err
		}
	}
	return nil
}

func (r *Relay) drain(ctx context.Context) error {
	entries, err := r.store.PendingOutbox(ctx, defaultBatchSize)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		record := &kgo.Record{
			Topic: r.topic,
			Key:   []byte(entry.EventType),
			Value: entry.Payload,
		}
		if err := r.client.ProduceSync(ctx, record).FirstErr(); err != nil {
			return fmt.Errorf("produce outbox entry %s: %w", entry.ID, err)
		}
		if err := r.store.MarkPublished(ctx, entry.ID); err != nil {
			return err
		}
	}
	return nil
}
