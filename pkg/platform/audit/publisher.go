package audit

import (
	"context"
	"sync"
	"time"

	id "custodia/pkg/domain"
)

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily. Appended
// events are also fanned out to subscriber channels so external notifiers
// (dashboards, alerting) can observe state transitions without polling.
type Publisher struct {
	store Store

	mu   sync.RWMutex
	subs []chan Event
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

// Emit persists the event and notifies subscribers. Persistence is the
// critical path: if the append fails the caller's operation must fail.
// Subscriber delivery is best-effort; a slow subscriber drops events
// rather than blocking ledger mutations.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = AuditEvent(event.Action).Category()
	}
	if err := p.store.Append(ctx, event); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, sub := range p.subs {
		select {
		case sub <- event:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel receiving every event emitted after the
// call. The buffer absorbs bursts; consumers that fall behind miss
// events but can replay from the store.
func (p *Publisher) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch
}

// List returns the audit trail for a batch in append order.
func (p *Publisher) List(ctx context.Context, batchID id.BatchID) ([]Event, error) {
	return p.store.ListByBatch(ctx, batchID)
}
