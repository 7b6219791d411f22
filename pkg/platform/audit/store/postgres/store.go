package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "custodia/pkg/domain"
	audit "custodia/pkg/platform/audit"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table and published to Kafka by the
// relay worker; the audit_events table materializes them for querying.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// outboxPayload is the JSON structure published to Kafka.
// Field names match audit.Event for proper deserialization by consumers.
type outboxPayload struct {
	ID        string `json:"ID"`
	Category  string `json:"Category"`
	Timestamp string `json:"Timestamp"`
	Actor     string `json:"Actor,omitempty"`
	BatchID   string `json:"BatchID,omitempty"`
	Action    string `json:"Action"`
	Decision  string `json:"Decision,omitempty"`
	Reason    string `json:"Reason,omitempty"`
	Evidence  string `json:"Evidence,omitempty"`
	RequestID string `json:"RequestID,omitempty"`
}

// Append writes an audit event to both the audit_events table and the
// outbox in one transaction, so the queryable trail and the published
// stream can never diverge.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	// Always derive category from action - eventCategories map is the source of truth.
	category := audit.AuditEvent(event.Action).Category()

	payload := outboxPayload{
		ID:        eventID.String(),
		Category:  string(category),
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		Action:    event.Action,
		Decision:  event.Decision,
		Reason:    event.Reason,
		RequestID: event.RequestID,
	}
	if !event.Actor.IsNil() {
		payload.Actor = event.Actor.String()
	}
	if !event.BatchID.IsNil() {
		payload.BatchID = event.BatchID.String()
	}
	if !event.Evidence.IsNil() {
		payload.Evidence = event.Evidence.String()
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	aggregateType := "audit"
	aggregateID := eventID.String()
	if !event.BatchID.IsNil() {
		aggregateType = "batch"
		aggregateID = event.BatchID.String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_events (id, category, occurred_at, actor, batch_id, action, decision, reason, evidence, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		eventID,
		string(category),
		event.Timestamp,
		payload.Actor,
		payload.BatchID,
		event.Action,
		event.Decision,
		event.Reason,
		payload.Evidence,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		uuid.New(), // outbox entry ID
		aggregateType,
		aggregateID,
		event.Action,
		payloadBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}

	return tx.Commit()
}

// ListByBatch returns the audit trail for a batch in append order.
func (s *Store) ListByBatch(ctx context.Context, batchID id.BatchID) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, occurred_at, actor, batch_id, action, decision, reason, evidence, request_id
		FROM audit_events
		WHERE batch_id = $1
		ORDER BY occurred_at ASC, id ASC
	`, batchID.String())
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e        audit.Event
			category string
			actor    string
			batch    string
			evidence string
		)
		if err := rows.Scan(&category, &e.Timestamp, &actor, &batch, &e.Action, &e.Decision, &e.Reason, &evidence, &e.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Category = audit.EventCategory(category)
		if actor != "" {
			if p, err := id.ParsePrincipalID(actor); err == nil {
				e.Actor = p
			}
		}
		e.BatchID = id.BatchID(batch)
		e.Evidence = id.ContentHash(evidence)
		events = append(events, e)
	}
	return events, rows.Err()
}

// PendingOutbox returns up to limit unpublished outbox entries for the
// Kafka relay, oldest first.
func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.EventType, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkPublished records that the relay delivered an outbox entry.
func (s *Store) MarkPublished(ctx context.Context, entryID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET published_at = $1 WHERE id = $2`,
		time.Now(), entryID)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// OutboxEntry is one pending row awaiting relay to Kafka.
type OutboxEntry struct {
	ID        uuid.UUID
	EventType string
	Payload   []byte
}
