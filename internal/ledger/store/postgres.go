package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"custodia/internal/ledger/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// Postgres persists each batch aggregate as one row with the logs and
// flags as JSONB. The aggregate is always read and written whole - the
// custody and telemetry logs are append-only and validated in Go, so
// row-level locking on the single row gives exactly the serialization
// the engine needs.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Create(ctx context.Context, batch *models.Batch) error {
	doc, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (id, status, owner, doc, registered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, batch.ID.String(), batch.Status.String(), batch.Owner.String(), doc, batch.RegisteredAt, batch.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, batchID id.BatchID) (*models.Batch, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM batches WHERE id = $1`, batchID.String()).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query batch: %w", err)
	}
	return unmarshalBatch(doc)
}

// Execute runs validate and apply under SELECT ... FOR UPDATE so the
// row cannot change between validation and mutation.
func (s *Postgres) Execute(ctx context.Context, batchID id.BatchID,
	validate func(*models.Batch) error, apply func(*models.Batch)) (*models.Batch, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var doc []byte
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM batches WHERE id = $1 FOR UPDATE`, batchID.String()).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock batch: %w", err)
	}
	batch, err := unmarshalBatch(doc)
	if err != nil {
		return nil, err
	}

	if err := validate(batch); err != nil {
		return nil, err
	}
	apply(batch)

	updated, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE batches SET status = $2, owner = $3, doc = $4, updated_at = $5 WHERE id = $1
	`, batch.ID.String(), batch.Status.String(), batch.Owner.String(), updated, batch.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update batch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch tx: %w", err)
	}
	return batch, nil
}

func unmarshalBatch(doc []byte) (*models.Batch, error) {
	var batch models.Batch
	if err := json.Unmarshal(doc, &batch); err != nil {
		return nil, fmt.Errorf("unmarshal batch: %w", err)
	}
	return &batch, nil
}
