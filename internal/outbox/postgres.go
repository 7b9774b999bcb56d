package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/internal/events"
)

// Schema creates the outbox table. Safe to apply on every start.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS event_outbox (
		id               UUID PRIMARY KEY,
		kind             TEXT NOT NULL,
		trace_id         TEXT NOT NULL,
		envelope         BYTEA NOT NULL,
		retry_count      INT NOT NULL DEFAULT 0,
		last_error       TEXT NOT NULL DEFAULT '',
		last_error_at    TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL,
		published_at     TIMESTAMPTZ,
		dead_lettered_at TIMESTAMPTZ,
		claim_token      TEXT,
		claim_until      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS event_outbox_pending_idx
		ON event_outbox (created_at)
		WHERE published_at IS NULL AND dead_lettered_at IS NULL`,
}

// PostgresRepository stores the outbox in the event_outbox table.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Enqueue(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_outbox (id, kind, trace_id, envelope, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, string(rec.Kind), rec.TraceID, rec.Envelope, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting outbox record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ClaimUnpublished(ctx context.Context, limit int, claimToken string, now, claimUntil time.Time) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	if claimToken == "" {
		return nil, fmt.Errorf("claim token is required")
	}
	rows, err := r.db.QueryContext(ctx,
		`UPDATE event_outbox SET claim_token = $1, claim_until = $2
		 WHERE id IN (
			SELECT id FROM event_outbox
			WHERE published_at IS NULL
			  AND dead_lettered_at IS NULL
			  AND (claim_until IS NULL OR claim_until < $3)
			ORDER BY created_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, kind, trace_id, envelope, retry_count, last_error, created_at`,
		claimToken, claimUntil, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming outbox records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec  Record
			id   string
			kind string
		)
		if err := rows.Scan(&id, &kind, &rec.TraceID, &rec.Envelope, &rec.RetryCount, &rec.LastError, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning outbox record: %w", err)
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parsing outbox id %q: %w", id, err)
		}
		rec.Kind = events.Kind(kind)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outbox records: %w", err)
	}
	// RETURNING does not preserve the subquery order.
	slices.SortFunc(records, func(a, b Record) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return records, nil
}

func (r *PostgresRepository) MarkPublished(ctx context.Context, id uuid.UUID, claimToken string, at time.Time) error {
	return r.update(ctx,
		`UPDATE event_outbox SET published_at = $3, claim_token = NULL, claim_until = NULL
		 WHERE id = $1 AND claim_token = $2`,
		id, claimToken, at,
	)
}

// MarkFailed releases the claim token but keeps claim_until at retryAt, so
// ClaimUnpublished skips the record until its backoff has passed.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id uuid.UUID, claimToken, reason string, at, retryAt time.Time) error {
	return r.update(ctx,
		`UPDATE event_outbox SET retry_count = retry_count + 1, last_error = $3,
			last_error_at = $4, claim_token = NULL, claim_until = $5
		 WHERE id = $1 AND claim_token = $2`,
		id, claimToken, reason, at, retryAt,
	)
}

func (r *PostgresRepository) MarkDeadLettered(ctx context.Context, id uuid.UUID, claimToken, reason string, at time.Time) error {
	return r.update(ctx,
		`UPDATE event_outbox SET retry_count = retry_count + 1, last_error = $3,
			last_error_at = $4, dead_lettered_at = $4, claim_token = NULL, claim_until = NULL
		 WHERE id = $1 AND claim_token = $2`,
		id, claimToken, reason, at,
	)
}

func (r *PostgresRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM event_outbox WHERE published_at IS NULL AND dead_lettered_at IS NULL`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pending outbox records: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) update(ctx context.Context, query string, args ...any) error {
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			return fmt.Errorf("updating outbox record (%s): %w", pqErr.Code.Name(), err)
		}
		return fmt.Errorf("updating outbox record: %w", err)
	}
	return nil
}
