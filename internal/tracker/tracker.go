// Package tracker keeps the last known status of every report chain, keyed
// by TraceId, so callers can observe outcomes of an asynchronous request.
package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/errors"
)

type Status string

const (
	StatusAccepted Status = "ACCEPTED"
	StatusReady    Status = "READY"
	StatusFailed   Status = "FAILED"
)

// precedence orders statuses so that late or redelivered updates cannot move
// a chain backwards. READY outranks FAILED: a chain retried to success stays
// successful whatever dead letter arrives afterwards.
var precedence = []Status{StatusAccepted, StatusFailed, StatusReady}

func (s Status) rank() int {
	for i, p := range precedence {
		if p == s {
			return i + 1
		}
	}
	return 0
}

// Supersedes reports whether an update to s may replace a stored prev.
func (s Status) Supersedes(prev Status) bool {
	return s.rank() >= prev.rank()
}

// rankSQL renders Status.rank for a SQL column.
func rankSQL(column string) string {
	var b strings.Builder
	b.WriteString("CASE " + column)
	for i, p := range precedence {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", p, i+1)
	}
	b.WriteString(" ELSE 0 END")
	return b.String()
}

// upsertQuery merges ids unconditionally; status, stage, message and
// updated_at only change when the incoming status supersedes the stored one.
var upsertQuery = func() string {
	advances := rankSQL("EXCLUDED.status") + " >= " + rankSQL("report_status.status")
	guarded := func(col string) string {
		return fmt.Sprintf("%s = CASE WHEN %s THEN EXCLUDED.%s ELSE report_status.%s END", col, advances, col, col)
	}
	return `INSERT INTO report_status (trace_id, reference_id, report_id, status, stage, message, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (trace_id) DO UPDATE SET
			reference_id = COALESCE(NULLIF(EXCLUDED.reference_id, ''), report_status.reference_id),
			report_id    = COALESCE(NULLIF(EXCLUDED.report_id, ''), report_status.report_id),
			` + strings.Join([]string{guarded("status"), guarded("stage"), guarded("message"), guarded("updated_at")}, ",\n\t\t\t")
}()

// Record is the tracked state of one chain. Empty fields in an update leave
// the stored value unchanged.
type Record struct {
	TraceID     string    `json:"trace_id"`
	ReferenceID string    `json:"reference_id,omitempty"`
	ReportID    string    `json:"report_id,omitempty"`
	Status      Status    `json:"status"`
	Stage       string    `json:"stage,omitempty"`
	Message     string    `json:"message,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Repository interface {
	Upsert(ctx context.Context, rec Record) error
	Get(ctx context.Context, traceID string) (*Record, error)
}

var Schema = []string{
	`CREATE TABLE IF NOT EXISTS report_status (
		trace_id     TEXT PRIMARY KEY,
		reference_id TEXT NOT NULL DEFAULT '',
		report_id    TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		stage        TEXT NOT NULL DEFAULT '',
		message      TEXT NOT NULL DEFAULT '',
		updated_at   TIMESTAMPTZ NOT NULL
	)`,
}

// PostgresRepository stores chain status in the report_status table.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{
		db:     db,
		logger: slog.Default().With("component", "report-tracker"),
	}
}

func (r *PostgresRepository) Upsert(ctx context.Context, rec Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, upsertQuery,
		rec.TraceID, rec.ReferenceID, rec.ReportID, string(rec.Status), rec.Stage, rec.Message, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: upserting status for %s: %w", apperrors.ErrPersistence, rec.TraceID, err)
	}
	r.logger.Debug("report status recorded", "trace_id", rec.TraceID, "status", rec.Status)
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, traceID string) (*Record, error) {
	var rec Record
	var status string
	err := r.db.QueryRowContext(ctx,
		`SELECT trace_id, reference_id, report_id, status, stage, message, updated_at
		 FROM report_status WHERE trace_id = $1`,
		traceID,
	).Scan(&rec.TraceID, &rec.ReferenceID, &rec.ReportID, &status, &rec.Stage, &rec.Message, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrDocumentNotFound, 404, "no report tracked for trace %s", traceID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading status for %s: %w", apperrors.ErrPersistence, traceID, err)
	}
	rec.Status = Status(status)
	return &rec, nil
}
