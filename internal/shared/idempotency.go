package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateSubmission indicates the invoice/position pair was already
// submitted, by this process or another worker.
var ErrDuplicateSubmission = errors.New("shared: submission already recorded")

// SubmissionKeys is the pg-backed idempotency guard for invoice submissions.
// Keys are "<invoice number>:<position>", so a retried batch cannot double
// submit a period that the collaborator already accepted.
type SubmissionKeys struct {
	pool *pgxpool.Pool
}

// NewSubmissionKeys constructs the guard.
func NewSubmissionKeys(pool *pgxpool.Pool) *SubmissionKeys {
	return &SubmissionKeys{pool: pool}
}

// CheckAndInsert claims key, failing with ErrDuplicateSubmission when a
// prior claim exists.
func (s *SubmissionKeys) CheckAndInsert(ctx context.Context, key string) error {
	if s == nil || s.pool == nil {
		return errors.New("shared: submission guard not initialised")
	}
	if key == "" {
		return errors.New("shared: submission key required")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO invoice_submission_keys (key, created_at) VALUES ($1, $2)`, key, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateSubmission
		}
		return err
	}
	return nil
}

// Release frees a claimed key after the collaborator rejected the draft, so
// the caller may retry.
func (s *SubmissionKeys) Release(ctx context.Context, key string) error {
	if s == nil || s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM invoice_submission_keys WHERE key=$1`, key)
	return err
}

// Cleanup removes claims older than retention. Run from the worker cron.
func (s *SubmissionKeys) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil || s.pool == nil {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM invoice_submission_keys WHERE created_at < $1`, cutoff)
	return err
}
