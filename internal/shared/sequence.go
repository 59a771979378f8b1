package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// InvoiceNumberSequence allocates invoice numbers from a per-month Redis
// counter. Every draft of a multi-period batch is issued under one number,
// so the allocator is called once per batch, not once per draft.
type InvoiceNumberSequence struct {
	rdb    *redis.Client
	prefix string
}

// NewInvoiceNumberSequence constructs the allocator. prefix distinguishes
// deployments sharing one Redis.
func NewInvoiceNumberSequence(rdb *redis.Client, prefix string) *InvoiceNumberSequence {
	if prefix == "" {
		prefix = "meridian"
	}
	return &InvoiceNumberSequence{rdb: rdb, prefix: prefix}
}

// Next returns the next number in the PO's monthly series, e.g.
// INV/PO-123/2026-08/000007.
func (s *InvoiceNumberSequence) Next(ctx context.Context, poNumber string, at time.Time) (string, error) {
	if at.IsZero() {
		at = time.Now()
	}
	month := at.Format("2006-01")
	counterKey := fmt.Sprintf("%s:invseq:%s:%s", s.prefix, poNumber, month)
	n, err := s.rdb.Incr(ctx, counterKey).Result()
	if err != nil {
		return "", fmt.Errorf("shared: invoice sequence: %w", err)
	}
	return fmt.Sprintf("INV/%s/%s/%06d", poNumber, month, n), nil
}
