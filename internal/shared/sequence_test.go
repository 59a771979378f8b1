package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestInvoiceNumberSequence(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	seq := NewInvoiceNumberSequence(rdb, "test")
	at := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)

	first, err := seq.Next(context.Background(), "PO-77", at)
	require.NoError(t, err)
	require.Equal(t, "INV/PO-77/2026-08/000001", first)

	second, err := seq.Next(context.Background(), "PO-77", at)
	require.NoError(t, err)
	require.Equal(t, "INV/PO-77/2026-08/000002", second)

	otherPO, err := seq.Next(context.Background(), "PO-88", at)
	require.NoError(t, err)
	require.Equal(t, "INV/PO-88/2026-08/000001", otherPO, "series are per PO")

	nextMonth, err := seq.Next(context.Background(), "PO-77", at.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Equal(t, "INV/PO-77/2026-09/000001", nextMonth, "series reset per month")
}
