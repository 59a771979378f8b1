package finance

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/invoicing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token", srv.Client(), slog.New(slog.DiscardHandler))
}

func TestFetchPurchaseOrderNormalizesSpellings(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/purchase-orders/PO-1", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		// Deliberately mixed casings, string money, percent-style rate.
		_, _ = w.Write([]byte(`{
			"PONumber": "PO-1",
			"supplier_name": "PT Baja",
			"TipePembayaran": "TERM",
			"totalAmount": "10000000.50",
			"TOP": "30|70",
			"work_type": "CONSTRUCTION",
			"TaxCode": "PPN12",
			"tax_rate": 12,
			"Currency": "IDR"
		}`))
	})

	po, err := client.FetchPurchaseOrder(context.Background(), "PO-1")
	require.NoError(t, err)

	require.Equal(t, "PO-1", po.Number)
	require.Equal(t, "PT Baja", po.SupplierName)
	require.Equal(t, invoicing.PlanTermOfPayment, po.Scheme)
	require.True(t, po.TotalAmount.Equal(decimal.RequireFromString("10000000.50")))
	require.Equal(t, "30|70", po.TermDescription)
	require.True(t, po.TaxCode.Rate.Equal(decimal.RequireFromString("0.12")), "percent rate normalized to fraction")
	require.True(t, po.TaxCode.TaxInclusive, "12%% code is tax inclusive")
}

func TestFetchPurchaseOrderNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := client.FetchPurchaseOrder(context.Background(), "PO-404")
	require.ErrorIs(t, err, invoicing.ErrNotFound)
}

func TestFetchAmortizationScheduleMixedRows(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"Termin": 1, "Persentase": 30, "Nominal": 3000000, "NoInvoice": "INV-1", "IsCancel": 0},
			{"termin": "2", "percent": "70", "amount": "7000000", "is_cancelled": false}
		]`))
	})

	rows, err := client.FetchAmortizationSchedule(context.Background(), "PO-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, 1, rows[0].Position)
	require.Equal(t, "INV-1", rows[0].InvoiceNumber)
	require.False(t, rows[0].Cancelled)
	require.Equal(t, 2, rows[1].Position, "string position parsed")
	require.True(t, rows[1].Percent.Equal(decimal.NewFromInt(70)))
}

func TestFetchAmortizationScheduleAbsent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	rows, err := client.FetchAmortizationSchedule(context.Background(), "PO-1")
	require.NoError(t, err, "absent schedule is not an error")
	require.Empty(t, rows)
}

func TestFetchPOLineItemsReceivedQtyOptional(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"KodeBarang": "ITM-1", "HargaSatuan": 1000, "qty": 10, "QtyGRN": 7},
			{"itemId": "ITM-2", "unitPrice": 500, "qtyPO": 4}
		]`))
	})

	lines, err := client.FetchPOLineItems(context.Background(), "PO-1")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.True(t, lines[0].QtyReceived.Valid)
	require.True(t, lines[0].QtyReceived.Decimal.Equal(decimal.NewFromInt(7)))
	require.False(t, lines[1].QtyReceived.Valid, "no GRN, no received qty")
}

func TestSubmitInvoiceDraftPostsCanonicalPayload(t *testing.T) {
	var received map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_, _ = w.Write([]byte(`{"Id": "inv-9"}`))
	})

	id, err := client.SubmitInvoiceDraft(context.Background(), invoicing.InvoiceDraft{
		PONumber:      "PO-1",
		InvoiceNumber: "INV/PO-1/2026-08/000001",
		TermPosition:  1,
		TermValue:     decimal.NewFromInt(30),
		InvoiceDate:   time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC),
		InvoiceAmount: decimal.NewFromInt(3000000),
	})
	require.NoError(t, err)
	require.Equal(t, "inv-9", id)
	require.Equal(t, "PO-1", received["poNumber"])
	require.Equal(t, float64(1), received["termin"])
	require.Equal(t, "2026-08-30", received["invoiceDate"])
}
