// Package finance implements the invoicing collaborator ports against the
// remote procurement/finance HTTP API.
package finance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/invoicing"
)

// Client talks to the remote finance API. It owns no caching and no retry:
// the engine's memo cache sits in front of the fetches, and retry is a
// caller decision.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient constructs the gateway. An empty httpClient gets a default with
// a 30s timeout; the engine itself imposes none.
func NewClient(baseURL, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("finance: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("finance: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("finance: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return invoicing.ErrNotFound
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("finance: %s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("finance: decode %s: %w", path, err)
	}
	return nil
}

// FetchPurchaseOrder implements invoicing.FinancePort.
func (c *Client) FetchPurchaseOrder(ctx context.Context, poNumber string) (invoicing.PurchaseOrder, error) {
	var raw rawObject
	if err := c.do(ctx, http.MethodGet, "/api/purchase-orders/"+url.PathEscape(poNumber), nil, &raw); err != nil {
		return invoicing.PurchaseOrder{}, err
	}
	return normalizePO(raw), nil
}

func normalizePO(raw rawObject) invoicing.PurchaseOrder {
	code := raw.str("taxCode", "TaxCode", "tax_code", "KodePajak")
	rate := normalizeRate(raw.dec("taxRate", "TaxRate", "tax_rate", "TarifPajak"))
	inclusive := raw.boolean("taxInclusive", "IsTaxInclusive", "tax_inclusive")
	if !inclusive && strings.HasSuffix(code, "12") {
		// Older PO rows predate the inclusive flag; the 12% code is the
		// tax-inclusive one.
		inclusive = true
	}

	scheme := invoicing.PlanTermOfPayment
	switch strings.ToUpper(raw.str("paymentScheme", "PaymentScheme", "payment_scheme", "TipePembayaran")) {
	case "PERIOD", "PERIOD_OF_PAYMENT", "POP":
		scheme = invoicing.PlanPeriodOfPayment
	case "":
		scheme = "" // let the planner infer from schedule dates
	}

	return invoicing.PurchaseOrder{
		Number:          raw.str("poNumber", "PONumber", "po_number", "PoNo"),
		SupplierName:    raw.str("supplierName", "SupplierName", "supplier_name", "VendorName"),
		Scheme:          scheme,
		TotalAmount:     raw.dec("totalAmount", "TotalAmount", "total_amount", "GrandTotal"),
		TermDescription: raw.str("termOfPayment", "TermOfPayment", "term_of_payment", "TOP"),
		WorkType:        raw.str("workType", "WorkType", "work_type", "JenisPekerjaan"),
		TaxCode:         invoicing.TaxCode{Code: code, Rate: rate, TaxInclusive: inclusive},
		Currency:        raw.str("currency", "Currency", "currency_code"),
	}
}

// FetchAmortizationSchedule implements invoicing.FinancePort. An absent
// schedule comes back as an empty slice, not an error.
func (c *Client) FetchAmortizationSchedule(ctx context.Context, poNumber string) ([]invoicing.ScheduleRow, error) {
	var raws []rawObject
	err := c.do(ctx, http.MethodGet, "/api/purchase-orders/"+url.PathEscape(poNumber)+"/amortizations", nil, &raws)
	if err != nil {
		if errors.Is(err, invoicing.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	rows := make([]invoicing.ScheduleRow, 0, len(raws))
	for _, raw := range raws {
		rows = append(rows, invoicing.ScheduleRow{
			Position:      raw.integer("termin", "Termin", "position", "seq"),
			Percent:       raw.dec("percent", "Percent", "percentage", "Persentase"),
			Amount:        raw.dec("amount", "Amount", "nominal", "Nominal"),
			Cancelled:     raw.boolean("isCancel", "IsCancel", "cancelled", "is_cancelled"),
			InvoiceNumber: raw.str("invoiceNumber", "InvoiceNumber", "invoice_no", "NoInvoice"),
			StartDate:     raw.date("startDate", "StartDate", "start_date", "PeriodeAwal"),
			EndDate:       raw.date("endDate", "EndDate", "end_date", "PeriodeAkhir"),
		})
	}
	return rows, nil
}

// FetchExistingInvoices implements invoicing.FinancePort.
func (c *Client) FetchExistingInvoices(ctx context.Context, poNumber string) ([]invoicing.InvoiceRecord, error) {
	var raws []rawObject
	err := c.do(ctx, http.MethodGet, "/api/invoices?po="+url.QueryEscape(poNumber), nil, &raws)
	if err != nil {
		if errors.Is(err, invoicing.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	records := make([]invoicing.InvoiceRecord, 0, len(raws))
	for _, raw := range raws {
		records = append(records, invoicing.InvoiceRecord{
			TermPosition:  raw.integer("termin", "Termin", "termPosition", "term_position"),
			InvoiceNumber: raw.str("invoiceNumber", "InvoiceNumber", "invoice_no", "NoInvoice"),
			Status:        raw.str("status", "Status", "state"),
		})
	}
	return records, nil
}

// FetchPOLineItems implements invoicing.FinancePort. Received quantities stay
// absent (not zero) when no goods receipt exists for the line.
func (c *Client) FetchPOLineItems(ctx context.Context, poNumber string) ([]invoicing.POLineItem, error) {
	var raws []rawObject
	if err := c.do(ctx, http.MethodGet, "/api/purchase-orders/"+url.PathEscape(poNumber)+"/lines", nil, &raws); err != nil {
		return nil, err
	}
	lines := make([]invoicing.POLineItem, 0, len(raws))
	for _, raw := range raws {
		line := invoicing.POLineItem{
			ItemID:      raw.str("itemId", "ItemID", "item_id", "KodeBarang"),
			Description: raw.str("description", "Description", "item_name", "NamaBarang"),
			UnitPrice:   raw.dec("unitPrice", "UnitPrice", "unit_price", "HargaSatuan"),
			QtyOnPO:     raw.dec("qtyPO", "QtyPO", "qty_po", "qty"),
		}
		if _, ok := raw.raw("qtyReceived", "QtyReceived", "qty_received", "QtyGRN"); ok {
			line.QtyReceived = decimal.NewNullDecimal(raw.dec("qtyReceived", "QtyReceived", "qty_received", "QtyGRN"))
		}
		lines = append(lines, line)
	}
	return lines, nil
}

type draftPayload struct {
	PONumber       string             `json:"poNumber"`
	InvoiceNumber  string             `json:"invoiceNumber"`
	Termin         int                `json:"termin"`
	TermValue      decimal.Decimal    `json:"termValue"`
	InvoiceDate    string             `json:"invoiceDate"`
	TaxCode        string             `json:"taxCode"`
	TaxRate        decimal.Decimal    `json:"taxRate"`
	InvoiceAmount  decimal.Decimal    `json:"invoiceAmount"`
	DPPAmount      decimal.Decimal    `json:"dppAmount"`
	TaxAmount      decimal.Decimal    `json:"taxAmount"`
	TotalAmount    decimal.Decimal    `json:"totalAmount"`
	RevisionStatus string             `json:"revisionStatus,omitempty"`
	Notes          string             `json:"notes,omitempty"`
	Lines          []draftLinePayload `json:"lines"`
}

type draftLinePayload struct {
	ItemID     string          `json:"itemId"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	QtyInvoice decimal.Decimal `json:"qtyInvoice"`
	Amount     decimal.Decimal `json:"amount"`
}

func toPayload(draft invoicing.InvoiceDraft) draftPayload {
	payload := draftPayload{
		PONumber:       draft.PONumber,
		InvoiceNumber:  draft.InvoiceNumber,
		Termin:         draft.TermPosition,
		TermValue:      draft.TermValue,
		InvoiceDate:    draft.InvoiceDate.Format("2006-01-02"),
		TaxCode:        draft.TaxCode,
		TaxRate:        draft.TaxRate,
		InvoiceAmount:  draft.InvoiceAmount,
		DPPAmount:      draft.DPPAmount,
		TaxAmount:      draft.TaxAmount,
		TotalAmount:    draft.TotalAmount,
		RevisionStatus: draft.RevisionStatus,
		Notes:          draft.Notes,
	}
	for _, line := range draft.Lines {
		payload.Lines = append(payload.Lines, draftLinePayload{
			ItemID:     line.ItemID,
			UnitPrice:  line.UnitPrice,
			QtyInvoice: line.QtyInvoice,
			Amount:     line.Amount,
		})
	}
	return payload
}

// SubmitInvoiceDraft implements invoicing.FinancePort.
func (c *Client) SubmitInvoiceDraft(ctx context.Context, draft invoicing.InvoiceDraft) (string, error) {
	var raw rawObject
	if err := c.do(ctx, http.MethodPost, "/api/invoices", toPayload(draft), &raw); err != nil {
		return "", err
	}
	return raw.str("id", "Id", "ID", "invoiceId"), nil
}

// UpdateInvoiceDraft implements invoicing.FinancePort.
func (c *Client) UpdateInvoiceDraft(ctx context.Context, id string, draft invoicing.InvoiceDraft) (string, error) {
	var raw rawObject
	if err := c.do(ctx, http.MethodPut, "/api/invoices/"+url.PathEscape(id), toPayload(draft), &raw); err != nil {
		return "", err
	}
	if got := raw.str("id", "Id", "ID", "invoiceId"); got != "" {
		return got, nil
	}
	return id, nil
}
