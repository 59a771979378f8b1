// Package pg implements the invoicing collaborator ports directly against
// the finance database, for deployments colocated with it.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/invoicing"
)

var zeroTime time.Time

// Repository provides PostgreSQL backed implementations of the finance
// ports. Field normalization is a non-issue here: the schema is canonical.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FetchPurchaseOrder implements invoicing.FinancePort.
func (r *Repository) FetchPurchaseOrder(ctx context.Context, poNumber string) (invoicing.PurchaseOrder, error) {
	const q = `
		SELECT po.number, po.supplier_name, po.payment_scheme, po.total_amount,
		       COALESCE(po.term_of_payment, ''), COALESCE(po.work_type, ''),
		       COALESCE(po.tax_code, ''), COALESCE(po.tax_rate, 0), COALESCE(po.tax_inclusive, FALSE),
		       COALESCE(po.currency, 'IDR')
		FROM purchase_orders po
		WHERE po.number = $1`
	var (
		po     invoicing.PurchaseOrder
		scheme string
	)
	err := r.pool.QueryRow(ctx, q, poNumber).Scan(
		&po.Number, &po.SupplierName, &scheme, &po.TotalAmount,
		&po.TermDescription, &po.WorkType,
		&po.TaxCode.Code, &po.TaxCode.Rate, &po.TaxCode.TaxInclusive,
		&po.Currency,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return invoicing.PurchaseOrder{}, invoicing.ErrNotFound
		}
		return invoicing.PurchaseOrder{}, fmt.Errorf("pg: fetch PO %s: %w", poNumber, err)
	}
	if scheme == string(invoicing.PlanPeriodOfPayment) {
		po.Scheme = invoicing.PlanPeriodOfPayment
	} else if scheme != "" {
		po.Scheme = invoicing.PlanTermOfPayment
	}
	return po, nil
}

// FetchAmortizationSchedule implements invoicing.FinancePort.
func (r *Repository) FetchAmortizationSchedule(ctx context.Context, poNumber string) ([]invoicing.ScheduleRow, error) {
	const q = `
		SELECT s.position, COALESCE(s.percent, 0), s.amount, s.cancelled,
		       COALESCE(s.invoice_number, ''),
		       COALESCE(s.start_date, 'epoch'::timestamptz), COALESCE(s.end_date, 'epoch'::timestamptz)
		FROM amortization_schedules s
		JOIN purchase_orders po ON po.id = s.po_id
		WHERE po.number = $1
		ORDER BY s.position`
	rows, err := r.pool.Query(ctx, q, poNumber)
	if err != nil {
		return nil, fmt.Errorf("pg: fetch schedule %s: %w", poNumber, err)
	}
	defer rows.Close()

	var out []invoicing.ScheduleRow
	for rows.Next() {
		var row invoicing.ScheduleRow
		if err := rows.Scan(&row.Position, &row.Percent, &row.Amount, &row.Cancelled,
			&row.InvoiceNumber, &row.StartDate, &row.EndDate); err != nil {
			return nil, fmt.Errorf("pg: scan schedule row: %w", err)
		}
		if row.StartDate.Unix() == 0 {
			row.StartDate = zeroTime
		}
		if row.EndDate.Unix() == 0 {
			row.EndDate = zeroTime
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// FetchExistingInvoices implements invoicing.FinancePort.
func (r *Repository) FetchExistingInvoices(ctx context.Context, poNumber string) ([]invoicing.InvoiceRecord, error) {
	const q = `
		SELECT i.term_position, i.number, i.status
		FROM invoices i
		WHERE i.po_number = $1 AND i.status <> 'CANCELLED'
		ORDER BY i.term_position`
	rows, err := r.pool.Query(ctx, q, poNumber)
	if err != nil {
		return nil, fmt.Errorf("pg: fetch invoices %s: %w", poNumber, err)
	}
	defer rows.Close()

	var out []invoicing.InvoiceRecord
	for rows.Next() {
		var rec invoicing.InvoiceRecord
		if err := rows.Scan(&rec.TermPosition, &rec.InvoiceNumber, &rec.Status); err != nil {
			return nil, fmt.Errorf("pg: scan invoice row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// FetchPOLineItems implements invoicing.FinancePort.
func (r *Repository) FetchPOLineItems(ctx context.Context, poNumber string) ([]invoicing.POLineItem, error) {
	const q = `
		SELECT l.item_id, COALESCE(l.description, ''), l.unit_price, l.qty_po, l.qty_received
		FROM po_lines l
		JOIN purchase_orders po ON po.id = l.po_id
		WHERE po.number = $1
		ORDER BY l.id`
	rows, err := r.pool.Query(ctx, q, poNumber)
	if err != nil {
		return nil, fmt.Errorf("pg: fetch lines %s: %w", poNumber, err)
	}
	defer rows.Close()

	var out []invoicing.POLineItem
	for rows.Next() {
		var (
			line     invoicing.POLineItem
			received *decimal.Decimal
		)
		if err := rows.Scan(&line.ItemID, &line.Description, &line.UnitPrice, &line.QtyOnPO, &received); err != nil {
			return nil, fmt.Errorf("pg: scan line row: %w", err)
		}
		if received != nil {
			line.QtyReceived = decimal.NewNullDecimal(*received)
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

// SubmitInvoiceDraft implements invoicing.FinancePort. Header and lines go
// in one transaction; the unique (number, term_position) index backs the
// idempotency guard's promise at the storage level too.
func (r *Repository) SubmitInvoiceDraft(ctx context.Context, draft invoicing.InvoiceDraft) (string, error) {
	var id string
	err := r.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		const insertHeader = `
			INSERT INTO invoices (number, po_number, term_position, term_value, invoice_date,
			                      tax_code, tax_rate, invoice_amount, dpp_amount, tax_amount, total_amount,
			                      revision_status, notes, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,'SUBMITTED')
			RETURNING id::text`
		if err := tx.QueryRow(ctx, insertHeader,
			draft.InvoiceNumber, draft.PONumber, draft.TermPosition, draft.TermValue, draft.InvoiceDate,
			draft.TaxCode, draft.TaxRate, draft.InvoiceAmount, draft.DPPAmount, draft.TaxAmount, draft.TotalAmount,
			draft.RevisionStatus, draft.Notes,
		).Scan(&id); err != nil {
			return err
		}
		for _, line := range draft.Lines {
			const insertLine = `
				INSERT INTO invoice_lines (invoice_id, item_id, unit_price, qty_invoice, amount)
				VALUES ($1::bigint, $2, $3, $4, $5)`
			if _, err := tx.Exec(ctx, insertLine, id, line.ItemID, line.UnitPrice, line.QtyInvoice, line.Amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", fmt.Errorf("pg: invoice %s term %d already exists: %w", draft.InvoiceNumber, draft.TermPosition, err)
		}
		return "", fmt.Errorf("pg: submit invoice: %w", err)
	}
	return id, nil
}

// UpdateInvoiceDraft implements invoicing.FinancePort.
func (r *Repository) UpdateInvoiceDraft(ctx context.Context, id string, draft invoicing.InvoiceDraft) (string, error) {
	err := r.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		const updateHeader = `
			UPDATE invoices
			SET number=$2, invoice_date=$3, tax_code=$4, tax_rate=$5,
			    invoice_amount=$6, dpp_amount=$7, tax_amount=$8, total_amount=$9,
			    revision_status=$10, notes=$11
			WHERE id=$1::bigint`
		tag, err := tx.Exec(ctx, updateHeader,
			id, draft.InvoiceNumber, draft.InvoiceDate, draft.TaxCode, draft.TaxRate,
			draft.InvoiceAmount, draft.DPPAmount, draft.TaxAmount, draft.TotalAmount,
			draft.RevisionStatus, draft.Notes)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return invoicing.ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM invoice_lines WHERE invoice_id=$1::bigint`, id); err != nil {
			return err
		}
		for _, line := range draft.Lines {
			const insertLine = `
				INSERT INTO invoice_lines (invoice_id, item_id, unit_price, qty_invoice, amount)
				VALUES ($1::bigint, $2, $3, $4, $5)`
			if _, err := tx.Exec(ctx, insertLine, id, line.ItemID, line.UnitPrice, line.QtyInvoice, line.Amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, invoicing.ErrNotFound) {
			return "", invoicing.ErrNotFound
		}
		return "", fmt.Errorf("pg: update invoice %s: %w", id, err)
	}
	return id, nil
}

func (r *Repository) withTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
