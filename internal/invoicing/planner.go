package invoicing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// PlanInput bundles everything BuildPlan reads. Schedule rows, when present,
// are the server's authoritative amortization; Existing marks rows that
// already have an invoice; Lines drive the working total.
type PlanInput struct {
	PO       PurchaseOrder
	Schedule []ScheduleRow
	Existing []InvoiceRecord
	Lines    []POLineItem
}

var oneHundred = decimal.NewFromInt(100)

// BuildPlan produces the amortization plan for a freshly selected PO.
//
// Fallback order: a non-empty server schedule is taken verbatim; otherwise a
// Term-of-Payment plan is derived from the PO's pipe-delimited percentage
// description. Neither available means the PO cannot be invoiced yet.
//
// The plan is rebuilt from scratch on every call, so a cancellation that
// changes the unpaid set simply shows up in the next build.
func BuildPlan(in PlanInput) (AmortizationPlan, error) {
	total := workingTotal(in.PO, in.Lines)

	var plan AmortizationPlan
	switch {
	case len(in.Schedule) > 0:
		plan = planFromSchedule(in.PO, in.Schedule, total)
	case strings.TrimSpace(in.PO.TermDescription) != "":
		derived, err := planFromDescription(in.PO, total)
		if err != nil {
			return AmortizationPlan{}, err
		}
		plan = derived
	default:
		return AmortizationPlan{}, fmt.Errorf("%w: PO %s has no amortization schedule and no term description", ErrMissingPrerequisite, in.PO.Number)
	}

	markExisting(plan.Entries, in.Existing)

	if err := checkContiguous(plan.Entries); err != nil {
		return AmortizationPlan{}, err
	}

	if plan.Kind == PlanTermOfPayment {
		reallocateRemaining(plan.Entries, total)
	}
	return plan, nil
}

// workingTotal sums the loaded line amounts, falling back to the PO header
// amount when no lines are loaded.
func workingTotal(po PurchaseOrder, lines []POLineItem) decimal.Decimal {
	if len(lines) == 0 {
		return po.TotalAmount
	}
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.QtyOnPO.Mul(line.UnitPrice))
	}
	return total
}

func planFromSchedule(po PurchaseOrder, rows []ScheduleRow, total decimal.Decimal) AmortizationPlan {
	kind := po.Scheme
	if kind == "" {
		kind = PlanTermOfPayment
		for _, row := range rows {
			if !row.StartDate.IsZero() || !row.EndDate.IsZero() {
				kind = PlanPeriodOfPayment
				break
			}
		}
	}

	entries := make([]AmortizationEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, AmortizationEntry{
			Position:      row.Position,
			Percent:       row.Percent,
			Amount:        row.Amount,
			Cancelled:     row.Cancelled,
			HasInvoice:    row.InvoiceNumber != "",
			InvoiceNumber: row.InvoiceNumber,
			StartDate:     row.StartDate,
			EndDate:       row.EndDate,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Position < entries[j].Position })
	return AmortizationPlan{Kind: kind, Entries: entries, TotalAmount: total}
}

func planFromDescription(po PurchaseOrder, total decimal.Decimal) (AmortizationPlan, error) {
	parts := strings.Split(po.TermDescription, "|")
	entries := make([]AmortizationEntry, 0, len(parts))
	for i, part := range parts {
		pct, err := decimal.NewFromString(strings.TrimSpace(part))
		if err != nil {
			return AmortizationPlan{}, fmt.Errorf("invoicing: PO %s term description %q: %w", po.Number, po.TermDescription, err)
		}
		entries = append(entries, AmortizationEntry{
			Position: i + 1,
			Percent:  pct,
			Amount:   total.Mul(pct).Div(oneHundred).Round(2),
		})
	}
	return AmortizationPlan{Kind: PlanTermOfPayment, Entries: entries, TotalAmount: total}, nil
}

func markExisting(entries []AmortizationEntry, existing []InvoiceRecord) {
	if len(existing) == 0 {
		return
	}
	byPosition := make(map[int]InvoiceRecord, len(existing))
	for _, rec := range existing {
		byPosition[rec.TermPosition] = rec
	}
	for i := range entries {
		if rec, ok := byPosition[entries[i].Position]; ok {
			entries[i].HasInvoice = true
			entries[i].InvoiceNumber = rec.InvoiceNumber
		}
	}
}

func checkContiguous(entries []AmortizationEntry) error {
	for i := range entries {
		if entries[i].Position != i+1 {
			return fmt.Errorf("invoicing: amortization positions not contiguous at index %d (got %d)", i, entries[i].Position)
		}
	}
	return nil
}

// reallocateRemaining redistributes the not-yet-invoiced remainder of the PO
// total over the open terms, proportionally to their percentages. Submitted
// and cancelled terms keep their stored amounts, so rounding and adjustment
// differences land on unpaid terms instead of drifting the plan sum away
// from the total.
func reallocateRemaining(entries []AmortizationEntry, total decimal.Decimal) {
	consumed := decimal.Zero
	openPercent := decimal.Zero
	anyConsumed := false
	for _, e := range entries {
		if e.HasInvoice || e.Cancelled {
			consumed = consumed.Add(e.Amount)
			anyConsumed = true
			continue
		}
		openPercent = openPercent.Add(e.Percent)
	}
	if !anyConsumed || openPercent.IsZero() {
		return
	}

	remainder := total.Sub(consumed)
	for i := range entries {
		if entries[i].HasInvoice || entries[i].Cancelled {
			continue
		}
		entries[i].Amount = remainder.Mul(entries[i].Percent).Div(openPercent).Round(2)
	}
}
