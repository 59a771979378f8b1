package invoicing

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// SubmitHeader carries the caller-supplied invoice header fields.
type SubmitHeader struct {
	InvoiceNumber  string    `validate:"omitempty,min=3"`
	InvoiceDate    time.Time `validate:"required"`
	RevisionStatus string
	Notes          string
}

var idPrinter = message.NewPrinter(language.Indonesian)

// formatAmount renders an amount with locale digit grouping for display
// fields on the draft. The numeric fields stay exact decimals, so grouping
// runs over the exact integer part, never a float conversion.
func formatAmount(currency string, amount decimal.Decimal) string {
	if currency == "" {
		currency = "IDR"
	}
	amount = amount.Round(2)
	sign := ""
	if amount.Sign() < 0 {
		sign = "-"
		amount = amount.Abs()
	}
	units := amount.Truncate(0)
	cents := amount.Sub(units).Shift(2).IntPart()
	if whole := units.BigInt(); whole.IsInt64() {
		return idPrinter.Sprintf("%s %s%d,%02d", currency, sign, whole.Int64(), cents)
	}
	return currency + " " + sign + amount.StringFixed(2)
}

// BuildTermDraft assembles the single Term-of-Payment draft for the selected
// entry. TermValue carries the entry's percentage.
func BuildTermDraft(po PurchaseOrder, entry AmortizationEntry, header SubmitHeader, lines []ProjectedLine, invoiceAmount decimal.Decimal) InvoiceDraft {
	tax := ComputeTax(invoiceAmount, po.TaxCode)
	return InvoiceDraft{
		PONumber:       po.Number,
		InvoiceNumber:  header.InvoiceNumber,
		TermPosition:   entry.Position,
		TermValue:      entry.Percent,
		InvoiceDate:    header.InvoiceDate,
		TaxCode:        po.TaxCode.Code,
		TaxRate:        po.TaxCode.Rate,
		InvoiceAmount:  invoiceAmount,
		DPPAmount:      tax.DPPAmount,
		TaxAmount:      tax.TaxAmount,
		TotalAmount:    tax.TotalAmount,
		DisplayTotal:   formatAmount(po.Currency, tax.TotalAmount),
		RevisionStatus: header.RevisionStatus,
		Notes:          header.Notes,
		Lines:          lines,
	}
}

// BuildPeriodDrafts assembles one draft per selected period, ascending. Every
// draft bills 100% of the PO lines for its own period and all drafts share
// the header's invoice number.
func BuildPeriodDrafts(po PurchaseOrder, positions []int, header SubmitHeader, poLines []POLineItem) []InvoiceDraft {
	perPeriodLines, perPeriodAmount := ProjectLines(poLines, PeriodAllocation(1))
	tax := ComputeTax(perPeriodAmount, po.TaxCode)

	drafts := make([]InvoiceDraft, 0, len(positions))
	for _, position := range positions {
		drafts = append(drafts, InvoiceDraft{
			PONumber:       po.Number,
			InvoiceNumber:  header.InvoiceNumber,
			TermPosition:   position,
			TermValue:      oneHundred,
			InvoiceDate:    header.InvoiceDate,
			TaxCode:        po.TaxCode.Code,
			TaxRate:        po.TaxCode.Rate,
			InvoiceAmount:  perPeriodAmount,
			DPPAmount:      tax.DPPAmount,
			TaxAmount:      tax.TaxAmount,
			TotalAmount:    tax.TotalAmount,
			DisplayTotal:   formatAmount(po.Currency, tax.TotalAmount),
			RevisionStatus: header.RevisionStatus,
			Notes:          header.Notes,
			Lines:          perPeriodLines,
		})
	}
	return drafts
}
