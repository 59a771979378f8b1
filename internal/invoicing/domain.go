package invoicing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Payment scheme of a purchase order.
type PlanKind string

const (
	// PlanTermOfPayment splits the PO amount across percentage milestones.
	PlanTermOfPayment PlanKind = "TERM_OF_PAYMENT"
	// PlanPeriodOfPayment bills 100% of the PO amount per date range.
	PlanPeriodOfPayment PlanKind = "PERIOD_OF_PAYMENT"
)

// EntryState classifies one amortization entry for the UI.
type EntryState string

const (
	EntryCancelled   EntryState = "CANCELLED"
	EntrySubmitted   EntryState = "SUBMITTED"
	EntryEligible    EntryState = "ELIGIBLE"
	EntryNotEligible EntryState = "NOT_ELIGIBLE"
)

// PurchaseOrder carries the header fields the engine needs. The gateway
// normalizes upstream field spellings before anything reaches this type.
type PurchaseOrder struct {
	Number          string
	SupplierName    string
	Scheme          PlanKind
	TotalAmount     decimal.Decimal
	TermDescription string // pipe-delimited percentages, e.g. "30|70"
	WorkType        string
	TaxCode         TaxCode
	Currency        string
}

// AmortizationEntry is one payable slice of a plan, ordered by Position.
type AmortizationEntry struct {
	Position      int
	Percent       decimal.Decimal
	Amount        decimal.Decimal
	HasInvoice    bool
	Cancelled     bool
	InvoiceNumber string
	StartDate     time.Time
	EndDate       time.Time
}

// AmortizationPlan is the schedule built for a selected PO. It is immutable
// for the lifetime of that selection; a new selection builds a new plan.
type AmortizationPlan struct {
	Kind        PlanKind
	Entries     []AmortizationEntry
	TotalAmount decimal.Decimal
}

// Entry returns the entry at position, or false when out of range.
func (p AmortizationPlan) Entry(position int) (AmortizationEntry, bool) {
	if position < 1 || position > len(p.Entries) {
		return AmortizationEntry{}, false
	}
	return p.Entries[position-1], true
}

// ScheduleRow is a server-held amortization row as delivered by a gateway.
type ScheduleRow struct {
	Position      int
	Percent       decimal.Decimal
	Amount        decimal.Decimal
	Cancelled     bool
	InvoiceNumber string
	StartDate     time.Time
	EndDate       time.Time
}

// InvoiceRecord is an already-submitted invoice against a PO term/period.
type InvoiceRecord struct {
	TermPosition  int
	InvoiceNumber string
	Status        string
}

// POLineItem is the read-only projection source owned by the PO/GRN side.
// QtyReceived carries GRN actuals when a receipt exists.
type POLineItem struct {
	ItemID      string
	Description string
	UnitPrice   decimal.Decimal
	QtyOnPO     decimal.Decimal
	QtyReceived decimal.NullDecimal
}

// BillableQty prefers received quantity over the nominal PO quantity.
func (l POLineItem) BillableQty() decimal.Decimal {
	if l.QtyReceived.Valid {
		return l.QtyReceived.Decimal
	}
	return l.QtyOnPO
}

// ProjectedLine is a PO line mapped onto a chosen term or period.
type ProjectedLine struct {
	ItemID      string
	Description string
	UnitPrice   decimal.Decimal
	QtyInvoice  decimal.Decimal
	Amount      decimal.Decimal
}

// TaxCode identifies the tax treatment of an invoice. TaxInclusive marks the
// PPN code whose invoice amounts already contain tax, forcing the DPP to be
// backed out at 11/12.
type TaxCode struct {
	Code         string
	Rate         decimal.Decimal // fraction: 0.11 for 11%
	TaxInclusive bool
}

// InvoiceDraft is the transient payload handed to the submit collaborator.
type InvoiceDraft struct {
	PONumber       string
	InvoiceNumber  string
	TermPosition   int
	TermValue      decimal.Decimal // percent billed by this draft
	InvoiceDate    time.Time
	TaxCode        string
	TaxRate        decimal.Decimal
	InvoiceAmount  decimal.Decimal
	DPPAmount      decimal.Decimal
	TaxAmount      decimal.Decimal
	TotalAmount    decimal.Decimal
	DisplayTotal   string
	RevisionStatus string
	Notes          string
	Lines          []ProjectedLine
}

// Sentinel errors surfaced to callers. The engine never retries on its own.
var (
	ErrNotFound = errors.New("invoicing: not found")
	// ErrMissingPrerequisite blocks submission: no amortization data and no
	// term description, or no work-type/tax mapping resolvable for the PO.
	ErrMissingPrerequisite = errors.New("invoicing: missing prerequisite")
	ErrNoActiveWorkspace   = errors.New("invoicing: no purchase order selected")
)

// SequenceError rejects an out-of-order term or period selection. The
// selection state is left unchanged; reverting any visual state is the
// caller's concern.
type SequenceError struct {
	Position int
	Reason   string
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("invoicing: position %d: %s", e.Position, e.Reason)
}

// PeriodResult is the outcome of one draft inside a batch submission.
type PeriodResult struct {
	Position      int
	InvoiceID     string
	InvoiceNumber string
	Err           string
}

// BatchResult reports a multi-period submission. Drafts are independent:
// failures never retract periods that were already accepted.
type BatchResult struct {
	BatchRef  string
	Succeeded int
	Failed    int
	Results   []PeriodResult
}
