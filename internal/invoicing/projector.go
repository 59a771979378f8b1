package invoicing

import "github.com/shopspring/decimal"

// Allocation tells the projector how much of each PO line the current
// selection bills. Exactly one of Percent / Periods is meaningful: terms
// carry their percentage, periods bill 100% each and Periods counts how many
// are batched together.
type Allocation struct {
	Percent decimal.Decimal
	Periods int
}

// TermAllocation builds the allocation for a term billing percent of the PO.
func TermAllocation(percent decimal.Decimal) Allocation {
	return Allocation{Percent: percent}
}

// PeriodAllocation builds the allocation for n simultaneously selected
// periods.
func PeriodAllocation(n int) Allocation {
	return Allocation{Periods: n}
}

func (a Allocation) factor() decimal.Decimal {
	if a.Periods > 0 {
		return decimal.NewFromInt(int64(a.Periods))
	}
	return a.Percent.Div(oneHundred)
}

// ProjectLines maps PO lines onto the selected term or periods and returns
// the projected lines plus their amount sum, which is the invoice amount fed
// into the tax computation. Received quantities are preferred over nominal
// PO quantities when a goods receipt exists.
//
// The projection is a pure function of its inputs; repeated calls with the
// same inputs produce identical output.
func ProjectLines(lines []POLineItem, alloc Allocation) ([]ProjectedLine, decimal.Decimal) {
	factor := alloc.factor()
	projected := make([]ProjectedLine, 0, len(lines))
	total := decimal.Zero
	for _, line := range lines {
		qty := line.BillableQty().Mul(factor)
		amount := qty.Mul(line.UnitPrice).Round(2)
		projected = append(projected, ProjectedLine{
			ItemID:      line.ItemID,
			Description: line.Description,
			UnitPrice:   line.UnitPrice,
			QtyInvoice:  qty,
			Amount:      amount,
		})
		total = total.Add(amount)
	}
	return projected, total
}
