package invoicing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func termPO(number, description string, total string) PurchaseOrder {
	return PurchaseOrder{
		Number:          number,
		Scheme:          PlanTermOfPayment,
		TotalAmount:     dec(total),
		TermDescription: description,
		WorkType:        "CONSTRUCTION",
		TaxCode:         TaxCode{Code: "PPN11", Rate: dec("0.11")},
	}
}

func TestBuildPlanFromDescription(t *testing.T) {
	plan, err := BuildPlan(PlanInput{PO: termPO("PO-100", "30|70", "10000000")})
	require.NoError(t, err)

	require.Equal(t, PlanTermOfPayment, plan.Kind)
	require.Len(t, plan.Entries, 2)
	require.True(t, plan.Entries[0].Amount.Equal(dec("3000000")))
	require.True(t, plan.Entries[1].Amount.Equal(dec("7000000")))
	require.Equal(t, 1, plan.Entries[0].Position)
	require.Equal(t, 2, plan.Entries[1].Position)
}

func TestBuildPlanScheduleIsAuthoritative(t *testing.T) {
	po := termPO("PO-101", "50|50", "10000000")
	rows := []ScheduleRow{
		{Position: 2, Percent: dec("60"), Amount: dec("6000000")},
		{Position: 1, Percent: dec("40"), Amount: dec("4000000"), InvoiceNumber: "INV-1"},
	}
	plan, err := BuildPlan(PlanInput{PO: po, Schedule: rows})
	require.NoError(t, err)

	require.Len(t, plan.Entries, 2)
	require.Equal(t, 1, plan.Entries[0].Position)
	require.True(t, plan.Entries[0].HasInvoice)
	require.True(t, plan.Entries[0].Amount.Equal(dec("4000000")), "submitted amount kept verbatim")
}

func TestBuildPlanPeriodKindInferredFromDates(t *testing.T) {
	po := PurchaseOrder{Number: "PO-102", TotalAmount: dec("5000000")}
	rows := []ScheduleRow{
		{Position: 1, Amount: dec("5000000"), StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)},
		{Position: 2, Amount: dec("5000000"), StartDate: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)},
	}
	plan, err := BuildPlan(PlanInput{PO: po, Schedule: rows})
	require.NoError(t, err)
	require.Equal(t, PlanPeriodOfPayment, plan.Kind)
}

func TestBuildPlanMissingEverything(t *testing.T) {
	_, err := BuildPlan(PlanInput{PO: PurchaseOrder{Number: "PO-103", TotalAmount: dec("1000")}})
	require.ErrorIs(t, err, ErrMissingPrerequisite)
}

func TestBuildPlanTotalFromLines(t *testing.T) {
	po := termPO("PO-104", "100", "999") // header amount ignored once lines load
	lines := []POLineItem{
		{ItemID: "ITM-1", UnitPrice: dec("2500"), QtyOnPO: dec("4")},
		{ItemID: "ITM-2", UnitPrice: dec("1000"), QtyOnPO: dec("10")},
	}
	plan, err := BuildPlan(PlanInput{PO: po, Lines: lines})
	require.NoError(t, err)
	require.True(t, plan.TotalAmount.Equal(dec("20000")))
	require.True(t, plan.Entries[0].Amount.Equal(dec("20000")))
}

func TestReallocationKeepsPlanSumAtTotal(t *testing.T) {
	po := termPO("PO-105", "30|30|40", "10000000")
	rows := []ScheduleRow{
		// First term was invoiced at an adjusted amount.
		{Position: 1, Percent: dec("30"), Amount: dec("3100000"), InvoiceNumber: "INV-9"},
		{Position: 2, Percent: dec("30"), Amount: dec("3000000")},
		{Position: 3, Percent: dec("40"), Amount: dec("4000000")},
	}
	plan, err := BuildPlan(PlanInput{PO: po, Schedule: rows})
	require.NoError(t, err)

	sum := decimal.Zero
	for _, e := range plan.Entries {
		sum = sum.Add(e.Amount)
	}
	require.True(t, sum.Equal(dec("10000000")), "plan sum = %s", sum)

	// Remainder 6,900,000 split 30:40 over the open terms.
	require.True(t, plan.Entries[1].Amount.Equal(dec("2957142.86")), "term 2 = %s", plan.Entries[1].Amount)
	require.True(t, plan.Entries[2].Amount.Equal(dec("3942857.14")), "term 3 = %s", plan.Entries[2].Amount)
}

func TestReallocationCancelledKeepsStoredAmount(t *testing.T) {
	po := termPO("PO-106", "50|50", "10000000")
	rows := []ScheduleRow{
		{Position: 1, Percent: dec("50"), Amount: dec("5000000"), Cancelled: true},
		{Position: 2, Percent: dec("50"), Amount: dec("5000000")},
	}
	plan, err := BuildPlan(PlanInput{PO: po, Schedule: rows})
	require.NoError(t, err)

	require.True(t, plan.Entries[0].Amount.Equal(dec("5000000")))
	require.True(t, plan.Entries[1].Amount.Equal(dec("5000000")))
}

func TestReallocationZeroOpenPercent(t *testing.T) {
	po := termPO("PO-107", "100|0", "8000000")
	rows := []ScheduleRow{
		{Position: 1, Percent: dec("100"), Amount: dec("8000000"), InvoiceNumber: "INV-2"},
		{Position: 2, Percent: dec("0"), Amount: dec("0")},
	}
	plan, err := BuildPlan(PlanInput{PO: po, Schedule: rows})
	require.NoError(t, err)
	require.True(t, plan.Entries[1].Amount.IsZero(), "no division by zero, amount untouched")
}

func TestBuildPlanRejectsGappedPositions(t *testing.T) {
	po := termPO("PO-108", "", "1000")
	rows := []ScheduleRow{
		{Position: 1, Amount: dec("500")},
		{Position: 3, Amount: dec("500")},
	}
	_, err := BuildPlan(PlanInput{PO: po, Schedule: rows})
	require.Error(t, err)
}
