package invoicing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func planWith(kind PlanKind, entries ...AmortizationEntry) AmortizationPlan {
	total := dec("0")
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return AmortizationPlan{Kind: kind, Entries: entries, TotalAmount: total}
}

func TestTermEligibleAfterSubmittedPrefix(t *testing.T) {
	plan := planWith(PlanTermOfPayment,
		AmortizationEntry{Position: 1, Amount: dec("100"), HasInvoice: true},
		AmortizationEntry{Position: 2, Amount: dec("100"), HasInvoice: true},
		AmortizationEntry{Position: 3, Amount: dec("100")},
		AmortizationEntry{Position: 4, Amount: dec("100")},
	)
	tracker := NewTermTracker(plan)

	require.Equal(t, 3, tracker.EligiblePosition())

	for _, pos := range []int{1, 2, 4} {
		err := tracker.Select(pos)
		var seq *SequenceError
		require.ErrorAs(t, err, &seq)
		require.Equal(t, pos, seq.Position)
	}
	require.Zero(t, tracker.Selected(), "rejections leave selection unchanged")

	require.NoError(t, tracker.Select(3))
	require.Equal(t, 3, tracker.Selected())
}

func TestTermFirstEligibleWhenNothingSubmitted(t *testing.T) {
	plan := planWith(PlanTermOfPayment,
		AmortizationEntry{Position: 1, Amount: dec("100")},
		AmortizationEntry{Position: 2, Amount: dec("100")},
	)
	tracker := NewTermTracker(plan)
	require.Equal(t, 1, tracker.EligiblePosition())
}

func TestTermEligibilitySkipsCancelled(t *testing.T) {
	plan := planWith(PlanTermOfPayment,
		AmortizationEntry{Position: 1, Amount: dec("100"), HasInvoice: true},
		AmortizationEntry{Position: 2, Amount: dec("100"), Cancelled: true},
		AmortizationEntry{Position: 3, Amount: dec("100")},
	)
	tracker := NewTermTracker(plan)
	require.Equal(t, 3, tracker.EligiblePosition())

	states := tracker.States()
	require.Equal(t, []EntryState{EntrySubmitted, EntryCancelled, EntryEligible}, states)
}

func TestTermFullyConsumed(t *testing.T) {
	plan := planWith(PlanTermOfPayment,
		AmortizationEntry{Position: 1, Amount: dec("100"), HasInvoice: true},
		AmortizationEntry{Position: 2, Amount: dec("100"), Cancelled: true},
	)
	tracker := NewTermTracker(plan)
	require.Zero(t, tracker.EligiblePosition())
}

func periodPlan(n int, submitted ...int) AmortizationPlan {
	isSubmitted := make(map[int]bool)
	for _, p := range submitted {
		isSubmitted[p] = true
	}
	entries := make([]AmortizationEntry, 0, n)
	for i := 1; i <= n; i++ {
		entries = append(entries, AmortizationEntry{Position: i, Amount: dec("1000"), HasInvoice: isSubmitted[i]})
	}
	return planWith(PlanPeriodOfPayment, entries...)
}

func TestPeriodPrefixInvariant(t *testing.T) {
	tracker := NewPeriodTracker(periodPlan(4))

	err := tracker.Select(2)
	var seq *SequenceError
	require.ErrorAs(t, err, &seq)
	require.Equal(t, "select the previous period first", seq.Reason)
	require.Empty(t, tracker.Selected())

	require.NoError(t, tracker.Select(1))
	require.NoError(t, tracker.Select(2))
	require.NoError(t, tracker.Select(3))
	require.Equal(t, []int{1, 2, 3}, tracker.Selected())

	require.Error(t, tracker.Select(5), "out of range")
}

func TestPeriodSubmittedPrefixSatisfiesPredecessor(t *testing.T) {
	tracker := NewPeriodTracker(periodPlan(4, 1, 2))

	require.Equal(t, []int{3}, tracker.SelectablePositions())
	require.NoError(t, tracker.Select(3))
	require.Equal(t, []int{4}, tracker.SelectablePositions())

	err := tracker.Select(1)
	var seq *SequenceError
	require.ErrorAs(t, err, &seq)
	require.Equal(t, "period already has an invoice", seq.Reason)
}

func TestPeriodDeselectCascades(t *testing.T) {
	tracker := NewPeriodTracker(periodPlan(5))
	for pos := 1; pos <= 4; pos++ {
		require.NoError(t, tracker.Select(pos))
	}

	removed := tracker.Deselect(2)
	require.Equal(t, []int{2, 3, 4}, removed)
	require.Equal(t, []int{1}, tracker.Selected())

	// Set can grow again after shrinking; there is no terminal state.
	require.NoError(t, tracker.Select(2))
	require.Equal(t, []int{1, 2}, tracker.Selected())
}

func TestPeriodSelectionNeverGapped(t *testing.T) {
	tracker := NewPeriodTracker(periodPlan(6))
	ops := []struct {
		selectPos   int
		deselectPos int
	}{
		{selectPos: 1}, {selectPos: 2}, {selectPos: 3},
		{deselectPos: 2},
		{selectPos: 2}, {selectPos: 3}, {selectPos: 4},
		{deselectPos: 1},
		{selectPos: 1},
	}
	for _, op := range ops {
		if op.selectPos > 0 {
			_ = tracker.Select(op.selectPos)
		} else {
			tracker.Deselect(op.deselectPos)
		}
		selected := tracker.Selected()
		for i, pos := range selected {
			require.Equal(t, i+1, pos, "selection %v is not a prefix", selected)
		}
	}
}
