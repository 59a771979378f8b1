package invoicing

// Eligibility state machines over a plan's entries. Terms are single-select:
// exactly one entry is open at a time. Periods are multi-select under a
// prefix rule: the chosen set is always {1..k}.

// TermTracker enforces strict sequential consumption of Term-of-Payment
// entries. At most one position is selected at a time.
type TermTracker struct {
	plan     AmortizationPlan
	selected int // 0 = nothing selected
}

// NewTermTracker starts an empty selection over plan.
func NewTermTracker(plan AmortizationPlan) *TermTracker {
	return &TermTracker{plan: plan}
}

// EligiblePosition returns the one currently payable position, or 0 when the
// plan is fully consumed. It is the position after the highest submitted
// entry, skipping cancelled entries.
func (t *TermTracker) EligiblePosition() int {
	next := 1
	for _, e := range t.plan.Entries {
		if e.HasInvoice && e.Position >= next {
			next = e.Position + 1
		}
	}
	for next <= len(t.plan.Entries) {
		entry, _ := t.plan.Entry(next)
		if !entry.Cancelled && !entry.HasInvoice {
			return next
		}
		next++
	}
	return 0
}

// States classifies every entry for display, in position order.
func (t *TermTracker) States() []EntryState {
	eligible := t.EligiblePosition()
	states := make([]EntryState, len(t.plan.Entries))
	for i, e := range t.plan.Entries {
		switch {
		case e.Cancelled:
			states[i] = EntryCancelled
		case e.HasInvoice:
			states[i] = EntrySubmitted
		case e.Position == eligible:
			states[i] = EntryEligible
		default:
			states[i] = EntryNotEligible
		}
	}
	return states
}

// Select accepts only the eligible position. Rejections leave the selection
// unchanged and name the violated position.
func (t *TermTracker) Select(position int) error {
	entry, ok := t.plan.Entry(position)
	if !ok {
		return &SequenceError{Position: position, Reason: "no such term"}
	}
	switch {
	case entry.Cancelled:
		return &SequenceError{Position: position, Reason: "term is cancelled"}
	case entry.HasInvoice:
		return &SequenceError{Position: position, Reason: "term already has an invoice"}
	case position != t.EligiblePosition():
		return &SequenceError{Position: position, Reason: "previous term must be invoiced first"}
	}
	t.selected = position
	return nil
}

// Selected returns the chosen position, 0 when none.
func (t *TermTracker) Selected() int { return t.selected }

// ClearSelection resets the tracker without touching the plan.
func (t *TermTracker) ClearSelection() { t.selected = 0 }

// PeriodTracker enforces the prefix rule for Period-of-Payment plans: a
// position is selectable only once every earlier position is selected,
// submitted, or cancelled.
type PeriodTracker struct {
	plan     AmortizationPlan
	selected map[int]bool
}

// NewPeriodTracker starts an empty selection over plan.
func NewPeriodTracker(plan AmortizationPlan) *PeriodTracker {
	return &PeriodTracker{plan: plan, selected: make(map[int]bool)}
}

func (p *PeriodTracker) consumed(position int) bool {
	entry, ok := p.plan.Entry(position)
	if !ok {
		return false
	}
	return entry.HasInvoice || entry.Cancelled
}

// SelectablePositions lists every position that Select would currently
// accept.
func (p *PeriodTracker) SelectablePositions() []int {
	var out []int
	for _, e := range p.plan.Entries {
		if p.selectable(e.Position) {
			out = append(out, e.Position)
		}
	}
	return out
}

func (p *PeriodTracker) selectable(position int) bool {
	entry, ok := p.plan.Entry(position)
	if !ok || entry.Cancelled || entry.HasInvoice || p.selected[position] {
		return false
	}
	for prev := 1; prev < position; prev++ {
		if !p.selected[prev] && !p.consumed(prev) {
			return false
		}
	}
	return true
}

// Select adds position to the set. Every earlier position must already be
// selected or submitted; otherwise the call is rejected with an explicit
// select-the-previous-period signal.
func (p *PeriodTracker) Select(position int) error {
	entry, ok := p.plan.Entry(position)
	if !ok {
		return &SequenceError{Position: position, Reason: "no such period"}
	}
	switch {
	case entry.Cancelled:
		return &SequenceError{Position: position, Reason: "period is cancelled"}
	case entry.HasInvoice:
		return &SequenceError{Position: position, Reason: "period already has an invoice"}
	case p.selected[position]:
		return nil
	}
	if !p.selectable(position) {
		return &SequenceError{Position: position, Reason: "select the previous period first"}
	}
	p.selected[position] = true
	return nil
}

// Deselect removes position and cascades over every later selected position,
// preserving the prefix shape. It returns the positions removed, ascending.
func (p *PeriodTracker) Deselect(position int) []int {
	var removed []int
	for _, e := range p.plan.Entries {
		if e.Position >= position && p.selected[e.Position] {
			delete(p.selected, e.Position)
			removed = append(removed, e.Position)
		}
	}
	return removed
}

// Selected returns the chosen positions in ascending order.
func (p *PeriodTracker) Selected() []int {
	var out []int
	for _, e := range p.plan.Entries {
		if p.selected[e.Position] {
			out = append(out, e.Position)
		}
	}
	return out
}

// ClearSelection resets the tracker without touching the plan.
func (p *PeriodTracker) ClearSelection() {
	p.selected = make(map[int]bool)
}
