package invoicing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
)

// FinancePort is the remote procurement/finance collaborator. Gateways
// normalize upstream field spellings so the engine sees canonical data only.
// An empty schedule slice means no server-held amortization exists.
type FinancePort interface {
	FetchPurchaseOrder(ctx context.Context, poNumber string) (PurchaseOrder, error)
	FetchAmortizationSchedule(ctx context.Context, poNumber string) ([]ScheduleRow, error)
	FetchExistingInvoices(ctx context.Context, poNumber string) ([]InvoiceRecord, error)
	FetchPOLineItems(ctx context.Context, poNumber string) ([]POLineItem, error)
	SubmitInvoiceDraft(ctx context.Context, draft InvoiceDraft) (string, error)
	UpdateInvoiceDraft(ctx context.Context, id string, draft InvoiceDraft) (string, error)
}

// NumberSequencer allocates invoice numbers, one shared number per batch.
type NumberSequencer interface {
	Next(ctx context.Context, poNumber string, at time.Time) (string, error)
}

// SubmissionGuard deduplicates submissions across retries and workers.
type SubmissionGuard interface {
	CheckAndInsert(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}

// SubmissionRecorder counts submission outcomes. Implemented by
// observability.Metrics.
type SubmissionRecorder interface {
	Submission(outcome string)
}

// ServiceConfig tunes the service. Zero values get sane defaults; Sequencer,
// Guard, and Recorder are optional.
type ServiceConfig struct {
	ShortTTL  time.Duration // transactional data: schedule, existing invoices
	LongTTL   time.Duration // master data: PO header, lines
	Sequencer NumberSequencer
	Guard     SubmissionGuard
	Recorder  SubmissionRecorder
}

// Workspace is the editing session for one selected PO. A fresh selection
// replaces the workspace wholesale; the old plan is never mutated in place.
// mu serializes tracker mutation: HTTP handlers and the batch worker hit the
// same workspace concurrently, and the trackers are plain maps and ints.
type Workspace struct {
	PO    PurchaseOrder
	Plan  AmortizationPlan
	Lines []POLineItem

	mu     sync.Mutex
	term   *TermTracker
	period *PeriodTracker
}

// Service orchestrates plan building, eligibility, projection, and
// submission over the collaborator ports.
type Service struct {
	logger   *slog.Logger
	finance  FinancePort
	memo     *cache.Memo
	validate *validator.Validate
	cfg      ServiceConfig

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// NewService constructs the invoicing service.
func NewService(logger *slog.Logger, finance FinancePort, memo *cache.Memo, cfg ServiceConfig) *Service {
	if cfg.ShortTTL <= 0 {
		cfg.ShortTTL = 30 * time.Second
	}
	if cfg.LongTTL <= 0 {
		cfg.LongTTL = 15 * time.Minute
	}
	return &Service{
		logger:     logger,
		finance:    finance,
		memo:       memo,
		validate:   validator.New(),
		cfg:        cfg,
		workspaces: make(map[string]*Workspace),
	}
}

func keyPO(no string) string       { return "po:" + no }
func keyLines(no string) string    { return "po-lines:" + no }
func keySchedule(no string) string { return "schedule:" + no }
func keyInvoices(no string) string { return "invoices:" + no }

// SelectPO builds a fresh plan for poNumber and opens a new workspace,
// resetting any previous selection for that PO.
func (s *Service) SelectPO(ctx context.Context, poNumber string) (*Workspace, error) {
	po, err := cache.GetAs(ctx, s.memo, keyPO(poNumber), s.cfg.LongTTL, func(ctx context.Context) (PurchaseOrder, error) {
		return s.finance.FetchPurchaseOrder(ctx, poNumber)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch PO %s: %w", poNumber, err)
	}
	schedule, err := cache.GetAs(ctx, s.memo, keySchedule(poNumber), s.cfg.ShortTTL, func(ctx context.Context) ([]ScheduleRow, error) {
		return s.finance.FetchAmortizationSchedule(ctx, poNumber)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch schedule for %s: %w", poNumber, err)
	}
	existing, err := cache.GetAs(ctx, s.memo, keyInvoices(poNumber), s.cfg.ShortTTL, func(ctx context.Context) ([]InvoiceRecord, error) {
		return s.finance.FetchExistingInvoices(ctx, poNumber)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch invoices for %s: %w", poNumber, err)
	}
	lines, err := cache.GetAs(ctx, s.memo, keyLines(poNumber), s.cfg.LongTTL, func(ctx context.Context) ([]POLineItem, error) {
		return s.finance.FetchPOLineItems(ctx, poNumber)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch lines for %s: %w", poNumber, err)
	}

	plan, err := BuildPlan(PlanInput{PO: po, Schedule: schedule, Existing: existing, Lines: lines})
	if err != nil {
		return nil, err
	}

	ws := &Workspace{PO: po, Plan: plan, Lines: lines}
	if plan.Kind == PlanPeriodOfPayment {
		ws.period = NewPeriodTracker(plan)
	} else {
		ws.term = NewTermTracker(plan)
	}

	s.mu.Lock()
	s.workspaces[poNumber] = ws
	s.mu.Unlock()
	return ws, nil
}

func (s *Service) workspace(poNumber string) (*Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[poNumber]
	if !ok {
		return nil, ErrNoActiveWorkspace
	}
	return ws, nil
}

// EligibilityView reports what the UI may offer for selection.
type EligibilityView struct {
	Kind            PlanKind
	Position        int // term plans: the single eligible position, 0 if none
	IsEligible      bool
	States          []EntryState
	SelectablePos   []int // period plans
	SelectedPrefix  []int
	SelectedTermPos int
}

// Eligibility computes the current selection offer for an open workspace.
func (s *Service) Eligibility(poNumber string) (EligibilityView, error) {
	ws, err := s.workspace(poNumber)
	if err != nil {
		return EligibilityView{}, err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	view := EligibilityView{Kind: ws.Plan.Kind}
	if ws.period != nil {
		view.SelectablePos = ws.period.SelectablePositions()
		view.SelectedPrefix = ws.period.Selected()
		return view, nil
	}
	view.Position = ws.term.EligiblePosition()
	view.IsEligible = view.Position != 0
	view.States = ws.term.States()
	view.SelectedTermPos = ws.term.Selected()
	return view, nil
}

// Select records a term or period choice. Sequence violations come back as
// *SequenceError with the offending position.
func (s *Service) Select(poNumber string, position int) error {
	ws, err := s.workspace(poNumber)
	if err != nil {
		return err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.period != nil {
		return ws.period.Select(position)
	}
	return ws.term.Select(position)
}

// Deselect removes a period choice, cascading over later periods, and
// returns every removed position. For term plans it clears the single
// selection.
func (s *Service) Deselect(poNumber string, position int) ([]int, error) {
	ws, err := s.workspace(poNumber)
	if err != nil {
		return nil, err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.period != nil {
		return ws.period.Deselect(position), nil
	}
	if ws.term.Selected() == position {
		ws.term.ClearSelection()
		return []int{position}, nil
	}
	return nil, nil
}

// ProjectionView is the computed invoice preview for the current selection.
type ProjectionView struct {
	Lines         []ProjectedLine
	InvoiceAmount decimal.Decimal
	Tax           TaxBreakdown
}

// Projection recomputes line quantities and amounts for the current
// selection and derives the tax fields from their sum.
func (s *Service) Projection(poNumber string) (ProjectionView, error) {
	ws, err := s.workspace(poNumber)
	if err != nil {
		return ProjectionView{}, err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()

	var alloc Allocation
	if ws.period != nil {
		n := len(ws.period.Selected())
		if n == 0 {
			return ProjectionView{}, &SequenceError{Position: 0, Reason: "no period selected"}
		}
		alloc = PeriodAllocation(n)
	} else {
		selected := ws.term.Selected()
		if selected == 0 {
			return ProjectionView{}, &SequenceError{Position: 0, Reason: "no term selected"}
		}
		entry, _ := ws.Plan.Entry(selected)
		alloc = TermAllocation(entry.Percent)
	}

	lines, total := ProjectLines(ws.Lines, alloc)
	return ProjectionView{
		Lines:         lines,
		InvoiceAmount: total,
		Tax:           ComputeTax(total, ws.PO.TaxCode),
	}, nil
}

func (s *Service) checkPrerequisites(ws *Workspace) error {
	if ws.PO.WorkType == "" {
		return fmt.Errorf("%w: no work-type mapping for PO %s", ErrMissingPrerequisite, ws.PO.Number)
	}
	return nil
}

func (s *Service) record(outcome string) {
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.Submission(outcome)
	}
}

// invalidateTransactional drops the short-lived keys so the next eligibility
// computation sees the submission it just made.
func (s *Service) invalidateTransactional(poNumber string) {
	s.memo.Invalidate(keyInvoices(poNumber))
	s.memo.Invalidate(keySchedule(poNumber))
}

// SubmitSingle submits the one selected Term-of-Payment draft and returns
// the persisted invoice id. The selection is consumed on success.
func (s *Service) SubmitSingle(ctx context.Context, poNumber string, header SubmitHeader) (string, error) {
	ws, err := s.workspace(poNumber)
	if err != nil {
		return "", err
	}
	if ws.term == nil {
		return "", fmt.Errorf("invoicing: PO %s is billed per period, use batch submission", poNumber)
	}
	if err := s.validate.Struct(header); err != nil {
		return "", fmt.Errorf("invoicing: header: %w", err)
	}
	if err := s.checkPrerequisites(ws); err != nil {
		return "", err
	}
	// Held through the collaborator call: a submission is one mutation, and
	// a concurrent Select must not move the selection under it.
	ws.mu.Lock()
	defer ws.mu.Unlock()
	selected := ws.term.Selected()
	if selected == 0 {
		return "", &SequenceError{Position: 0, Reason: "no term selected"}
	}
	entry, _ := ws.Plan.Entry(selected)

	if header.InvoiceNumber == "" {
		header.InvoiceNumber, err = s.nextNumber(ctx, poNumber, header.InvoiceDate)
		if err != nil {
			return "", err
		}
	}

	lines, total := ProjectLines(ws.Lines, TermAllocation(entry.Percent))
	draft := BuildTermDraft(ws.PO, entry, header, lines, total)

	guardKey := fmt.Sprintf("%s:%d", draft.InvoiceNumber, draft.TermPosition)
	if err := s.acquire(ctx, guardKey); err != nil {
		return "", err
	}

	id, err := s.finance.SubmitInvoiceDraft(ctx, draft)
	if err != nil {
		s.release(ctx, guardKey)
		s.record("failed")
		return "", fmt.Errorf("submit invoice for %s term %d: %w", poNumber, selected, err)
	}
	s.record("accepted")

	ws.term.ClearSelection()
	s.invalidateTransactional(poNumber)
	s.logger.Info("invoice submitted",
		slog.String("po", poNumber),
		slog.Int("term", selected),
		slog.String("invoice", draft.InvoiceNumber))
	return id, nil
}

// SubmitBatch submits one draft per selected period, ascending, all sharing
// one invoice number. Drafts are independent: a failed period never retracts
// periods already accepted. The structured result reports both counts and
// the per-period errors.
func (s *Service) SubmitBatch(ctx context.Context, poNumber string, header SubmitHeader) (BatchResult, error) {
	ws, err := s.workspace(poNumber)
	if err != nil {
		return BatchResult{}, err
	}
	if ws.period == nil {
		return BatchResult{}, fmt.Errorf("invoicing: PO %s is billed per term, use single submission", poNumber)
	}
	if err := s.validate.Struct(header); err != nil {
		return BatchResult{}, fmt.Errorf("invoicing: header: %w", err)
	}
	if err := s.checkPrerequisites(ws); err != nil {
		return BatchResult{}, err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	positions := ws.period.Selected()
	if len(positions) == 0 {
		return BatchResult{}, &SequenceError{Position: 0, Reason: "no period selected"}
	}

	if header.InvoiceNumber == "" {
		header.InvoiceNumber, err = s.nextNumber(ctx, poNumber, header.InvoiceDate)
		if err != nil {
			return BatchResult{}, err
		}
	}

	drafts := BuildPeriodDrafts(ws.PO, positions, header, ws.Lines)
	result := BatchResult{BatchRef: uuid.NewString()}
	for _, draft := range drafts {
		res := PeriodResult{Position: draft.TermPosition, InvoiceNumber: draft.InvoiceNumber}
		guardKey := fmt.Sprintf("%s:%d", draft.InvoiceNumber, draft.TermPosition)
		if err := s.acquire(ctx, guardKey); err != nil {
			res.Err = err.Error()
			result.Failed++
			result.Results = append(result.Results, res)
			continue
		}
		id, err := s.finance.SubmitInvoiceDraft(ctx, draft)
		if err != nil {
			s.release(ctx, guardKey)
			s.record("failed")
			res.Err = err.Error()
			result.Failed++
		} else {
			s.record("accepted")
			res.InvoiceID = id
			result.Succeeded++
		}
		result.Results = append(result.Results, res)
	}

	ws.period.ClearSelection()
	s.invalidateTransactional(poNumber)
	s.logger.Info("period batch submitted",
		slog.String("po", poNumber),
		slog.String("batch", result.BatchRef),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed))
	return result, nil
}

// ResubmitDraft pushes a revised draft for an existing invoice through the
// update collaborator, keeping the current selection's projection.
func (s *Service) ResubmitDraft(ctx context.Context, invoiceID, poNumber string, header SubmitHeader) (string, error) {
	ws, err := s.workspace(poNumber)
	if err != nil {
		return "", err
	}
	if ws.term == nil {
		return "", fmt.Errorf("invoicing: revision applies to term invoices only")
	}
	if err := s.validate.Struct(header); err != nil {
		return "", fmt.Errorf("invoicing: header: %w", err)
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	selected := ws.term.Selected()
	if selected == 0 {
		return "", &SequenceError{Position: 0, Reason: "no term selected"}
	}
	entry, _ := ws.Plan.Entry(selected)
	lines, total := ProjectLines(ws.Lines, TermAllocation(entry.Percent))
	draft := BuildTermDraft(ws.PO, entry, header, lines, total)

	id, err := s.finance.UpdateInvoiceDraft(ctx, invoiceID, draft)
	if err != nil {
		s.record("failed")
		return "", fmt.Errorf("update invoice %s: %w", invoiceID, err)
	}
	s.record("accepted")
	ws.term.ClearSelection()
	s.invalidateTransactional(poNumber)
	return id, nil
}

func (s *Service) nextNumber(ctx context.Context, poNumber string, at time.Time) (string, error) {
	if s.cfg.Sequencer == nil {
		return "", fmt.Errorf("%w: no invoice number supplied and no sequencer configured", ErrMissingPrerequisite)
	}
	number, err := s.cfg.Sequencer.Next(ctx, poNumber, at)
	if err != nil {
		return "", fmt.Errorf("allocate invoice number: %w", err)
	}
	return number, nil
}

func (s *Service) acquire(ctx context.Context, key string) error {
	if s.cfg.Guard == nil {
		return nil
	}
	return s.cfg.Guard.CheckAndInsert(ctx, key)
}

func (s *Service) release(ctx context.Context, key string) {
	if s.cfg.Guard == nil {
		return
	}
	if err := s.cfg.Guard.Release(ctx, key); err != nil {
		s.logger.Warn("release submission guard", slog.String("key", key), slog.Any("error", err))
	}
}
