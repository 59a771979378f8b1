package invoicing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// BatchEnqueuer hands a multi-period submission to the background worker
// instead of running it inline. Returns the queued task id.
type BatchEnqueuer interface {
	EnqueueBatch(ctx context.Context, poNumber string, positions []int, header SubmitHeader) (string, error)
}

// Handler exposes the engine to the web layer as a thin JSON adapter: plain
// data in, plain data out. All business state lives in the Service.
type Handler struct {
	logger  *slog.Logger
	service *Service
	enqueue BatchEnqueuer
}

// NewHandler builds the invoicing handler. enqueue may be nil, in which case
// batch submissions always run inline.
func NewHandler(logger *slog.Logger, service *Service, enqueue BatchEnqueuer) *Handler {
	return &Handler{logger: logger, service: service, enqueue: enqueue}
}

// MountRoutes registers invoicing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/pos/{poNumber}", func(r chi.Router) {
		r.Post("/workspace", h.selectPO)
		r.Get("/eligibility", h.eligibility)
		r.Post("/selection", h.selectPosition)
		r.Delete("/selection/{position}", h.deselectPosition)
		r.Get("/projection", h.projection)
		r.Post("/invoices", h.submitSingle)
		r.Post("/invoices/batch", h.submitBatch)
	})
	r.Put("/invoices/{id}", h.resubmit)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var seq *SequenceError
	switch {
	case errors.As(err, &seq):
		// The UI reverts its own visual selection; engine state is unchanged.
		httpx.Problem(w, http.StatusConflict, "Sequence Violation", seq.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrNoActiveWorkspace):
		httpx.Problem(w, http.StatusConflict, "No Active Selection", err.Error())
	case errors.Is(err, ErrMissingPrerequisite):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Missing Prerequisite", err.Error())
	case errors.Is(err, shared.ErrDuplicateSubmission):
		httpx.Problem(w, http.StatusConflict, "Duplicate Submission", err.Error())
	default:
		h.logger.Error("invoicing request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

type planEntryResponse struct {
	Position      int    `json:"position"`
	Percent       string `json:"percent"`
	Amount        string `json:"amount"`
	State         string `json:"state"`
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	StartDate     string `json:"startDate,omitempty"`
	EndDate       string `json:"endDate,omitempty"`
}

type workspaceResponse struct {
	PONumber    string              `json:"poNumber"`
	Kind        PlanKind            `json:"kind"`
	TotalAmount string              `json:"totalAmount"`
	Entries     []planEntryResponse `json:"entries"`
}

func (h *Handler) selectPO(w http.ResponseWriter, r *http.Request) {
	poNumber := chi.URLParam(r, "poNumber")
	ws, err := h.service.SelectPO(r.Context(), poNumber)
	if err != nil {
		h.respondError(w, err)
		return
	}
	view, err := h.service.Eligibility(poNumber)
	if err != nil {
		h.respondError(w, err)
		return
	}

	resp := workspaceResponse{
		PONumber:    poNumber,
		Kind:        ws.Plan.Kind,
		TotalAmount: ws.Plan.TotalAmount.StringFixed(2),
	}
	for i, entry := range ws.Plan.Entries {
		item := planEntryResponse{
			Position:      entry.Position,
			Percent:       entry.Percent.String(),
			Amount:        entry.Amount.StringFixed(2),
			InvoiceNumber: entry.InvoiceNumber,
		}
		if len(view.States) > i {
			item.State = string(view.States[i])
		}
		if !entry.StartDate.IsZero() {
			item.StartDate = entry.StartDate.Format("2006-01-02")
			item.EndDate = entry.EndDate.Format("2006-01-02")
		}
		resp.Entries = append(resp.Entries, item)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) eligibility(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Eligibility(chi.URLParam(r, "poNumber"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	if view.Kind == PlanPeriodOfPayment {
		httpx.JSON(w, http.StatusOK, map[string]any{
			"kind":                view.Kind,
			"selectablePositions": view.SelectablePos,
			"selected":            view.SelectedPrefix,
		})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"kind":       view.Kind,
		"position":   view.Position,
		"isEligible": view.IsEligible,
		"states":     view.States,
		"selected":   view.SelectedTermPos,
	})
}

type selectRequest struct {
	Position int `json:"position"`
}

func (h *Handler) selectPosition(w http.ResponseWriter, r *http.Request) {
	poNumber := chi.URLParam(r, "poNumber")
	var req selectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.service.Select(poNumber, req.Position); err != nil {
		h.respondError(w, err)
		return
	}
	h.eligibility(w, r)
}

func (h *Handler) deselectPosition(w http.ResponseWriter, r *http.Request) {
	poNumber := chi.URLParam(r, "poNumber")
	position, err := strconv.Atoi(chi.URLParam(r, "position"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "position must be an integer")
		return
	}
	removed, err := h.service.Deselect(poNumber, position)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"removed": removed})
}

type projectedLineResponse struct {
	ItemID      string `json:"itemId"`
	Description string `json:"description,omitempty"`
	UnitPrice   string `json:"unitPrice"`
	QtyInvoice  string `json:"qtyInvoice"`
	Amount      string `json:"amount"`
}

func (h *Handler) projection(w http.ResponseWriter, r *http.Request) {
	proj, err := h.service.Projection(chi.URLParam(r, "poNumber"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	lines := make([]projectedLineResponse, 0, len(proj.Lines))
	for _, line := range proj.Lines {
		lines = append(lines, projectedLineResponse{
			ItemID:      line.ItemID,
			Description: line.Description,
			UnitPrice:   line.UnitPrice.StringFixed(2),
			QtyInvoice:  line.QtyInvoice.String(),
			Amount:      line.Amount.StringFixed(2),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"lines":         lines,
		"invoiceAmount": proj.InvoiceAmount.StringFixed(2),
		"dppAmount":     proj.Tax.DPPAmount.StringFixed(2),
		"taxAmount":     proj.Tax.TaxAmount.StringFixed(2),
		"totalAmount":   proj.Tax.TotalAmount.StringFixed(2),
	})
}

type submitRequest struct {
	InvoiceNumber  string `json:"invoiceNumber"`
	InvoiceDate    string `json:"invoiceDate"`
	RevisionStatus string `json:"revisionStatus"`
	Notes          string `json:"notes"`
}

func (req submitRequest) header() (SubmitHeader, error) {
	date, err := time.Parse("2006-01-02", req.InvoiceDate)
	if err != nil {
		return SubmitHeader{}, err
	}
	return SubmitHeader{
		InvoiceNumber:  req.InvoiceNumber,
		InvoiceDate:    date,
		RevisionStatus: req.RevisionStatus,
		Notes:          req.Notes,
	}, nil
}

func (h *Handler) submitSingle(w http.ResponseWriter, r *http.Request) {
	poNumber := chi.URLParam(r, "poNumber")
	var req submitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	header, err := req.header()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invoiceDate must be YYYY-MM-DD")
		return
	}
	id, err := h.service.SubmitSingle(r.Context(), poNumber, header)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"invoiceId": id})
}

func (h *Handler) submitBatch(w http.ResponseWriter, r *http.Request) {
	poNumber := chi.URLParam(r, "poNumber")
	var req struct {
		submitRequest
		Async bool `json:"async"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	header, err := req.header()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invoiceDate must be YYYY-MM-DD")
		return
	}
	if req.Async && h.enqueue != nil {
		view, err := h.service.Eligibility(poNumber)
		if err != nil {
			h.respondError(w, err)
			return
		}
		taskID, err := h.enqueue.EnqueueBatch(r.Context(), poNumber, view.SelectedPrefix, header)
		if err != nil {
			h.respondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]any{"taskId": taskID})
		return
	}
	result, err := h.service.SubmitBatch(r.Context(), poNumber, header)
	if err != nil {
		h.respondError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Failed > 0 {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) resubmit(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "id")
	var req struct {
		submitRequest
		PONumber string `json:"poNumber"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	header, err := req.header()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invoiceDate must be YYYY-MM-DD")
		return
	}
	id, err := h.service.ResubmitDraft(r.Context(), invoiceID, req.PONumber, header)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoiceId": id})
}
