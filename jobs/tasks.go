// Package jobs runs background invoicing work on Asynq: asynchronous
// multi-period batch submission and idempotency-key cleanup.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/invoicing"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Queue and task type names.
const (
	QueueDefault = "default"

	TaskBatchSubmit  = "invoicing:batch_submit"
	TaskGuardCleanup = "invoicing:guard_cleanup"

	guardRetention = 30 * 24 * time.Hour
)

// BatchSubmitPayload describes an asynchronous multi-period submission. The
// workspace is rebuilt inside the worker, so the payload carries only what
// the user chose.
type BatchSubmitPayload struct {
	PONumber      string `json:"poNumber"`
	Positions     []int  `json:"positions"`
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	InvoiceDate   string `json:"invoiceDate"`
	Notes         string `json:"notes,omitempty"`
}

// NewBatchSubmitTask builds the Asynq task for a batch submission.
func NewBatchSubmitTask(payload BatchSubmitPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("jobs: marshal batch payload: %w", err)
	}
	// No automatic retry: resubmitting is a user decision, and the guard
	// would reject the already-accepted periods anyway.
	return asynq.NewTask(TaskBatchSubmit, data, asynq.MaxRetry(0), asynq.Queue(QueueDefault)), nil
}

// NewBatchSubmitHandler runs a queued batch through the invoicing service
// and logs the structured partial-failure outcome.
func NewBatchSubmitHandler(svc *invoicing.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload BatchSubmitPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("jobs: decode batch payload: %w", err)
		}
		date, err := time.Parse("2006-01-02", payload.InvoiceDate)
		if err != nil {
			return fmt.Errorf("jobs: invoice date %q: %w", payload.InvoiceDate, err)
		}

		if _, err := svc.SelectPO(ctx, payload.PONumber); err != nil {
			return fmt.Errorf("jobs: select PO %s: %w", payload.PONumber, err)
		}
		for _, position := range payload.Positions {
			if err := svc.Select(payload.PONumber, position); err != nil {
				return fmt.Errorf("jobs: reselect period %d: %w", position, err)
			}
		}

		result, err := svc.SubmitBatch(ctx, payload.PONumber, invoicing.SubmitHeader{
			InvoiceNumber: payload.InvoiceNumber,
			InvoiceDate:   date,
			Notes:         payload.Notes,
		})
		if err != nil {
			return err
		}
		if result.Failed > 0 {
			logger.Warn("batch submission finished with failures",
				slog.String("po", payload.PONumber),
				slog.String("batch", result.BatchRef),
				slog.Int("succeeded", result.Succeeded),
				slog.Int("failed", result.Failed))
			for _, res := range result.Results {
				if res.Err != "" {
					logger.Warn("period rejected",
						slog.Int("position", res.Position),
						slog.String("error", res.Err))
				}
			}
			return nil
		}
		logger.Info("batch submission complete",
			slog.String("po", payload.PONumber),
			slog.String("batch", result.BatchRef),
			slog.Int("succeeded", result.Succeeded))
		return nil
	}
}

// NewGuardCleanupTask builds the nightly idempotency-key cleanup task.
func NewGuardCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskGuardCleanup, nil, asynq.Queue(QueueDefault))
}

// NewGuardCleanupHandler prunes submission keys past retention.
func NewGuardCleanupHandler(guard *shared.SubmissionKeys, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		if err := guard.Cleanup(ctx, guardRetention); err != nil {
			return fmt.Errorf("jobs: guard cleanup: %w", err)
		}
		logger.Info("submission guard cleanup done")
		return nil
	}
}
