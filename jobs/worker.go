package jobs

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

type cronEntry struct {
	spec string
	task *asynq.Task
	opts []asynq.Option
}

// Worker runs the background queue: an Asynq server plus an optional cron
// scheduler for recurring tasks. Handlers and cron entries are registered
// before Run.
type Worker struct {
	redisOpts asynq.RedisClientOpt
	logger    *slog.Logger
	mux       *asynq.ServeMux
	cron      []cronEntry
}

// NewWorker constructs an empty worker bound to the given Redis connection.
func NewWorker(redisOpts asynq.RedisClientOpt, logger *slog.Logger) *Worker {
	return &Worker{
		redisOpts: redisOpts,
		logger:    logger,
		mux:       asynq.NewServeMux(),
	}
}

// Handle registers a handler for a task type.
func (w *Worker) Handle(taskType string, handler asynq.HandlerFunc) {
	w.mux.HandleFunc(taskType, handler)
}

// Cron schedules a recurring task. The spec uses standard cron syntax in UTC.
func (w *Worker) Cron(spec string, task *asynq.Task, opts ...asynq.Option) {
	w.cron = append(w.cron, cronEntry{spec: spec, task: task, opts: opts})
}

// Run processes tasks until ctx is cancelled or the server fails.
func (w *Worker) Run(ctx context.Context) error {
	server := asynq.NewServer(w.redisOpts, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			QueueDefault: 1,
		},
	})

	var scheduler *asynq.Scheduler
	if len(w.cron) > 0 {
		scheduler = asynq.NewScheduler(w.redisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range w.cron {
			if _, err := scheduler.Register(entry.spec, entry.task, entry.opts...); err != nil {
				return err
			}
		}
		if err := scheduler.Start(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(w.mux)
	})
	g.Go(func() error {
		<-ctx.Done()
		if scheduler != nil {
			scheduler.Shutdown()
		}
		server.Shutdown()
		return ctx.Err()
	})
	return g.Wait()
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueBatchSubmit queues an asynchronous multi-period submission.
func (c *Client) EnqueueBatchSubmit(ctx context.Context, payload BatchSubmitPayload) (*asynq.TaskInfo, error) {
	task, err := NewBatchSubmitTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// Handler exposes queue depth for operators.
type Handler struct {
	inspector *asynq.Inspector
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(inspector *asynq.Inspector, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"queue":   info.Queue,
		"pending": info.Pending,
		"active":  info.Active,
		"retry":   info.Retry,
	})
}
