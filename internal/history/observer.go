package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/jkoski/edgeflow/pkg/api"
)

// Observer records finished runs into a Store. Combine it with other
// observers via api.NewCompositeObserver.
type Observer struct {
	api.NoopObserver

	store  Store
	logger *slog.Logger
}

// NewObserver wraps store in an api.Observer. A nil logger falls back to
// slog.Default().
func NewObserver(store Store, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{store: store, logger: logger}
}

func (o *Observer) OnRunCompleted(ctx context.Context, res *api.Result) {
	o.save(ctx, res, "")
}

func (o *Observer) OnRunFailed(ctx context.Context, res *api.Result, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	o.save(ctx, res, msg)
}

func (o *Observer) save(ctx context.Context, res *api.Result, errMsg string) {
	rec := &Record{
		RunID:        res.RunID,
		WorkflowID:   res.WorkflowID,
		WorkflowName: res.WorkflowName,
		Status:       string(res.Status),
		Steps:        res.Steps,
		Error:        errMsg,
		StartedAt:    res.StartedAt,
		FinishedAt:   res.FinishedAt,
	}
	// A history failure must never fail the run; detach from the run's
	// cancellation so cancelled runs are still recorded.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.store.SaveRun(saveCtx, rec); err != nil {
		o.logger.Warn("failed to record run", "run_id", res.RunID, "error", err)
	}
}
