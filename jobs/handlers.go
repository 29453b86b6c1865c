package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/compasshq/compass/internal/access"
	"github.com/compasshq/compass/internal/observability"
)

// OverrideCounter is the slice of the access service the digest job needs.
type OverrideCounter interface {
	CountOverrides(ctx context.Context) (int64, error)
}

// NewAccessInvalidateHandler returns the worker-side handler that bumps the
// permission cache version.
func NewAccessInvalidateHandler(cache *access.Cache, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload InvalidatePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if err := cache.Bump(ctx); err != nil {
			return err
		}
		logger.Info("access cache invalidated", slog.String("reason", payload.Reason))
		return nil
	}
}

// NewSecurityDigestHandler returns a handler that samples the security
// posture gauges.
func NewSecurityDigestHandler(counter OverrideCounter, metrics *observability.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		count, err := counter.CountOverrides(ctx)
		if err != nil {
			return err
		}
		metrics.SetActiveOverrides(float64(count))
		logger.Info("security digest", slog.Int64("active_overrides", count))
		return nil
	}
}

// QueueInvalidator submits invalidation tasks so a cache bump survives the
// loss of the requesting process.
type QueueInvalidator struct {
	client *Client
}

// NewQueueInvalidator wraps a Client as an access.Invalidator.
func NewQueueInvalidator(client *Client) *QueueInvalidator {
	return &QueueInvalidator{client: client}
}

// Invalidate enqueues an invalidation task.
func (q *QueueInvalidator) Invalidate(ctx context.Context, reason string) error {
	_, err := q.client.EnqueueAccessInvalidate(ctx, InvalidatePayload{Reason: reason})
	return err
}

var _ access.Invalidator = (*QueueInvalidator)(nil)
