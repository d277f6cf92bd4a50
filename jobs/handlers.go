package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/lumen-lms/lumen/internal/jobs"
	"github.com/lumen-lms/lumen/internal/meeting"
)

// SessionPurger deletes expired sessions.
type SessionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// MeetingCanceller cancels companion meetings.
type MeetingCanceller interface {
	Delete(ctx context.Context, id string) error
}

// KeyJanitor drops idempotency keys older than a cutoff.
type KeyJanitor interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Handlers holds the dependencies of every Lumen task.
type Handlers struct {
	Sessions SessionPurger
	Meetings MeetingCanceller
	Keys     KeyJanitor
	Metrics  *jobmetrics.Metrics
	Logger   *slog.Logger
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// TaskHandlers lists the handlers to register on a Worker.
func (h *Handlers) TaskHandlers() []TaskHandler {
	var out []TaskHandler
	if h.Sessions != nil {
		out = append(out, TaskHandler{Type: TaskSessionPurge, Handler: h.HandleSessionPurge})
	}
	if h.Meetings != nil {
		out = append(out, TaskHandler{Type: TaskMeetingCleanup, Handler: h.HandleMeetingCleanup})
	}
	if h.Keys != nil {
		out = append(out, TaskHandler{Type: TaskIdempotencyCleanup, Handler: h.HandleIdempotencyCleanup})
	}
	return out
}

// HandleSessionPurge removes expired sessions.
func (h *Handlers) HandleSessionPurge(ctx context.Context, _ *asynq.Task) error {
	tracker := h.Metrics.Track(TaskSessionPurge)
	n, err := h.Sessions.PurgeExpired(ctx)
	if err != nil {
		h.logger().Error("session purge failed", slog.Any("error", err))
		return tracker.End(err)
	}
	h.Metrics.AddProcessed(TaskSessionPurge, n)
	h.logger().Info("purged expired sessions", slog.Int64("count", n))
	return tracker.End(nil)
}

// HandleMeetingCleanup cancels a meeting left behind by a deleted event.
func (h *Handlers) HandleMeetingCleanup(ctx context.Context, t *asynq.Task) error {
	var payload MeetingCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.MeetingID == "" {
		return fmt.Errorf("jobs: decode meeting cleanup: %w", asynq.SkipRetry)
	}
	tracker := h.Metrics.Track(TaskMeetingCleanup)
	logger := h.logger().With(slog.String("meeting_id", payload.MeetingID))
	err := h.Meetings.Delete(ctx, payload.MeetingID)
	switch {
	case err == nil:
		h.Metrics.AddProcessed(TaskMeetingCleanup, 1)
		logger.Info("meeting cancelled")
		return tracker.End(nil)
	case errors.Is(err, meeting.ErrDisabled):
		logger.Warn("meeting companion disabled, dropping cleanup")
		return tracker.End(fmt.Errorf("jobs: meeting cleanup: %w: %w", err, asynq.SkipRetry))
	default:
		logger.Warn("meeting cleanup failed", slog.Any("error", err))
		return tracker.End(err)
	}
}

// HandleIdempotencyCleanup drops stale idempotency keys.
func (h *Handlers) HandleIdempotencyCleanup(ctx context.Context, t *asynq.Task) error {
	payload := IdempotencyCleanupPayload{Retention: defaultKeyRetention}
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("jobs: decode idempotency cleanup: %w", asynq.SkipRetry)
		}
	}
	tracker := h.Metrics.Track(TaskIdempotencyCleanup)
	n, err := h.Keys.Cleanup(ctx, payload.Retention)
	if err != nil {
		h.logger().Error("idempotency cleanup failed", slog.Any("error", err))
		return tracker.End(err)
	}
	h.Metrics.AddProcessed(TaskIdempotencyCleanup, n)
	h.logger().Info("dropped idempotency keys", slog.Int64("count", n), slog.Duration("retention", payload.Retention))
	return tracker.End(nil)
}
