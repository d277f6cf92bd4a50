package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/lumen-lms/lumen/internal/jobs"
	"github.com/lumen-lms/lumen/internal/meeting"
	_ "github.com/lumen-lms/lumen/testing"
)

type fakePurger struct {
	n   int64
	err error
}

func (f fakePurger) PurgeExpired(context.Context) (int64, error) { return f.n, f.err }

type fakeCanceller struct {
	err error
	ids []string
}

func (f *fakeCanceller) Delete(_ context.Context, id string) error {
	f.ids = append(f.ids, id)
	return f.err
}

type fakeJanitor struct {
	retention time.Duration
}

func (f *fakeJanitor) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.retention = olderThan
	return 3, nil
}

func TestTaskHandlersOnlyRegistersConfiguredJobs(t *testing.T) {
	h := &Handlers{Sessions: fakePurger{}}
	handlers := h.TaskHandlers()
	require.Len(t, handlers, 1)
	assert.Equal(t, TaskSessionPurge, handlers[0].Type)

	h.Meetings = &fakeCanceller{}
	h.Keys = &fakeJanitor{}
	assert.Len(t, h.TaskHandlers(), 3)
}

func TestSessionPurgeRecordsMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	h := &Handlers{Sessions: fakePurger{n: 4}, Metrics: metrics}

	require.NoError(t, h.HandleSessionPurge(context.Background(), NewSessionPurgeTask()))
	assert.Equal(t, 1.0, counterValue(t, registry, "lumen_jobs_total"))
	assert.Equal(t, 4.0, counterValue(t, registry, "lumen_job_items_total"))

	h.Sessions = fakePurger{err: errors.New("db down")}
	assert.Error(t, h.HandleSessionPurge(context.Background(), NewSessionPurgeTask()))
	assert.Equal(t, 1.0, counterValue(t, registry, "lumen_jobs_failures_total"))
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestMeetingCleanup(t *testing.T) {
	canceller := &fakeCanceller{}
	h := &Handlers{Meetings: canceller}
	task, err := NewMeetingCleanupTask("m-42")
	require.NoError(t, err)

	require.NoError(t, h.HandleMeetingCleanup(context.Background(), task))
	assert.Equal(t, []string{"m-42"}, canceller.ids)

	canceller.err = errors.New("timeout")
	err = h.HandleMeetingCleanup(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))

	canceller.err = meeting.ErrDisabled
	assert.ErrorIs(t, h.HandleMeetingCleanup(context.Background(), task), asynq.SkipRetry)

	bad := asynq.NewTask(TaskMeetingCleanup, []byte(`{}`))
	assert.ErrorIs(t, h.HandleMeetingCleanup(context.Background(), bad), asynq.SkipRetry)

	_, err = NewMeetingCleanupTask("")
	assert.Error(t, err)
}

func TestIdempotencyCleanupUsesRetention(t *testing.T) {
	janitor := &fakeJanitor{}
	h := &Handlers{Keys: janitor}

	task, err := NewIdempotencyCleanupTask(2 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, h.HandleIdempotencyCleanup(context.Background(), task))
	assert.Equal(t, 2*time.Hour, janitor.retention)

	require.NoError(t, h.HandleIdempotencyCleanup(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	assert.Equal(t, defaultKeyRetention, janitor.retention)
}

func TestSchedule(t *testing.T) {
	entries, err := Schedule("*/15 * * * *", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, TaskSessionPurge, entries[0].Task.Type())

	var payload IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(entries[1].Task.Payload(), &payload))
	assert.Equal(t, defaultKeyRetention, payload.Retention)
}

func TestDisabledCompanionCleanupCountsAsSkipped(t *testing.T) {
	registry := prometheus.NewRegistry()
	h := &Handlers{
		Meetings: &fakeCanceller{err: meeting.ErrDisabled},
		Metrics:  jobmetrics.NewMetrics(registry),
	}
	task, err := NewMeetingCleanupTask("m-7")
	require.NoError(t, err)

	assert.ErrorIs(t, h.HandleMeetingCleanup(context.Background(), task), asynq.SkipRetry)
	assert.Equal(t, 1.0, counterValue(t, registry, "lumen_jobs_total"))
	assert.Equal(t, 0.0, counterValue(t, registry, "lumen_jobs_failures_total"))
}

func TestRetryDelayBacksOffMeetingCleanup(t *testing.T) {
	task, err := NewMeetingCleanupTask("m-1")
	require.NoError(t, err)

	first := retryDelay(0, errors.New("boom"), task)
	later := retryDelay(3, errors.New("boom"), task)
	assert.Equal(t, cleanupDelay, first)
	assert.Equal(t, 8*cleanupDelay, later)
	assert.Equal(t, maxCleanupDelay, retryDelay(20, errors.New("boom"), task))
}
