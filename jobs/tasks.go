package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionPurge deletes expired sessions from the durable store.
	TaskSessionPurge = "session:purge"
	// TaskMeetingCleanup retries the cancellation of a companion meeting whose event is gone.
	TaskMeetingCleanup = "calendar:meeting_cleanup"
	// TaskIdempotencyCleanup drops stale idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"

	meetingCleanupRetries = 8
	defaultKeyRetention   = 24 * time.Hour
)

var errMissingMeetingID = errors.New("jobs: meeting cleanup payload has no meeting id")

// MeetingCleanupPayload names the companion meeting to cancel.
type MeetingCleanupPayload struct {
	MeetingID string `json:"meeting_id"`
}

// IdempotencyCleanupPayload sets how long keys are kept.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewSessionPurgeTask builds the periodic purge task.
func NewSessionPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskSessionPurge, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}

// NewMeetingCleanupTask builds a cleanup task for meetingID. Duplicate submissions for
// the same meeting collapse into one queued task.
func NewMeetingCleanupTask(meetingID string) (*asynq.Task, error) {
	if meetingID == "" {
		return nil, errMissingMeetingID
	}
	body, err := json.Marshal(MeetingCleanupPayload{MeetingID: meetingID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMeetingCleanup, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(meetingCleanupRetries),
		asynq.TaskID("meeting-cleanup:"+meetingID),
	), nil
}

// NewIdempotencyCleanupTask builds the periodic key cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	if retention <= 0 {
		retention = defaultKeyRetention
	}
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// Schedule builds the periodic registrations run by the worker scheduler.
func Schedule(sessionPurgeSpec string, keyRetention time.Duration) ([]CronRegistration, error) {
	cleanup, err := NewIdempotencyCleanupTask(keyRetention)
	if err != nil {
		return nil, err
	}
	return []CronRegistration{
		{Spec: sessionPurgeSpec, Task: NewSessionPurgeTask()},
		{Spec: "@daily", Task: cleanup},
	}, nil
}
