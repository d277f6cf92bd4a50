package cli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-lms/lumen/jobs"
	_ "github.com/lumen-lms/lumen/testing"
)

func TestBuildTask(t *testing.T) {
	task, err := BuildTask(jobs.TaskSessionPurge, "", 0)
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskSessionPurge, task.Type())

	task, err = BuildTask(jobs.TaskIdempotencyCleanup, "", 48*time.Hour)
	require.NoError(t, err)
	var payload jobs.IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, 48*time.Hour, payload.Retention)

	task, err = BuildTask(jobs.TaskMeetingCleanup, "m-42", 0)
	require.NoError(t, err)
	var cleanup jobs.MeetingCleanupPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &cleanup))
	assert.Equal(t, "m-42", cleanup.MeetingID)
}

func TestBuildTaskRejectsUnknownAndIncomplete(t *testing.T) {
	_, err := BuildTask("finance:close", "", 0)
	assert.ErrorContains(t, err, "unsupported job")

	_, err = BuildTask(jobs.TaskMeetingCleanup, "", 0)
	assert.ErrorContains(t, err, "needs a meeting id")
}

func TestNilCLIGuards(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(context.Background(), jobs.TaskSessionPurge, "")
	assert.Error(t, err)
	_, err = c.InspectQueue(context.Background())
	assert.Error(t, err)
	_, err = c.ListRetrying(context.Background(), 5)
	assert.Error(t, err)

	_, err = NewJobsCLI("", time.Hour)
	assert.Error(t, err)
}
