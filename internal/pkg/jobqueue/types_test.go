package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferRunJobPayloadRoundTrip(t *testing.T) {
	payload := TransferRunJobPayload{
		TransferJobID:   42,
		TransferJobUUID: "c0b1a4e2-9a55-4c43-9e6a-000000000042",
		UserID:          7,
	}

	m := payload.ToMap()
	restored, err := TransferRunJobPayloadFromMap(m)
	require.NoError(t, err)

	assert.Equal(t, payload.TransferJobID, restored.TransferJobID)
	assert.Equal(t, payload.TransferJobUUID, restored.TransferJobUUID)
	assert.Equal(t, payload.UserID, restored.UserID)
}

func TestTransferRunJobPayloadFromJSONNumbers(t *testing.T) {
	// Redis round-trips numbers as float64 through encoding/json
	m := map[string]interface{}{
		"transfer_job_id":   float64(42),
		"transfer_job_uuid": "uuid",
		"user_id":           float64(7),
	}

	restored, err := TransferRunJobPayloadFromMap(m)
	require.NoError(t, err)
	assert.Equal(t, uint(42), restored.TransferJobID)
	assert.Equal(t, uint(7), restored.UserID)
}

func TestJobStateTransitions(t *testing.T) {
	job := &Job{
		ID:         "j1",
		Type:       JobTypeTransferRun,
		Status:     JobStatusPending,
		MaxRetries: DefaultMaxRetries,
	}

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)

	job.MarkAsFailed("provider down")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "provider down", job.ErrorMsg)
	assert.Equal(t, 1, job.RetryCount)
	assert.True(t, job.IsRetryable())

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMsg)
	require.NotNil(t, job.CompletedAt)
	assert.WithinDuration(t, time.Now(), *job.CompletedAt, time.Minute)
}

func TestIsRetryableExhausted(t *testing.T) {
	job := &Job{Status: JobStatusFailed, RetryCount: DefaultMaxRetries, MaxRetries: DefaultMaxRetries}
	assert.False(t, job.IsRetryable())

	job = &Job{Status: JobStatusCompleted, RetryCount: 0, MaxRetries: DefaultMaxRetries}
	assert.False(t, job.IsRetryable())
}
