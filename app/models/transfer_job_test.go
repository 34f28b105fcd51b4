package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := []JobStatus{JobDone, JobDoneSkipped, JobPartial, JobFailed, JobBlockedQuota, JobCancelled}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "expected %s to be terminal", s)
	}
	for _, s := range []JobStatus{JobPending, JobPreparing, JobQueued, JobRunning} {
		assert.False(t, s.IsTerminal(), "expected %s not to be terminal", s)
	}
}

func TestProgressByBytes(t *testing.T) {
	j := &TransferJob{TotalBytes: 200, TransferredBytes: 50, TotalItems: 4}
	assert.InDelta(t, 25.0, j.Progress(), 0.01)
}

func TestProgressByItemsWhenNoBytes(t *testing.T) {
	j := &TransferJob{TotalItems: 4, CompletedItems: 1, FailedItems: 1, SkippedItems: 1}
	assert.InDelta(t, 75.0, j.Progress(), 0.01)
}

func TestProgressAllSkippedReportsComplete(t *testing.T) {
	// skips move no bytes, so a fully skipped job must fall back to the
	// settled-item ratio instead of sitting at 0% forever
	j := &TransferJob{
		Status:       JobDoneSkipped,
		TotalBytes:   300,
		TotalItems:   3,
		SkippedItems: 3,
	}
	assert.Equal(t, 100.0, j.Progress())
}

func TestProgressAllFailedReportsComplete(t *testing.T) {
	j := &TransferJob{
		Status:      JobFailed,
		TotalBytes:  100,
		TotalItems:  2,
		FailedItems: 2,
	}
	assert.Equal(t, 100.0, j.Progress())
}

func TestProgressByItemsBeforeFirstByteMoves(t *testing.T) {
	j := &TransferJob{TotalBytes: 300, TotalItems: 3, SkippedItems: 1}
	assert.InDelta(t, 33.33, j.Progress(), 0.01)
}

func TestProgressEmptyJobIsZero(t *testing.T) {
	j := &TransferJob{}
	assert.Equal(t, 0.0, j.Progress())
}

func TestProgressClampedAt100(t *testing.T) {
	j := &TransferJob{TotalBytes: 100, TransferredBytes: 150}
	assert.Equal(t, 100.0, j.Progress())
}
