package models

import "time"

// JobStatus is the lifecycle state of a transfer job.
type JobStatus string

const (
	JobPending      JobStatus = "pending"
	JobPreparing    JobStatus = "preparing"
	JobQueued       JobStatus = "queued"
	JobRunning      JobStatus = "running"
	JobDone         JobStatus = "done"
	JobDoneSkipped  JobStatus = "done_skipped"
	JobPartial      JobStatus = "partial"
	JobFailed       JobStatus = "failed"
	JobBlockedQuota JobStatus = "blocked_quota"
	JobCancelled    JobStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobDone, JobDoneSkipped, JobPartial, JobFailed, JobBlockedQuota, JobCancelled:
		return true
	}
	return false
}

// TransferJob is one N-source-items-to-one-target copy batch. Created
// empty, populated by the prepare phase, mutated item by item by the run
// phase and immutable once terminal except for cancellation.
type TransferJob struct {
	ID     uint   `gorm:"primaryKey" json:"-"`
	UUID   string `gorm:"type:varchar(36);uniqueIndex" json:"id"`
	UserID uint   `gorm:"index" json:"user_id"`

	SourceProvider  string `gorm:"type:varchar(50)" json:"source_provider"`
	SourceAccountID string `gorm:"type:varchar(191)" json:"source_account_id"`
	TargetProvider  string `gorm:"type:varchar(50)" json:"target_provider"`
	TargetAccountID string `gorm:"type:varchar(191)" json:"target_account_id"`
	TargetFolderID  string `gorm:"type:varchar(191);default:''" json:"target_folder_id,omitempty"`

	// File IDs as requested at creation time; resolved into TransferItem
	// rows by the prepare phase.
	RequestedFileIDs []string `gorm:"serializer:json;type:text" json:"-"`

	Status JobStatus `gorm:"type:varchar(20);index" json:"status"`

	TotalItems     int `gorm:"default:0" json:"total_items"`
	CompletedItems int `gorm:"default:0" json:"completed_items"`
	FailedItems    int `gorm:"default:0" json:"failed_items"`
	SkippedItems   int `gorm:"default:0" json:"skipped_items"`

	TotalBytes       uint64 `gorm:"default:0" json:"total_bytes"`
	TransferredBytes uint64 `gorm:"default:0" json:"transferred_bytes"`

	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	StartedAt   *time.Time `gorm:"type:timestamp;default:null" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`

	Items []TransferItem `gorm:"foreignKey:JobID" json:"-"`
}

// Progress returns the completion percentage, clamped to [0,100]. Byte
// ratio while bytes are moving; settled-item ratio otherwise, because
// skipped-only and failed-only jobs transfer nothing yet still finish.
// An empty job reports 0 so the result is never NaN.
func (j *TransferJob) Progress() float64 {
	var pct float64
	switch {
	case j.TotalBytes > 0 && j.TransferredBytes > 0:
		pct = float64(j.TransferredBytes) / float64(j.TotalBytes) * 100
	case j.TotalItems > 0:
		settled := j.CompletedItems + j.FailedItems + j.SkippedItems
		pct = float64(settled) / float64(j.TotalItems) * 100
	default:
		return 0
	}
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
