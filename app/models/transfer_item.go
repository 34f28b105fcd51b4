package models

import "time"

// ItemStatus is the lifecycle state of a single transfer item.
type ItemStatus string

const (
	ItemQueued  ItemStatus = "queued"
	ItemRunning ItemStatus = "running"
	ItemDone    ItemStatus = "done"
	ItemFailed  ItemStatus = "failed"
	ItemSkipped ItemStatus = "skipped"
)

// IsTerminal reports whether the item has settled.
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case ItemDone, ItemFailed, ItemSkipped:
		return true
	}
	return false
}

// TransferItem is one file within a transfer job. Items are created in bulk
// during prepare and settle exactly once during run; skipped means the
// target already held an equivalent file and no quota was consumed.
type TransferItem struct {
	ID    uint `gorm:"primaryKey" json:"id"`
	JobID uint `gorm:"index" json:"job_id"`

	SourceItemID string `gorm:"type:varchar(191)" json:"source_item_id"`
	SourceName   string `gorm:"type:varchar(255)" json:"source_name"`
	SizeBytes    uint64 `gorm:"default:0" json:"size_bytes"`

	Status       ItemStatus `gorm:"type:varchar(20);index" json:"status"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`

	TargetItemID string `gorm:"type:varchar(191);default:''" json:"target_item_id,omitempty"`
	TargetWebURL string `gorm:"type:varchar(500);default:''" json:"target_web_url,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
