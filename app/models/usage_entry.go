package models

import "time"

// UsageEntry is the append-only ledger behind the usage counters. Every
// successful copy writes exactly one entry keyed by the transfer item; the
// unique key is what makes commit idempotent: a second commit for the same
// item hits the index instead of incrementing again.
type UsageEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index" json:"user_id"`
	ItemRef   string    `gorm:"type:varchar(191);uniqueIndex" json:"item_ref"`
	Copies    uint64    `gorm:"default:0" json:"copies"`
	Bytes     uint64    `gorm:"default:0" json:"bytes"`
	AppliedAt time.Time `gorm:"autoCreateTime" json:"applied_at"`
}
