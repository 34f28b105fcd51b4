package models

import (
	"time"

	"gorm.io/gorm"
)

// CloudSlot is one entry in the append-only history of provider accounts a
// user has ever attached. Rows are never deleted; disconnecting only flips
// is_active. Reconnecting the same provider account reuses the original row
// so the lifetime slot count stays stable.
type CloudSlot struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            uint       `gorm:"index:user_provider_account,unique" json:"user_id"`
	Provider          string     `gorm:"index:user_provider_account,unique;type:varchar(50)" json:"provider"`
	ProviderAccountID string     `gorm:"index:user_provider_account,unique;type:varchar(191)" json:"provider_account_id"`
	ProviderEmail     string     `gorm:"type:varchar(200)" json:"provider_email"`
	SlotNumber        int        `json:"slot_number"`
	IsActive          bool       `gorm:"default:true" json:"is_active"`
	ConnectedAt       time.Time  `json:"connected_at"`
	DisconnectedAt    *time.Time `gorm:"type:timestamp;default:null" json:"disconnected_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// CountDistinctSlots derives the lifetime slot usage from the history log.
// Used as the consistency fallback when the counter on UserPlan drifts.
func CountDistinctSlots(db *gorm.DB, userID uint) (int64, error) {
	var count int64
	err := db.Model(&CloudSlot{}).
		Where("user_id = ?", userID).
		Distinct("provider_account_id").
		Count(&count).Error
	return count, err
}
