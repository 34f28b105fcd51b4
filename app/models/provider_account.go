package models

import "time"

// ProviderAccount links a remote storage account's credentials to its one
// current owner. Ownership can move between users (safe reclaim or token
// redemption); the slot history in CloudSlot is what stays immutable.
type ProviderAccount struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	OwnerUserID       uint       `gorm:"index" json:"owner_user_id"`
	Provider          string     `gorm:"index:provider_account,unique;type:varchar(50)" json:"provider"`
	ProviderAccountID string     `gorm:"index:provider_account,unique;type:varchar(191)" json:"provider_account_id"`
	Email             string     `gorm:"type:varchar(200)" json:"email"`
	AccessToken       string     `gorm:"type:text" json:"-"`
	RefreshToken      string     `gorm:"type:text" json:"-"`
	ExpiresAt         *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	// S3-compatible accounts only.
	EndpointURL string `gorm:"type:varchar(255)" json:"endpoint_url,omitempty"`
	Region      string `gorm:"type:varchar(50)" json:"region,omitempty"`
	Bucket      string `gorm:"type:varchar(100)" json:"bucket,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
