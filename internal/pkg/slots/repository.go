package slots

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/cloudhop/cloudhop/app/models"
)

// Repository is the persistence boundary of the slot registry.
type Repository interface {
	GetOwnership(provider, providerAccountID string) (*models.ProviderAccount, error)
	CreateOwnership(account *models.ProviderAccount) error
	SaveOwnership(account *models.ProviderAccount) error

	FindSlot(userID uint, provider, providerAccountID string) (*models.CloudSlot, error)
	SaveSlot(slot *models.CloudSlot) error
	ListActiveSlots(userID uint) ([]models.CloudSlot, error)

	// ReassignOwnership moves the account to newUserID if and only if the
	// current owner still equals expectedOldUserID, deactivating the old
	// owner's slot row in the same transaction. The caller records the new
	// owner's slot only after a successful swap. Returns false when the
	// compare-and-swap found a different owner.
	ReassignOwnership(provider, providerAccountID string, expectedOldUserID, newUserID uint, creds Credentials) (bool, error)
}

// Credentials carries the provider tokens stored on the ownership row.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a GORM-backed slot registry repository.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetOwnership(provider, providerAccountID string) (*models.ProviderAccount, error) {
	var account models.ProviderAccount
	err := r.db.Where("provider = ? AND provider_account_id = ?", provider, providerAccountID).
		First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) CreateOwnership(account *models.ProviderAccount) error {
	return r.db.Create(account).Error
}

func (r *gormRepository) SaveOwnership(account *models.ProviderAccount) error {
	return r.db.Save(account).Error
}

func (r *gormRepository) FindSlot(userID uint, provider, providerAccountID string) (*models.CloudSlot, error) {
	var slot models.CloudSlot
	err := r.db.Where("user_id = ? AND provider = ? AND provider_account_id = ?",
		userID, provider, providerAccountID).First(&slot).Error
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

func (r *gormRepository) SaveSlot(slot *models.CloudSlot) error {
	return r.db.Save(slot).Error
}

func (r *gormRepository) ListActiveSlots(userID uint) ([]models.CloudSlot, error) {
	var slots []models.CloudSlot
	err := r.db.Where("user_id = ? AND is_active = ?", userID, true).
		Order("slot_number ASC").Find(&slots).Error
	return slots, err
}

func (r *gormRepository) ReassignOwnership(provider, providerAccountID string, expectedOldUserID, newUserID uint, creds Credentials) (bool, error) {
	swapped := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		// The guard on the current owner is what closes the race window
		// between two simultaneous redemptions.
		res := tx.Model(&models.ProviderAccount{}).
			Where("provider = ? AND provider_account_id = ? AND owner_user_id = ?",
				provider, providerAccountID, expectedOldUserID).
			Updates(map[string]interface{}{
				"owner_user_id": newUserID,
				"access_token":  creds.AccessToken,
				"refresh_token": creds.RefreshToken,
				"expires_at":    creds.ExpiresAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // CAS failed; a third party got there first
		}

		now := time.Now()

		// Old owner keeps the history row but stops counting it as active.
		var oldSlot models.CloudSlot
		err := tx.Where("user_id = ? AND provider = ? AND provider_account_id = ?",
			expectedOldUserID, provider, providerAccountID).First(&oldSlot).Error
		if err == nil {
			oldSlot.IsActive = false
			oldSlot.DisconnectedAt = &now
			if err := tx.Save(&oldSlot).Error; err != nil {
				return err
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		swapped = true
		return nil
	})
	return swapped, err
}
