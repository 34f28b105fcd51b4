package quota

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/cloudhop/cloudhop/app/models"
)

// Repository is the persistence boundary of the quota ledger.
type Repository interface {
	GetPlan(userID uint) (*models.UserPlan, error)
	CreatePlan(plan *models.UserPlan) error
	SavePlan(plan *models.UserPlan) error

	FindSlot(userID uint, provider, providerAccountID string) (*models.CloudSlot, error)
	CountDistinctSlots(userID uint) (int64, error)
	AppendSlot(plan *models.UserPlan, slot *models.CloudSlot) error
	SaveSlot(slot *models.CloudSlot) error
	DeactivateSlotsBeyondOldest(userID uint, keep int) error

	// ApplyUsage atomically records a usage entry and increments the active
	// counter pair. Returns false without mutating anything when an entry
	// for itemRef already exists.
	ApplyUsage(userID uint, itemRef string, copies, bytes uint64) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a GORM-backed quota repository.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetPlan(userID uint) (*models.UserPlan, error) {
	var plan models.UserPlan
	if err := r.db.Where("user_id = ?", userID).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) CreatePlan(plan *models.UserPlan) error {
	return r.db.Create(plan).Error
}

func (r *gormRepository) SavePlan(plan *models.UserPlan) error {
	return r.db.Save(plan).Error
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

func (r *gormRepository) CountDistinctSlots(userID uint) (int64, error) {
	return models.CountDistinctSlots(r.db, userID)
}

// AppendSlot writes the new history row and bumps the lifetime slot counter
// in one transaction.
func (r *gormRepository) AppendSlot(plan *models.UserPlan, slot *models.CloudSlot) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(slot).Error; err != nil {
			return err
		}
		plan.SlotsUsed++
		return tx.Save(plan).Error
	})
}

func (r *gormRepository) SaveSlot(slot *models.CloudSlot) error {
	return r.db.Save(slot).Error
}

// DeactivateSlotsBeyondOldest marks every active slot after the first keep
// rows (by connection time) inactive. History rows are never deleted.
func (r *gormRepository) DeactivateSlotsBeyondOldest(userID uint, keep int) error {
	var slots []models.CloudSlot
	err := r.db.Where("user_id = ? AND is_active = ?", userID, true).
		Order("connected_at ASC").Find(&slots).Error
	if err != nil {
		return err
	}
	if len(slots) <= keep {
		return nil
	}
	now := time.Now()
	return r.db.Transaction(func(tx *gorm.DB) error {
		for _, slot := range slots[keep:] {
			slot.IsActive = false
			slot.DisconnectedAt = &now
			if err := tx.Save(&slot).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *gormRepository) ApplyUsage(userID uint, itemRef string, copies, bytes uint64) (bool, error) {
	applied := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing models.UsageEntry
		err := tx.Where("item_ref = ?", itemRef).First(&existing).Error
		if err == nil {
			// Already applied; idempotent no-op.
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		entry := models.UsageEntry{
			UserID:  userID,
			ItemRef: itemRef,
			Copies:  copies,
			Bytes:   bytes,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		var plan models.UserPlan
		err = tx.Where("user_id = ?", userID).First(&plan).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// A missing plan row must never fail a confirmed copy.
			plan = *models.DefaultUserPlan(userID)
			if err := tx.Create(&plan).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		plan.AddUsage(copies, bytes)
		if err := tx.Save(&plan).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}
