package quota

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/cloudhop/cloudhop/app/models"
	"github.com/cloudhop/cloudhop/internal/pkg/entitlements"
)

// downgradeKeepSlots is how many of the oldest active slots survive a
// downgrade to the free plan.
const downgradeKeepSlots = 2

// Service is the quota ledger: the single owner of usage counters, plan
// limits and slot accounting. All counter mutations flow through
// CommitCopySuccess, which is idempotent per item.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a quota service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// NewServiceFromDB creates a quota service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// GetOrCreatePlan returns the user's plan row, creating a free-plan default
// when absent. For paid plans a stale monthly window is rolled over as a
// side effect; double invocation within one month is a no-op.
func (s *Service) GetOrCreatePlan(userID uint) (*models.UserPlan, error) {
	plan, err := s.repo.GetPlan(userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		plan = models.DefaultUserPlan(userID)
		if err := s.repo.CreatePlan(plan); err != nil {
			return nil, err
		}
		return plan, nil
	}
	if err != nil {
		return nil, err
	}

	if plan.NeedsRollover(s.now()) {
		plan.ApplyRollover(s.now())
		if err := s.repo.SavePlan(plan); err != nil {
			return nil, err
		}
		log.Infof("[Quota] Rolled over monthly counters for user %d", userID)
	}
	return plan, nil
}

// CheckFileSize verifies a single file against the plan's per-file cap.
func (s *Service) CheckFileSize(userID uint, sizeBytes uint64) error {
	plan, err := s.GetOrCreatePlan(userID)
	if err != nil {
		return err
	}
	if plan.MaxFileBytes > 0 && sizeBytes > plan.MaxFileBytes {
		return &FileTooLargeError{Limit: plan.MaxFileBytes}
	}
	return nil
}

// CheckCopyQuota verifies that n more copies fit the active allowance.
func (s *Service) CheckCopyQuota(userID uint, n uint64) error {
	plan, err := s.GetOrCreatePlan(userID)
	if err != nil {
		return err
	}
	remaining := plan.RemainingCopies()
	if remaining == nil {
		return nil // unlimited
	}
	if *remaining < n {
		u := plan.Usage()
		var limit uint64
		if u.CopiesLimit != nil {
			limit = *u.CopiesLimit
		}
		return &QuotaExceededError{Scope: u.Scope, Limit: limit}
	}
	return nil
}

// CheckTransferBytes verifies that sizeBytes more transfer volume fits the
// active allowance. Must run before the remote copy starts.
func (s *Service) CheckTransferBytes(userID uint, sizeBytes uint64) error {
	plan, err := s.GetOrCreatePlan(userID)
	if err != nil {
		return err
	}
	remaining := plan.RemainingTransferBytes()
	if remaining == nil {
		return nil // unlimited
	}
	if *remaining < sizeBytes {
		return &TransferQuotaExceededError{Scope: plan.Usage().Scope, Available: *remaining}
	}
	return nil
}

// CommitCopySuccess records one confirmed copy against the user's counters.
// The itemRef keys the ledger entry; committing the same item twice is a
// successful no-op. Returns whether this call actually applied the usage.
func (s *Service) CommitCopySuccess(userID uint, itemRef string, bytesCopied uint64) (bool, error) {
	if itemRef == "" {
		return false, errors.New("item reference is required for usage commit")
	}
	applied, err := s.repo.ApplyUsage(userID, itemRef, 1, bytesCopied)
	if err != nil {
		return false, err
	}
	if !applied {
		log.Debugf("[Quota] Usage for %s already applied, skipping", itemRef)
	}
	return applied, nil
}

// CheckSlotCapacity verifies the user could attach this account without
// mutating anything. Accounts already in the user's history are always
// allowed; a genuinely new account needs a free slot.
func (s *Service) CheckSlotCapacity(userID uint, provider, providerAccountID string) error {
	plan, err := s.GetOrCreatePlan(userID)
	if err != nil {
		return err
	}

	_, err = s.repo.FindSlot(userID, provider, providerAccountID)
	if err == nil {
		return nil // known account, reconnection is free
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	count, err := s.repo.CountDistinctSlots(userID)
	if err != nil {
		return err
	}
	if count >= int64(plan.SlotsTotal) {
		return &SlotLimitError{Limit: plan.SlotsTotal}
	}
	return nil
}

// ConsumeSlot records a resolved attachment in the slot history. Callers
// invoke it only after the ownership write succeeded, so a lost ownership
// race never consumes a slot. Reactivating a known account touches no
// counter; a genuinely new account appends a history row and bumps the
// lifetime count.
func (s *Service) ConsumeSlot(userID uint, provider, providerAccountID, providerEmail string) error {
	slot, err := s.repo.FindSlot(userID, provider, providerAccountID)
	if err == nil {
		if slot.IsActive && slot.DisconnectedAt == nil {
			return nil
		}
		slot.IsActive = true
		slot.DisconnectedAt = nil
		slot.ConnectedAt = s.now()
		return s.repo.SaveSlot(slot)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	plan, err := s.GetOrCreatePlan(userID)
	if err != nil {
		return err
	}
	count, err := s.repo.CountDistinctSlots(userID)
	if err != nil {
		return err
	}
	newSlot := &models.CloudSlot{
		UserID:            userID,
		Provider:          provider,
		ProviderAccountID: providerAccountID,
		ProviderEmail:     providerEmail,
		SlotNumber:        int(count) + 1,
		IsActive:          true,
		ConnectedAt:       s.now(),
	}
	return s.repo.AppendSlot(plan, newSlot)
}

// ApplyPlanChange is the entry point for the external billing actor. It
// writes the plan column and keeps the counter pairs consistent; a
// downgrade to free folds monthly usage into lifetime and deactivates all
// but the oldest slots.
func (s *Service) ApplyPlanChange(userID uint, plan entitlements.Plan) (*models.UserPlan, error) {
	row, err := s.GetOrCreatePlan(userID)
	if err != nil {
		return nil, err
	}

	wasPaid := row.IsPaid()
	row.SwitchTo(plan, s.now())
	if err := s.repo.SavePlan(row); err != nil {
		return nil, err
	}

	if wasPaid && !row.IsPaid() {
		if err := s.repo.DeactivateSlotsBeyondOldest(userID, downgradeKeepSlots); err != nil {
			return nil, err
		}
		log.Infof("[Quota] Downgraded user %d to free, folded monthly usage into lifetime", userID)
	}
	return row, nil
}
