package slots

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/cloudhop/cloudhop/app/models"
	"github.com/cloudhop/cloudhop/internal/pkg/env"
	"github.com/cloudhop/cloudhop/internal/pkg/quota"
)

var (
	// ErrTokenExpired means the transfer offer timed out; the claimant
	// restarts the OAuth flow to get a fresh one.
	ErrTokenExpired = errors.New("transfer token expired")
	// ErrTokenInvalid means the token is malformed or its signature does
	// not verify.
	ErrTokenInvalid = errors.New("transfer token invalid")
	// ErrOwnershipChanged means the account's owner no longer matches the
	// token; someone else completed a transfer first. The client only
	// needs to refresh its account list.
	ErrOwnershipChanged = errors.New("account ownership changed during redemption")
)

// ConnectionStatus describes how a connection attempt was resolved.
type ConnectionStatus string

const (
	StatusConnected ConnectionStatus = "connected"
	StatusReclaimed ConnectionStatus = "reclaimed"
	StatusConflict  ConnectionStatus = "ownership_conflict"
)

// ConnectionOutcome is the result of ResolveConnection. TransferToken is
// only set for StatusConflict.
type ConnectionOutcome struct {
	Status        ConnectionStatus
	TransferToken string
}

// Service arbitrates who owns a remote provider account and lets users
// reconnect previously used accounts without consuming new slots.
type Service struct {
	repo     Repository
	quota    *quota.Service
	secret   string
	tokenTTL time.Duration
	now      func() time.Time
}

// NewService creates a slot registry service.
func NewService(repo Repository, quotaSvc *quota.Service, secret string) *Service {
	return &Service{
		repo:     repo,
		quota:    quotaSvc,
		secret:   secret,
		tokenTTL: DefaultTransferTokenTTL,
		now:      time.Now,
	}
}

// NewServiceFromDB creates a slot registry service from a GORM DB handle,
// reading the token secret from the environment.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), quota.NewServiceFromDB(db), env.GetEnv("TRANSFER_TOKEN_SECRET", ""))
}

// ResolveConnection handles a provider account arriving via the OAuth
// callback (or key-based connect). It either attaches the account,
// silently reactivates it, reclaims it from a previous owner whose on-file
// email matches the claimant, or reports a conflict with a signed transfer
// token and no mutation at all.
func (s *Service) ResolveConnection(userID uint, provider, providerAccountID, accountEmail, claimantEmail string, creds Credentials) (*ConnectionOutcome, error) {
	existing, err := s.repo.GetOwnership(provider, providerAccountID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if existing == nil {
		if err := s.quota.CheckSlotCapacity(userID, provider, providerAccountID); err != nil {
			return nil, err
		}
		account := &models.ProviderAccount{
			OwnerUserID:       userID,
			Provider:          provider,
			ProviderAccountID: providerAccountID,
			Email:             accountEmail,
			AccessToken:       creds.AccessToken,
			RefreshToken:      creds.RefreshToken,
			ExpiresAt:         creds.ExpiresAt,
		}
		if err := s.repo.CreateOwnership(account); err != nil {
			return nil, err
		}
		// Slot consumption comes after the ownership write: losing the
		// create race on the unique (provider, account) index costs the
		// loser nothing.
		if err := s.quota.ConsumeSlot(userID, provider, providerAccountID, accountEmail); err != nil {
			return nil, err
		}
		log.Infof("[Slots] User %d connected %s account %s", userID, provider, providerAccountID)
		return &ConnectionOutcome{Status: StatusConnected}, nil
	}

	if existing.OwnerUserID == userID {
		// Idempotent reconnect: refresh credentials, reactivate the slot
		// row, leave the slot counter alone.
		existing.Email = accountEmail
		existing.AccessToken = creds.AccessToken
		existing.RefreshToken = creds.RefreshToken
		existing.ExpiresAt = creds.ExpiresAt
		if err := s.repo.SaveOwnership(existing); err != nil {
			return nil, err
		}
		if err := s.activateSlot(userID, provider, providerAccountID); err != nil {
			return nil, err
		}
		return &ConnectionOutcome{Status: StatusConnected}, nil
	}

	if claimantEmail != "" && strings.EqualFold(claimantEmail, existing.Email) {
		// Safe reclaim: the claimant authenticated with the very email the
		// account is registered under.
		if err := s.quota.CheckSlotCapacity(userID, provider, providerAccountID); err != nil {
			return nil, err
		}
		swapped, err := s.repo.ReassignOwnership(provider, providerAccountID, existing.OwnerUserID, userID, creds)
		if err != nil {
			return nil, err
		}
		if !swapped {
			return nil, ErrOwnershipChanged
		}
		if err := s.quota.ConsumeSlot(userID, provider, providerAccountID, accountEmail); err != nil {
			return nil, err
		}
		log.Infof("[Slots] User %d reclaimed %s account %s from user %d",
			userID, provider, providerAccountID, existing.OwnerUserID)
		return &ConnectionOutcome{Status: StatusReclaimed}, nil
	}

	// Email mismatch: offer an explicit transfer, mutate nothing.
	token, err := mintTransferToken(s.secret, &TransferClaims{
		ExpectedOldUserID: existing.OwnerUserID,
		NewUserID:         userID,
		Provider:          provider,
		ProviderAccountID: providerAccountID,
	}, s.tokenTTL, s.now())
	if err != nil {
		return nil, err
	}
	return &ConnectionOutcome{Status: StatusConflict, TransferToken: token}, nil
}

// RedeemTransferToken completes an explicit ownership transfer. The
// current owner is re-checked against the token inside the reassignment
// transaction; losing that race yields ErrOwnershipChanged.
func (s *Service) RedeemTransferToken(rawToken string, requestingUserID uint, creds Credentials) error {
	claims, err := parseTransferToken(s.secret, rawToken)
	if err != nil {
		return err
	}
	if claims.NewUserID != requestingUserID {
		return ErrTokenInvalid
	}

	if err := s.quota.CheckSlotCapacity(requestingUserID, claims.Provider, claims.ProviderAccountID); err != nil {
		return err
	}

	swapped, err := s.repo.ReassignOwnership(claims.Provider, claims.ProviderAccountID,
		claims.ExpectedOldUserID, requestingUserID, creds)
	if err != nil {
		return err
	}
	if !swapped {
		return ErrOwnershipChanged
	}
	// The loser of the compare-and-swap never reaches this point, so a
	// failed redemption consumes nothing.
	if err := s.quota.ConsumeSlot(requestingUserID, claims.Provider, claims.ProviderAccountID, ""); err != nil {
		return err
	}
	log.Infof("[Slots] User %d redeemed transfer of %s account %s",
		requestingUserID, claims.Provider, claims.ProviderAccountID)
	return nil
}

// Disconnect deactivates the slot row. History stays, the lifetime slot
// count stays, and reconnecting later is free.
func (s *Service) Disconnect(userID uint, provider, providerAccountID string) error {
	slot, err := s.repo.FindSlot(userID, provider, providerAccountID)
	if err != nil {
		return err
	}
	if !slot.IsActive {
		return nil
	}
	now := s.now()
	slot.IsActive = false
	slot.DisconnectedAt = &now
	return s.repo.SaveSlot(slot)
}

// ListActiveSlots returns the user's currently connected accounts.
func (s *Service) ListActiveSlots(userID uint) ([]models.CloudSlot, error) {
	return s.repo.ListActiveSlots(userID)
}

// GetCredentials resolves the stored credentials for an account the user
// currently owns.
func (s *Service) GetCredentials(userID uint, provider, providerAccountID string) (*models.ProviderAccount, error) {
	account, err := s.repo.GetOwnership(provider, providerAccountID)
	if err != nil {
		return nil, err
	}
	if account.OwnerUserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return account, nil
}

// SaveAccount persists provider-specific fields set after the connection
// was resolved, such as an S3 bucket location.
func (s *Service) SaveAccount(account *models.ProviderAccount) error {
	return s.repo.SaveOwnership(account)
}

func (s *Service) activateSlot(userID uint, provider, providerAccountID string) error {
	slot, err := s.repo.FindSlot(userID, provider, providerAccountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if slot.IsActive && slot.DisconnectedAt == nil {
		return nil
	}
	slot.IsActive = true
	slot.DisconnectedAt = nil
	return s.repo.SaveSlot(slot)
}
