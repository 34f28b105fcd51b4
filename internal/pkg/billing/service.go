package billing

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/cloudhop/cloudhop/app/models"
	"github.com/cloudhop/cloudhop/internal/pkg/entitlements"
	"github.com/cloudhop/cloudhop/internal/pkg/quota"
)

// PlanEvent is what the external billing actor posts when a subscription
// changes. Plan is normalized before it touches the plan row; plan_type is
// always derived, never accepted from the wire.
type PlanEvent struct {
	UserID uint   `json:"user_id" validate:"required"`
	Plan   string `json:"plan" validate:"required"`
	Status string `json:"status"`
}

// Service applies external billing events to user plans.
type Service struct {
	quota *quota.Service
}

// NewService creates a billing service around the quota ledger.
func NewService(quotaSvc *quota.Service) *Service {
	return &Service{quota: quotaSvc}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(quota.NewServiceFromDB(db))
}

// ApplyPlanEvent resolves the event into a plan switch. Subscription
// statuses that no longer entitle the user fold back to free.
func (s *Service) ApplyPlanEvent(event PlanEvent) (*models.UserPlan, error) {
	if event.UserID == 0 {
		return nil, errors.New("user_id is required")
	}

	plan := entitlements.Normalize(event.Plan)
	if event.Status != "" && !isEntitlingStatus(event.Status) {
		plan = entitlements.PlanFree
	}

	return s.quota.ApplyPlanChange(event.UserID, plan)
}

func isEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing", "past_due":
		return true
	default:
		return false
	}
}
