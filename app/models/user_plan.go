package models

import (
	"time"

	"github.com/cloudhop/cloudhop/internal/pkg/entitlements"
)

// UsageScope labels which counter window a quota value belongs to. The
// scope is surfaced to clients so quota messages can distinguish "used up
// forever" from "used up this month".
type UsageScope string

const (
	ScopeLifetime UsageScope = "lifetime"
	ScopeMonthly  UsageScope = "monthly"
)

// UserPlan holds a user's plan and usage counters. The plan column is the
// source of truth; the FREE/PAID split and the active counter pair are
// always derived from it, never stored. Free plans count against the
// lifetime pair, paid plans against the monthly pair; the inactive pair is
// frozen and only touched by plan transitions.
type UserPlan struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID uint   `gorm:"uniqueIndex" json:"user_id"`
	Plan   string `gorm:"type:varchar(50);default:'free'" json:"plan"`

	SlotsTotal int `gorm:"default:2" json:"slots_total"`
	SlotsUsed  int `gorm:"default:0" json:"slots_used"`

	CopiesUsedLifetime         uint64  `gorm:"default:0" json:"copies_used_lifetime"`
	CopiesLimitLifetime        *uint64 `json:"copies_limit_lifetime,omitempty"`
	TransferBytesUsedLifetime  uint64  `gorm:"default:0" json:"transfer_bytes_used_lifetime"`
	TransferBytesLimitLifetime *uint64 `json:"transfer_bytes_limit_lifetime,omitempty"`

	CopiesUsedMonth         uint64  `gorm:"default:0" json:"copies_used_month"`
	CopiesLimitMonth        *uint64 `json:"copies_limit_month,omitempty"`
	TransferBytesUsedMonth  uint64  `gorm:"default:0" json:"transfer_bytes_used_month"`
	TransferBytesLimitMonth *uint64 `json:"transfer_bytes_limit_month,omitempty"`

	MaxFileBytes uint64     `json:"max_file_bytes"`
	PeriodStart  *time.Time `gorm:"type:timestamp;default:null" json:"period_start,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Usage is the tagged view over the two counter pairs. Exactly one pair is
// ever exposed, selected by the plan.
type Usage struct {
	Scope       UsageScope
	CopiesUsed  uint64
	CopiesLimit *uint64
	BytesUsed   uint64
	BytesLimit  *uint64
	PeriodStart *time.Time
}

// PlanType derives FREE/PAID from the plan column.
func (p *UserPlan) PlanType() entitlements.PlanType {
	return entitlements.TypeOf(entitlements.Plan(p.Plan))
}

// IsPaid reports whether the monthly counter pair is the active one.
func (p *UserPlan) IsPaid() bool {
	return entitlements.IsPaid(entitlements.Plan(p.Plan))
}

// Usage returns the active counter pair for the current plan.
func (p *UserPlan) Usage() Usage {
	if p.IsPaid() {
		return Usage{
			Scope:       ScopeMonthly,
			CopiesUsed:  p.CopiesUsedMonth,
			CopiesLimit: p.CopiesLimitMonth,
			BytesUsed:   p.TransferBytesUsedMonth,
			BytesLimit:  p.TransferBytesLimitMonth,
			PeriodStart: p.PeriodStart,
		}
	}
	return Usage{
		Scope:       ScopeLifetime,
		CopiesUsed:  p.CopiesUsedLifetime,
		CopiesLimit: p.CopiesLimitLifetime,
		BytesUsed:   p.TransferBytesUsedLifetime,
		BytesLimit:  p.TransferBytesLimitLifetime,
	}
}

// RemainingCopies returns the remaining copy allowance in the active scope,
// or nil for unlimited. Never negative.
func (p *UserPlan) RemainingCopies() *uint64 {
	u := p.Usage()
	if u.CopiesLimit == nil {
		return nil
	}
	return clampedRemaining(u.CopiesUsed, *u.CopiesLimit)
}

// RemainingTransferBytes returns the remaining byte allowance in the active
// scope, or nil for unlimited. Never negative.
func (p *UserPlan) RemainingTransferBytes() *uint64 {
	u := p.Usage()
	if u.BytesLimit == nil {
		return nil
	}
	return clampedRemaining(u.BytesUsed, *u.BytesLimit)
}

func clampedRemaining(used, limit uint64) *uint64 {
	var rest uint64
	if used < limit {
		rest = limit - used
	}
	return &rest
}

// AddUsage increments the active counter pair.
func (p *UserPlan) AddUsage(copies, bytes uint64) {
	if p.IsPaid() {
		p.CopiesUsedMonth += copies
		p.TransferBytesUsedMonth += bytes
		return
	}
	p.CopiesUsedLifetime += copies
	p.TransferBytesUsedLifetime += bytes
}

// NeedsRollover reports whether the monthly window is stale. Free plans
// never roll over.
func (p *UserPlan) NeedsRollover(now time.Time) bool {
	if !p.IsPaid() {
		return false
	}
	if p.PeriodStart == nil {
		return true
	}
	start := p.PeriodStart.UTC()
	now = now.UTC()
	return start.Year() != now.Year() || start.Month() != now.Month()
}

// ApplyRollover zeroes the monthly counters and moves the period start to
// the first instant of the current UTC month. Calling it twice within the
// same month is a no-op because NeedsRollover turns false after the first.
func (p *UserPlan) ApplyRollover(now time.Time) {
	if !p.NeedsRollover(now) {
		return
	}
	p.CopiesUsedMonth = 0
	p.TransferBytesUsedMonth = 0
	start := MonthStart(now)
	p.PeriodStart = &start
}

// MonthStart returns the first instant of t's month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// SwitchTo moves the plan to the target plan and keeps the counter pairs
// consistent. Upgrades to a paid plan open a fresh monthly window.
// Downgrades to free fold the monthly usage into the lifetime counters and
// freeze the monthly pair instead of resetting it.
func (p *UserPlan) SwitchTo(plan entitlements.Plan, now time.Time) {
	plan = entitlements.Normalize(string(plan))
	wasPaid := p.IsPaid()
	limits := entitlements.LimitsFor(plan)

	p.Plan = string(plan)
	p.SlotsTotal = limits.SlotsTotal
	p.MaxFileBytes = limits.MaxFileBytes

	if entitlements.IsPaid(plan) {
		p.CopiesLimitMonth = limits.CopiesLimit
		p.TransferBytesLimitMonth = limits.TransferBytesLimit
		if !wasPaid {
			p.CopiesUsedMonth = 0
			p.TransferBytesUsedMonth = 0
			start := MonthStart(now)
			p.PeriodStart = &start
		}
		return
	}

	if wasPaid {
		// Fold the paid-period usage into the lifetime counters; the
		// monthly pair stays frozen as a historical record.
		p.CopiesUsedLifetime += p.CopiesUsedMonth
		p.TransferBytesUsedLifetime += p.TransferBytesUsedMonth
	}
	p.CopiesLimitLifetime = limits.CopiesLimit
	p.TransferBytesLimitLifetime = limits.TransferBytesLimit
}

// DefaultUserPlan builds a fresh free-plan row for a user.
func DefaultUserPlan(userID uint) *UserPlan {
	limits := entitlements.LimitsFor(entitlements.PlanFree)
	return &UserPlan{
		UserID:                     userID,
		Plan:                       string(entitlements.PlanFree),
		SlotsTotal:                 limits.SlotsTotal,
		CopiesLimitLifetime:        limits.CopiesLimit,
		TransferBytesLimitLifetime: limits.TransferBytesLimit,
		MaxFileBytes:               limits.MaxFileBytes,
	}
}
