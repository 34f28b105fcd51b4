package entitlements

import "strings"

type Plan string

const (
	PlanFree Plan = "free"
	PlanPlus Plan = "plus"
	PlanPro  Plan = "pro"
)

// PlanType is derived from Plan and never stored on its own.
type PlanType string

const (
	PlanTypeFree PlanType = "FREE"
	PlanTypePaid PlanType = "PAID"
)

// Limits describes the quota envelope for a plan. A nil counter limit
// means unlimited.
type Limits struct {
	SlotsTotal         int
	CopiesLimit        *uint64
	TransferBytesLimit *uint64
	MaxFileBytes       uint64
}

const (
	gib = uint64(1) << 30
	tib = uint64(1) << 40
)

func u64(v uint64) *uint64 { return &v }

// Normalize maps arbitrary input to a known plan, defaulting to free.
func Normalize(plan string) Plan {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(PlanPlus):
		return PlanPlus
	case string(PlanPro):
		return PlanPro
	default:
		return PlanFree
	}
}

// TypeOf derives the plan type from the plan. This is the only place the
// FREE/PAID split is decided.
func TypeOf(plan Plan) PlanType {
	switch Normalize(string(plan)) {
	case PlanPlus, PlanPro:
		return PlanTypePaid
	default:
		return PlanTypeFree
	}
}

// IsPaid reports whether the plan tracks monthly counters.
func IsPaid(plan Plan) bool {
	return TypeOf(plan) == PlanTypePaid
}

// LimitsFor returns the quota envelope for a plan. Free plans apply these
// limits to lifetime counters, paid plans to monthly ones.
func LimitsFor(plan Plan) Limits {
	switch Normalize(string(plan)) {
	case PlanPro:
		return Limits{
			SlotsTotal:         10,
			CopiesLimit:        nil, // unlimited
			TransferBytesLimit: u64(1 * tib),
			MaxFileBytes:       10 * gib,
		}
	case PlanPlus:
		return Limits{
			SlotsTotal:         5,
			CopiesLimit:        u64(500),
			TransferBytesLimit: u64(100 * gib),
			MaxFileBytes:       2 * gib,
		}
	default:
		return Limits{
			SlotsTotal:         2,
			CopiesLimit:        u64(20),
			TransferBytesLimit: u64(2 * gib),
			MaxFileBytes:       256 << 20,
		}
	}
}

func planRank(plan Plan) int {
	switch Normalize(string(plan)) {
	case PlanPro:
		return 2
	case PlanPlus:
		return 1
	default:
		return 0
	}
}

// IsUpgrade reports whether switching from old to new moves up the ladder.
func IsUpgrade(old, new Plan) bool {
	return planRank(new) > planRank(old)
}
