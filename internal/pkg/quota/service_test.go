package quota

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cloudhop/cloudhop/app/models"
	"github.com/cloudhop/cloudhop/internal/pkg/entitlements"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.UserPlan{},
		&models.CloudSlot{},
		&models.UsageEntry{},
	))
	return db
}

func newTestService(t *testing.T) *Service {
	return NewServiceFromDB(newTestDB(t))
}

func TestGetOrCreatePlanCreatesFreeDefault(t *testing.T) {
	svc := newTestService(t)

	plan, err := svc.GetOrCreatePlan(1)
	require.NoError(t, err)
	assert.Equal(t, "free", plan.Plan)
	assert.Equal(t, entitlements.PlanTypeFree, plan.PlanType())
	require.NotNil(t, plan.CopiesLimitLifetime)
	assert.Equal(t, uint64(20), *plan.CopiesLimitLifetime)

	// Second call returns the same row, not a new one.
	again, err := svc.GetOrCreatePlan(1)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, again.ID)
}

func TestGetOrCreatePlanRollsOverStalePaidPeriod(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.ApplyPlanChange(1, entitlements.PlanPlus)
	require.NoError(t, err)

	// Age the window by two months and accrue some usage.
	plan, err := svc.GetOrCreatePlan(1)
	require.NoError(t, err)
	stale := models.MonthStart(time.Now().UTC().AddDate(0, -2, 0))
	plan.PeriodStart = &stale
	plan.CopiesUsedMonth = 7
	plan.TransferBytesUsedMonth = 1 << 30
	require.NoError(t, svc.repo.SavePlan(plan))

	plan, err = svc.GetOrCreatePlan(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), plan.CopiesUsedMonth)
	assert.Equal(t, uint64(0), plan.TransferBytesUsedMonth)
	require.NotNil(t, plan.PeriodStart)
	assert.Equal(t, models.MonthStart(time.Now().UTC()), *plan.PeriodStart)

	// A second read in the same month must not reset again.
	_, err = svc.CommitCopySuccess(1, "item-a", 10)
	require.NoError(t, err)
	plan, err = svc.GetOrCreatePlan(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), plan.CopiesUsedMonth)
}

func TestCommitCopySuccessIsIdempotent(t *testing.T) {
	svc := newTestService(t)

	applied, err := svc.CommitCopySuccess(1, "job-1/item-1", 500)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.CommitCopySuccess(1, "job-1/item-1", 500)
	require.NoError(t, err)
	assert.False(t, applied)

	plan, err := svc.GetOrCreatePlan(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), plan.CopiesUsedLifetime)
	assert.Equal(t, uint64(500), plan.TransferBytesUsedLifetime)
}

func TestCommitCopySuccessCreatesMissingPlan(t *testing.T) {
	svc := newTestService(t)

	// No plan row exists yet; the commit must not fail the copy.
	applied, err := svc.CommitCopySuccess(42, "job-9/item-3", 123)
	require.NoError(t, err)
	assert.True(t, applied)

	plan, err := svc.GetOrCreatePlan(42)
	require.NoError(t, err)
	assert.Equal(t, "free", plan.Plan)
	assert.Equal(t, uint64(1), plan.CopiesUsedLifetime)
}

func TestCheckCopyQuotaScopes(t *testing.T) {
	svc := newTestService(t)

	// Free plan: lifetime scope.
	plan, err := svc.GetOrCreatePlan(1)
	require.NoError(t, err)
	plan.CopiesUsedLifetime = 20
	require.NoError(t, svc.repo.SavePlan(plan))

	err = svc.CheckCopyQuota(1, 1)
	var qe *QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, models.ScopeLifetime, qe.Scope)

	// Paid plan: monthly scope.
	_, err = svc.ApplyPlanChange(2, entitlements.PlanPlus)
	require.NoError(t, err)
	plan, err = svc.GetOrCreatePlan(2)
	require.NoError(t, err)
	plan.CopiesUsedMonth = 500
	require.NoError(t, svc.repo.SavePlan(plan))

	err = svc.CheckCopyQuota(2, 1)
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, models.ScopeMonthly, qe.Scope)
}

func TestCheckCopyQuotaBatchAgainstRemaining(t *testing.T) {
	svc := newTestService(t)

	// 19 of 20 lifetime copies used: a single copy fits, a batch of 2 does not.
	plan, err := svc.GetOrCreatePlan(1)
	require.NoError(t, err)
	plan.CopiesUsedLifetime = 19
	require.NoError(t, svc.repo.SavePlan(plan))

	assert.NoError(t, svc.CheckCopyQuota(1, 1))
	err = svc.CheckCopyQuota(1, 2)
	var qe *QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, models.ScopeLifetime, qe.Scope)
}

func TestCheckCopyQuotaUnlimited(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.ApplyPlanChange(1, entitlements.PlanPro)
	require.NoError(t, err)

	// Pro copies are unlimited; any batch size passes.
	assert.NoError(t, svc.CheckCopyQuota(1, 1_000_000))
}

func TestCheckTransferBytesReportsAvailable(t *testing.T) {
	svc := newTestService(t)

	plan, err := svc.GetOrCreatePlan(1)
	require.NoError(t, err)
	limit := uint64(1000)
	plan.TransferBytesLimitLifetime = &limit
	plan.TransferBytesUsedLifetime = 900
	require.NoError(t, svc.repo.SavePlan(plan))

	assert.NoError(t, svc.CheckTransferBytes(1, 100))

	err = svc.CheckTransferBytes(1, 101)
	var te *TransferQuotaExceededError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, models.ScopeLifetime, te.Scope)
	assert.Equal(t, uint64(100), te.Available)
}

func TestCheckTransferBytesClampsAvailable(t *testing.T) {
	svc := newTestService(t)

	plan, err := svc.GetOrCreatePlan(1)
	require.NoError(t, err)
	limit := uint64(1000)
	plan.TransferBytesLimitLifetime = &limit
	plan.TransferBytesUsedLifetime = 1500 // drifted past the limit
	require.NoError(t, svc.repo.SavePlan(plan))

	err = svc.CheckTransferBytes(1, 1)
	var te *TransferQuotaExceededError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, uint64(0), te.Available)
}

func TestCheckFileSize(t *testing.T) {
	svc := newTestService(t)

	require.NoError(t, svc.CheckFileSize(1, 1<<20))

	err := svc.CheckFileSize(1, 1<<40)
	var fe *FileTooLargeError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, uint64(256<<20), fe.Limit)
}

func TestSlotCapacityAndConsume(t *testing.T) {
	svc := newTestService(t)

	// Free plan allows two distinct accounts.
	require.NoError(t, svc.CheckSlotCapacity(1, "drive", "acc-1"))
	require.NoError(t, svc.ConsumeSlot(1, "drive", "acc-1", "a@example.com"))
	require.NoError(t, svc.CheckSlotCapacity(1, "dropbox", "acc-2"))
	require.NoError(t, svc.ConsumeSlot(1, "dropbox", "acc-2", "a@example.com"))

	err := svc.CheckSlotCapacity(1, "drive", "acc-3")
	var se *SlotLimitError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Limit)

	// Reconnecting a known account is always free, even at the limit.
	assert.NoError(t, svc.CheckSlotCapacity(1, "drive", "acc-1"))
	require.NoError(t, svc.ConsumeSlot(1, "drive", "acc-1", "a@example.com"))

	plan, err := svc.GetOrCreatePlan(1)
	require.NoError(t, err)
	assert.Equal(t, 2, plan.SlotsUsed)
}

func TestCheckSlotCapacityMutatesNothing(t *testing.T) {
	db := newTestDB(t)
	svc := NewServiceFromDB(db)

	require.NoError(t, svc.CheckSlotCapacity(1, "drive", "acc-1"))
	require.NoError(t, svc.CheckSlotCapacity(1, "drive", "acc-1"))

	count, err := models.CountDistinctSlots(db, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	plan, err := svc.GetOrCreatePlan(1)
	require.NoError(t, err)
	assert.Equal(t, 0, plan.SlotsUsed)
}

func TestSlotsUsedMatchesDistinctHistory(t *testing.T) {
	db := newTestDB(t)
	svc := NewServiceFromDB(db)

	require.NoError(t, svc.ConsumeSlot(1, "drive", "acc-1", "a@example.com"))
	require.NoError(t, svc.ConsumeSlot(1, "drive", "acc-2", "a@example.com"))
	require.NoError(t, svc.ConsumeSlot(1, "drive", "acc-1", "a@example.com")) // reconnect

	count, err := models.CountDistinctSlots(db, 1)
	require.NoError(t, err)
	plan, err := svc.GetOrCreatePlan(1)
	require.NoError(t, err)
	assert.Equal(t, int64(plan.SlotsUsed), count)
}

func TestApplyPlanChangeDowngradeDeactivatesExcessSlots(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.ApplyPlanChange(1, entitlements.PlanPro)
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		require.NoError(t, svc.ConsumeSlot(1, "drive", fmt.Sprintf("acc-%d", i), "a@example.com"))
	}

	plan, err := svc.ApplyPlanChange(1, entitlements.PlanFree)
	require.NoError(t, err)
	assert.Equal(t, "free", plan.Plan)
	// Lifetime slot count never shrinks.
	assert.Equal(t, 4, plan.SlotsUsed)

	var active int64
	db := svc.repo.(*gormRepository).db
	require.NoError(t, db.Model(&models.CloudSlot{}).
		Where("user_id = ? AND is_active = ?", 1, true).Count(&active).Error)
	assert.Equal(t, int64(2), active)
}
