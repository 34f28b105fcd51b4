package slots

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cloudhop/cloudhop/app/models"
	"github.com/cloudhop/cloudhop/internal/pkg/quota"
)

const testSecret = "test-secret-please-rotate"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.UserPlan{},
		&models.CloudSlot{},
		&models.ProviderAccount{},
		&models.UsageEntry{},
	))
	return db
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), quota.NewServiceFromDB(db), testSecret)
	return svc, db
}

func planFor(t *testing.T, db *gorm.DB, userID uint) *models.UserPlan {
	t.Helper()
	plan, err := quota.NewServiceFromDB(db).GetOrCreatePlan(userID)
	require.NoError(t, err)
	return plan
}

func TestResolveConnectionNewAccount(t *testing.T) {
	svc, db := newTestService(t)

	out, err := svc.ResolveConnection(1, "drive", "acc-1", "a@example.com", "a@example.com", Credentials{AccessToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, out.Status)
	assert.Empty(t, out.TransferToken)

	assert.Equal(t, 1, planFor(t, db, 1).SlotsUsed)

	account, err := svc.GetCredentials(1, "drive", "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "tok", account.AccessToken)
}

func TestReconnectDoesNotConsumeSlot(t *testing.T) {
	svc, db := newTestService(t)

	_, err := svc.ResolveConnection(1, "drive", "acc-1", "a@example.com", "a@example.com", Credentials{AccessToken: "tok-1"})
	require.NoError(t, err)
	require.NoError(t, svc.Disconnect(1, "drive", "acc-1"))

	active, err := svc.ListActiveSlots(1)
	require.NoError(t, err)
	assert.Empty(t, active)

	out, err := svc.ResolveConnection(1, "drive", "acc-1", "a@example.com", "a@example.com", Credentials{AccessToken: "tok-2"})
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, out.Status)

	// Reconnect reuses the history row: same lifetime count, fresh creds.
	assert.Equal(t, 1, planFor(t, db, 1).SlotsUsed)
	account, err := svc.GetCredentials(1, "drive", "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", account.AccessToken)

	active, err = svc.ListActiveSlots(1)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestSafeReclaimByMatchingEmail(t *testing.T) {
	svc, db := newTestService(t)

	_, err := svc.ResolveConnection(1, "drive", "acc-1", "shared@example.com", "shared@example.com", Credentials{})
	require.NoError(t, err)

	// Claimant's authenticated email matches the on-file email, case-insensitively.
	out, err := svc.ResolveConnection(2, "drive", "acc-1", "shared@example.com", "Shared@Example.COM", Credentials{AccessToken: "new"})
	require.NoError(t, err)
	assert.Equal(t, StatusReclaimed, out.Status)

	account, err := svc.GetCredentials(2, "drive", "acc-1")
	require.NoError(t, err)
	assert.Equal(t, uint(2), account.OwnerUserID)

	// Prior owner's history is immutable: lifetime count intact, slot inactive.
	assert.Equal(t, 1, planFor(t, db, 1).SlotsUsed)
	oldActive, err := svc.ListActiveSlots(1)
	require.NoError(t, err)
	assert.Empty(t, oldActive)

	newActive, err := svc.ListActiveSlots(2)
	require.NoError(t, err)
	assert.Len(t, newActive, 1)
}

func TestOwnershipConflictMintsTokenWithoutMutation(t *testing.T) {
	svc, db := newTestService(t)

	_, err := svc.ResolveConnection(1, "drive", "acc-1", "owner@example.com", "owner@example.com", Credentials{})
	require.NoError(t, err)

	out, err := svc.ResolveConnection(2, "drive", "acc-1", "owner@example.com", "someone-else@example.com", Credentials{})
	require.NoError(t, err)
	assert.Equal(t, StatusConflict, out.Status)
	assert.NotEmpty(t, out.TransferToken)

	// Nothing moved: old owner still owns it, claimant consumed no slot.
	account, err := svc.GetCredentials(1, "drive", "acc-1")
	require.NoError(t, err)
	assert.Equal(t, uint(1), account.OwnerUserID)
	assert.Equal(t, 0, planFor(t, db, 2).SlotsUsed)
}

func TestRedeemTransferToken(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ResolveConnection(1, "drive", "acc-1", "owner@example.com", "owner@example.com", Credentials{})
	require.NoError(t, err)
	out, err := svc.ResolveConnection(2, "drive", "acc-1", "owner@example.com", "claimant@example.com", Credentials{})
	require.NoError(t, err)
	require.Equal(t, StatusConflict, out.Status)

	err = svc.RedeemTransferToken(out.TransferToken, 2, Credentials{AccessToken: "claimed"})
	require.NoError(t, err)

	account, err := svc.GetCredentials(2, "drive", "acc-1")
	require.NoError(t, err)
	assert.Equal(t, uint(2), account.OwnerUserID)
	assert.Equal(t, "claimed", account.AccessToken)
}

func TestRedeemRaceYieldsOneWinner(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ResolveConnection(1, "drive", "acc-1", "owner@example.com", "owner@example.com", Credentials{})
	require.NoError(t, err)

	// Two claimants hold tokens referencing the same original owner.
	outA, err := svc.ResolveConnection(2, "drive", "acc-1", "owner@example.com", "a@example.com", Credentials{})
	require.NoError(t, err)
	outB, err := svc.ResolveConnection(3, "drive", "acc-1", "owner@example.com", "b@example.com", Credentials{})
	require.NoError(t, err)

	require.NoError(t, svc.RedeemTransferToken(outA.TransferToken, 2, Credentials{}))

	err = svc.RedeemTransferToken(outB.TransferToken, 3, Credentials{})
	assert.ErrorIs(t, err, ErrOwnershipChanged)

	account, err := svc.GetCredentials(2, "drive", "acc-1")
	require.NoError(t, err)
	assert.Equal(t, uint(2), account.OwnerUserID)
}

func TestRedeemLoserConsumesNoSlot(t *testing.T) {
	svc, db := newTestService(t)

	_, err := svc.ResolveConnection(1, "drive", "acc-1", "owner@example.com", "owner@example.com", Credentials{})
	require.NoError(t, err)

	outA, err := svc.ResolveConnection(2, "drive", "acc-1", "owner@example.com", "a@example.com", Credentials{})
	require.NoError(t, err)
	outB, err := svc.ResolveConnection(3, "drive", "acc-1", "owner@example.com", "b@example.com", Credentials{})
	require.NoError(t, err)

	require.NoError(t, svc.RedeemTransferToken(outA.TransferToken, 2, Credentials{}))
	err = svc.RedeemTransferToken(outB.TransferToken, 3, Credentials{})
	require.ErrorIs(t, err, ErrOwnershipChanged)

	// The winner's attachment is fully recorded.
	assert.Equal(t, 1, planFor(t, db, 2).SlotsUsed)
	winnerActive, err := svc.ListActiveSlots(2)
	require.NoError(t, err)
	assert.Len(t, winnerActive, 1)

	// The loser gets no slot row and no counter change for an account
	// they never owned.
	assert.Equal(t, 0, planFor(t, db, 3).SlotsUsed)
	var loserRows int64
	require.NoError(t, db.Model(&models.CloudSlot{}).
		Where("user_id = ?", 3).Count(&loserRows).Error)
	assert.Equal(t, int64(0), loserRows)
}

func TestRedeemExpiredToken(t *testing.T) {
	svc, _ := newTestService(t)
	svc.tokenTTL = -time.Minute // mint already-expired tokens

	_, err := svc.ResolveConnection(1, "drive", "acc-1", "owner@example.com", "owner@example.com", Credentials{})
	require.NoError(t, err)
	out, err := svc.ResolveConnection(2, "drive", "acc-1", "owner@example.com", "x@example.com", Credentials{})
	require.NoError(t, err)

	err = svc.RedeemTransferToken(out.TransferToken, 2, Credentials{})
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestRedeemGarbageToken(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.RedeemTransferToken("not-a-token", 2, Credentials{})
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRedeemByWrongUser(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ResolveConnection(1, "drive", "acc-1", "owner@example.com", "owner@example.com", Credentials{})
	require.NoError(t, err)
	out, err := svc.ResolveConnection(2, "drive", "acc-1", "owner@example.com", "x@example.com", Credentials{})
	require.NoError(t, err)

	// The token was minted for user 2; user 3 cannot redeem it.
	err = svc.RedeemTransferToken(out.TransferToken, 3, Credentials{})
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestConnectBeyondSlotLimit(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ResolveConnection(1, "drive", "acc-1", "a@example.com", "a@example.com", Credentials{})
	require.NoError(t, err)
	_, err = svc.ResolveConnection(1, "dropbox", "acc-2", "a@example.com", "a@example.com", Credentials{})
	require.NoError(t, err)

	// Free plan caps out at two distinct accounts.
	_, err = svc.ResolveConnection(1, "drive", "acc-3", "a@example.com", "a@example.com", Credentials{})
	var se *quota.SlotLimitError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Limit)
}
