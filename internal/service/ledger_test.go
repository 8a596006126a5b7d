package service

import (
	"context"
	"sync"
	"testing"

	"aigateway/internal/model"
	"aigateway/internal/repository"
	"aigateway/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedgerEnv(t *testing.T, total, used string) (*LedgerService, *model.Quota, *gatewayEnv) {
	t.Helper()
	db := testutil.NewDB(t)
	user := testutil.CreateUser(t, db, "ledger")
	group := testutil.CreateGroup(t, db, "g")
	quota := testutil.CreateQuota(t, db, user.ID, group.ID, total, used)
	return NewLedgerServiceWithDB(db), quota, &gatewayEnv{db: db, quota: quota}
}

func TestLedger_ConcurrentDebitsNeverOverspend(t *testing.T) {
	ledger, quota, env := newLedgerEnv(t, "1", "0")
	amount := testutil.D("0.03")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Debit(context.Background(), quota.ID, amount)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrQuotaExhausted)
		}()
	}
	wg.Wait()

	assert.Equal(t, 33, succeeded)
	q := testutil.Quota(t, env.db, quota.ID)
	assert.True(t, q.UsedQuota.Equal(amount.Mul(testutil.D("33"))), "used = %s", q.UsedQuota)
	assert.True(t, q.UsedQuota.LessThanOrEqual(q.TotalQuota))
}

func TestLedger_DebitReturnsRemaining(t *testing.T) {
	ledger, quota, _ := newLedgerEnv(t, "1", "0.25")

	remaining, err := ledger.Debit(context.Background(), quota.ID, testutil.D("0.5"))
	require.NoError(t, err)
	assert.True(t, remaining.Equal(testutil.D("0.25")), "remaining = %s", remaining)

	_, err = ledger.Debit(context.Background(), quota.ID, testutil.D("0.250001"))
	assert.ErrorIs(t, err, ErrQuotaExhausted)

	remaining, err = ledger.Debit(context.Background(), quota.ID, testutil.D("0.25"))
	require.NoError(t, err)
	assert.True(t, remaining.IsZero())
}

func TestLedger_ZeroAmountSkipsDebit(t *testing.T) {
	ledger, quota, env := newLedgerEnv(t, "0", "0")

	rec := &model.UsageRecord{RequestID: uuid.NewString(), QuotaID: quota.ID, UserID: quota.UserID, StatusCode: 200}
	res, err := ledger.Commit(context.Background(), quota.ID, rec)
	require.NoError(t, err)
	assert.True(t, res.Debited.IsZero())

	assert.Len(t, listUsage(t, env.db, quota.ID), 1)
	logs, err := repository.NewQuotaLogRepositoryWithDB(env.db).ListByQuota(context.Background(), quota.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestLedger_CommitRejectedPersistsRecordOnly(t *testing.T) {
	ledger, quota, env := newLedgerEnv(t, "0.0005", "0")

	rec := &model.UsageRecord{
		RequestID:  uuid.NewString(),
		QuotaID:    quota.ID,
		UserID:     quota.UserID,
		StatusCode: 200,
		TotalCost:  testutil.D("0.0007"),
	}
	_, err := ledger.Commit(context.Background(), quota.ID, rec)
	require.ErrorIs(t, err, ErrQuotaExhausted)

	records := listUsage(t, env.db, quota.ID)
	require.Len(t, records, 1)
	assert.Equal(t, 429, records[0].StatusCode)
	assert.Equal(t, "quota_exhausted", records[0].ErrorType)
	assert.True(t, testutil.Quota(t, env.db, quota.ID).UsedQuota.IsZero())
}

func TestLedger_SoftDeletedQuotaRejectsDebit(t *testing.T) {
	ledger, quota, env := newLedgerEnv(t, "1", "0")
	exec(t, env.db, `UPDATE user_quotas SET is_active = 0, deleted_at = CURRENT_TIMESTAMP WHERE id = ?`, quota.ID)

	_, err := ledger.Debit(context.Background(), quota.ID, testutil.D("0.1"))
	assert.ErrorIs(t, err, ErrQuotaExhausted)
}

func TestLedger_UnknownQuotaIsInternal(t *testing.T) {
	ledger, _, _ := newLedgerEnv(t, "1", "0")

	_, err := ledger.Debit(context.Background(), "missing", testutil.D("0.1"))
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
}
