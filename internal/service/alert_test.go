package service

import (
	"context"
	"testing"

	"aigateway/internal/model"
	"aigateway/internal/repository"
	"aigateway/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAlertEnv(t *testing.T, used string) (*AlertNotifier, *AdminService, *model.Quota) {
	t.Helper()
	db := testutil.NewDB(t)
	user := testutil.CreateUser(t, db, "hank")
	group := testutil.CreateGroup(t, db, "g")
	quota := testutil.CreateQuota(t, db, user.ID, group.ID, "1", used)
	n := NewAlertNotifier(repository.NewQuotaRepositoryWithDB(db), repository.NewAlertRepositoryWithDB(db), 90, 8)
	return n, NewAdminServiceWithDB(db), quota
}

func TestAlertNotifier_BelowThreshold(t *testing.T) {
	n, admin, quota := newAlertEnv(t, "0.89")

	alert, err := n.Evaluate(context.Background(), quota.ID)
	require.NoError(t, err)
	assert.Nil(t, alert)

	alerts, err := admin.ListAlerts(context.Background(), false, 10)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestAlertNotifier_DeduplicatesUnresolved(t *testing.T) {
	n, admin, quota := newAlertEnv(t, "0.95")

	alert, err := n.Evaluate(context.Background(), quota.ID)
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, model.AlertTypeQuotaExceeded, alert.AlertType)
	assert.Equal(t, 90, alert.Threshold)
	assert.True(t, alert.CurrentValue.Equal(testutil.D("95")))

	again, err := n.Evaluate(context.Background(), quota.ID)
	require.NoError(t, err)
	assert.Nil(t, again)

	require.NoError(t, admin.ResolveAlert(context.Background(), alert.ID))
	assert.ErrorIs(t, admin.ResolveAlert(context.Background(), alert.ID), ErrAlertNotFound)

	third, err := n.Evaluate(context.Background(), quota.ID)
	require.NoError(t, err)
	assert.NotNil(t, third)

	unresolved, err := admin.ListAlerts(context.Background(), true, 10)
	require.NoError(t, err)
	assert.Len(t, unresolved, 1)
	all, err := admin.ListAlerts(context.Background(), false, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAlertNotifier_AsyncQueue(t *testing.T) {
	n, admin, quota := newAlertEnv(t, "1")
	n.Start()

	assert.True(t, n.Notify(quota.ID))
	assert.True(t, n.Notify(quota.ID))
	n.Stop()

	assert.False(t, n.Notify(quota.ID))

	alerts, err := admin.ListAlerts(context.Background(), true, 10)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestAlertNotifier_NilIsNoop(t *testing.T) {
	var n *AlertNotifier
	assert.False(t, n.Notify("anything"))
}
