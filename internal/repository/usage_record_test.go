package repository_test

import (
	"context"
	"testing"
	"time"

	"aigateway/internal/model"
	"aigateway/internal/repository"
	"aigateway/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageRecordRepository_CountWindows(t *testing.T) {
	repo, q, _ := seedQuota(t, "1", "0")
	usage := repository.NewUsageRecordRepositoryWithDB(repo.DB())
	ctx := context.Background()
	now := time.Now()

	for i, age := range []time.Duration{30 * time.Second, 30 * time.Minute, 2 * time.Hour, 48 * time.Hour} {
		require.NoError(t, usage.Insert(ctx, repo.DB(), &model.UsageRecord{
			RequestID:    "req-" + string(rune('a'+i)),
			QuotaID:      q.ID,
			UserID:       q.UserID,
			ModelGroupID: q.ModelGroupID,
			ModelName:    "gpt-4o",
			StatusCode:   200,
			CreatedAt:    now.Add(-age),
		}))
	}

	counts, err := usage.CountWindows(ctx, q.ID, now, []time.Duration{time.Minute, time.Hour, 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, counts)

	counts, err = usage.CountWindows(ctx, "other", now, []time.Duration{time.Minute})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, counts)
}

func TestUsageRecordRepository_RoundTrip(t *testing.T) {
	repo, q, _ := seedQuota(t, "1", "0")
	usage := repository.NewUsageRecordRepositoryWithDB(repo.DB())
	ctx := context.Background()

	rec := &model.UsageRecord{
		RequestID:    "req-1",
		QuotaID:      q.ID,
		UserID:       q.UserID,
		ModelGroupID: q.ModelGroupID,
		ModelName:    "gpt-4o",
		InputTokens:  10,
		OutputTokens: 20,
		TotalTokens:  30,
		InputCost:    testutil.D("0.0001"),
		OutputCost:   testutil.D("0.0006"),
		TotalCost:    testutil.D("0.0007"),
		StatusCode:   200,
		ErrorType:    "",
	}
	require.NoError(t, usage.Insert(ctx, repo.DB(), rec))

	got, err := usage.GetByRequestID(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 30, got.TotalTokens)
	assert.True(t, got.TotalCost.Equal(testutil.D("0.0007")))

	missing, err := usage.GetByRequestID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
