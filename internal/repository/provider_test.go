package repository_test

import (
	"context"
	"testing"

	"aigateway/internal/crypto"
	"aigateway/internal/model"
	"aigateway/internal/repository"
	"aigateway/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderRepository_EncryptsCredentials(t *testing.T) {
	db := testutil.NewDB(t)
	key, err := crypto.DeriveKey("at-rest")
	require.NoError(t, err)
	repo := repository.NewProviderRepositoryWithDB(db, key)
	ctx := context.Background()

	p := &model.Provider{Name: "openai", BaseURL: "https://api.openai.com/v1", APIKey: "sk-live-123", IsActive: true}
	require.NoError(t, repo.Create(ctx, p))
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, model.ProviderFormatGeneric, p.Format)
	assert.Equal(t, 30, p.TimeoutSeconds)

	var stored string
	require.NoError(t, db.QueryRow(`SELECT api_key FROM providers WHERE id = ?`, p.ID).Scan(&stored))
	assert.True(t, crypto.IsEncrypted(stored))
	assert.NotContains(t, stored, "sk-live-123")

	got, err := repo.GetByName(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-live-123", got.APIKey)

	// 没有密钥无法读出密文凭据
	_, err = repository.NewProviderRepositoryWithDB(db, nil).GetByID(ctx, p.ID)
	assert.ErrorIs(t, err, crypto.ErrEncryptionKeyNotSet)
}

func TestProviderRepository_ListActive(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.CreateProvider(t, db, "p1", "one", "http://127.0.0.1:1")
	testutil.CreateProvider(t, db, "p2", "two", "http://127.0.0.1:1")
	_, err := db.Exec(`UPDATE providers SET is_active = 0 WHERE id = 'p2'`)
	require.NoError(t, err)

	repo := repository.NewProviderRepositoryWithDB(db, nil)
	list, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "one", list[0].Name)

	missing, err := repo.GetByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAlertRepository(t *testing.T) {
	repo, q, _ := seedQuota(t, "1", "0.95")
	alerts := repository.NewAlertRepositoryWithDB(repo.DB())
	ctx := context.Background()

	a := &model.QuotaAlert{
		QuotaID:      q.ID,
		AlertType:    model.AlertTypeQuotaExceeded,
		Threshold:    90,
		CurrentValue: testutil.D("95"),
		Message:      "quota usage reached 95%",
	}
	require.NoError(t, alerts.Create(ctx, a))

	has, err := alerts.HasUnresolved(ctx, q.ID, model.AlertTypeQuotaExceeded)
	require.NoError(t, err)
	assert.True(t, has)

	list, err := alerts.List(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].CurrentValue.Equal(testutil.D("95")))

	require.NoError(t, alerts.Resolve(ctx, a.ID))
	assert.ErrorIs(t, alerts.Resolve(ctx, a.ID), repository.ErrAlertNotFound)

	list, err = alerts.List(ctx, true, 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = alerts.List(ctx, false, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsResolved)
	assert.NotNil(t, list[0].ResolvedAt)
}
