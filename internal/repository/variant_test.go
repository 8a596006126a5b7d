package repository_test

import (
	"context"
	"testing"

	"aigateway/internal/model"
	"aigateway/internal/repository"
	"aigateway/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariantRepository_UpsertAndAvailability(t *testing.T) {
	db := testutil.NewDB(t)
	p := testutil.CreateProvider(t, db, "p1", "main", "http://127.0.0.1:1")
	repo := repository.NewVariantRepositoryWithDB(db)
	ctx := context.Background()

	created, err := repo.Upsert(ctx, &model.ModelVariant{
		ProviderID: p.ID, Name: "gpt-4o", InputPrice: testutil.D("2.5"), OutputPrice: testutil.D("10"),
	}, true)
	require.NoError(t, err)
	assert.True(t, created)

	_, err = repo.Upsert(ctx, &model.ModelVariant{ProviderID: p.ID, Name: "gpt-4o-mini"}, true)
	require.NoError(t, err)

	// 不更新价格时保留原值
	created, err = repo.Upsert(ctx, &model.ModelVariant{
		ProviderID: p.ID, Name: "gpt-4o", DisplayName: "GPT-4o", InputPrice: testutil.D("99"),
	}, false)
	require.NoError(t, err)
	assert.False(t, created)

	v, err := repo.GetByProviderAndName(ctx, p.ID, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "GPT-4o", v.DisplayName)
	assert.True(t, v.InputPrice.Equal(testutil.D("2.5")))
	assert.Equal(t, 4096, v.ContextLength)

	n, err := repo.MarkUnavailableExcept(ctx, p.ID, []string{"gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := repo.CountServable(ctx, "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	count, err = repo.CountServable(ctx, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// 再次出现在目录中即恢复可用
	_, err = repo.Upsert(ctx, &model.ModelVariant{ProviderID: p.ID, Name: "gpt-4o-mini"}, true)
	require.NoError(t, err)
	count, err = repo.CountServable(ctx, "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestVariantRepository_GroupCandidates(t *testing.T) {
	db := testutil.NewDB(t)
	pb := testutil.CreateProvider(t, db, "p-b", "b", "http://127.0.0.1:1")
	pa := testutil.CreateProvider(t, db, "p-a", "a", "http://127.0.0.1:1")
	vb := testutil.CreateVariant(t, db, pb.ID, "gpt-4o", "1", "2")
	va := testutil.CreateVariant(t, db, pa.ID, "gpt-4o", "1", "2")
	other := testutil.CreateVariant(t, db, pa.ID, "claude", "3", "15")
	g := testutil.CreateGroup(t, db, "default", vb, va, other)
	repo := repository.NewVariantRepositoryWithDB(db)
	ctx := context.Background()

	candidates, err := repo.ListGroupCandidates(ctx, g.ID, "gpt-4o")
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "p-a", candidates[0].ProviderID)
	assert.Equal(t, "a", candidates[0].ProviderName)

	all, err := repo.ListByGroup(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "claude", all[0].Name)

	_, err = db.Exec(`UPDATE providers SET is_active = 0 WHERE id = ?`, pa.ID)
	require.NoError(t, err)
	candidates, err = repo.ListGroupCandidates(ctx, g.ID, "gpt-4o")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "p-b", candidates[0].ProviderID)
}
