// Package testutil 提供测试用的临时数据库与数据构造
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"aigateway/internal/database"
	"aigateway/internal/model"
	"aigateway/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// NewDB 在 t.TempDir 下创建独立的数据库，测试结束自动关闭
func NewDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func CreateUser(t testing.TB, db *sql.DB, username string) *model.User {
	t.Helper()
	u := &model.User{Username: username, Email: username + "@example.com", IsActive: true}
	require.NoError(t, repository.NewUserRepositoryWithDB(db).Create(context.Background(), u))
	return u
}

// CreateProvider id 为空时自动生成；超时 5 秒、不重试
func CreateProvider(t testing.TB, db *sql.DB, id, name, baseURL string) *model.Provider {
	t.Helper()
	p := &model.Provider{
		ID:             id,
		Name:           name,
		Format:         model.ProviderFormatOpenAI,
		BaseURL:        baseURL,
		APIKey:         "sk-upstream-" + name,
		TimeoutSeconds: 5,
		MaxRetries:     0,
		IsActive:       true,
	}
	require.NoError(t, repository.NewProviderRepositoryWithDB(db, nil).Create(context.Background(), p))
	return p
}

func CreateVariant(t testing.TB, db *sql.DB, providerID, name, inputPrice, outputPrice string) *model.ModelVariant {
	t.Helper()
	v := &model.ModelVariant{
		ProviderID:  providerID,
		Name:        name,
		InputPrice:  D(inputPrice),
		OutputPrice: D(outputPrice),
		IsActive:    true,
		IsAvailable: true,
	}
	require.NoError(t, repository.NewVariantRepositoryWithDB(db).Create(context.Background(), v))
	return v
}

// CreateGroup 创建公开分组并加入给定变体
func CreateGroup(t testing.TB, db *sql.DB, name string, variants ...*model.ModelVariant) *model.ModelGroup {
	t.Helper()
	repo := repository.NewGroupRepositoryWithDB(db)
	g := &model.ModelGroup{Name: name, DefaultQuota: D("10"), IsPublic: true, IsActive: true}
	require.NoError(t, repo.Create(context.Background(), g))
	for _, v := range variants {
		require.NoError(t, repo.AddVariant(context.Background(), g.ID, v.ID))
	}
	return g
}

// CreateQuota 额度 total、已用 used，频率上限取默认值；mutate 可在写入前调整字段
func CreateQuota(t testing.TB, db *sql.DB, userID, groupID, total, used string, mutate ...func(*model.Quota)) *model.Quota {
	t.Helper()
	q := &model.Quota{
		UserID:             userID,
		ModelGroupID:       groupID,
		Name:               "test",
		APIKey:             "sk-audit-" + uuid.NewString()[:8] + "test0000000000000000",
		TotalQuota:         D(total),
		UsedQuota:          D(used),
		RateLimitPerMinute: model.DefaultRateLimitPerMinute,
		RateLimitPerHour:   model.DefaultRateLimitPerHour,
		RateLimitPerDay:    model.DefaultRateLimitPerDay,
		IsActive:           true,
	}
	for _, fn := range mutate {
		fn(q)
	}
	require.NoError(t, repository.NewQuotaRepositoryWithDB(db).Create(context.Background(), q))
	return q
}

// InsertUsage 直接写入一条调用记录，用于构造限流窗口
func InsertUsage(t testing.TB, db *sql.DB, q *model.Quota, status int) *model.UsageRecord {
	t.Helper()
	rec := &model.UsageRecord{
		RequestID:    uuid.NewString(),
		QuotaID:      q.ID,
		UserID:       q.UserID,
		ModelGroupID: q.ModelGroupID,
		ModelName:    "seeded",
		Method:       "POST",
		Endpoint:     "/v1/chat/completions",
		StatusCode:   status,
	}
	require.NoError(t, repository.NewUsageRecordRepositoryWithDB(db).Insert(context.Background(), db, rec))
	return rec
}

// Quota 重新读取预算记录
func Quota(t testing.TB, db *sql.DB, id string) *model.Quota {
	t.Helper()
	q, err := repository.NewQuotaRepositoryWithDB(db).GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, q)
	return q
}
