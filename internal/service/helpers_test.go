package service

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"aigateway/internal/model"
	"aigateway/internal/repository"
	"aigateway/internal/testutil"
	"aigateway/internal/upstream"

	"github.com/stretchr/testify/require"
)

const usageBody = `{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hi"}}],"usage":{"prompt_tokens":10,"completion_tokens":20,"total_tokens":30}}`

type gatewayEnv struct {
	db       *sql.DB
	gateway  *GatewayService
	user     *model.User
	group    *model.ModelGroup
	provider *model.Provider
	variant  *model.ModelVariant
	quota    *model.Quota
}

// newGatewayEnv 单提供商、单变体（gpt-4o，10/30 每百万）、额度 1.0 的环境
func newGatewayEnv(t *testing.T, handler http.HandlerFunc) *gatewayEnv {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	db := testutil.NewDB(t)
	user := testutil.CreateUser(t, db, "alice")
	provider := testutil.CreateProvider(t, db, "p-main", "main", srv.URL)
	variant := testutil.CreateVariant(t, db, provider.ID, "gpt-4o", "10", "30")
	group := testutil.CreateGroup(t, db, "default", variant)
	quota := testutil.CreateQuota(t, db, user.ID, group.ID, "1", "0")

	return &gatewayEnv{
		db:       db,
		gateway:  newTestGateway(db),
		user:     user,
		group:    group,
		provider: provider,
		variant:  variant,
		quota:    quota,
	}
}

func newTestGateway(db *sql.DB) *GatewayService {
	return NewGatewayService(db, repository.NewProviderRepositoryWithDB(db, nil), upstream.NewClient(), nil, true)
}

func chatRequest(modelName string) GatewayRequest {
	return GatewayRequest{
		Body:      []byte(`{"model":"` + modelName + `","messages":[{"role":"user","content":"hi"}]}`),
		Method:    http.MethodPost,
		Endpoint:  "/v1/chat/completions",
		IPAddress: "203.0.113.7",
		UserAgent: "test-agent",
	}
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(usageBody))
}

func listUsage(t *testing.T, db *sql.DB, quotaID string) []*model.UsageRecord {
	t.Helper()
	records, err := repository.NewUsageRecordRepositoryWithDB(db).ListRecent(context.Background(), quotaID, 100)
	require.NoError(t, err)
	return records
}

func exec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	_, err := db.Exec(query, args...)
	require.NoError(t, err)
}
