package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aigateway/internal/config"
	"aigateway/internal/model"
	"aigateway/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const upstreamBody = `{"id":"chatcmpl-1","object":"chat.completion","choices":[],"usage":{"prompt_tokens":10,"completion_tokens":20,"total_tokens":30}}`

type testServer struct {
	engine *gin.Engine
	app    *App
	quota  *model.Quota
	user   *model.User
	group  *model.ModelGroup
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models":
			_, _ = w.Write([]byte(`{"data":[{"id":"gpt-4o"}]}`))
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(upstreamBody))
		}
	}))
	t.Cleanup(up.Close)

	db := testutil.NewDB(t)
	user := testutil.CreateUser(t, db, "alice")
	p := testutil.CreateProvider(t, db, "p-main", "main", up.URL)
	group := testutil.CreateGroup(t, db, "default", testutil.CreateVariant(t, db, p.ID, "gpt-4o", "10", "30"))
	quota := testutil.CreateQuota(t, db, user.ID, group.ID, "1", "0")

	cfg := &config.Config{
		JWTSecret:             "test-secret",
		JWTIssuer:             "aigateway",
		JWTAudience:           "aigateway-admin",
		CORSAllowedOrigins:    "*",
		AlertThresholdPercent: 90,
		AlertQueueSize:        8,
		MaxRequestBodyBytes:   1024,
		StorePayloads:         true,
	}
	app, err := NewApp(cfg, db)
	require.NoError(t, err)

	token, err := app.JWT.GenerateToken("ops", time.Hour)
	require.NoError(t, err)

	return &testServer{
		engine: Setup(cfg, app),
		app:    app,
		quota:  quota,
		user:   user,
		group:  group,
		token:  token,
	}
}

func (s *testServer) do(method, path, auth string, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorKind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	errObj, ok := decode(t, w)["error"].(map[string]any)
	require.True(t, ok, w.Body.String())
	return errObj["type"].(string)
}

func TestChatCompletions(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/v1/chat/completions", s.quota.APIKey, `{"model":"gpt-4o","messages":[]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, upstreamBody, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	assert.Equal(t, "0.999300", w.Header().Get("X-Quota-Remaining"))

	q := testutil.Quota(t, s.app.DB, s.quota.ID)
	assert.True(t, q.UsedQuota.Equal(testutil.D("0.0007")))
}

func TestChatCompletions_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		auth   string
		body   string
		status int
		kind   string
	}{
		{"no key", "", `{"model":"gpt-4o"}`, http.StatusUnauthorized, "unauthenticated"},
		{"bad key", "sk-audit-unknown", `{"model":"gpt-4o"}`, http.StatusUnauthorized, "unauthenticated"},
		{"malformed body", s.quota.APIKey, `not json`, http.StatusBadRequest, "invalid_request"},
		{"missing model", s.quota.APIKey, `{"messages":[]}`, http.StatusBadRequest, "invalid_request"},
		{"unknown model", s.quota.APIKey, `{"model":"nope"}`, http.StatusBadRequest, "model_not_found"},
		{"too large", s.quota.APIKey, `{"model":"gpt-4o","pad":"` + strings.Repeat("x", 2048) + `"}`, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodPost, "/v1/chat/completions", tt.auth, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.kind, errorKind(t, w))
		})
	}
}

func TestChatCompletions_QuotaExhausted(t *testing.T) {
	s := newTestServer(t)
	_, err := s.app.DB.Exec(`UPDATE user_quotas SET used_quota_micros = total_quota_micros WHERE id = ?`, s.quota.ID)
	require.NoError(t, err)

	w := s.do(http.MethodPost, "/v1/chat/completions", s.quota.APIKey, `{"model":"gpt-4o"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "quota_exhausted", errorKind(t, w))
}

func TestListModels(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/v1/models", s.quota.APIKey, "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "list", body["object"])
	data := body["data"].([]any)
	require.Len(t, data, 1)
	m := data[0].(map[string]any)
	assert.Equal(t, "gpt-4o", m["id"])
	assert.Equal(t, "model", m["object"])
	assert.Equal(t, "main", m["owned_by"])
	assert.Equal(t, []any{}, m["permission"])
}

func TestUsage(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/v1/chat/completions", s.quota.APIKey, `{"model":"gpt-4o"}`).Code)

	w := s.do(http.MethodGet, "/v1/usage", s.quota.APIKey, "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "1", body["total"])
	assert.Equal(t, "0.0007", body["used"])
	assert.Equal(t, "0.9993", body["remaining"])
	assert.Equal(t, "default", body["group"])
	assert.Equal(t, float64(1), body["recentRequestCount"])
	assert.Equal(t, "0.0007", body["recentCost"])
	assert.Len(t, body["rateLimits"], 3)
}

func TestAdmin_RequiresToken(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/admin/quotas/"+s.quota.ID, "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 调用密钥不能访问管理接口
	w = s.do(http.MethodGet, "/admin/quotas/"+s.quota.ID, s.quota.APIKey, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/admin/quotas/"+s.quota.ID, s.token, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmin_QuotaLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/admin/quotas", s.token,
		`{"userId":"`+s.user.ID+`","modelGroupId":"`+s.group.ID+`","name":"ci","totalQuota":"5"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	issued := decode(t, w)
	key := issued["apiKey"].(string)
	id := issued["id"].(string)
	assert.True(t, strings.HasPrefix(key, "sk-audit-"))
	assert.Equal(t, "5", issued["totalQuota"])

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/v1/chat/completions", key, `{"model":"gpt-4o"}`).Code)

	require.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/admin/quotas/"+id, s.token, "").Code)
	w = s.do(http.MethodPost, "/v1/chat/completions", key, `{"model":"gpt-4o"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 删除后调用记录仍可查
	w = s.do(http.MethodGet, "/admin/quotas/"+id+"/usage-records", s.token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["records"], 1)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/admin/quotas/"+id+"/restore", s.token, "").Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/admin/quotas/"+id+"/reset", s.token, "").Code)

	w = s.do(http.MethodPost, "/admin/quotas/"+id+"/regenerate-key", s.token, "")
	require.Equal(t, http.StatusOK, w.Code)
	newKey := decode(t, w)["apiKey"].(string)
	assert.NotEqual(t, key, newKey)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/usage", key, "").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/usage", newKey, "").Code)

	w = s.do(http.MethodGet, "/admin/quotas/"+id+"/logs", s.token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["logs"], 5)
}

func TestAdmin_Errors(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/admin/quotas/missing", s.token, "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/admin/alerts/missing/resolve", s.token, "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/admin/providers/missing/sync", s.token, "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/admin/quotas", s.token, `{"name":"x"}`).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/admin/quotas", s.token,
		`{"userId":"nobody","modelGroupId":"`+s.group.ID+`"}`).Code)
}

func TestAdmin_Providers(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/admin/providers/p-main/test", s.token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])

	w = s.do(http.MethodPost, "/admin/providers/p-main/sync", s.token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["updated"])

	w = s.do(http.MethodPost, "/admin/providers/sync", s.token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["results"], 1)

	w = s.do(http.MethodGet, "/admin/alerts?unresolved=true", s.token, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["alerts"], 0)
}

func TestHealthzAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = s.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aigateway_http_requests_total")
}
