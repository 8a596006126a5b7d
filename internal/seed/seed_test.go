package seed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"aigateway/internal/crypto"
	"aigateway/internal/repository"
	"aigateway/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogYAML = `
providers:
  - id: openai
    name: openai
    format: openai
    base_url: https://api.openai.com/v1
    api_key: sk-live-upstream
    headers:
      OpenAI-Organization: org-123
  - name: router
    format: generic
    base_url: https://openrouter.ai/api/v1
    max_retries: 0
variants:
  - provider: openai
    name: gpt-4o
    external_id: gpt-4o-2024-08-06
    input_price: "2.5"
    output_price: "10"
  - provider: router
    name: gpt-4o
    input_price: "3"
    output_price: "12"
users:
  - username: alice
    email: alice@example.com
groups:
  - name: default
    default_quota: "10"
    public: true
    variants: [openai/gpt-4o, router/gpt-4o]
  - name: private
    variants: [router/gpt-4o]
    users: [alice]
keys:
  - user: alice
    group: default
    api_key: sk-audit-fixedfixedfixedfixedfixedfixed
    total_quota: "5"
  - user: alice
    group: private
`

func TestParse_Validation(t *testing.T) {
	_, err := Parse([]byte(catalogYAML))
	require.NoError(t, err)

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing base url", "providers:\n  - name: x\n", "BaseURL"},
		{"bad format", "providers:\n  - name: x\n    base_url: http://x\n    format: soap\n", "Format"},
		{"non numeric price", "variants:\n  - provider: p\n    name: m\n    input_price: cheap\n    output_price: \"1\"\n", "InputPrice"},
		{"bad key prefix", "keys:\n  - user: a\n    group: g\n    api_key: sk-other\n", "APIKey"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err = Parse([]byte("providers: [oops"))
	assert.Error(t, err)
}

func TestSeeder_Apply(t *testing.T) {
	db := testutil.NewDB(t)
	key, err := crypto.DeriveKey("seed-secret")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))
	f, err := Load(path)
	require.NoError(t, err)

	ctx := context.Background()
	res, err := NewSeeder(db, key).Apply(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Providers)
	assert.Equal(t, 2, res.Variants)
	assert.Equal(t, 2, res.Groups)
	assert.Equal(t, 1, res.Users)
	require.Len(t, res.Keys, 2)
	assert.Equal(t, "sk-audit-fixedfixedfixedfixedfixedfixed", res.Keys[0].APIKey)
	assert.True(t, strings.HasPrefix(res.Keys[1].APIKey, "sk-audit-"))

	providers := repository.NewProviderRepositoryWithDB(db, key)
	openai, err := providers.GetByName(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-live-upstream", openai.APIKey)
	assert.Equal(t, 3, openai.MaxRetries)
	assert.JSONEq(t, `{"OpenAI-Organization":"org-123"}`, openai.HeadersJSON)

	router, err := providers.GetByName(ctx, "router")
	require.NoError(t, err)
	assert.Equal(t, 0, router.MaxRetries)

	var stored string
	require.NoError(t, db.QueryRow(`SELECT api_key FROM providers WHERE id = 'openai'`).Scan(&stored))
	assert.True(t, crypto.IsEncrypted(stored))

	q, err := repository.NewQuotaRepositoryWithDB(db).GetActiveByAPIKey(ctx, "sk-audit-fixedfixedfixedfixedfixedfixed")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.True(t, q.TotalQuota.Equal(testutil.D("5")))
	assert.Equal(t, "default", q.GroupName)

	// 重复执行不会重复创建，固定密钥也不会重复签发
	res, err = NewSeeder(db, key).Apply(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Providers)
	assert.Equal(t, 0, res.Groups)
	assert.Equal(t, 0, res.Users)
	require.Len(t, res.Keys, 1)
}

func TestSeeder_UnknownReferences(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()

	f, err := Parse([]byte("variants:\n  - provider: ghost\n    name: m\n    input_price: \"1\"\n    output_price: \"1\"\n"))
	require.NoError(t, err)
	_, err = NewSeeder(db, nil).Apply(ctx, f)
	assert.ErrorContains(t, err, "unknown provider")

	f, err = Parse([]byte("groups:\n  - name: g\n    variants: [nope/m]\n"))
	require.NoError(t, err)
	_, err = NewSeeder(db, nil).Apply(ctx, f)
	assert.ErrorContains(t, err, "unknown variant")
}
