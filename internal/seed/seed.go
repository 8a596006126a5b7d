// Package seed 从 YAML 文件初始化提供商、变体、分组、用户与密钥
package seed

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"aigateway/internal/model"
	"aigateway/internal/repository"
	"aigateway/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const defaultMaxRetries = 3

type File struct {
	Providers []Provider `yaml:"providers" validate:"dive"`
	Variants  []Variant  `yaml:"variants" validate:"dive"`
	Groups    []Group    `yaml:"groups" validate:"dive"`
	Users     []User     `yaml:"users" validate:"dive"`
	Keys      []Key      `yaml:"keys" validate:"dive"`
}

type Provider struct {
	ID             string            `yaml:"id"`
	Name           string            `yaml:"name" validate:"required"`
	Format         string            `yaml:"format" validate:"omitempty,oneof=openai anthropic generic"`
	BaseURL        string            `yaml:"base_url" validate:"required,url"`
	APIKey         string            `yaml:"api_key"`
	Headers        map[string]string `yaml:"headers"`
	TimeoutSeconds int               `yaml:"timeout_seconds" validate:"gte=0"`
	MaxRetries     *int              `yaml:"max_retries" validate:"omitempty,gte=0,lte=10"`
	Disabled       bool              `yaml:"disabled"`
}

type Variant struct {
	Provider        string `yaml:"provider" validate:"required"`
	Name            string `yaml:"name" validate:"required"`
	DisplayName     string `yaml:"display_name"`
	ExternalID      string `yaml:"external_id"`
	InputPrice      string `yaml:"input_price" validate:"required,numeric"`
	OutputPrice     string `yaml:"output_price" validate:"required,numeric"`
	ContextLength   int    `yaml:"context_length" validate:"gte=0"`
	MaxOutputTokens int    `yaml:"max_output_tokens" validate:"gte=0"`
}

type Group struct {
	Name         string   `yaml:"name" validate:"required"`
	Description  string   `yaml:"description"`
	DefaultQuota string   `yaml:"default_quota" validate:"omitempty,numeric"`
	Public       bool     `yaml:"public"`
	Variants     []string `yaml:"variants" validate:"dive,required"`
	Users        []string `yaml:"users" validate:"dive,required"`
}

type User struct {
	Username string `yaml:"username" validate:"required"`
	Email    string `yaml:"email" validate:"omitempty,email"`
}

type Key struct {
	User               string `yaml:"user" validate:"required"`
	Group              string `yaml:"group" validate:"required"`
	Name               string `yaml:"name"`
	APIKey             string `yaml:"api_key" validate:"omitempty,startswith=sk-audit-"`
	TotalQuota         string `yaml:"total_quota" validate:"omitempty,numeric"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute" validate:"gte=0"`
	RateLimitPerHour   int    `yaml:"rate_limit_per_hour" validate:"gte=0"`
	RateLimitPerDay    int    `yaml:"rate_limit_per_day" validate:"gte=0"`
}

// IssuedKey 本次新建的密钥，明文仅此一次可见
type IssuedKey struct {
	User   string
	Group  string
	APIKey string
}

type Result struct {
	Providers int
	Variants  int
	Groups    int
	Users     int
	Keys      []IssuedKey
}

var validate = validator.New()

// Load 读取并校验 YAML
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %q: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("seed: parse: %w", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("seed: invalid file: %s", describe(err))
	}
	return &f, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// Seeder 按名称查重，已存在的提供商、分组、用户不会被覆盖；变体价格以文件为准
type Seeder struct {
	providers *repository.ProviderRepository
	variants  *repository.VariantRepository
	groups    *repository.GroupRepository
	users     *repository.UserRepository
	quotas    *repository.QuotaRepository
	admin     *service.AdminService
}

func NewSeeder(db *sql.DB, encryptionKey []byte) *Seeder {
	return &Seeder{
		providers: repository.NewProviderRepositoryWithDB(db, encryptionKey),
		variants:  repository.NewVariantRepositoryWithDB(db),
		groups:    repository.NewGroupRepositoryWithDB(db),
		users:     repository.NewUserRepositoryWithDB(db),
		quotas:    repository.NewQuotaRepositoryWithDB(db),
		admin:     service.NewAdminServiceWithDB(db),
	}
}

func (s *Seeder) Apply(ctx context.Context, f *File) (*Result, error) {
	res := &Result{}

	providerIDs := make(map[string]string, len(f.Providers))
	for _, p := range f.Providers {
		id, created, err := s.ensureProvider(ctx, p)
		if err != nil {
			return res, err
		}
		providerIDs[p.Name] = id
		if created {
			res.Providers++
		}
	}

	variantIDs := make(map[string]string, len(f.Variants))
	for _, v := range f.Variants {
		id, err := s.upsertVariant(ctx, providerIDs, v)
		if err != nil {
			return res, err
		}
		variantIDs[v.Provider+"/"+v.Name] = id
		res.Variants++
	}

	userIDs := make(map[string]string, len(f.Users))
	for _, u := range f.Users {
		id, created, err := s.ensureUser(ctx, u)
		if err != nil {
			return res, err
		}
		userIDs[u.Username] = id
		if created {
			res.Users++
		}
	}

	groupIDs := make(map[string]string, len(f.Groups))
	for _, g := range f.Groups {
		id, created, err := s.ensureGroup(ctx, g, variantIDs, userIDs)
		if err != nil {
			return res, err
		}
		groupIDs[g.Name] = id
		if created {
			res.Groups++
		}
	}

	for _, k := range f.Keys {
		issued, err := s.issueKey(ctx, k, userIDs, groupIDs)
		if err != nil {
			return res, err
		}
		if issued != nil {
			res.Keys = append(res.Keys, *issued)
		}
	}
	return res, nil
}

func (s *Seeder) ensureProvider(ctx context.Context, p Provider) (string, bool, error) {
	existing, err := s.providers.GetByName(ctx, p.Name)
	if err != nil {
		return "", false, fmt.Errorf("seed: provider %s: %w", p.Name, err)
	}
	if existing != nil {
		log.WithField("provider", p.Name).Info("seed: provider exists, skipping")
		return existing.ID, false, nil
	}

	headers := "{}"
	if len(p.Headers) > 0 {
		b, err := json.Marshal(p.Headers)
		if err != nil {
			return "", false, fmt.Errorf("seed: provider %s headers: %w", p.Name, err)
		}
		headers = string(b)
	}
	maxRetries := defaultMaxRetries
	if p.MaxRetries != nil {
		maxRetries = *p.MaxRetries
	}
	format := model.ProviderFormat(p.Format)
	if format == "" {
		format = model.ProviderFormatOpenAI
	}

	mp := &model.Provider{
		ID:             p.ID,
		Name:           p.Name,
		Format:         format,
		BaseURL:        p.BaseURL,
		APIKey:         p.APIKey,
		HeadersJSON:    headers,
		TimeoutSeconds: p.TimeoutSeconds,
		MaxRetries:     maxRetries,
		IsActive:       !p.Disabled,
	}
	if err := s.providers.Create(ctx, mp); err != nil {
		return "", false, fmt.Errorf("seed: create provider %s: %w", p.Name, err)
	}
	return mp.ID, true, nil
}

func (s *Seeder) upsertVariant(ctx context.Context, providerIDs map[string]string, v Variant) (string, error) {
	providerID, ok := providerIDs[v.Provider]
	if !ok {
		p, err := s.providers.GetByName(ctx, v.Provider)
		if err != nil {
			return "", fmt.Errorf("seed: variant %s: %w", v.Name, err)
		}
		if p == nil {
			return "", fmt.Errorf("seed: variant %s: unknown provider %q", v.Name, v.Provider)
		}
		providerID = p.ID
	}

	in, err := parseAmount(v.InputPrice)
	if err != nil {
		return "", fmt.Errorf("seed: variant %s input_price: %w", v.Name, err)
	}
	out, err := parseAmount(v.OutputPrice)
	if err != nil {
		return "", fmt.Errorf("seed: variant %s output_price: %w", v.Name, err)
	}

	mv := &model.ModelVariant{
		ProviderID:      providerID,
		Name:            v.Name,
		DisplayName:     v.DisplayName,
		ExternalID:      v.ExternalID,
		InputPrice:      in,
		OutputPrice:     out,
		ContextLength:   v.ContextLength,
		MaxOutputTokens: v.MaxOutputTokens,
	}
	if _, err := s.variants.Upsert(ctx, mv, true); err != nil {
		return "", fmt.Errorf("seed: variant %s: %w", v.Name, err)
	}
	return mv.ID, nil
}

func (s *Seeder) ensureUser(ctx context.Context, u User) (string, bool, error) {
	existing, err := s.users.GetByUsername(ctx, u.Username)
	if err != nil {
		return "", false, fmt.Errorf("seed: user %s: %w", u.Username, err)
	}
	if existing != nil {
		return existing.ID, false, nil
	}
	mu := &model.User{Username: u.Username, Email: u.Email, IsActive: true}
	if err := s.users.Create(ctx, mu); err != nil {
		return "", false, fmt.Errorf("seed: create user %s: %w", u.Username, err)
	}
	return mu.ID, true, nil
}

// ensureGroup 变体以 provider/name 引用
func (s *Seeder) ensureGroup(ctx context.Context, g Group, variantIDs, userIDs map[string]string) (string, bool, error) {
	existing, err := s.groups.GetByName(ctx, g.Name)
	if err != nil {
		return "", false, fmt.Errorf("seed: group %s: %w", g.Name, err)
	}

	created := false
	if existing == nil {
		defaultQuota := decimal.Zero
		if g.DefaultQuota != "" {
			if defaultQuota, err = parseAmount(g.DefaultQuota); err != nil {
				return "", false, fmt.Errorf("seed: group %s default_quota: %w", g.Name, err)
			}
		}
		existing = &model.ModelGroup{
			Name:         g.Name,
			Description:  g.Description,
			DefaultQuota: defaultQuota,
			IsPublic:     g.Public,
			IsActive:     true,
		}
		if err := s.groups.Create(ctx, existing); err != nil {
			return "", false, fmt.Errorf("seed: create group %s: %w", g.Name, err)
		}
		created = true
	}

	for _, ref := range g.Variants {
		id, ok := variantIDs[ref]
		if !ok {
			return "", false, fmt.Errorf("seed: group %s: unknown variant %q", g.Name, ref)
		}
		if err := s.groups.AddVariant(ctx, existing.ID, id); err != nil {
			return "", false, fmt.Errorf("seed: group %s: add variant: %w", g.Name, err)
		}
	}
	for _, username := range g.Users {
		id, ok := userIDs[username]
		if !ok {
			return "", false, fmt.Errorf("seed: group %s: unknown user %q", g.Name, username)
		}
		if err := s.groups.AddUser(ctx, existing.ID, id); err != nil {
			return "", false, fmt.Errorf("seed: group %s: add user: %w", g.Name, err)
		}
	}
	return existing.ID, created, nil
}

// issueKey 指定 api_key 的密钥已存在时跳过；未指定时每次新签发
func (s *Seeder) issueKey(ctx context.Context, k Key, userIDs, groupIDs map[string]string) (*IssuedKey, error) {
	userID, ok := userIDs[k.User]
	if !ok {
		return nil, fmt.Errorf("seed: key: unknown user %q", k.User)
	}
	groupID, ok := groupIDs[k.Group]
	if !ok {
		return nil, fmt.Errorf("seed: key: unknown group %q", k.Group)
	}

	req := &model.IssueQuotaRequest{
		UserID:             userID,
		ModelGroupID:       groupID,
		Name:               k.Name,
		RateLimitPerMinute: k.RateLimitPerMinute,
		RateLimitPerHour:   k.RateLimitPerHour,
		RateLimitPerDay:    k.RateLimitPerDay,
	}
	if k.TotalQuota != "" {
		total, err := parseAmount(k.TotalQuota)
		if err != nil {
			return nil, fmt.Errorf("seed: key total_quota: %w", err)
		}
		req.TotalQuota = &total
	}

	if k.APIKey != "" {
		existing, err := s.quotas.GetActiveByAPIKey(ctx, k.APIKey)
		if err != nil {
			return nil, fmt.Errorf("seed: key lookup: %w", err)
		}
		if existing != nil {
			return nil, nil
		}
	}

	quota, err := s.admin.IssueQuota(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("seed: issue key for %s/%s: %w", k.User, k.Group, err)
	}
	if k.APIKey != "" {
		if err := s.quotas.UpdateAPIKey(ctx, s.quotas.DB(), quota.ID, k.APIKey); err != nil {
			return nil, fmt.Errorf("seed: set fixed key: %w", err)
		}
		quota.APIKey = k.APIKey
	}
	return &IssuedKey{User: k.User, Group: k.Group, APIKey: quota.APIKey}, nil
}

// parseAmount 金额与单价不允许为负
func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("must not be negative: %s", s)
	}
	return d, nil
}
