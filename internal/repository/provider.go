package repository

import (
	"context"
	"database/sql"
	"fmt"

	"aigateway/internal/config"
	"aigateway/internal/crypto"
	"aigateway/internal/database"
	"aigateway/internal/model"

	log "github.com/sirupsen/logrus"
)

type ProviderRepositoryInterface interface {
	Create(ctx context.Context, p *model.Provider) error
	GetByID(ctx context.Context, id string) (*model.Provider, error)
	GetByName(ctx context.Context, name string) (*model.Provider, error)
	ListActive(ctx context.Context) ([]*model.Provider, error)
}

var _ ProviderRepositoryInterface = (*ProviderRepository)(nil)

// ProviderRepository 上游凭据在配置了加密密钥时以 AES-GCM 密文落库
type ProviderRepository struct {
	db  *sql.DB
	key []byte
}

func NewProviderRepository() *ProviderRepository {
	key, err := crypto.DeriveKey(config.Get().EncryptionSecret)
	if err != nil {
		log.Warnf("provider repo: derive encryption key failed, storing credentials as plaintext: %v", err)
	}
	return &ProviderRepository{db: database.GetDB(), key: key}
}

func NewProviderRepositoryWithDB(db *sql.DB, key []byte) *ProviderRepository {
	return &ProviderRepository{db: db, key: key}
}

const providerColumns = `id, name, format, base_url, api_key, headers_json, timeout_seconds, max_retries, is_active, created_at, updated_at`

func (r *ProviderRepository) Create(ctx context.Context, p *model.Provider) error {
	if p.ID == "" {
		p.ID = newID()
	}
	if p.Format == "" {
		p.Format = model.ProviderFormatGeneric
	}
	if p.HeadersJSON == "" {
		p.HeadersJSON = "{}"
	}
	if p.TimeoutSeconds <= 0 {
		p.TimeoutSeconds = 30
	}
	t := now()
	p.CreatedAt = t
	p.UpdatedAt = t

	sealed, err := crypto.SealString(p.APIKey, r.key)
	if err != nil {
		return fmt.Errorf("provider repo: seal credential: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO providers (`+providerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, string(p.Format), p.BaseURL, sealed, p.HeadersJSON,
		p.TimeoutSeconds, p.MaxRetries, p.IsActive, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (r *ProviderRepository) GetByID(ctx context.Context, id string) (*model.Provider, error) {
	return r.getOne(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = ?`, id)
}

func (r *ProviderRepository) GetByName(ctx context.Context, name string) (*model.Provider, error) {
	return r.getOne(ctx, `SELECT `+providerColumns+` FROM providers WHERE name = ?`, name)
}

func (r *ProviderRepository) ListActive(ctx context.Context) ([]*model.Provider, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+providerColumns+` FROM providers WHERE is_active = 1 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []*model.Provider
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

func (r *ProviderRepository) getOne(ctx context.Context, query, arg string) (*model.Provider, error) {
	p, err := r.scan(r.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (r *ProviderRepository) scan(s rowScanner) (*model.Provider, error) {
	p := &model.Provider{}
	var format, apiKey string
	err := s.Scan(&p.ID, &p.Name, &format, &p.BaseURL, &apiKey, &p.HeadersJSON,
		&p.TimeoutSeconds, &p.MaxRetries, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Format = model.ProviderFormat(format)
	p.APIKey, err = crypto.OpenString(apiKey, r.key)
	if err != nil {
		return nil, fmt.Errorf("provider repo: open credential for %s: %w", p.Name, err)
	}
	return p, nil
}
