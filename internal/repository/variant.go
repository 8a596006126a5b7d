package repository

import (
	"context"
	"database/sql"

	"aigateway/internal/database"
	"aigateway/internal/model"
)

type VariantRepositoryInterface interface {
	Create(ctx context.Context, v *model.ModelVariant) error
	Upsert(ctx context.Context, v *model.ModelVariant, updatePrices bool) (created bool, err error)
	MarkUnavailableExcept(ctx context.Context, providerID string, names []string) (int64, error)
	GetByID(ctx context.Context, id string) (*model.ModelVariant, error)
	GetByProviderAndName(ctx context.Context, providerID, name string) (*model.ModelVariant, error)
	CountServable(ctx context.Context, name string) (int, error)
	ListGroupCandidates(ctx context.Context, groupID, name string) ([]*model.ModelVariant, error)
	ListByGroup(ctx context.Context, groupID string) ([]*model.ModelVariant, error)
}

var _ VariantRepositoryInterface = (*VariantRepository)(nil)

type VariantRepository struct {
	db *sql.DB
}

func NewVariantRepository() *VariantRepository {
	return &VariantRepository{db: database.GetDB()}
}

func NewVariantRepositoryWithDB(db *sql.DB) *VariantRepository {
	return &VariantRepository{db: db}
}

const variantColumns = `v.id, v.provider_id, v.name, v.display_name, v.external_id, v.input_price, v.output_price,
	v.context_length, v.max_output_tokens, v.model_type, v.capabilities_json, v.is_active, v.is_available,
	v.created_at, v.updated_at, p.name, p.format`

// servable 可对外提供服务的变体：自身启用、可用且提供商启用
const servable = `v.is_active = 1 AND v.is_available = 1 AND p.is_active = 1`

func (r *VariantRepository) Create(ctx context.Context, v *model.ModelVariant) error {
	if v.ID == "" {
		v.ID = newID()
	}
	r.applyDefaults(v)
	t := now()
	v.CreatedAt = t
	v.UpdatedAt = t
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO model_variants (id, provider_id, name, display_name, external_id, input_price, output_price,
		 context_length, max_output_tokens, model_type, capabilities_json, is_active, is_available, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ProviderID, v.Name, v.DisplayName, v.ExternalID, v.InputPrice.String(), v.OutputPrice.String(),
		v.ContextLength, v.MaxOutputTokens, v.ModelType, v.CapabilitiesJSON, v.IsActive, v.IsAvailable,
		v.CreatedAt, v.UpdatedAt,
	)
	return err
}

// Upsert 按 (provider_id, name) 写入目录同步结果；updatePrices 为 false 时保留已有价格
func (r *VariantRepository) Upsert(ctx context.Context, v *model.ModelVariant, updatePrices bool) (bool, error) {
	existing, err := r.GetByProviderAndName(ctx, v.ProviderID, v.Name)
	if err != nil {
		return false, err
	}
	if existing == nil {
		v.IsActive = true
		v.IsAvailable = true
		return true, r.Create(ctx, v)
	}

	r.applyDefaults(v)
	v.ID = existing.ID
	v.CreatedAt = existing.CreatedAt
	v.UpdatedAt = now()
	v.IsActive = existing.IsActive
	v.IsAvailable = true
	if !updatePrices {
		v.InputPrice = existing.InputPrice
		v.OutputPrice = existing.OutputPrice
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE model_variants SET display_name = ?, external_id = ?, input_price = ?, output_price = ?,
		 context_length = ?, max_output_tokens = ?, model_type = ?, capabilities_json = ?, is_available = 1, updated_at = ?
		 WHERE id = ?`,
		v.DisplayName, v.ExternalID, v.InputPrice.String(), v.OutputPrice.String(),
		v.ContextLength, v.MaxOutputTokens, v.ModelType, v.CapabilitiesJSON, v.UpdatedAt, v.ID,
	)
	return false, err
}

// MarkUnavailableExcept 将上游目录中已不存在的变体标记为不可用
func (r *VariantRepository) MarkUnavailableExcept(ctx context.Context, providerID string, names []string) (int64, error) {
	query := `UPDATE model_variants SET is_available = 0, updated_at = ? WHERE provider_id = ? AND is_available = 1`
	args := []any{now(), providerID}
	if len(names) > 0 {
		query += ` AND name NOT IN (?` + repeatPlaceholder(len(names)-1) + `)`
		for _, n := range names {
			args = append(args, n)
		}
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *VariantRepository) GetByID(ctx context.Context, id string) (*model.ModelVariant, error) {
	v, err := scanVariant(r.db.QueryRowContext(ctx,
		`SELECT `+variantColumns+` FROM model_variants v JOIN providers p ON p.id = v.provider_id WHERE v.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func (r *VariantRepository) GetByProviderAndName(ctx context.Context, providerID, name string) (*model.ModelVariant, error) {
	v, err := scanVariant(r.db.QueryRowContext(ctx,
		`SELECT `+variantColumns+` FROM model_variants v JOIN providers p ON p.id = v.provider_id
		 WHERE v.provider_id = ? AND v.name = ?`, providerID, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// CountServable 全目录中可服务的同名变体数量，用于区分“模型不存在”与“未开通”
func (r *VariantRepository) CountServable(ctx context.Context, name string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM model_variants v JOIN providers p ON p.id = v.provider_id
		 WHERE v.name = ? AND `+servable, name).Scan(&n)
	return n, err
}

// ListGroupCandidates 分组内可服务的同名变体
func (r *VariantRepository) ListGroupCandidates(ctx context.Context, groupID, name string) ([]*model.ModelVariant, error) {
	return r.list(ctx,
		`SELECT `+variantColumns+` FROM model_variants v
		 JOIN providers p ON p.id = v.provider_id
		 JOIN model_group_variants gv ON gv.variant_id = v.id
		 WHERE gv.group_id = ? AND v.name = ? AND `+servable+`
		 ORDER BY v.provider_id`, groupID, name)
}

// ListByGroup 分组内全部可服务变体，按名称、提供商排序
func (r *VariantRepository) ListByGroup(ctx context.Context, groupID string) ([]*model.ModelVariant, error) {
	return r.list(ctx,
		`SELECT `+variantColumns+` FROM model_variants v
		 JOIN providers p ON p.id = v.provider_id
		 JOIN model_group_variants gv ON gv.variant_id = v.id
		 WHERE gv.group_id = ? AND `+servable+`
		 ORDER BY v.name, v.provider_id`, groupID)
}

func (r *VariantRepository) list(ctx context.Context, query string, args ...any) ([]*model.ModelVariant, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var variants []*model.ModelVariant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

func (r *VariantRepository) applyDefaults(v *model.ModelVariant) {
	if v.DisplayName == "" {
		v.DisplayName = v.Name
	}
	if v.ContextLength <= 0 {
		v.ContextLength = 4096
	}
	if v.ModelType == "" {
		v.ModelType = "chat"
	}
	if v.CapabilitiesJSON == "" {
		v.CapabilitiesJSON = "{}"
	}
}

func scanVariant(s rowScanner) (*model.ModelVariant, error) {
	v := &model.ModelVariant{}
	var format string
	err := s.Scan(&v.ID, &v.ProviderID, &v.Name, &v.DisplayName, &v.ExternalID, &v.InputPrice, &v.OutputPrice,
		&v.ContextLength, &v.MaxOutputTokens, &v.ModelType, &v.CapabilitiesJSON, &v.IsActive, &v.IsAvailable,
		&v.CreatedAt, &v.UpdatedAt, &v.ProviderName, &format)
	if err != nil {
		return nil, err
	}
	v.ProviderFormat = model.ProviderFormat(format)
	return v, nil
}

func repeatPlaceholder(n int) string {
	s := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		s = append(s, ", ?"...)
	}
	return string(s)
}
