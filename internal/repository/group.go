package repository

import (
	"context"
	"database/sql"

	"aigateway/internal/database"
	"aigateway/internal/model"
)

type GroupRepositoryInterface interface {
	Create(ctx context.Context, group *model.ModelGroup) error
	GetByID(ctx context.Context, id string) (*model.ModelGroup, error)
	GetByName(ctx context.Context, name string) (*model.ModelGroup, error)
	AddVariant(ctx context.Context, groupID, variantID string) error
	AddUser(ctx context.Context, groupID, userID string) error
	HasUser(ctx context.Context, groupID, userID string) (bool, error)
}

var _ GroupRepositoryInterface = (*GroupRepository)(nil)

type GroupRepository struct {
	db *sql.DB
}

func NewGroupRepository() *GroupRepository {
	return &GroupRepository{db: database.GetDB()}
}

func NewGroupRepositoryWithDB(db *sql.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

const groupColumns = `id, name, description, default_quota_micros, is_public, is_active, created_at, updated_at`

func (r *GroupRepository) Create(ctx context.Context, group *model.ModelGroup) error {
	if group.ID == "" {
		group.ID = newID()
	}
	t := now()
	group.CreatedAt = t
	group.UpdatedAt = t

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO model_groups (`+groupColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		group.ID, group.Name, group.Description, model.DecimalToMicros(group.DefaultQuota),
		group.IsPublic, group.IsActive, group.CreatedAt, group.UpdatedAt,
	)
	return err
}

func (r *GroupRepository) GetByID(ctx context.Context, id string) (*model.ModelGroup, error) {
	return r.getOne(ctx, `SELECT `+groupColumns+` FROM model_groups WHERE id = ?`, id)
}

func (r *GroupRepository) GetByName(ctx context.Context, name string) (*model.ModelGroup, error) {
	return r.getOne(ctx, `SELECT `+groupColumns+` FROM model_groups WHERE name = ?`, name)
}

func (r *GroupRepository) getOne(ctx context.Context, query, arg string) (*model.ModelGroup, error) {
	group := &model.ModelGroup{}
	var defaultMicros int64
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&group.ID, &group.Name, &group.Description, &defaultMicros,
		&group.IsPublic, &group.IsActive, &group.CreatedAt, &group.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	group.DefaultQuota = model.MicrosToDecimal(defaultMicros)
	return group, nil
}

func (r *GroupRepository) AddVariant(ctx context.Context, groupID, variantID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO model_group_variants (group_id, variant_id) VALUES (?, ?)`, groupID, variantID)
	return err
}

func (r *GroupRepository) AddUser(ctx context.Context, groupID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO model_group_users (group_id, user_id) VALUES (?, ?)`, groupID, userID)
	return err
}

func (r *GroupRepository) HasUser(ctx context.Context, groupID, userID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM model_group_users WHERE group_id = ? AND user_id = ?`, groupID, userID).Scan(&n)
	return n > 0, err
}
