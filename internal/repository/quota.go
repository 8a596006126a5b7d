package repository

import (
	"context"
	"database/sql"
	"errors"

	"aigateway/internal/database"
	"aigateway/internal/model"
)

var ErrQuotaNotFound = errors.New("quota not found")

type QuotaRepositoryInterface interface {
	Create(ctx context.Context, q *model.Quota) error
	GetByID(ctx context.Context, id string) (*model.Quota, error)
	GetActiveByAPIKey(ctx context.Context, apiKey string) (*model.Quota, error)
	GetBalanceMicros(ctx context.Context, exec DBTX, id string) (used, total int64, err error)
	Debit(ctx context.Context, exec DBTX, id string, micros int64) (bool, error)
	SoftDelete(ctx context.Context, exec DBTX, id string) error
	Restore(ctx context.Context, exec DBTX, id string) error
	ResetUsage(ctx context.Context, exec DBTX, id string) error
	UpdateAPIKey(ctx context.Context, exec DBTX, id, apiKey string) error
}

var _ QuotaRepositoryInterface = (*QuotaRepository)(nil)

type QuotaRepository struct {
	db *sql.DB
}

func NewQuotaRepository() *QuotaRepository {
	return &QuotaRepository{db: database.GetDB()}
}

func NewQuotaRepositoryWithDB(db *sql.DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

// DB 供需要开启事务的服务使用
func (r *QuotaRepository) DB() *sql.DB {
	return r.db
}

const quotaColumns = `q.id, q.user_id, q.model_group_id, q.name, q.description, q.api_key,
	q.total_quota_micros, q.used_quota_micros, q.rate_limit_per_minute, q.rate_limit_per_hour, q.rate_limit_per_day,
	q.is_active, q.deleted_at, q.created_at, q.updated_at, g.name`

func (r *QuotaRepository) Create(ctx context.Context, q *model.Quota) error {
	if q.ID == "" {
		q.ID = newID()
	}
	if q.APIKey == "" {
		return errors.New("quota repo: api key required")
	}
	t := now()
	q.CreatedAt = t
	q.UpdatedAt = t

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_quotas (id, user_id, model_group_id, name, description, api_key,
		 total_quota_micros, used_quota_micros, rate_limit_per_minute, rate_limit_per_hour, rate_limit_per_day,
		 is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.UserID, q.ModelGroupID, q.Name, q.Description, q.APIKey,
		model.DecimalToMicros(q.TotalQuota), model.DecimalToMicros(q.UsedQuota),
		q.RateLimitPerMinute, q.RateLimitPerHour, q.RateLimitPerDay,
		q.IsActive, q.CreatedAt, q.UpdatedAt,
	)
	return err
}

// GetByID 包含已软删除的记录，历史审计需要
func (r *QuotaRepository) GetByID(ctx context.Context, id string) (*model.Quota, error) {
	q, err := scanQuota(r.db.QueryRowContext(ctx,
		`SELECT `+quotaColumns+` FROM user_quotas q JOIN model_groups g ON g.id = q.model_group_id WHERE q.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return q, err
}

// GetActiveByAPIKey 鉴权查询：命中唯一索引 api_key，要求密钥与归属用户均启用且未删除
func (r *QuotaRepository) GetActiveByAPIKey(ctx context.Context, apiKey string) (*model.Quota, error) {
	q, err := scanQuota(r.db.QueryRowContext(ctx,
		`SELECT `+quotaColumns+` FROM user_quotas q
		 JOIN users u ON u.id = q.user_id
		 JOIN model_groups g ON g.id = q.model_group_id
		 WHERE q.api_key = ? AND q.is_active = 1 AND q.deleted_at IS NULL AND u.is_active = 1`, apiKey))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return q, err
}

func (r *QuotaRepository) GetBalanceMicros(ctx context.Context, exec DBTX, id string) (int64, int64, error) {
	var used, total int64
	err := exec.QueryRowContext(ctx,
		`SELECT used_quota_micros, total_quota_micros FROM user_quotas WHERE id = ?`, id).Scan(&used, &total)
	if err == sql.ErrNoRows {
		return 0, 0, ErrQuotaNotFound
	}
	return used, total, err
}

// Debit 条件扣减：检查与累加在同一条 UPDATE 内完成，余额不足时不修改任何行并返回 false
func (r *QuotaRepository) Debit(ctx context.Context, exec DBTX, id string, micros int64) (bool, error) {
	res, err := exec.ExecContext(ctx,
		`UPDATE user_quotas SET used_quota_micros = used_quota_micros + ?, updated_at = ?
		 WHERE id = ? AND is_active = 1 AND deleted_at IS NULL AND used_quota_micros + ? <= total_quota_micros`,
		micros, now(), id, micros,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *QuotaRepository) SoftDelete(ctx context.Context, exec DBTX, id string) error {
	t := now()
	return expectOne(exec.ExecContext(ctx,
		`UPDATE user_quotas SET is_active = 0, deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		t, t, id))
}

func (r *QuotaRepository) Restore(ctx context.Context, exec DBTX, id string) error {
	return expectOne(exec.ExecContext(ctx,
		`UPDATE user_quotas SET is_active = 1, deleted_at = NULL, updated_at = ? WHERE id = ?`, now(), id))
}

func (r *QuotaRepository) ResetUsage(ctx context.Context, exec DBTX, id string) error {
	return expectOne(exec.ExecContext(ctx,
		`UPDATE user_quotas SET used_quota_micros = 0, updated_at = ? WHERE id = ?`, now(), id))
}

func (r *QuotaRepository) UpdateAPIKey(ctx context.Context, exec DBTX, id, apiKey string) error {
	return expectOne(exec.ExecContext(ctx,
		`UPDATE user_quotas SET api_key = ?, updated_at = ? WHERE id = ?`, apiKey, now(), id))
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrQuotaNotFound
	}
	return nil
}

func scanQuota(s rowScanner) (*model.Quota, error) {
	q := &model.Quota{}
	var total, used int64
	var deletedAt sql.NullTime
	err := s.Scan(&q.ID, &q.UserID, &q.ModelGroupID, &q.Name, &q.Description, &q.APIKey,
		&total, &used, &q.RateLimitPerMinute, &q.RateLimitPerHour, &q.RateLimitPerDay,
		&q.IsActive, &deletedAt, &q.CreatedAt, &q.UpdatedAt, &q.GroupName)
	if err != nil {
		return nil, err
	}
	q.TotalQuota = model.MicrosToDecimal(total)
	q.UsedQuota = model.MicrosToDecimal(used)
	q.DeletedAt = nullTimePtr(deletedAt)
	return q, nil
}
