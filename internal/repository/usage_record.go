package repository

import (
	"context"
	"database/sql"
	"time"

	"aigateway/internal/database"
	"aigateway/internal/model"
)

type UsageRecordRepositoryInterface interface {
	Insert(ctx context.Context, exec DBTX, rec *model.UsageRecord) error
	CountWindows(ctx context.Context, quotaID string, now time.Time, windows []time.Duration) ([]int, error)
	ListRecent(ctx context.Context, quotaID string, limit int) ([]*model.UsageRecord, error)
	GetByRequestID(ctx context.Context, requestID string) (*model.UsageRecord, error)
}

var _ UsageRecordRepositoryInterface = (*UsageRecordRepository)(nil)

type UsageRecordRepository struct {
	db *sql.DB
}

func NewUsageRecordRepository() *UsageRecordRepository {
	return &UsageRecordRepository{db: database.GetDB()}
}

func NewUsageRecordRepositoryWithDB(db *sql.DB) *UsageRecordRepository {
	return &UsageRecordRepository{db: db}
}

const usageColumns = `id, request_id, quota_id, user_id, variant_id, provider_id, model_group_id, model_name,
	method, endpoint, request_body, response_body, input_tokens, output_tokens, total_tokens,
	input_cost_micros, output_cost_micros, total_cost_micros, status_code, duration_ms,
	ip_address, user_agent, error_type, error_message, created_at`

// Insert 追加一条审计记录，exec 可以是事务
func (r *UsageRecordRepository) Insert(ctx context.Context, exec DBTX, rec *model.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = newID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	_, err := exec.ExecContext(ctx,
		`INSERT INTO usage_records (`+usageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestID, rec.QuotaID, rec.UserID, rec.VariantID, rec.ProviderID, rec.ModelGroupID, rec.ModelName,
		rec.Method, rec.Endpoint, rec.RequestBody, rec.ResponseBody, rec.InputTokens, rec.OutputTokens, rec.TotalTokens,
		model.DecimalToMicros(rec.InputCost), model.DecimalToMicros(rec.OutputCost), model.DecimalToMicros(rec.TotalCost),
		rec.StatusCode, rec.DurationMs, rec.IPAddress, rec.UserAgent, rec.ErrorType, rec.ErrorMessage, rec.CreatedAt,
	)
	return err
}

// CountWindows 一次范围扫描统计多个滑动窗口内的请求数，结果顺序与 windows 一致
func (r *UsageRecordRepository) CountWindows(ctx context.Context, quotaID string, now time.Time, windows []time.Duration) ([]int, error) {
	if len(windows) == 0 {
		return nil, nil
	}
	now = now.UTC()

	var longest time.Duration
	query := `SELECT `
	args := make([]any, 0, len(windows)+2)
	for i, w := range windows {
		if i > 0 {
			query += `, `
		}
		query += `COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)`
		args = append(args, now.Add(-w))
		if w > longest {
			longest = w
		}
	}
	query += ` FROM usage_records WHERE quota_id = ? AND created_at >= ?`
	args = append(args, quotaID, now.Add(-longest))

	counts := make([]int, len(windows))
	dest := make([]any, len(windows))
	for i := range counts {
		dest[i] = &counts[i]
	}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(dest...); err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *UsageRecordRepository) ListRecent(ctx context.Context, quotaID string, limit int) ([]*model.UsageRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+usageColumns+` FROM usage_records WHERE quota_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		quotaID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*model.UsageRecord
	for rows.Next() {
		rec, err := scanUsageRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *UsageRecordRepository) GetByRequestID(ctx context.Context, requestID string) (*model.UsageRecord, error) {
	rec, err := scanUsageRecord(r.db.QueryRowContext(ctx,
		`SELECT `+usageColumns+` FROM usage_records WHERE request_id = ?`, requestID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func scanUsageRecord(s rowScanner) (*model.UsageRecord, error) {
	rec := &model.UsageRecord{}
	var inCost, outCost, totalCost int64
	err := s.Scan(&rec.ID, &rec.RequestID, &rec.QuotaID, &rec.UserID, &rec.VariantID, &rec.ProviderID,
		&rec.ModelGroupID, &rec.ModelName, &rec.Method, &rec.Endpoint, &rec.RequestBody, &rec.ResponseBody,
		&rec.InputTokens, &rec.OutputTokens, &rec.TotalTokens, &inCost, &outCost, &totalCost,
		&rec.StatusCode, &rec.DurationMs, &rec.IPAddress, &rec.UserAgent, &rec.ErrorType, &rec.ErrorMessage,
		&rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.InputCost = model.MicrosToDecimal(inCost)
	rec.OutputCost = model.MicrosToDecimal(outCost)
	rec.TotalCost = model.MicrosToDecimal(totalCost)
	return rec, nil
}
