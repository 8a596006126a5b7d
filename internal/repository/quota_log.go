package repository

import (
	"context"
	"database/sql"

	"aigateway/internal/database"
	"aigateway/internal/model"
)

type QuotaLogRepositoryInterface interface {
	Insert(ctx context.Context, exec DBTX, entry *model.QuotaUsageLog) error
	ListByQuota(ctx context.Context, quotaID string, limit int) ([]*model.QuotaUsageLog, error)
}

var _ QuotaLogRepositoryInterface = (*QuotaLogRepository)(nil)

type QuotaLogRepository struct {
	db *sql.DB
}

func NewQuotaLogRepository() *QuotaLogRepository {
	return &QuotaLogRepository{db: database.GetDB()}
}

func NewQuotaLogRepositoryWithDB(db *sql.DB) *QuotaLogRepository {
	return &QuotaLogRepository{db: db}
}

func (r *QuotaLogRepository) Insert(ctx context.Context, exec DBTX, entry *model.QuotaUsageLog) error {
	if entry.ID == "" {
		entry.ID = newID()
	}
	entry.CreatedAt = now()
	_, err := exec.ExecContext(ctx,
		`INSERT INTO quota_usage_logs (id, quota_id, action, amount_micros, remaining_micros, request_id, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.QuotaID, string(entry.Action), model.DecimalToMicros(entry.Amount),
		model.DecimalToMicros(entry.Remaining), entry.RequestID, entry.Description, entry.CreatedAt,
	)
	return err
}

func (r *QuotaLogRepository) ListByQuota(ctx context.Context, quotaID string, limit int) ([]*model.QuotaUsageLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, quota_id, action, amount_micros, remaining_micros, request_id, description, created_at
		 FROM quota_usage_logs WHERE quota_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, quotaID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*model.QuotaUsageLog
	for rows.Next() {
		entry := &model.QuotaUsageLog{}
		var action string
		var amount, remaining int64
		if err := rows.Scan(&entry.ID, &entry.QuotaID, &action, &amount, &remaining,
			&entry.RequestID, &entry.Description, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Action = model.QuotaLogAction(action)
		entry.Amount = model.MicrosToDecimal(amount)
		entry.Remaining = model.MicrosToDecimal(remaining)
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
