package repository

import (
	"context"
	"database/sql"

	"aigateway/internal/database"
	"aigateway/internal/model"
)

type ProviderLogRepositoryInterface interface {
	Create(ctx context.Context, entry *model.ProviderLog) error
	ListByProvider(ctx context.Context, providerID string, limit int) ([]*model.ProviderLog, error)
}

var _ ProviderLogRepositoryInterface = (*ProviderLogRepository)(nil)

type ProviderLogRepository struct {
	db *sql.DB
}

func NewProviderLogRepository() *ProviderLogRepository {
	return &ProviderLogRepository{db: database.GetDB()}
}

func NewProviderLogRepositoryWithDB(db *sql.DB) *ProviderLogRepository {
	return &ProviderLogRepository{db: db}
}

func (r *ProviderLogRepository) Create(ctx context.Context, entry *model.ProviderLog) error {
	if entry.ID == "" {
		entry.ID = newID()
	}
	if entry.DetailsJSON == "" {
		entry.DetailsJSON = "{}"
	}
	entry.CreatedAt = now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO provider_logs (id, provider_id, action, success, duration_ms, error_message, details_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ProviderID, string(entry.Action), entry.Success, entry.DurationMs,
		entry.ErrorMessage, entry.DetailsJSON, entry.CreatedAt,
	)
	return err
}

func (r *ProviderLogRepository) ListByProvider(ctx context.Context, providerID string, limit int) ([]*model.ProviderLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, provider_id, action, success, duration_ms, error_message, details_json, created_at
		 FROM provider_logs WHERE provider_id = ? ORDER BY created_at DESC LIMIT ?`, providerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*model.ProviderLog
	for rows.Next() {
		e := &model.ProviderLog{}
		var action string
		if err := rows.Scan(&e.ID, &e.ProviderID, &action, &e.Success, &e.DurationMs,
			&e.ErrorMessage, &e.DetailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = model.ProviderLogAction(action)
		logs = append(logs, e)
	}
	return logs, rows.Err()
}
