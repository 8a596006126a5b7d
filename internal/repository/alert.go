package repository

import (
	"context"
	"database/sql"
	"errors"

	"aigateway/internal/database"
	"aigateway/internal/model"
)

var ErrAlertNotFound = errors.New("alert not found")

type AlertRepositoryInterface interface {
	Create(ctx context.Context, alert *model.QuotaAlert) error
	HasUnresolved(ctx context.Context, quotaID, alertType string) (bool, error)
	List(ctx context.Context, unresolvedOnly bool, limit int) ([]*model.QuotaAlert, error)
	Resolve(ctx context.Context, id string) error
}

var _ AlertRepositoryInterface = (*AlertRepository)(nil)

type AlertRepository struct {
	db *sql.DB
}

func NewAlertRepository() *AlertRepository {
	return &AlertRepository{db: database.GetDB()}
}

func NewAlertRepositoryWithDB(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

func (r *AlertRepository) Create(ctx context.Context, alert *model.QuotaAlert) error {
	if alert.ID == "" {
		alert.ID = newID()
	}
	alert.CreatedAt = now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO quota_alerts (id, quota_id, alert_type, threshold, current_value, message, is_resolved, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		alert.ID, alert.QuotaID, alert.AlertType, alert.Threshold, alert.CurrentValue.String(), alert.Message, alert.CreatedAt,
	)
	return err
}

func (r *AlertRepository) HasUnresolved(ctx context.Context, quotaID, alertType string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM quota_alerts WHERE quota_id = ? AND alert_type = ? AND is_resolved = 0`,
		quotaID, alertType).Scan(&n)
	return n > 0, err
}

func (r *AlertRepository) List(ctx context.Context, unresolvedOnly bool, limit int) ([]*model.QuotaAlert, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, quota_id, alert_type, threshold, current_value, message, is_resolved, created_at, resolved_at
		FROM quota_alerts`
	if unresolvedOnly {
		query += ` WHERE is_resolved = 0`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*model.QuotaAlert
	for rows.Next() {
		a := &model.QuotaAlert{}
		var resolvedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.QuotaID, &a.AlertType, &a.Threshold, &a.CurrentValue, &a.Message,
			&a.IsResolved, &a.CreatedAt, &resolvedAt); err != nil {
			return nil, err
		}
		a.ResolvedAt = nullTimePtr(resolvedAt)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (r *AlertRepository) Resolve(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE quota_alerts SET is_resolved = 1, resolved_at = ? WHERE id = ? AND is_resolved = 0`, now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlertNotFound
	}
	return nil
}
