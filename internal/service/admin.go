package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"aigateway/internal/crypto"
	"aigateway/internal/model"
	"aigateway/internal/repository"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	APIKeyPrefix = "sk-audit-"
	apiKeyLength = 32
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user is disabled")
	ErrGroupNotFound      = errors.New("model group not found")
	ErrGroupInactive      = errors.New("model group is disabled")
	ErrGroupAccessDenied  = errors.New("user has no access to model group")
	ErrInvalidQuotaAmount = errors.New("total quota must not be negative")
	ErrQuotaNotFound      = repository.ErrQuotaNotFound
	ErrAlertNotFound      = repository.ErrAlertNotFound
)

// AdminService 密钥签发与生命周期管理，每次变更写入额度流水
type AdminService struct {
	db        *sql.DB
	userRepo  repository.UserRepositoryInterface
	groupRepo repository.GroupRepositoryInterface
	quotaRepo repository.QuotaRepositoryInterface
	logRepo   repository.QuotaLogRepositoryInterface
	usageRepo repository.UsageRecordRepositoryInterface
	alertRepo repository.AlertRepositoryInterface
}

func NewAdminServiceWithDB(db *sql.DB) *AdminService {
	return &AdminService{
		db:        db,
		userRepo:  repository.NewUserRepositoryWithDB(db),
		groupRepo: repository.NewGroupRepositoryWithDB(db),
		quotaRepo: repository.NewQuotaRepositoryWithDB(db),
		logRepo:   repository.NewQuotaLogRepositoryWithDB(db),
		usageRepo: repository.NewUsageRecordRepositoryWithDB(db),
		alertRepo: repository.NewAlertRepositoryWithDB(db),
	}
}

// IssueQuota 为用户签发一把新密钥；分组需公开或用户在白名单内
// 频率上限为 0 时取默认值，额度为空时取分组默认额度
func (s *AdminService) IssueQuota(ctx context.Context, req *model.IssueQuotaRequest) (*model.Quota, error) {
	user, err := s.userRepo.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("admin: load user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	group, err := s.groupRepo.GetByID(ctx, req.ModelGroupID)
	if err != nil {
		return nil, fmt.Errorf("admin: load group: %w", err)
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}
	if !group.IsActive {
		return nil, ErrGroupInactive
	}
	if !group.IsPublic {
		ok, err := s.groupRepo.HasUser(ctx, group.ID, user.ID)
		if err != nil {
			return nil, fmt.Errorf("admin: check group access: %w", err)
		}
		if !ok {
			return nil, ErrGroupAccessDenied
		}
	}

	total := group.DefaultQuota
	if req.TotalQuota != nil {
		total = *req.TotalQuota
	}
	if total.IsNegative() {
		return nil, ErrInvalidQuotaAmount
	}

	key, err := crypto.GenerateAPIKey(APIKeyPrefix, apiKeyLength)
	if err != nil {
		return nil, fmt.Errorf("admin: generate key: %w", err)
	}

	name := req.Name
	if name == "" {
		name = group.Name
	}
	quota := &model.Quota{
		UserID:             user.ID,
		ModelGroupID:       group.ID,
		Name:               name,
		Description:        req.Description,
		APIKey:             key,
		TotalQuota:         total.Round(model.MoneyScale),
		UsedQuota:          decimal.Zero,
		RateLimitPerMinute: orDefault(req.RateLimitPerMinute, model.DefaultRateLimitPerMinute),
		RateLimitPerHour:   orDefault(req.RateLimitPerHour, model.DefaultRateLimitPerHour),
		RateLimitPerDay:    orDefault(req.RateLimitPerDay, model.DefaultRateLimitPerDay),
		IsActive:           true,
		GroupName:          group.Name,
	}
	if err := s.quotaRepo.Create(ctx, quota); err != nil {
		return nil, fmt.Errorf("admin: create quota: %w", err)
	}

	log.WithFields(log.Fields{
		"quotaId": quota.ID,
		"userId":  user.ID,
		"group":   group.Name,
		"key":     quota.MaskedAPIKey(),
	}).Info("admin: quota issued")
	return quota, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// SoftDelete 停用并标记删除，历史调用记录保留
func (s *AdminService) SoftDelete(ctx context.Context, quotaID string) error {
	return s.mutate(ctx, quotaID, model.QuotaLogActionSoftDelete, "quota soft deleted",
		func(tx *sql.Tx, used, total int64) (int64, error) {
			return 0, s.quotaRepo.SoftDelete(ctx, tx, quotaID)
		})
}

func (s *AdminService) Restore(ctx context.Context, quotaID string) error {
	return s.mutate(ctx, quotaID, model.QuotaLogActionRestore, "quota restored",
		func(tx *sql.Tx, used, total int64) (int64, error) {
			return 0, s.quotaRepo.Restore(ctx, tx, quotaID)
		})
}

// ResetUsage 已用额度清零，流水金额为清零前的已用额度
func (s *AdminService) ResetUsage(ctx context.Context, quotaID string) error {
	return s.mutate(ctx, quotaID, model.QuotaLogActionReset, "usage reset",
		func(tx *sql.Tx, used, total int64) (int64, error) {
			return used, s.quotaRepo.ResetUsage(ctx, tx, quotaID)
		})
}

// RegenerateKey 轮换密钥，旧密钥立即失效
func (s *AdminService) RegenerateKey(ctx context.Context, quotaID string) (string, error) {
	key, err := crypto.GenerateAPIKey(APIKeyPrefix, apiKeyLength)
	if err != nil {
		return "", fmt.Errorf("admin: generate key: %w", err)
	}
	err = s.mutate(ctx, quotaID, model.QuotaLogActionRegenerateKey, "api key regenerated",
		func(tx *sql.Tx, used, total int64) (int64, error) {
			return 0, s.quotaRepo.UpdateAPIKey(ctx, tx, quotaID, key)
		})
	if err != nil {
		return "", err
	}
	return key, nil
}

// mutate 在同一事务内执行变更并写入流水；fn 返回流水金额（微单位）
func (s *AdminService) mutate(ctx context.Context, quotaID string, action model.QuotaLogAction, description string,
	fn func(tx *sql.Tx, used, total int64) (int64, error)) error {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("admin: begin tx: %w", err)
	}
	defer tx.Rollback()

	used, total, err := s.quotaRepo.GetBalanceMicros(ctx, tx, quotaID)
	if err != nil {
		return err
	}

	amount, err := fn(tx, used, total)
	if err != nil {
		return err
	}

	used, total, err = s.quotaRepo.GetBalanceMicros(ctx, tx, quotaID)
	if err != nil {
		return err
	}
	remaining := total - used
	if remaining < 0 {
		remaining = 0
	}

	if err := s.logRepo.Insert(ctx, tx, &model.QuotaUsageLog{
		QuotaID:     quotaID,
		Action:      action,
		Amount:      model.MicrosToDecimal(amount),
		Remaining:   model.MicrosToDecimal(remaining),
		Description: description,
	}); err != nil {
		return fmt.Errorf("admin: insert quota log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("admin: commit: %w", err)
	}
	log.WithFields(log.Fields{"quotaId": quotaID, "action": action}).Info("admin: quota updated")
	return nil
}

// GetQuota 包含已删除的记录
func (s *AdminService) GetQuota(ctx context.Context, quotaID string) (*model.Quota, error) {
	q, err := s.quotaRepo.GetByID(ctx, quotaID)
	if err != nil {
		return nil, fmt.Errorf("admin: load quota: %w", err)
	}
	if q == nil {
		return nil, ErrQuotaNotFound
	}
	return q, nil
}

// ListUsageRecords 最近的调用记录，已删除的密钥同样可查
func (s *AdminService) ListUsageRecords(ctx context.Context, quotaID string, limit int) ([]*model.UsageRecord, error) {
	if _, err := s.GetQuota(ctx, quotaID); err != nil {
		return nil, err
	}
	records, err := s.usageRepo.ListRecent(ctx, quotaID, limit)
	if err != nil {
		return nil, fmt.Errorf("admin: list usage records: %w", err)
	}
	if records == nil {
		records = []*model.UsageRecord{}
	}
	return records, nil
}

func (s *AdminService) ListQuotaLogs(ctx context.Context, quotaID string, limit int) ([]*model.QuotaUsageLog, error) {
	if _, err := s.GetQuota(ctx, quotaID); err != nil {
		return nil, err
	}
	logs, err := s.logRepo.ListByQuota(ctx, quotaID, limit)
	if err != nil {
		return nil, fmt.Errorf("admin: list quota logs: %w", err)
	}
	if logs == nil {
		logs = []*model.QuotaUsageLog{}
	}
	return logs, nil
}

func (s *AdminService) ListAlerts(ctx context.Context, unresolvedOnly bool, limit int) ([]*model.QuotaAlert, error) {
	alerts, err := s.alertRepo.List(ctx, unresolvedOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("admin: list alerts: %w", err)
	}
	if alerts == nil {
		alerts = []*model.QuotaAlert{}
	}
	return alerts, nil
}

func (s *AdminService) ResolveAlert(ctx context.Context, alertID string) error {
	return s.alertRepo.Resolve(ctx, alertID)
}
