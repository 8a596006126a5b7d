package service

import (
	"context"
	"fmt"

	"aigateway/internal/model"
	"aigateway/internal/repository"

	"github.com/shopspring/decimal"
)

const recentUsageLimit = 10

// UsageSnapshot /v1/usage 的返回体
type UsageSnapshot struct {
	Total              decimal.Decimal `json:"total"`
	Used               decimal.Decimal `json:"used"`
	Remaining          decimal.Decimal `json:"remaining"`
	UsagePercentage    decimal.Decimal `json:"usagePercentage"`
	Group              string          `json:"group"`
	RecentRequestCount int             `json:"recentRequestCount"`
	RecentCost         decimal.Decimal `json:"recentCost"`
	RateLimits         []RateWindow    `json:"rateLimits"`
}

type UsageService struct {
	quotaRepo repository.QuotaRepositoryInterface
	usageRepo repository.UsageRecordRepositoryInterface
	limiter   *RateLimiter
}

func NewUsageService(quotaRepo repository.QuotaRepositoryInterface, usageRepo repository.UsageRecordRepositoryInterface) *UsageService {
	return &UsageService{
		quotaRepo: quotaRepo,
		usageRepo: usageRepo,
		limiter:   NewRateLimiterWithRepo(usageRepo),
	}
}

// Snapshot 当前额度与最近 10 次调用的汇总
func (s *UsageService) Snapshot(ctx context.Context, quota *model.Quota) (*UsageSnapshot, error) {
	fresh, err := s.quotaRepo.GetByID(ctx, quota.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: load quota: %v", ErrInternal, err)
	}
	if fresh == nil {
		return nil, ErrUnauthenticated
	}

	recent, err := s.usageRepo.ListRecent(ctx, quota.ID, recentUsageLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: list recent usage: %v", ErrInternal, err)
	}
	recentCost := decimal.Zero
	for _, r := range recent {
		recentCost = recentCost.Add(r.TotalCost)
	}

	windows, err := s.limiter.Windows(ctx, fresh)
	if err != nil {
		return nil, err
	}

	return &UsageSnapshot{
		Total:              fresh.TotalQuota,
		Used:               fresh.UsedQuota,
		Remaining:          fresh.Remaining(),
		UsagePercentage:    fresh.UsagePercentage(),
		Group:              fresh.GroupName,
		RecentRequestCount: len(recent),
		RecentCost:         recentCost,
		RateLimits:         windows,
	}, nil
}
