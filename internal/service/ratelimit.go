package service

import (
	"context"
	"fmt"
	"time"

	"aigateway/internal/model"
	"aigateway/internal/repository"
)

// RateWindow 单个滑动窗口的占用情况
type RateWindow struct {
	Window    string `json:"window"`
	Seconds   int    `json:"seconds"`
	Limit     int    `json:"limit"`
	Count     int    `json:"count"`
	Remaining int    `json:"remaining"`
}

// Exceeded 窗口内请求数已达上限
func (w RateWindow) Exceeded() bool {
	return w.Count >= w.Limit
}

var rateWindowDefs = []struct {
	name     string
	duration time.Duration
}{
	{"minute", time.Minute},
	{"hour", time.Hour},
	{"day", 24 * time.Hour},
}

// RateLimiter 基于调用记录推导的三档滑动窗口限流，只读不写
type RateLimiter struct {
	usageRepo repository.UsageRecordRepositoryInterface
	now       func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return NewRateLimiterWithRepo(repository.NewUsageRecordRepository())
}

func NewRateLimiterWithRepo(usageRepo repository.UsageRecordRepositoryInterface) *RateLimiter {
	return &RateLimiter{usageRepo: usageRepo, now: func() time.Time { return time.Now().UTC() }}
}

// Windows 统计三个窗口内的调用次数（含失败调用）
func (l *RateLimiter) Windows(ctx context.Context, quota *model.Quota) ([]RateWindow, error) {
	durations := make([]time.Duration, len(rateWindowDefs))
	for i, def := range rateWindowDefs {
		durations[i] = def.duration
	}

	counts, err := l.usageRepo.CountWindows(ctx, quota.ID, l.now(), durations)
	if err != nil {
		return nil, fmt.Errorf("%w: count rate windows: %v", ErrInternal, err)
	}

	limits := []int{quota.RateLimitPerMinute, quota.RateLimitPerHour, quota.RateLimitPerDay}
	windows := make([]RateWindow, len(rateWindowDefs))
	for i, def := range rateWindowDefs {
		remaining := limits[i] - counts[i]
		if remaining < 0 {
			remaining = 0
		}
		windows[i] = RateWindow{
			Window:    def.name,
			Seconds:   int(def.duration / time.Second),
			Limit:     limits[i],
			Count:     counts[i],
			Remaining: remaining,
		}
	}
	return windows, nil
}

// Check 任一窗口达到上限即拒绝
func (l *RateLimiter) Check(ctx context.Context, quota *model.Quota) ([]RateWindow, error) {
	windows, err := l.Windows(ctx, quota)
	if err != nil {
		return nil, err
	}
	for _, w := range windows {
		if w.Exceeded() {
			return windows, fmt.Errorf("%w: %d requests per %s", ErrRateLimited, w.Limit, w.Window)
		}
	}
	return windows, nil
}
