package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// CatalogScheduler 按 cron 表达式定时同步全部提供商目录
type CatalogScheduler struct {
	syncSvc  *CatalogSyncService
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	running  bool
}

func NewCatalogScheduler(syncSvc *CatalogSyncService, schedule string) *CatalogScheduler {
	return &CatalogScheduler{
		syncSvc:  syncSvc,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start 表达式为空时不启动；ctx 结束时自动停止
func (s *CatalogScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		log.Info("catalog scheduler: no schedule configured, skipping")
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule catalog sync: %w", err)
	}

	s.cron.Start()
	s.running = true
	log.Infof("catalog scheduler: started with schedule %q", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *CatalogScheduler) run(ctx context.Context) {
	results, err := s.syncSvc.SyncAll(ctx)
	if err != nil {
		log.Warnf("catalog scheduler: sync finished with errors: %v", err)
	}
	log.Infof("catalog scheduler: synced %d providers", len(results))
}

// Stop 停止调度并等待正在执行的任务
func (s *CatalogScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		log.Info("catalog scheduler: stopped")
	}
}

func (s *CatalogScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun 下一次执行时间，未启动时为 nil
func (s *CatalogScheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
