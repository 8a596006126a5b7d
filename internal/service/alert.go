package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aigateway/internal/metrics"
	"aigateway/internal/model"
	"aigateway/internal/repository"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const DefaultAlertThreshold = 90

// AlertNotifier 异步评估额度使用率，超过阈值时写入告警
// 在账本事务之外运行，失败只记日志，不影响调用结果
type AlertNotifier struct {
	quotaRepo repository.QuotaRepositoryInterface
	alertRepo repository.AlertRepositoryInterface
	threshold int

	queue    chan string
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	stopped  bool
}

func NewAlertNotifier(quotaRepo repository.QuotaRepositoryInterface, alertRepo repository.AlertRepositoryInterface, threshold, queueSize int) *AlertNotifier {
	if threshold <= 0 || threshold > 100 {
		threshold = DefaultAlertThreshold
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &AlertNotifier{
		quotaRepo: quotaRepo,
		alertRepo: alertRepo,
		threshold: threshold,
		queue:     make(chan string, queueSize),
		stopChan:  make(chan struct{}),
	}
}

// Start 启动后台协程
func (n *AlertNotifier) Start() {
	n.wg.Add(1)
	go n.run()
}

// Notify 提交一次评估请求（非阻塞），队列满时丢弃
func (n *AlertNotifier) Notify(quotaID string) bool {
	if n == nil {
		return false
	}
	n.mu.Lock()
	stopped := n.stopped
	n.mu.Unlock()
	if stopped {
		return false
	}

	select {
	case n.queue <- quotaID:
		return true
	default:
		metrics.RecordAlert("dropped")
		log.WithField("quotaId", quotaID).Warn("alert notifier: queue full, dropping evaluation")
		return false
	}
}

// Stop 停止并处理完队列中剩余的请求
func (n *AlertNotifier) Stop() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	n.mu.Unlock()

	close(n.stopChan)
	n.wg.Wait()
}

func (n *AlertNotifier) run() {
	defer n.wg.Done()
	for {
		select {
		case id := <-n.queue:
			n.evaluateLogged(id)
		case <-n.stopChan:
			for {
				select {
				case id := <-n.queue:
					n.evaluateLogged(id)
				default:
					return
				}
			}
		}
	}
}

func (n *AlertNotifier) evaluateLogged(quotaID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := n.Evaluate(ctx, quotaID); err != nil {
		metrics.RecordAlert("failed")
		log.WithField("quotaId", quotaID).Warnf("alert notifier: evaluate failed: %v", err)
	}
}

// Evaluate 使用率达到阈值且没有未处理的同类告警时创建告警，返回是否新建
func (n *AlertNotifier) Evaluate(ctx context.Context, quotaID string) (*model.QuotaAlert, error) {
	quota, err := n.quotaRepo.GetByID(ctx, quotaID)
	if err != nil {
		return nil, fmt.Errorf("alert: load quota: %w", err)
	}
	if quota == nil || quota.IsDeleted() {
		return nil, nil
	}

	pct := quota.UsagePercentage()
	if pct.LessThan(decimal.NewFromInt(int64(n.threshold))) {
		return nil, nil
	}

	exists, err := n.alertRepo.HasUnresolved(ctx, quotaID, model.AlertTypeQuotaExceeded)
	if err != nil {
		return nil, fmt.Errorf("alert: check existing: %w", err)
	}
	if exists {
		metrics.RecordAlert("duplicate")
		return nil, nil
	}

	alert := &model.QuotaAlert{
		QuotaID:      quotaID,
		AlertType:    model.AlertTypeQuotaExceeded,
		Threshold:    n.threshold,
		CurrentValue: pct,
		Message: fmt.Sprintf("quota %q has used %s%% of %s (threshold %d%%)",
			quota.Name, pct.StringFixed(2), quota.TotalQuota.StringFixed(model.MoneyScale), n.threshold),
	}
	if err := n.alertRepo.Create(ctx, alert); err != nil {
		return nil, fmt.Errorf("alert: create: %w", err)
	}

	metrics.RecordAlert("created")
	log.WithFields(log.Fields{
		"quotaId":   quotaID,
		"usage":     pct.StringFixed(2),
		"threshold": n.threshold,
	}).Warn("alert notifier: quota usage above threshold")
	return alert, nil
}
