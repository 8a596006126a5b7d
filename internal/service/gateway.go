package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"aigateway/internal/billing"
	"aigateway/internal/metrics"
	"aigateway/internal/model"
	"aigateway/internal/repository"
	"aigateway/internal/upstream"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const maxErrorMessageLen = 1000

// unresolvedModel 模型解析失败时使用的指标标签
const unresolvedModel = "unresolved"

// GatewayRequest 一次对话补全调用的入参，Body 为调用方原始 JSON
type GatewayRequest struct {
	Body      []byte
	Method    string
	Endpoint  string
	IPAddress string
	UserAgent string
}

// GatewayResult 成功调用的结果；Body 为上游响应原文（已解压）
type GatewayResult struct {
	RequestID   string
	StatusCode  int
	ContentType string
	Body        []byte
	Variant     *model.ModelVariant
	Usage       billing.TokenUsage
	Cost        billing.CostResult
	Remaining   string
}

// GatewayService 调用编排：解析模型、限流、额度预检、转发、计费、入账
type GatewayService struct {
	db            *sql.DB
	catalog       *CatalogService
	limiter       *RateLimiter
	ledger        *LedgerService
	providers     repository.ProviderRepositoryInterface
	usageRepo     repository.UsageRecordRepositoryInterface
	client        *upstream.Client
	calc          *billing.CostCalculator
	alerts        *AlertNotifier
	storePayloads bool

	// 已发往上游、尚未入账的调用数；归零时关闭 idle
	mu       sync.Mutex
	settling int
	idle     chan struct{}
}

// NewGatewayService alerts 可为空
func NewGatewayService(db *sql.DB, providers repository.ProviderRepositoryInterface, client *upstream.Client, alerts *AlertNotifier, storePayloads bool) *GatewayService {
	usageRepo := repository.NewUsageRecordRepositoryWithDB(db)
	if client.OnRetry == nil {
		client.OnRetry = func(provider string, attempt int, err error, statusCode int) {
			metrics.RecordUpstreamRetry(provider)
		}
	}
	return &GatewayService{
		db:            db,
		catalog:       NewCatalogServiceWithRepo(repository.NewVariantRepositoryWithDB(db), repository.NewGroupRepositoryWithDB(db)),
		limiter:       NewRateLimiterWithRepo(usageRepo),
		ledger:        NewLedgerServiceWithDB(db),
		providers:     providers,
		usageRepo:     usageRepo,
		client:        client,
		calc:          billing.GetCostCalculator(),
		alerts:        alerts,
		storePayloads: storePayloads,
	}
}

func (s *GatewayService) Catalog() *CatalogService {
	return s.catalog
}

func (s *GatewayService) Limiter() *RateLimiter {
	return s.limiter
}

// ChatCompletion 执行一次计费调用；quota 为已通过鉴权的预算记录
func (s *GatewayService) ChatCompletion(ctx context.Context, quota *model.Quota, req GatewayRequest) (*GatewayResult, error) {
	modelName, err := requestedModel(req.Body)
	if err != nil {
		metrics.RecordGatewayOutcome("", string(KindInvalidRequest))
		return nil, err
	}

	result, label, err := s.chatCompletion(ctx, quota, modelName, req)
	kind := "ok"
	if err != nil {
		kind = string(KindOf(err))
	}
	metrics.RecordGatewayOutcome(label, kind)
	return result, err
}

// Drain 等待已转发的调用完成入账，ctx 到期时返回其错误
func (s *GatewayService) Drain(ctx context.Context) error {
	s.mu.Lock()
	if s.settling == 0 {
		s.mu.Unlock()
		return nil
	}
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Settling 当前在途调用数
func (s *GatewayService) Settling() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settling
}

func (s *GatewayService) beginSettle() {
	s.mu.Lock()
	if s.settling == 0 {
		s.idle = make(chan struct{})
	}
	s.settling++
	s.mu.Unlock()
}

func (s *GatewayService) endSettle() {
	s.mu.Lock()
	s.settling--
	if s.settling == 0 {
		close(s.idle)
	}
	s.mu.Unlock()
}

// chatCompletion 返回值中的 string 为指标用的模型标签
func (s *GatewayService) chatCompletion(ctx context.Context, quota *model.Quota, modelName string, req GatewayRequest) (*GatewayResult, string, error) {
	logger := log.WithFields(log.Fields{
		"quotaId": quota.ID,
		"key":     quota.MaskedAPIKey(),
		"model":   modelName,
	})

	variant, err := s.catalog.Resolve(ctx, quota.ModelGroupID, modelName)
	if err != nil {
		metrics.RecordAdmissionDenied(string(KindOf(err)))
		return nil, unresolvedModel, err
	}
	label := variant.Name

	if _, err := s.limiter.Check(ctx, quota); err != nil {
		metrics.RecordAdmissionDenied(string(KindOf(err)))
		logger.Debugf("gateway: %v", err)
		return nil, label, err
	}

	if quota.Exhausted() {
		metrics.RecordAdmissionDenied(string(KindQuotaExhausted))
		return nil, label, fmt.Errorf("%w: remaining %s", ErrQuotaExhausted, quota.Remaining().StringFixed(model.MoneyScale))
	}

	provider, err := s.providers.GetByID(ctx, variant.ProviderID)
	if err != nil {
		return nil, label, fmt.Errorf("%w: load provider: %v", ErrInternal, err)
	}
	if provider == nil {
		return nil, label, fmt.Errorf("%w: provider %s missing", ErrInternal, variant.ProviderID)
	}

	s.beginSettle()
	defer s.endSettle()

	// 调用方断开不应中断上游调用与入账，超时由提供商配置控制
	detached := context.WithoutCancel(ctx)

	rec := &model.UsageRecord{
		RequestID:    uuid.New().String(),
		QuotaID:      quota.ID,
		UserID:       quota.UserID,
		VariantID:    variant.ID,
		ProviderID:   provider.ID,
		ModelGroupID: quota.ModelGroupID,
		ModelName:    variant.Name,
		Method:       req.Method,
		Endpoint:     req.Endpoint,
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
	}
	if s.storePayloads {
		rec.RequestBody = string(req.Body)
	}

	start := time.Now()
	resp, err := s.client.ChatCompletion(detached, provider, variant.UpstreamModel(), req.Body)
	elapsed := time.Since(start)
	rec.DurationMs = elapsed.Milliseconds()

	if err != nil {
		return nil, label, s.recordUpstreamFailure(detached, logger, provider, rec, resp, err, elapsed)
	}
	metrics.RecordUpstream(provider.Name, "success", elapsed)

	cost := s.calc.Calculate(resp.Usage, billing.Pricing{InputPrice: variant.InputPrice, OutputPrice: variant.OutputPrice})
	rec.StatusCode = resp.StatusCode
	rec.InputTokens = resp.Usage.InputTokens
	rec.OutputTokens = resp.Usage.OutputTokens
	rec.TotalTokens = resp.Usage.TotalTokens
	rec.InputCost = cost.InputCost
	rec.OutputCost = cost.OutputCost
	rec.TotalCost = cost.TotalCost
	if s.storePayloads {
		rec.ResponseBody = string(resp.Body)
	}
	if !resp.UsageFound {
		logger.Warn("gateway: upstream response has no usage, billing zero")
	}

	commit, err := s.ledger.Commit(detached, quota.ID, rec)
	if err != nil {
		if errors.Is(err, ErrQuotaExhausted) {
			logger.WithField("cost", cost.TotalCost.StringFixed(model.MoneyScale)).Warn("gateway: cost exceeds remaining quota")
			return nil, label, fmt.Errorf("%w: call cost %s exceeds remaining quota", ErrQuotaExhausted, cost.TotalCost.StringFixed(model.MoneyScale))
		}
		logger.Errorf("gateway: commit failed: %v", err)
		return nil, label, err
	}

	s.alerts.Notify(quota.ID)

	logger.WithFields(log.Fields{
		"requestId": rec.RequestID,
		"provider":  provider.Name,
		"tokens":    rec.TotalTokens,
		"cost":      cost.TotalCost.StringFixed(model.MoneyScale),
		"latencyMs": rec.DurationMs,
	}).Info("gateway: call settled")

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	return &GatewayResult{
		RequestID:   rec.RequestID,
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        resp.Body,
		Variant:     variant,
		Usage:       resp.Usage,
		Cost:        cost,
		Remaining:   commit.Remaining.StringFixed(model.MoneyScale),
	}, label, nil
}

// recordUpstreamFailure 上游失败：写入一条零成本记录，不扣减额度
func (s *GatewayService) recordUpstreamFailure(ctx context.Context, logger *log.Entry, provider *model.Provider,
	rec *model.UsageRecord, resp *upstream.Response, cause error, elapsed time.Duration) error {

	rec.ErrorType = string(KindUpstream)
	var statusErr *upstream.StatusError
	switch {
	case errors.As(cause, &statusErr):
		rec.StatusCode = statusErr.StatusCode
	case upstream.IsTimeout(cause):
		rec.StatusCode = http.StatusGatewayTimeout
		rec.ErrorType = "timeout"
	default:
		rec.StatusCode = http.StatusBadGateway
	}
	if resp != nil && s.storePayloads {
		rec.ResponseBody = string(resp.Body)
	}

	detail := upstream.SanitizeError(cause)
	rec.ErrorMessage = truncate(detail, maxErrorMessageLen)

	outcome := upstream.ClassifyError(cause)
	metrics.RecordUpstream(provider.Name, outcome, elapsed)
	logger.WithFields(log.Fields{
		"requestId":  rec.RequestID,
		"provider":   provider.Name,
		"statusCode": rec.StatusCode,
		"errorClass": outcome,
	}).Warnf("gateway: upstream failed: %s", detail)

	if err := s.usageRepo.Insert(ctx, s.db, rec); err != nil {
		logger.Errorf("gateway: persist failed usage record: %v", err)
		return fmt.Errorf("%w: persist usage record: %v", ErrInternal, err)
	}
	return fmt.Errorf("%w: %s", ErrUpstream, rec.ErrorMessage)
}

// requestedModel 校验请求体并取出 model 字段
func requestedModel(body []byte) (string, error) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return "", fmt.Errorf("%w: body must be valid JSON", ErrInvalidRequest)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return "", fmt.Errorf("%w: body must be a JSON object", ErrInvalidRequest)
	}
	m := root.Get("model")
	if m.Type != gjson.String || m.String() == "" {
		return "", fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	return m.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
