package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aigateway/internal/metrics"
	"aigateway/internal/model"
	"aigateway/internal/repository"
	"aigateway/internal/upstream"

	log "github.com/sirupsen/logrus"
)

var ErrProviderNotFound = errors.New("provider not found")

// SyncResult 一次目录同步的统计
type SyncResult struct {
	ProviderID        string `json:"providerId"`
	ProviderName      string `json:"providerName"`
	Fetched           int    `json:"fetched"`
	Created           int    `json:"created"`
	Updated           int    `json:"updated"`
	Skipped           int    `json:"skipped"`
	MarkedUnavailable int64  `json:"markedUnavailable"`
	DurationMs        int64  `json:"durationMs"`
}

// ConnectionResult 提供商连通性测试结果
type ConnectionResult struct {
	ProviderID string `json:"providerId"`
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode,omitempty"`
	ModelCount int    `json:"modelCount"`
	LatencyMs  int64  `json:"latencyMs"`
	Error      string `json:"error,omitempty"`
}

// CatalogSyncService 从上游拉取模型目录并写入变体表
type CatalogSyncService struct {
	providers   repository.ProviderRepositoryInterface
	variantRepo repository.VariantRepositoryInterface
	logRepo     repository.ProviderLogRepositoryInterface
	client      *upstream.Client
}

func NewCatalogSyncService(providers repository.ProviderRepositoryInterface, variantRepo repository.VariantRepositoryInterface,
	logRepo repository.ProviderLogRepositoryInterface, client *upstream.Client) *CatalogSyncService {
	return &CatalogSyncService{providers: providers, variantRepo: variantRepo, logRepo: logRepo, client: client}
}

func (s *CatalogSyncService) loadProvider(ctx context.Context, providerID string) (*model.Provider, error) {
	p, err := s.providers.GetByID(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("catalog sync: load provider: %w", err)
	}
	if p == nil {
		return nil, ErrProviderNotFound
	}
	return p, nil
}

// SyncProvider 同步单个提供商
// 目录未给出价格的格式保留已配置价格；上游已下线的模型标记为不可用
func (s *CatalogSyncService) SyncProvider(ctx context.Context, providerID string) (*SyncResult, error) {
	provider, err := s.loadProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := s.sync(ctx, provider)
	result.DurationMs = time.Since(start).Milliseconds()

	s.writeLog(ctx, provider, model.ProviderLogActionSync, err, result.DurationMs, result)
	metrics.RecordCatalogSync(provider.Name, err == nil)

	if err != nil {
		log.WithField("provider", provider.Name).Warnf("catalog sync: failed: %s", upstream.SanitizeError(err))
		return result, err
	}
	log.WithFields(log.Fields{
		"provider":    provider.Name,
		"fetched":     result.Fetched,
		"created":     result.Created,
		"updated":     result.Updated,
		"unavailable": result.MarkedUnavailable,
	}).Info("catalog sync: completed")
	return result, nil
}

func (s *CatalogSyncService) sync(ctx context.Context, provider *model.Provider) (*SyncResult, error) {
	result := &SyncResult{ProviderID: provider.ID, ProviderName: provider.Name}

	resp, err := s.client.ListModels(ctx, provider)
	if err != nil {
		return result, err
	}

	normalizer := upstream.NormalizerFor(provider.Format)
	items := upstream.ModelListItems(resp.Body)
	result.Fetched = len(items)

	seen := make([]string, 0, len(items))
	for _, item := range items {
		cm, ok := normalizer.Normalize(item)
		if !ok {
			result.Skipped++
			continue
		}
		v := &model.ModelVariant{
			ProviderID:       provider.ID,
			Name:             cm.Name,
			DisplayName:      cm.DisplayName,
			ExternalID:       cm.ExternalID,
			InputPrice:       cm.InputPrice,
			OutputPrice:      cm.OutputPrice,
			ContextLength:    cm.ContextLength,
			MaxOutputTokens:  cm.MaxOutputTokens,
			ModelType:        cm.ModelType,
			CapabilitiesJSON: cm.CapabilitiesJSON,
		}
		created, err := s.variantRepo.Upsert(ctx, v, normalizer.ProvidesPricing())
		if err != nil {
			return result, fmt.Errorf("catalog sync: upsert %s: %w", cm.Name, err)
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
		seen = append(seen, cm.Name)
	}

	if len(seen) == 0 {
		log.WithField("provider", provider.Name).Warn("catalog sync: upstream returned no models, keeping availability unchanged")
		return result, nil
	}

	n, err := s.variantRepo.MarkUnavailableExcept(ctx, provider.ID, seen)
	if err != nil {
		return result, fmt.Errorf("catalog sync: mark unavailable: %w", err)
	}
	result.MarkedUnavailable = n
	return result, nil
}

// SyncAll 同步全部启用的提供商，单个失败不影响其他
func (s *CatalogSyncService) SyncAll(ctx context.Context) ([]*SyncResult, error) {
	providers, err := s.providers.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog sync: list providers: %w", err)
	}

	var errs []error
	results := make([]*SyncResult, 0, len(providers))
	for _, p := range providers {
		r, err := s.SyncProvider(ctx, p.ID)
		if r != nil {
			results = append(results, r)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
		}
	}
	return results, errors.Join(errs...)
}

// TestConnection 请求 GET {base}/models 验证地址与凭证
func (s *CatalogSyncService) TestConnection(ctx context.Context, providerID string) (*ConnectionResult, error) {
	provider, err := s.loadProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := s.client.ListModels(ctx, provider)
	result := &ConnectionResult{ProviderID: provider.ID, LatencyMs: time.Since(start).Milliseconds()}
	if resp != nil {
		result.StatusCode = resp.StatusCode
	}
	if err != nil {
		result.Error = upstream.SanitizeError(err)
	} else {
		result.Success = true
		result.ModelCount = len(upstream.ModelListItems(resp.Body))
	}

	s.writeLog(ctx, provider, model.ProviderLogActionTest, err, result.LatencyMs, result)
	return result, nil
}

func (s *CatalogSyncService) writeLog(ctx context.Context, provider *model.Provider, action model.ProviderLogAction, cause error, durationMs int64, details any) {
	entry := &model.ProviderLog{
		ProviderID:  provider.ID,
		Action:      action,
		Success:     cause == nil,
		DurationMs:  durationMs,
		DetailsJSON: "{}",
	}
	if cause != nil {
		entry.ErrorMessage = truncate(upstream.SanitizeError(cause), maxErrorMessageLen)
	}
	if b, err := json.Marshal(details); err == nil {
		entry.DetailsJSON = string(b)
	}
	if err := s.logRepo.Create(ctx, entry); err != nil {
		log.WithField("provider", provider.Name).Warnf("catalog sync: write provider log failed: %v", err)
	}
}
