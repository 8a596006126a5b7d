package service

import (
	"context"
	"fmt"
	"strings"

	"aigateway/internal/model"
	"aigateway/internal/repository"

	log "github.com/sirupsen/logrus"
)

// CredentialService 调用密钥鉴权
type CredentialService struct {
	quotaRepo repository.QuotaRepositoryInterface
}

func NewCredentialService() *CredentialService {
	return &CredentialService{quotaRepo: repository.NewQuotaRepository()}
}

func NewCredentialServiceWithRepo(quotaRepo repository.QuotaRepositoryInterface) *CredentialService {
	return &CredentialService{quotaRepo: quotaRepo}
}

// Authenticate 按密钥查找启用、未删除且归属用户启用的预算记录
func (s *CredentialService) Authenticate(ctx context.Context, apiKey string) (*model.Quota, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrUnauthenticated
	}

	quota, err := s.quotaRepo.GetActiveByAPIKey(ctx, apiKey)
	if err != nil {
		log.WithField("key", model.MaskAPIKey(apiKey)).Errorf("credential: lookup failed: %v", err)
		return nil, fmt.Errorf("%w: credential lookup: %v", ErrInternal, err)
	}
	if quota == nil {
		log.WithField("key", model.MaskAPIKey(apiKey)).Debug("credential: unknown or disabled key")
		return nil, ErrUnauthenticated
	}
	return quota, nil
}
