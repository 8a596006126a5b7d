package router

import (
	"database/sql"
	"fmt"

	"aigateway/internal/config"
	"aigateway/internal/crypto"
	"aigateway/internal/repository"
	"aigateway/internal/service"
	"aigateway/internal/upstream"
)

// App 进程内共享的服务实例
type App struct {
	DB          *sql.DB
	Credentials *service.CredentialService
	Gateway     *service.GatewayService
	Usage       *service.UsageService
	Admin       *service.AdminService
	CatalogSync *service.CatalogSyncService
	JWT         *service.JWTService
	Alerts      *service.AlertNotifier
}

// NewApp 按配置组装服务；告警通知器需由调用方 Start/Stop
func NewApp(cfg *config.Config, db *sql.DB) (*App, error) {
	key, err := crypto.DeriveKey(cfg.EncryptionSecret)
	if err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}

	quotaRepo := repository.NewQuotaRepositoryWithDB(db)
	usageRepo := repository.NewUsageRecordRepositoryWithDB(db)
	providers := repository.NewProviderRepositoryWithDB(db, key)
	client := upstream.NewClient()

	alerts := service.NewAlertNotifier(quotaRepo, repository.NewAlertRepositoryWithDB(db),
		cfg.AlertThresholdPercent, cfg.AlertQueueSize)

	return &App{
		DB:          db,
		Credentials: service.NewCredentialServiceWithRepo(quotaRepo),
		Gateway:     service.NewGatewayService(db, providers, client, alerts, cfg.StorePayloads),
		Usage:       service.NewUsageService(quotaRepo, usageRepo),
		Admin:       service.NewAdminServiceWithDB(db),
		CatalogSync: service.NewCatalogSyncService(providers, repository.NewVariantRepositoryWithDB(db),
			repository.NewProviderLogRepositoryWithDB(db), client),
		JWT:    service.NewJWTServiceWithSecret(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience),
		Alerts: alerts,
	}, nil
}
