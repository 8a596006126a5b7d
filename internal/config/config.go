package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ServerPort   string
	DatabasePath string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	// 上游凭据加密密钥，留空则明文存储
	EncryptionSecret string

	LogLevel  string
	LogFormat string

	CORSAllowedOrigins string
	IngressRPS         float64
	IngressBurst       int

	// cron 表达式，留空则不启动定时同步
	CatalogSyncSchedule string

	AlertThresholdPercent int
	AlertQueueSize        int

	MaxRequestBodyBytes int64
	StorePayloads       bool

	// 退出时等待在途调用入账的上限，应覆盖最长的提供商超时与重试
	SettleTimeoutSeconds int
}

var cfg *Config

func Load() *Config {
	cfg = &Config{
		ServerPort:            getEnv("SERVER_PORT", "8000"),
		DatabasePath:          getEnv("DATABASE_PATH", "./data/gateway.db"),
		JWTSecret:             getEnv("JWT_SECRET", "aigateway-default-secret-change-in-production"),
		JWTIssuer:             getEnv("JWT_ISSUER", "aigateway"),
		JWTAudience:           getEnv("JWT_AUDIENCE", "aigateway-admin"),
		EncryptionSecret:      getEnv("ENCRYPTION_SECRET", ""),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "text"),
		CORSAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", "*"),
		IngressRPS:            getEnvFloat("INGRESS_RPS", 50),
		IngressBurst:          getEnvInt("INGRESS_BURST", 100),
		CatalogSyncSchedule:   getEnv("CATALOG_SYNC_SCHEDULE", ""),
		AlertThresholdPercent: getEnvInt("ALERT_THRESHOLD_PERCENT", 90),
		AlertQueueSize:        getEnvInt("ALERT_QUEUE_SIZE", 256),
		MaxRequestBodyBytes:   int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 10<<20)),
		StorePayloads:         getEnvBool("STORE_PAYLOADS", true),
		SettleTimeoutSeconds:  getEnvInt("SETTLE_TIMEOUT_SECONDS", 120),
	}
	return cfg
}

// Get 返回已加载的配置；未调用 Load 时按默认值加载
func Get() *Config {
	if cfg == nil {
		return Load()
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}
