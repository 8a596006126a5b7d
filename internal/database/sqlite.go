package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

var (
	db   *sql.DB
	once sync.Once
)

// Init 打开全局数据库连接，仅首次调用生效
func Init(dbPath string) error {
	var err error
	once.Do(func() {
		db, err = Open(dbPath)
	})
	return err
}

// Open 打开一个独立的数据库连接并建表，测试用例各自持有一个实例
func Open(dbPath string) (*sql.DB, error) {
	// 确保数据目录存在
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("database: create dir: %w", err)
		}
	}

	// WAL 模式、忙等待超时；时间统一按 sqlite 格式写入，保证按字符串比较时有序
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_time_format=sqlite"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	// SQLite 单写多读；单连接同时串行化账本的条件更新
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := createTables(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("database: create tables: %w", err)
	}
	runMigrations(conn)
	return conn, nil
}

func GetDB() *sql.DB {
	return db
}

func createTables(conn *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS providers (
		id TEXT PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		format TEXT NOT NULL DEFAULT 'generic',
		base_url TEXT NOT NULL,
		api_key TEXT NOT NULL DEFAULT '',
		headers_json TEXT NOT NULL DEFAULT '{}',
		timeout_seconds INTEGER NOT NULL DEFAULT 30,
		max_retries INTEGER NOT NULL DEFAULT 3,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS model_variants (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL,
		name TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		external_id TEXT NOT NULL DEFAULT '',
		input_price TEXT NOT NULL DEFAULT '0',
		output_price TEXT NOT NULL DEFAULT '0',
		context_length INTEGER NOT NULL DEFAULT 4096,
		max_output_tokens INTEGER NOT NULL DEFAULT 0,
		model_type TEXT NOT NULL DEFAULT 'chat',
		capabilities_json TEXT NOT NULL DEFAULT '{}',
		is_active INTEGER NOT NULL DEFAULT 1,
		is_available INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(provider_id, name),
		FOREIGN KEY (provider_id) REFERENCES providers(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_model_variants_name ON model_variants(name);

	CREATE TABLE IF NOT EXISTS model_groups (
		id TEXT PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		default_quota_micros INTEGER NOT NULL DEFAULT 0,
		is_public INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS model_group_variants (
		group_id TEXT NOT NULL,
		variant_id TEXT NOT NULL,
		PRIMARY KEY (group_id, variant_id),
		FOREIGN KEY (group_id) REFERENCES model_groups(id) ON DELETE CASCADE,
		FOREIGN KEY (variant_id) REFERENCES model_variants(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS model_group_users (
		group_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		PRIMARY KEY (group_id, user_id),
		FOREIGN KEY (group_id) REFERENCES model_groups(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS user_quotas (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		model_group_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		api_key TEXT UNIQUE NOT NULL,
		total_quota_micros INTEGER NOT NULL DEFAULT 0,
		used_quota_micros INTEGER NOT NULL DEFAULT 0,
		rate_limit_per_minute INTEGER NOT NULL DEFAULT 60,
		rate_limit_per_hour INTEGER NOT NULL DEFAULT 3600,
		rate_limit_per_day INTEGER NOT NULL DEFAULT 86400,
		is_active INTEGER NOT NULL DEFAULT 1,
		deleted_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		CHECK (used_quota_micros >= 0),
		FOREIGN KEY (user_id) REFERENCES users(id),
		FOREIGN KEY (model_group_id) REFERENCES model_groups(id)
	);
	CREATE INDEX IF NOT EXISTS idx_user_quotas_user_id ON user_quotas(user_id);

	CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		quota_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		variant_id TEXT NOT NULL DEFAULT '',
		provider_id TEXT NOT NULL DEFAULT '',
		model_group_id TEXT NOT NULL DEFAULT '',
		model_name TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL DEFAULT 'POST',
		endpoint TEXT NOT NULL DEFAULT '',
		request_body TEXT NOT NULL DEFAULT '',
		response_body TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		input_cost_micros INTEGER NOT NULL DEFAULT 0,
		output_cost_micros INTEGER NOT NULL DEFAULT 0,
		total_cost_micros INTEGER NOT NULL DEFAULT 0,
		status_code INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		error_type TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_records_quota_created ON usage_records(quota_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_usage_records_request_id ON usage_records(request_id);

	CREATE TABLE IF NOT EXISTS quota_usage_logs (
		id TEXT PRIMARY KEY,
		quota_id TEXT NOT NULL,
		action TEXT NOT NULL,
		amount_micros INTEGER NOT NULL DEFAULT 0,
		remaining_micros INTEGER NOT NULL DEFAULT 0,
		request_id TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_quota_usage_logs_quota ON quota_usage_logs(quota_id, created_at);

	CREATE TABLE IF NOT EXISTS quota_alerts (
		id TEXT PRIMARY KEY,
		quota_id TEXT NOT NULL,
		alert_type TEXT NOT NULL,
		threshold INTEGER NOT NULL,
		current_value TEXT NOT NULL DEFAULT '0',
		message TEXT NOT NULL DEFAULT '',
		is_resolved INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		resolved_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_quota_alerts_quota ON quota_alerts(quota_id, alert_type, is_resolved);

	CREATE TABLE IF NOT EXISTS provider_logs (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL,
		action TEXT NOT NULL,
		success INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		details_json TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_provider_logs_provider ON provider_logs(provider_id, created_at);
	`
	_, err := conn.Exec(schema)
	return err
}

// runMigrations 兼容旧库的增量字段，失败忽略（列已存在）
func runMigrations(conn *sql.DB) {
	_, _ = conn.Exec(`ALTER TABLE model_variants ADD COLUMN max_output_tokens INTEGER NOT NULL DEFAULT 0`)
	_, _ = conn.Exec(`ALTER TABLE usage_records ADD COLUMN error_message TEXT NOT NULL DEFAULT ''`)
}

func Close() error {
	if db != nil {
		return db.Close()
	}
	return nil
}
