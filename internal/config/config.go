// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ストア種別
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // HTTPサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// セッション設定
	SessionSecret        string // セッションCookie署名用の秘密鍵
	SessionEncryptionKey string // セッションCookie暗号化鍵（任意、16/24/32バイト）
	SessionRedisURL      string // セッション保存先のRedis接続URL
	SessionMaxAgeMinutes int    // セッションの有効期限（分）

	// ユーザーストア設定
	StoreDriver         string // postgres / sqlite / memory
	DatabaseURL         string // PostgreSQL接続URL
	SQLitePath          string // SQLiteファイルのパス
	StoreTimeoutSeconds int    // ストア操作1回あたりのタイムアウト（秒）

	// パスワード設定
	BcryptCost      int // bcryptのコスト
	HashConcurrency int // 同時に実行できるハッシュ計算の数

	// 入力検証
	AllowedEmailTLDs []string // 許可するメールアドレスのトップレベルドメイン

	// 静的ファイル
	AssetsDir string // 会員ページの画像を配置するディレクトリ
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	ginMode := getEnv("GIN_MODE", "debug")
	defaultDriver := StoreDriverMemory
	if ginMode == "release" {
		defaultDriver = StoreDriverPostgres
	}

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: ginMode,

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:8080"),

		// セッション設定
		SessionSecret:        getEnv("SESSION_SECRET", ""),
		SessionEncryptionKey: getEnv("SESSION_ENCRYPTION_KEY", ""),
		SessionRedisURL:      getEnv("SESSION_REDIS_URL", ""),
		SessionMaxAgeMinutes: getEnvAsInt("SESSION_MAX_AGE_MINUTES", 60),

		// ユーザーストア設定
		StoreDriver:         strings.ToLower(getEnv("STORE_DRIVER", defaultDriver)),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		SQLitePath:          getEnv("SQLITE_PATH", "data/members.db"),
		StoreTimeoutSeconds: getEnvAsInt("STORE_TIMEOUT_SECONDS", 5),

		// パスワード設定
		BcryptCost:      getEnvAsInt("BCRYPT_COST", 12),
		HashConcurrency: getEnvAsInt("HASH_CONCURRENCY", runtime.NumCPU()),

		// 入力検証
		AllowedEmailTLDs: getEnvAsList("ALLOWED_EMAIL_TLDS", []string{"com", "org", "net"}),

		// 静的ファイル
		AssetsDir: getEnv("ASSETS_DIR", "public"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case StoreDriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER=sqlite")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER: %q", c.StoreDriver)
	}

	if c.SessionMaxAgeMinutes <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE_MINUTES must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}
	if len(c.AllowedEmailTLDs) == 0 {
		return fmt.Errorf("ALLOWED_EMAIL_TLDS must not be empty")
	}
	switch len(c.SessionEncryptionKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("SESSION_ENCRYPTION_KEY must be 16, 24 or 32 bytes")
	}

	// ローカル開発では Redis やシークレットは任意
	// 本番環境では厳格にチェックする
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.SessionRedisURL == "" {
			return fmt.Errorf("SESSION_REDIS_URL is required in release mode")
		}
		if c.StoreDriver == StoreDriverMemory {
			return fmt.Errorf("STORE_DRIVER=memory is not allowed in release mode")
		}
	}

	return nil
}

// SessionMaxAge はセッションの有効期限を返します。
func (c *Config) SessionMaxAge() time.Duration {
	return time.Duration(c.SessionMaxAgeMinutes) * time.Minute
}

// StoreTimeout はストア操作のタイムアウトを返します。
func (c *Config) StoreTimeout() time.Duration {
	if c.StoreTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList はカンマ区切りの環境変数を文字列スライスとして取得します。
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			values = append(values, v)
		}
	}
	return values
}
