package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/memstore"
	"github.com/gorilla/securecookie"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/yourusername/members-portal/internal/config"
	"github.com/yourusername/members-portal/internal/session"
	"github.com/yourusername/members-portal/internal/users"
)

// 起動時の疎通確認の再試行設定
var (
	startupRetries uint64 = 5
	startupBackoff        = 500 * time.Millisecond
)

// openUserStore は STORE_DRIVER に応じた資格情報ストアを開きます。
// 返される関数で接続を閉じます。
func openUserStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (users.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, oops.Code("DB_CONNECT_FAILED").With("driver", cfg.StoreDriver).Wrap(err)
		}
		if err := waitFor(ctx, logger, "postgres", pool.Ping); err != nil {
			pool.Close()
			return nil, nil, oops.Code("DB_CONNECT_FAILED").With("driver", cfg.StoreDriver).Wrap(err)
		}
		return users.WithTimeout(users.NewPostgresStore(pool), cfg.StoreTimeout()), pool.Close, nil

	case config.StoreDriverSQLite:
		store, err := users.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, oops.Code("DB_CONNECT_FAILED").With("driver", cfg.StoreDriver).Wrap(err)
		}
		closeFn := func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close sqlite store", "error", err)
			}
		}
		return users.WithTimeout(store, cfg.StoreTimeout()), closeFn, nil

	case config.StoreDriverMemory:
		logger.Warn("using in-memory user store; users are lost on restart")
		return users.NewMemoryStore(), func() {}, nil

	default:
		return nil, nil, oops.Code("CONFIG_INVALID").Errorf("unknown STORE_DRIVER: %q", cfg.StoreDriver)
	}
}

// openSessionStore はセッションの保存先を開きます。
// SESSION_REDIS_URL が未設定の場合はプロセス内メモリに保存します。
func openSessionStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sessions.Store, func(), error) {
	keyPairs := sessionKeyPairs(cfg, logger)

	if cfg.SessionRedisURL == "" {
		logger.Warn("SESSION_REDIS_URL is not set; sessions are kept in memory")
		return memstore.NewStore(keyPairs...), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.SessionRedisURL)
	if err != nil {
		return nil, nil, oops.Code("CONFIG_INVALID").With("key", "SESSION_REDIS_URL").Wrap(err)
	}
	rdb := redis.NewClient(opts)
	ping := func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
	if err := waitFor(ctx, logger, "redis", ping); err != nil {
		_ = rdb.Close()
		return nil, nil, oops.Code("REDIS_CONNECT_FAILED").Wrap(err)
	}

	closeFn := func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("failed to close redis client", "error", err)
		}
	}
	return session.NewRedisStore(rdb, keyPairs...), closeFn, nil
}

// sessionKeyPairs は Cookie の署名鍵と暗号鍵を返します。
// SESSION_SECRET が空の場合は起動ごとのランダム鍵を使います（再起動でセッションは無効になります）。
func sessionKeyPairs(cfg *config.Config, logger *slog.Logger) [][]byte {
	hashKey := []byte(cfg.SessionSecret)
	if len(hashKey) == 0 {
		logger.Warn("SESSION_SECRET is not set; using a random key for this process")
		hashKey = securecookie.GenerateRandomKey(32)
	}
	if cfg.SessionEncryptionKey == "" {
		return [][]byte{hashKey}
	}
	return [][]byte{hashKey, []byte(cfg.SessionEncryptionKey)}
}

// waitFor は ping が成功するまで指数バックオフで再試行します。
func waitFor(ctx context.Context, logger *slog.Logger, name string, ping func(context.Context) error) error {
	backoff := retry.WithMaxRetries(startupRetries, retry.NewExponential(startupBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			logger.Warn("waiting for dependency", "name", name, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}
