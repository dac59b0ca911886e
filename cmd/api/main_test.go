package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/members-portal/internal/config"
	"github.com/yourusername/members-portal/internal/metrics"
	"github.com/yourusername/members-portal/internal/session"
	"github.com/yourusername/members-portal/internal/users"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func fastRetries(t *testing.T, retries uint64) {
	t.Helper()
	prevRetries, prevBackoff := startupRetries, startupBackoff
	startupRetries, startupBackoff = retries, time.Millisecond
	t.Cleanup(func() {
		startupRetries, startupBackoff = prevRetries, prevBackoff
	})
}

func testConfig() *config.Config {
	return &config.Config{
		Port:                 "0",
		GinMode:              gin.TestMode,
		SessionSecret:        "0123456789abcdef0123456789abcdef",
		SessionMaxAgeMinutes: 60,
		StoreDriver:          config.StoreDriverMemory,
		StoreTimeoutSeconds:  5,
		BcryptCost:           4,
		HashConcurrency:      2,
		AllowedEmailTLDs:     []string{"com", "org", "net"},
	}
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCmd()
	assert.Equal(t, "members-portal", cmd.Use)
	assert.NotNil(t, cmd.RunE)

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
}

func TestSessionKeyPairs(t *testing.T) {
	cfg := testConfig()

	pairs := sessionKeyPairs(cfg, discardLogger)
	require.Len(t, pairs, 1)
	assert.Equal(t, []byte(cfg.SessionSecret), pairs[0])

	cfg.SessionEncryptionKey = "fedcba9876543210"
	pairs = sessionKeyPairs(cfg, discardLogger)
	require.Len(t, pairs, 2)
	assert.Equal(t, []byte("fedcba9876543210"), pairs[1])

	cfg.SessionSecret = ""
	cfg.SessionEncryptionKey = ""
	pairs = sessionKeyPairs(cfg, discardLogger)
	require.Len(t, pairs, 1)
	assert.Len(t, pairs[0], 32)
}

func TestOpenUserStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		store, closeFn, err := openUserStore(ctx, testConfig(), discardLogger)
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &users.MemoryStore{}, store)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := testConfig()
		cfg.StoreDriver = config.StoreDriverSQLite
		cfg.SQLitePath = filepath.Join(t.TempDir(), "members.db")

		store, closeFn, err := openUserStore(ctx, cfg, discardLogger)
		require.NoError(t, err)
		defer closeFn()

		id, err := store.Insert(ctx, users.User{Name: "alice", Email: "a@b.com", PasswordHash: "digest"})
		require.NoError(t, err)
		cred, found, err := store.FindByEmail(ctx, "a@b.com")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, id, cred.ID)
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := testConfig()
		cfg.StoreDriver = "mongo"
		_, _, err := openUserStore(ctx, cfg, discardLogger)
		assert.Error(t, err)
	})
}

func TestOpenSessionStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory fallback", func(t *testing.T) {
		store, closeFn, err := openSessionStore(ctx, testConfig(), discardLogger)
		require.NoError(t, err)
		defer closeFn()
		assert.NotNil(t, store)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testConfig()
		cfg.SessionRedisURL = "redis://" + mr.Addr()

		store, closeFn, err := openSessionStore(ctx, cfg, discardLogger)
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &session.RedisStore{}, store)
	})

	t.Run("invalid url", func(t *testing.T) {
		cfg := testConfig()
		cfg.SessionRedisURL = "://nope"
		_, _, err := openSessionStore(ctx, cfg, discardLogger)
		assert.Error(t, err)
	})

	t.Run("unreachable", func(t *testing.T) {
		fastRetries(t, 1)
		cfg := testConfig()
		cfg.SessionRedisURL = "redis://127.0.0.1:1"
		_, _, err := openSessionStore(ctx, cfg, discardLogger)
		assert.Error(t, err)
	})
}

func TestWaitForRetries(t *testing.T) {
	fastRetries(t, 5)

	calls := 0
	err := waitFor(context.Background(), discardLogger, "flaky", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWaitForGivesUp(t *testing.T) {
	fastRetries(t, 2)

	calls := 0
	err := waitFor(context.Background(), discardLogger, "down", func(context.Context) error {
		calls++
		return errors.New("down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestNewRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	ctx := context.Background()

	store, closeStore, err := openUserStore(ctx, cfg, discardLogger)
	require.NoError(t, err)
	defer closeStore()
	sessionStore, closeSessions, err := openSessionStore(ctx, cfg, discardLogger)
	require.NoError(t, err)
	defer closeSessions()

	router, err := newRouter(cfg, discardLogger, metrics.New(), store, sessionStore)
	require.NoError(t, err)

	tests := []struct {
		path     string
		status   int
		contains string
	}{
		{"/health", http.StatusOK, `"status":"ok"`},
		{"/metrics", http.StatusOK, "go_goroutines"},
		{"/", http.StatusOK, `href="/signup"`},
		{"/members", http.StatusFound, ""},
		{"/missing", http.StatusNotFound, "Page not found"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.contains)
		})
	}
}

func TestSplitOrigins(t *testing.T) {
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, splitOrigins(" http://a.test, ,http://b.test "))
	assert.Nil(t, splitOrigins(""))
}
