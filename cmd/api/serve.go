package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/yourusername/members-portal/internal/auth"
	"github.com/yourusername/members-portal/internal/config"
	"github.com/yourusername/members-portal/internal/logging"
	"github.com/yourusername/members-portal/internal/metrics"
	"github.com/yourusername/members-portal/internal/password"
	"github.com/yourusername/members-portal/internal/session"
	"github.com/yourusername/members-portal/internal/users"
	"github.com/yourusername/members-portal/internal/validation"
	"github.com/yourusername/members-portal/internal/web"
)

const (
	serviceName     = "members-portal"
	shutdownTimeout = 10 * time.Second
)

func runServe(cmd *cobra.Command, _ []string) error {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	gin.SetMode(cfg.GinMode)

	level := slog.LevelDebug
	if cfg.GinMode == gin.ReleaseMode {
		level = slog.LevelInfo
	}
	logger := logging.Setup(serviceName, logging.FormatForMode(cfg.GinMode), level, nil)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openUserStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	sessionStore, closeSessions, err := openSessionStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSessions()

	router, err := newRouter(cfg, logger, metrics.New(), store, sessionStore)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		logger.Info("starting server", "addr", srv.Addr, "mode", cfg.GinMode, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return oops.Code("SERVER_FAILED").Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRouter はミドルウェアとルーティングを設定した gin.Engine を作成します。
func newRouter(cfg *config.Config, logger *slog.Logger, mt *metrics.Metrics, store users.Store, sessionStore sessions.Store) (*gin.Engine, error) {
	// デフォルトミドルウェア: Logger, Recovery
	router := gin.Default()

	if origins := splitOrigins(cfg.CORSAllowedOrigins); len(origins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
		router.Use(cors.New(corsConfig))
	}

	manager := session.NewManager(cfg.SessionMaxAge(),
		session.WithSecureCookie(cfg.GinMode == gin.ReleaseMode),
		session.WithMetrics(mt),
		session.WithLogger(logger),
	)
	sessionStore.Options(manager.CookieOptions())
	router.Use(sessions.Sessions(session.CookieName, sessionStore))

	hasher := password.NewBcrypt(cfg.BcryptCost, cfg.HashConcurrency, password.WithObserver(mt.ObserveHash))
	svc := auth.NewService(validation.New(cfg.AllowedEmailTLDs), hasher, store,
		auth.WithMetrics(mt),
		auth.WithLogger(logger),
	)

	router.GET("/health", handleHealth)
	router.GET("/metrics", gin.WrapH(mt.Handler()))

	h := web.NewHandler(svc, manager,
		web.WithLogger(logger),
		web.WithAssetsDir(cfg.AssetsDir),
	)
	if err := h.Register(router); err != nil {
		return nil, err
	}
	return router, nil
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": serviceName,
	})
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
