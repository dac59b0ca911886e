// Package session は訪問者ごとのログイン状態を管理します。
//
// 状態は Anonymous と Authenticated の2つです。ログアウトまたは有効期限切れで
// セッションは破棄され、次のリクエストから Anonymous として扱われます。
package session

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/members-portal/internal/metrics"
)

const (
	// CookieName はセッションIDを運ぶ Cookie の名前です。
	CookieName = "mp_session"

	sessionKeyAuthenticated = "authenticated"
	sessionKeyName          = "name"
	sessionKeyExpiresAt     = "expires_at"
)

// DefaultLifetime はセッションの有効期間です。操作の有無にかかわらず延長しません。
const DefaultLifetime = time.Hour

// ContextNameKey は、RequireAuthenticated を通過したユーザー名を gin.Context に保存するキーです。
const ContextNameKey = "session.name"

// ErrEmptyName は名前なしで認証済みセッションを作ろうとした場合に返されます。
var ErrEmptyName = errors.New("authenticated session requires a name")

// State はセッションの現在の状態です。
type State struct {
	Authenticated bool
	Name          string
	ExpiresAt     time.Time
}

// Anonymous は未認証の状態です。
var Anonymous = State{}

// Manager はセッションの生成・参照・破棄を行います。
type Manager struct {
	lifetime time.Duration
	secure   bool
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option は Manager の設定を変更します。
type Option func(*Manager)

// WithClock は現在時刻の取得関数を差し替えます。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithMetrics は状態遷移の記録先を設定します。
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithLogger はロガーを設定します。
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithSecureCookie は Cookie に Secure 属性を付けるかどうかを設定します。
func WithSecureCookie(secure bool) Option {
	return func(m *Manager) {
		m.secure = secure
	}
}

// NewManager はセッションマネージャーを作成します。lifetime が 0 以下なら DefaultLifetime を使います。
func NewManager(lifetime time.Duration, opts ...Option) *Manager {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	m := &Manager{
		lifetime: lifetime,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CookieOptions はセッションストアに設定する Cookie 属性を返します。
func (m *Manager) CookieOptions() sessions.Options {
	return sessions.Options{
		Path:     "/",
		MaxAge:   int(m.lifetime.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Establish は Anonymous から Authenticated へ遷移させます。
// 呼び出し側は入力検証と資格情報の確認を済ませている必要があります。
func (m *Manager) Establish(c *gin.Context, name string) (State, error) {
	if name == "" {
		return Anonymous, ErrEmptyName
	}

	now := m.now()
	state := State{
		Authenticated: true,
		Name:          name,
		ExpiresAt:     now.Add(m.lifetime),
	}

	session := sessions.Default(c)
	session.Clear()
	session.Set(sessionKeyAuthenticated, true)
	session.Set(sessionKeyName, name)
	session.Set(sessionKeyExpiresAt, state.ExpiresAt.Unix())
	session.Options(m.CookieOptions())

	if err := session.Save(); err != nil {
		return Anonymous, err
	}
	m.metrics.SessionEvent("established")
	return state, nil
}

// Current は現在の状態を返します。期限切れのセッションはここで破棄されます。
func (m *Manager) Current(c *gin.Context) State {
	session := sessions.Default(c)
	authenticated, _ := session.Get(sessionKeyAuthenticated).(bool)
	name, _ := session.Get(sessionKeyName).(string)
	if !authenticated || name == "" {
		return Anonymous
	}

	expiresAt := readUnix(session.Get(sessionKeyExpiresAt))
	if expiresAt.IsZero() || !m.now().Before(expiresAt) {
		if err := m.clear(c); err != nil {
			m.logger.WarnContext(c.Request.Context(), "failed to discard expired session", "error", err)
		}
		m.metrics.SessionEvent("expired")
		return Anonymous
	}

	return State{
		Authenticated: true,
		Name:          name,
		ExpiresAt:     expiresAt,
	}
}

// Destroy はセッションを即座に破棄します（ログアウト）。
func (m *Manager) Destroy(c *gin.Context) error {
	if err := m.clear(c); err != nil {
		return err
	}
	m.metrics.SessionEvent("destroyed")
	return nil
}

// RequireAuthenticated は未認証の訪問者を / へリダイレクトするミドルウェアを返します。
func (m *Manager) RequireAuthenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		state := m.Current(c)
		if !state.Authenticated {
			c.Redirect(http.StatusFound, "/")
			c.Abort()
			return
		}
		c.Set(ContextNameKey, state.Name)
		c.Next()
	}
}

func (m *Manager) clear(c *gin.Context) error {
	session := sessions.Default(c)
	session.Clear()
	opts := m.CookieOptions()
	opts.MaxAge = -1
	session.Options(opts)
	return session.Save()
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
