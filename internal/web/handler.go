// Package web は画面のルーティングとレンダリングを行います。
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/members-portal/internal/auth"
	"github.com/yourusername/members-portal/internal/logging"
	"github.com/yourusername/members-portal/internal/session"
	"github.com/yourusername/members-portal/internal/validation"
)

// MemberImages はメンバーページでランダムに表示する画像の枚数です。
const MemberImages = 3

// Authenticator はサインアップとログインを提供します。
type Authenticator interface {
	Signup(ctx context.Context, in validation.SignupInput) (auth.Identity, error)
	Login(ctx context.Context, ip string, in validation.LoginInput) (auth.Identity, error)
}

// Handler は画面のハンドラー群です。
type Handler struct {
	auth      Authenticator
	sessions  *session.Manager
	logger    *slog.Logger
	assetsDir string
	pick      func(n int) int
}

// Option は Handler の設定を変更します。
type Option func(*Handler)

// WithLogger はロガーを設定します。
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithAssetsDir は /assets で配信する画像のディレクトリを設定します。
func WithAssetsDir(dir string) Option {
	return func(h *Handler) {
		h.assetsDir = dir
	}
}

// WithImagePicker は画像選択に使う乱数関数を差し替えます。pick(n) は [0, n) を返す必要があります。
func WithImagePicker(pick func(n int) int) Option {
	return func(h *Handler) {
		h.pick = pick
	}
}

// NewHandler は Handler を作成します。
func NewHandler(authn Authenticator, sessions *session.Manager, opts ...Option) *Handler {
	h := &Handler{
		auth:     authn,
		sessions: sessions,
		logger:   slog.Default(),
		pick:     rand.Intn,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register はルーティングとテンプレートを router に登録します。
// セッションミドルウェアは呼び出し側で router に設定しておく必要があります。
func (h *Handler) Register(router *gin.Engine) error {
	tmpl, err := Templates()
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}
	router.SetHTMLTemplate(tmpl)

	router.GET("/", h.Home)
	router.GET("/signup", h.SignupForm)
	router.POST("/signupSubmit", h.SignupSubmit)
	router.GET("/login", h.LoginForm)
	router.POST("/loginSubmit", h.LoginSubmit)
	router.GET("/members", h.sessions.RequireAuthenticated(), h.Members)
	router.GET("/logout", h.Logout)
	if h.assetsDir != "" {
		router.Static("/assets", h.assetsDir)
	}
	router.NoRoute(h.NotFound)
	return nil
}

// Home は GET / のハンドラーです。
func (h *Handler) Home(c *gin.Context) {
	state := h.sessions.Current(c)
	c.HTML(http.StatusOK, "home.html", gin.H{
		"Title":         "Home",
		"Authenticated": state.Authenticated,
		"Name":          state.Name,
	})
}

// SignupForm は GET /signup のハンドラーです。
func (h *Handler) SignupForm(c *gin.Context) {
	c.HTML(http.StatusOK, "signup.html", gin.H{"Title": "Sign up"})
}

// SignupSubmit は POST /signupSubmit のハンドラーです。
func (h *Handler) SignupSubmit(c *gin.Context) {
	var in validation.SignupInput
	if err := c.ShouldBind(&in); err != nil {
		h.renderMessage(c, http.StatusBadRequest, "The signup form could not be read.", "/signup")
		return
	}

	identity, err := h.auth.Signup(c.Request.Context(), in)
	if err != nil {
		h.renderError(c, err, "/signup")
		return
	}
	h.establish(c, identity, "/signup")
}

// LoginForm は GET /login のハンドラーです。
func (h *Handler) LoginForm(c *gin.Context) {
	c.HTML(http.StatusOK, "login.html", gin.H{"Title": "Log in"})
}

// LoginSubmit は POST /loginSubmit のハンドラーです。
func (h *Handler) LoginSubmit(c *gin.Context) {
	var in validation.LoginInput
	if err := c.ShouldBind(&in); err != nil {
		h.renderMessage(c, http.StatusBadRequest, "The login form could not be read.", "/login")
		return
	}

	identity, err := h.auth.Login(c.Request.Context(), c.ClientIP(), in)
	if err != nil {
		h.renderError(c, err, "/login")
		return
	}
	h.establish(c, identity, "/login")
}

// Members は GET /members のハンドラーです。RequireAuthenticated の後ろに置きます。
func (h *Handler) Members(c *gin.Context) {
	c.HTML(http.StatusOK, "members.html", gin.H{
		"Title": "Members",
		"Name":  c.GetString(session.ContextNameKey),
		"Image": fmt.Sprintf("/assets/%d.jpg", h.pick(MemberImages)+1),
	})
}

// Logout は GET /logout のハンドラーです。
func (h *Handler) Logout(c *gin.Context) {
	if err := h.sessions.Destroy(c); err != nil {
		logging.LogError(c.Request.Context(), h.requestLogger(c), "failed to destroy session", err)
		h.renderMessage(c, http.StatusInternalServerError, "We could not log you out. Please try again.", "/logout")
		return
	}
	c.Redirect(http.StatusFound, "/")
}

// NotFound は未定義のパスに対するハンドラーです。
func (h *Handler) NotFound(c *gin.Context) {
	c.HTML(http.StatusNotFound, "notfound.html", gin.H{"Title": "Not found"})
}

func (h *Handler) establish(c *gin.Context, identity auth.Identity, retry string) {
	if _, err := h.sessions.Establish(c, identity.Name); err != nil {
		logging.LogError(c.Request.Context(), h.requestLogger(c), "failed to establish session", err, "user_id", identity.ID)
		h.renderMessage(c, http.StatusInternalServerError, "We could not start your session. Please try again.", retry)
		return
	}
	c.Redirect(http.StatusFound, "/members")
}

// renderError は認証処理のエラーを利用者向けのメッセージに変換します。
func (h *Handler) renderError(c *gin.Context, err error, retry string) {
	var (
		verr      *validation.Error
		throttled *auth.ThrottledError
	)
	switch {
	case errors.As(err, &verr):
		h.renderMessage(c, http.StatusBadRequest, verr.Reason, retry)
	case errors.Is(err, auth.ErrInvalidCredentials):
		h.renderMessage(c, http.StatusUnauthorized, "Invalid email or password.", retry)
	case errors.As(err, &throttled):
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(throttled.RetryAfter.Seconds()))))
		h.renderMessage(c, http.StatusTooManyRequests, "Too many failed login attempts. Please wait a few minutes and try again.", retry)
	case errors.Is(err, auth.ErrStoreUnavailable):
		logging.LogError(c.Request.Context(), h.requestLogger(c), "credential store unavailable", err)
		h.renderMessage(c, http.StatusServiceUnavailable, "The service is temporarily unavailable. Please try again later.", retry)
	default:
		logging.LogError(c.Request.Context(), h.requestLogger(c), "request failed", err)
		h.renderMessage(c, http.StatusInternalServerError, "Something went wrong. Please try again.", retry)
	}
}

func (h *Handler) renderMessage(c *gin.Context, status int, message, retry string) {
	c.HTML(status, "message.html", gin.H{
		"Title":   "Error",
		"Message": message,
		"Retry":   retry,
	})
}

func (h *Handler) requestLogger(c *gin.Context) *slog.Logger {
	return h.logger.With("path", c.Request.URL.Path, "ip", c.ClientIP())
}
