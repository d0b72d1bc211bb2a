package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse/api/internal/cache"
	"gatehouse/api/internal/config"
	"gatehouse/api/internal/middleware"
	"gatehouse/api/internal/repository"
	"gatehouse/api/internal/service"
)

func TestSafeRedirectPath(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", "/"},
		{"relative path", "/dashboard", "/dashboard"},
		{"relative with query", "/dashboard?tab=2", "/dashboard?tab=2"},
		{"absolute url", "http://evil.example/x", "/"},
		{"https url", "https://evil.example/x", "/"},
		{"protocol relative", "//evil.example/x", "/"},
		{"no leading slash", "dashboard", "/"},
		{"backslash trick", "/\\evil.example", "/"},
		{"newline", "/dash\nboard", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, middleware.SafeRedirectPath(tt.raw, "/"))
		})
	}
}

func gateTestRouter(t *testing.T) (*gin.Engine, *service.AuthService, *config.AppConfig) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.AppConfig{
		Environment: "testing",
		Security: config.SecurityConfig{
			SessionSecret: "test-session-secret",
			SessionTTL:    time.Hour,
			RememberTTL:   720 * time.Hour,
			CookieName:    "gatehouse_session",
		},
		Gate: config.GateConfig{
			LoginPath:       "/api/v1/auth/login",
			DefaultRedirect: "/",
		},
	}

	auth := service.NewAuthService(
		repository.NewMemoryUserRepository(),
		repository.NewMemorySessionRepository(),
		cache.NewSessionCache(nil),
		cfg,
		zerolog.Nop(),
	)

	router := gin.New()
	protected := router.Group("/dashboard")
	protected.Use(middleware.RequireSession(cfg, auth))
	protected.GET("", func(c *gin.Context) {
		user, _ := middleware.CurrentUser(c)
		c.JSON(http.StatusOK, gin.H{"username": user.Username})
	})

	return router, auth, cfg
}

func TestRequireSessionDeniesWithoutSession(t *testing.T) {
	router, _, _ := gateTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRequireSessionRedirectsBrowsers(t *testing.T) {
	router, _, cfg := gateTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusFound, resp.Code)
	location := resp.Header().Get("Location")
	assert.Contains(t, location, cfg.Gate.LoginPath)
	assert.Contains(t, location, "next=%2Fdashboard")
}

func TestRequireSessionGrantsWithValidSession(t *testing.T) {
	router, auth, _ := gateTestRouter(t)
	ctx := context.Background()

	_, err := auth.Register(ctx, service.RegisterInput{Username: "alice", Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)
	result, err := auth.Login(ctx, service.LoginInput{Username: "alice", Password: "secret1"})
	require.NoError(t, err)

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.Header.Set("Authorization", "Bearer "+result.Token)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)

		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Contains(t, resp.Body.String(), "alice")
	})

	t.Run("session cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.AddCookie(&http.Cookie{Name: "gatehouse_session", Value: result.Token})
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)

		assert.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("touches last seen", func(t *testing.T) {
		sessions, err := auth.Sessions(ctx, result.User.ID)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		before := sessions[0].LastSeenAt

		time.Sleep(10 * time.Millisecond)

		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.Header.Set("Authorization", "Bearer "+result.Token)
		req.Header.Set("User-Agent", "gatehouse-cli/1.0")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		require.Equal(t, http.StatusOK, resp.Code)

		sessions, err = auth.Sessions(ctx, result.User.ID)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.True(t, sessions[0].LastSeenAt.After(before))
		assert.Equal(t, "gatehouse-cli/1.0", sessions[0].UserAgent)
	})

	t.Run("after logout", func(t *testing.T) {
		require.NoError(t, auth.Logout(ctx, result.Token))

		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.Header.Set("Authorization", "Bearer "+result.Token)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)

		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})
}
