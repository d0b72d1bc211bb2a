package handlers

import (
	"bytes"
	"encoding/json"
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
	"gatehouse/api/internal/repository"
	"gatehouse/api/internal/service"
)

func testRouter(t *testing.T) *gin.Engine {
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

	handlerSet := NewHandlerSet(zerolog.Nop(), cfg, auth, nil, nil)

	router := gin.New()
	handlerSet.Routes(router.Group("/api"))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func registerAlice(t *testing.T, router *gin.Engine) {
	t.Helper()
	resp := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", map[string]any{
		"username":        "alice",
		"email":           "alice@example.com",
		"password":        "secret1",
		"passwordConfirm": "secret1",
	}, "")
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
}

func loginAlice(t *testing.T, router *gin.Engine) string {
	t.Helper()
	resp := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"username": "alice",
		"password": "secret1",
	}, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	token, _ := decodeBody(t, resp)["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestAuthFlow(t *testing.T) {
	router := testRouter(t)

	// Register succeeds and last_login starts unset.
	resp := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", map[string]any{
		"username":        "alice",
		"email":           "alice@example.com",
		"password":        "secret1",
		"passwordConfirm": "secret1",
	}, "")
	require.Equal(t, http.StatusCreated, resp.Code)
	user := decodeBody(t, resp)["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.Nil(t, user["lastLogin"])

	// Protected resource without a session is denied.
	resp = doJSON(t, router, http.MethodGet, "/api/v1/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	// Wrong password is rejected without detail.
	resp = doJSON(t, router, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"username": "alice",
		"password": "wrongpass",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "invalid_credentials", decodeBody(t, resp)["error"])

	// Unknown user yields the identical response body.
	respUnknown := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"username": "mallory",
		"password": "wrongpass",
	}, "")
	assert.Equal(t, resp.Code, respUnknown.Code)
	assert.Equal(t, resp.Body.String(), respUnknown.Body.String())

	// Login succeeds, sets the cookie, updates last_login.
	resp = doJSON(t, router, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"username": "alice",
		"password": "secret1",
	}, "")
	require.Equal(t, http.StatusOK, resp.Code)
	body := decodeBody(t, resp)
	token := body["token"].(string)
	require.NotEmpty(t, token)
	assert.NotNil(t, body["user"].(map[string]any)["lastLogin"])

	cookies := resp.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "gatehouse_session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	// The session grants access to protected resources.
	resp = doJSON(t, router, http.MethodGet, "/api/v1/auth/me", nil, token)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "alice", decodeBody(t, resp)["user"].(map[string]any)["username"])

	// Logout destroys it; the same handle stops working.
	resp = doJSON(t, router, http.MethodPost, "/api/v1/auth/logout", nil, token)
	require.Equal(t, http.StatusNoContent, resp.Code)

	resp = doJSON(t, router, http.MethodGet, "/api/v1/auth/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRegisterDuplicatesAndValidation(t *testing.T) {
	router := testRouter(t)
	registerAlice(t, router)

	t.Run("duplicate username", func(t *testing.T) {
		resp := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", map[string]any{
			"username":        "alice",
			"email":           "other@example.com",
			"password":        "secret1",
			"passwordConfirm": "secret1",
		}, "")
		assert.Equal(t, http.StatusConflict, resp.Code)
		assert.Equal(t, "username_taken", decodeBody(t, resp)["error"])
	})

	t.Run("duplicate email", func(t *testing.T) {
		resp := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", map[string]any{
			"username":        "bob",
			"email":           "alice@example.com",
			"password":        "secret1",
			"passwordConfirm": "secret1",
		}, "")
		assert.Equal(t, http.StatusConflict, resp.Code)
		assert.Equal(t, "email_taken", decodeBody(t, resp)["error"])
	})

	t.Run("password confirmation mismatch", func(t *testing.T) {
		resp := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", map[string]any{
			"username":        "carol",
			"email":           "carol@example.com",
			"password":        "secret1",
			"passwordConfirm": "secret2",
		}, "")
		assert.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Equal(t, "passwordConfirm", decodeBody(t, resp)["field"])
	})

	t.Run("short username", func(t *testing.T) {
		resp := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", map[string]any{
			"username":        "al",
			"email":           "al@example.com",
			"password":        "secret1",
			"passwordConfirm": "secret1",
		}, "")
		assert.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Equal(t, "username", decodeBody(t, resp)["field"])
	})
}

func TestLoginRedirectHint(t *testing.T) {
	router := testRouter(t)
	registerAlice(t, router)

	login := func(next string) string {
		path := "/api/v1/auth/login"
		if next != "" {
			path += "?next=" + next
		}
		resp := doJSON(t, router, http.MethodPost, path, map[string]any{
			"username": "alice",
			"password": "secret1",
		}, "")
		require.Equal(t, http.StatusOK, resp.Code)
		redirectTo, _ := decodeBody(t, resp)["redirectTo"].(string)
		return redirectTo
	}

	assert.Equal(t, "/dashboard", login("/dashboard"))
	assert.Equal(t, "/", login("http%3A%2F%2Fevil.example%2Fx"))
	assert.Equal(t, "/", login(""))
}

func TestSessionManagement(t *testing.T) {
	router := testRouter(t)
	registerAlice(t, router)

	firstToken := loginAlice(t, router)
	secondToken := loginAlice(t, router)

	// Both sessions are listed; exactly one is marked current.
	resp := doJSON(t, router, http.MethodGet, "/api/v1/auth/sessions", nil, firstToken)
	require.Equal(t, http.StatusOK, resp.Code)
	sessions := decodeBody(t, resp)["sessions"].([]any)
	require.Len(t, sessions, 2)

	var currentID, otherID string
	for _, raw := range sessions {
		session := raw.(map[string]any)
		if session["current"].(bool) {
			currentID = session["id"].(string)
		} else {
			otherID = session["id"].(string)
		}
	}
	require.NotEmpty(t, currentID)
	require.NotEmpty(t, otherID)

	// Revoking the current session is refused.
	resp = doJSON(t, router, http.MethodDelete, "/api/v1/auth/sessions/"+currentID, nil, firstToken)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	// Revoking the other one kills its handle.
	resp = doJSON(t, router, http.MethodDelete, "/api/v1/auth/sessions/"+otherID, nil, firstToken)
	require.Equal(t, http.StatusNoContent, resp.Code)

	resp = doJSON(t, router, http.MethodGet, "/api/v1/auth/me", nil, secondToken)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	resp = doJSON(t, router, http.MethodGet, "/api/v1/auth/me", nil, firstToken)
	assert.Equal(t, http.StatusOK, resp.Code)

	// Revoking an unknown session 404s.
	resp = doJSON(t, router, http.MethodDelete, "/api/v1/auth/sessions/does-not-exist", nil, firstToken)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
