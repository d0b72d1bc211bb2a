package middleware

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"gatehouse/api/internal/config"
	"gatehouse/api/internal/models"
	"gatehouse/api/internal/service"
)

const (
	// CurrentUserKey holds the resolved models.User for the request.
	CurrentUserKey = "current_user"
	// SessionIDKey holds the id of the session that authenticated it.
	SessionIDKey = "session_id"
	// SessionTokenKey holds the raw handle as presented by the client.
	SessionTokenKey = "session_token"
)

// RequireSession gates protected routes. Requests without a resolvable
// session are denied: browser-style GETs are redirected to the login
// entry point carrying a safe "next" hint, everything else gets a 401.
func RequireSession(cfg *config.AppConfig, auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c, cfg.Security.CookieName)

		user, sessionID, err := auth.CurrentUser(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, service.ErrUserInactive) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user_inactive"})
				return
			}
			deny(c, cfg)
			return
		}

		auth.TouchSession(c.Request.Context(), sessionID, c.ClientIP(), c.GetHeader("User-Agent"))

		c.Set(CurrentUserKey, user)
		c.Set(SessionIDKey, sessionID)
		c.Set(SessionTokenKey, token)

		c.Next()
	}
}

func deny(c *gin.Context, cfg *config.AppConfig) {
	if c.Request.Method == http.MethodGet && wantsHTML(c) {
		target := cfg.Gate.LoginPath + "?next=" + url.QueryEscape(SafeRedirectPath(c.Request.URL.RequestURI(), cfg.Gate.DefaultRedirect))
		c.Redirect(http.StatusFound, target)
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login_required"})
}

func wantsHTML(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/html")
}

// sessionToken reads the handle from the session cookie, falling back to
// an Authorization bearer for non-browser clients.
func sessionToken(c *gin.Context, cookieName string) string {
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// CurrentUser returns the user RequireSession resolved, if any.
func CurrentUser(c *gin.Context) (models.User, bool) {
	val, exists := c.Get(CurrentUserKey)
	if !exists {
		return models.User{}, false
	}
	user, ok := val.(models.User)
	return user, ok
}

// SafeRedirectPath accepts only same-origin relative paths as post-login
// redirect targets. Anything carrying a scheme, a host, or a
// protocol-relative prefix is replaced by fallback, closing the open
// redirect.
func SafeRedirectPath(raw string, fallback string) string {
	if raw == "" {
		return fallback
	}
	if strings.ContainsAny(raw, "\\\r\n") {
		return fallback
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fallback
	}
	if u.Scheme != "" || u.Host != "" {
		return fallback
	}
	if !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(raw, "//") {
		return fallback
	}
	return raw
}
