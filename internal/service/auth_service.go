package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"gatehouse/api/internal/cache"
	"gatehouse/api/internal/config"
	"gatehouse/api/internal/ids"
	"gatehouse/api/internal/models"
	"gatehouse/api/internal/repository"
	"gatehouse/api/internal/security"
)

var (
	// ErrInvalidCredentials covers both an unknown username and a wrong
	// password, so the response never tells the two apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserInactive       = errors.New("user inactive")
	ErrNotAuthenticated   = errors.New("not authenticated")
)

// ValidationError reports a single malformed input field. It is returned
// before any storage operation runs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

const (
	usernameMinLen = 3
	usernameMaxLen = 20
	passwordMinLen = 6
)

// UserStore is the credential store the service runs against.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByUsername(ctx context.Context, username string) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// SessionStore holds issued sessions; deleting a record invalidates the
// matching handle everywhere at once.
type SessionStore interface {
	Create(ctx context.Context, session models.Session) error
	GetByID(ctx context.Context, id string) (models.Session, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteByIDForUser(ctx context.Context, id string, userID string) error
	ListByUser(ctx context.Context, userID string) ([]models.Session, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	Touch(ctx context.Context, id string, ip string, userAgent string) error
}

type AuthService struct {
	users    UserStore
	sessions SessionStore
	cache    *cache.SessionCache
	cfg      *config.AppConfig
	log      zerolog.Logger
}

func NewAuthService(
	users UserStore,
	sessions SessionStore,
	sessionCache *cache.SessionCache,
	cfg *config.AppConfig,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		cache:    sessionCache,
		cfg:      cfg,
		log:      log,
	}
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Register validates the input, pre-checks both unique fields for a
// friendly error, and inserts. The pre-checks are a fast path only: the
// storage unique constraints decide races, and their violations surface
// as the same ErrUsernameTaken / ErrEmailTaken.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (models.User, error) {
	if err := validateRegistration(input); err != nil {
		return models.User{}, err
	}

	if _, err := s.users.FindByUsername(ctx, input.Username); err == nil {
		return models.User{}, repository.ErrUsernameTaken
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return models.User{}, err
	}
	if _, err := s.users.FindByEmail(ctx, input.Email); err == nil {
		return models.User{}, repository.ErrEmailTaken
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return models.User{}, err
	}

	passwordHash, err := security.HashPassword(input.Password)
	if err != nil {
		return models.User{}, err
	}

	user := models.User{
		ID:           ids.New(),
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		return models.User{}, err
	}

	s.log.Info().Str("username", user.Username).Msg("new user registered")
	return user, nil
}

// Authenticate returns the user iff the username exists and the password
// verifies. Either failure yields ErrInvalidCredentials; the log records
// which one, logs being a trusted boundary here.
func (s *AuthService) Authenticate(ctx context.Context, username string, password string) (models.User, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.log.Warn().Str("username", username).Msg("login failed: unknown username")
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}

	if !security.VerifyPassword(password, user.PasswordHash) {
		s.log.Warn().Str("username", username).Msg("login failed: wrong password")
		return models.User{}, ErrInvalidCredentials
	}

	return user, nil
}

type LoginInput struct {
	Username  string
	Password  string
	Remember  bool
	IPAddress string
	UserAgent string
}

type LoginResult struct {
	Token   string
	User    models.User
	Session models.Session
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (LoginResult, error) {
	user, err := s.Authenticate(ctx, input.Username, input.Password)
	if err != nil {
		return LoginResult{}, err
	}
	if !user.IsActive {
		return LoginResult{}, ErrUserInactive
	}

	ttl := s.cfg.Security.SessionTTL
	if input.Remember {
		ttl = s.cfg.Security.RememberTTL
	}

	session := models.Session{
		ID:        ids.New(),
		UserID:    user.ID,
		Remember:  input.Remember,
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
		ExpiresAt: time.Now().Add(ttl),
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return LoginResult{}, err
	}

	token, err := security.GenerateSessionToken(s.cfg.Security.SessionSecret, user.ID, session.ID, ttl)
	if err != nil {
		// Leave no session behind that no handle references.
		_ = s.sessions.DeleteByID(ctx, session.ID)
		return LoginResult{}, err
	}

	now := time.Now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("update last login failed")
	} else {
		user.LastLogin = &now
	}

	s.log.Info().Str("username", user.Username).Bool("remember", input.Remember).Msg("user logged in")
	return LoginResult{Token: token, User: user, Session: session}, nil
}

// CurrentUser resolves a session handle to its bound user. It fails with
// ErrNotAuthenticated when the token is absent, malformed, expired, or
// points at a session that no longer exists; ErrUserInactive when the
// user has been deactivated since issuance.
func (s *AuthService) CurrentUser(ctx context.Context, token string) (models.User, string, error) {
	if token == "" {
		return models.User{}, "", ErrNotAuthenticated
	}

	claims, err := security.ParseSessionToken(token, s.cfg.Security.SessionSecret)
	if err != nil {
		return models.User{}, "", ErrNotAuthenticated
	}

	// Cache hit skips the session-row read. Logout and revocation
	// invalidate the cache entry, so destroyed sessions still miss.
	if userID := s.cache.GetUserID(ctx, claims.SessionID); userID != "" && userID == claims.UserID {
		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return models.User{}, "", ErrNotAuthenticated
		}
		if !user.IsActive {
			return models.User{}, "", ErrUserInactive
		}
		return user, claims.SessionID, nil
	}

	session, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return models.User{}, "", ErrNotAuthenticated
	}
	if session.UserID != claims.UserID || session.Expired(time.Now()) {
		return models.User{}, "", ErrNotAuthenticated
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return models.User{}, "", ErrNotAuthenticated
	}
	if !user.IsActive {
		return models.User{}, "", ErrUserInactive
	}

	s.cache.Put(ctx, session.ID, user.ID)
	return user, session.ID, nil
}

// Logout destroys the session the handle points at. Destroying an
// already-destroyed session is not an error.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	claims, err := security.ParseSessionToken(token, s.cfg.Security.SessionSecret)
	if err != nil {
		return ErrNotAuthenticated
	}

	s.cache.Invalidate(ctx, claims.SessionID)
	if err := s.sessions.DeleteByIDForUser(ctx, claims.SessionID, claims.UserID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	s.log.Info().Str("user_id", claims.UserID).Msg("user logged out")
	return nil
}

func (s *AuthService) Sessions(ctx context.Context, userID string) ([]models.Session, error) {
	return s.sessions.ListByUser(ctx, userID)
}

// TouchSession records activity on a resolved session so last_seen_at
// tracks actual use. A failed touch never fails the request.
func (s *AuthService) TouchSession(ctx context.Context, sessionID string, ip string, userAgent string) {
	if err := s.sessions.Touch(ctx, sessionID, ip, userAgent); err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID).Msg("session touch failed")
	}
}

// RevokeSession tears down one of the caller's other sessions. The
// current one is refused; logout is the way to end it.
func (s *AuthService) RevokeSession(ctx context.Context, userID string, sessionID string, currentSessionID string) error {
	if sessionID == currentSessionID {
		return fmt.Errorf("cannot revoke the current session")
	}
	s.cache.Invalidate(ctx, sessionID)
	return s.sessions.DeleteByIDForUser(ctx, sessionID, userID)
}

func validateRegistration(input RegisterInput) error {
	if n := utf8.RuneCountInString(input.Username); n < usernameMinLen || n > usernameMaxLen {
		return &ValidationError{Field: "username", Reason: fmt.Sprintf("must be between %d and %d characters", usernameMinLen, usernameMaxLen)}
	}
	addr, err := mail.ParseAddress(input.Email)
	if err != nil || addr.Address != input.Email {
		return &ValidationError{Field: "email", Reason: "must be a valid email address"}
	}
	if utf8.RuneCountInString(input.Password) < passwordMinLen {
		return &ValidationError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters long", passwordMinLen)}
	}
	return nil
}
