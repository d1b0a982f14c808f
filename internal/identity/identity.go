// Package identity is the PantrySync identity provider: email and password
// accounts, signed session tokens and session change notifications.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/pantrysync/internal/apperr"
	"github.com/dukerupert/pantrysync/internal/model"
	"github.com/dukerupert/pantrysync/internal/store"
)

// Config holds provider settings. Secret is required.
type Config struct {
	Secret   []byte
	TokenTTL time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	// MaxFailedAttempts failed sign-ins per email are allowed before
	// TooManyAttempts; one attempt is restored every AttemptWindow.
	MaxFailedAttempts int
	AttemptWindow     time.Duration
}

// SessionEvent reports a sign-in or sign-out. Session is nil for sign-out.
type SessionEvent struct {
	UserID    string
	SessionID string
	Session   *model.Session
}

type listener struct {
	id int
	fn func(SessionEvent)
}

// Service implements sign-up, sign-in, sign-out and token verification on
// top of the user and session stores.
type Service struct {
	users    *store.UserStore
	sessions *store.SessionStore
	cfg      Config
	attempts *attemptLimiter
	logger   *slog.Logger

	mu        sync.Mutex
	listeners []listener
	nextID    int
}

func NewService(users *store.UserStore, sessions *store.SessionStore, cfg Config, logger *slog.Logger) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("identity: secret is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 30 * 24 * time.Hour
	}
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = 5
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = time.Minute
	}
	return &Service{
		users:    users,
		sessions: sessions,
		cfg:      cfg,
		attempts: newAttemptLimiter(cfg.AttemptWindow, cfg.MaxFailedAttempts),
		logger:   logger,
	}, nil
}

// networkErr categorizes a failed store call as a provider network error.
func networkErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, apperr.ErrNetwork, err)
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperr.Validation("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Validation("invalid email address")
	}
	return email, nil
}

// SignUp creates an account and signs it in.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (*model.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, apperr.Validation("display name is required")
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: use at least %d characters", apperr.ErrWeakPassword, MinPasswordLength)
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, networkErr("sign up", err)
	}
	if existing != nil {
		return nil, apperr.ErrAccountExists
	}

	hash, err := hashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrUnknown, err)
	}
	u, err := s.users.Create(ctx, email, displayName, hash)
	if err != nil {
		// Lost a race with a concurrent sign-up for the same address.
		if again, _ := s.users.GetByEmail(ctx, email); again != nil {
			return nil, apperr.ErrAccountExists
		}
		return nil, networkErr("sign up", err)
	}

	s.logger.Info("account created", "user_id", u.ID)
	return s.startSession(ctx, u)
}

// SignIn verifies credentials and opens a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, apperr.Validation("password is required")
	}
	if s.attempts.Blocked(email) {
		return nil, apperr.ErrTooManyAttempts
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, networkErr("sign in", err)
	}
	if u == nil {
		s.attempts.Fail(email)
		return nil, apperr.ErrInvalidCredentials
	}
	ok, err := verifyPassword(u.PasswordHash, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrUnknown, err)
	}
	if !ok {
		s.attempts.Fail(email)
		s.logger.Warn("sign in rejected", "user_id", u.ID)
		return nil, apperr.ErrInvalidCredentials
	}

	s.attempts.Reset(email)
	return s.startSession(ctx, u)
}

func (s *Service) startSession(ctx context.Context, u *model.User) (*model.Session, error) {
	id := uuid.NewString()
	issued := time.Now().UTC()
	expires := issued.Add(s.cfg.TokenTTL)

	rec, err := s.sessions.Create(ctx, id, u.ID, expires)
	if err != nil {
		return nil, networkErr("create session", err)
	}
	token, err := signToken(s.cfg.Secret, id, u.ID, u.Email, u.DisplayName, issued, expires)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrUnknown, err)
	}

	sess := &model.Session{
		ID:          id,
		UserID:      u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Token:       token,
		ExpiresAt:   rec.ExpiresAt,
		CreatedAt:   rec.CreatedAt,
	}
	s.emit(SessionEvent{UserID: u.ID, SessionID: id, Session: sess})
	return sess, nil
}

// SignOut revokes the session. Listeners are told about the sign-out even
// when the store call fails, and the error is returned for the caller to
// log.
func (s *Service) SignOut(ctx context.Context, sess *model.Session) error {
	if sess == nil {
		return nil
	}
	err := s.sessions.Delete(ctx, sess.ID)
	s.emit(SessionEvent{UserID: sess.UserID, SessionID: sess.ID})
	if err != nil {
		return networkErr("sign out", err)
	}
	return nil
}

// Verify resolves a bearer token to its live session.
func (s *Service) Verify(ctx context.Context, token string) (*model.Session, error) {
	claims, err := parseToken(s.cfg.Secret, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrUnauthorized, err)
	}
	rec, err := s.sessions.Get(ctx, claims.ID)
	if err != nil {
		return nil, networkErr("verify session", err)
	}
	if rec == nil || rec.UserID != claims.Subject {
		return nil, fmt.Errorf("%w: session revoked", apperr.ErrUnauthorized)
	}
	u, err := s.users.GetByID(ctx, rec.UserID)
	if err != nil {
		return nil, networkErr("verify session", err)
	}
	if u == nil {
		return nil, fmt.Errorf("%w: account removed", apperr.ErrUnauthorized)
	}
	return &model.Session{
		ID:          rec.ID,
		UserID:      u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Token:       token,
		ExpiresAt:   rec.ExpiresAt,
		CreatedAt:   rec.CreatedAt,
	}, nil
}

// UpdateProfile changes the signed-in user's display name.
func (s *Service) UpdateProfile(ctx context.Context, userID, displayName string) (*model.User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, apperr.Validation("display name is required")
	}
	u, err := s.users.UpdateDisplayName(ctx, userID, displayName)
	if err != nil {
		return nil, networkErr("update profile", err)
	}
	if u == nil {
		return nil, fmt.Errorf("user %s: %w", userID, apperr.ErrNotFound)
	}
	return u, nil
}

// CleanupAttempts forgets failed sign-in counters idle for longer than
// maxIdle and returns how many were dropped.
func (s *Service) CleanupAttempts(maxIdle time.Duration) int {
	return s.attempts.Cleanup(maxIdle)
}

// OnSessionChange registers fn for every sign-in and sign-out. The returned
// func unregisters it. fn runs on the caller's goroutine and must not block.
func (s *Service) OnSessionChange(fn func(SessionEvent)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Service) emit(ev SessionEvent) {
	s.mu.Lock()
	fns := make([]func(SessionEvent), len(s.listeners))
	for i, l := range s.listeners {
		fns[i] = l.fn
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Describe turns an identity error into the message shown next to the
// sign-in form.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, apperr.ErrInvalidCredentials):
		return "Invalid email or password"
	case errors.Is(err, apperr.ErrTooManyAttempts):
		return "Too many failed attempts. Please try again later"
	case errors.Is(err, apperr.ErrNetwork):
		return "Network error. Please check your connection"
	case errors.Is(err, apperr.ErrAccountExists):
		return "An account with this email already exists"
	case errors.Is(err, apperr.ErrWeakPassword):
		return fmt.Sprintf("Password should be at least %d characters", MinPasswordLength)
	case errors.Is(err, apperr.ErrValidationFailed):
		return err.Error()
	default:
		return "Something went wrong. Please try again"
	}
}
