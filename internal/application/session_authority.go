package application

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultSessionTTL is applied when no positive TTL is configured.
const DefaultSessionTTL = 30 * time.Minute

// TokenGenerator produces unpredictable session tokens.
type TokenGenerator func() (string, error)

// RandomToken returns 32 bytes from crypto/rand, hex encoded.
func RandomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SessionAuthority issues, validates, refreshes and revokes sessions. It
// exclusively owns the live session set.
type SessionAuthority struct {
	verifier CredentialVerifier
	newToken TokenGenerator
	now      func() time.Time
	ttl      time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]Session
	byUser   map[string]map[string]struct{}
}

// NewSessionAuthority constructs a SessionAuthority with the provided dependencies.
func NewSessionAuthority(verifier CredentialVerifier, newToken TokenGenerator, now func() time.Time, ttl time.Duration) *SessionAuthority {
	return NewSessionAuthorityWithLogger(verifier, newToken, now, ttl, nil)
}

// NewSessionAuthorityWithLogger constructs a SessionAuthority with a specified logger.
func NewSessionAuthorityWithLogger(verifier CredentialVerifier, newToken TokenGenerator, now func() time.Time, ttl time.Duration, logger *slog.Logger) *SessionAuthority {
	if newToken == nil {
		newToken = RandomToken
	}
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionAuthority{
		verifier: verifier,
		newToken: newToken,
		now:      now,
		ttl:      ttl,
		logger:   defaultLogger(logger),
		sessions: make(map[string]Session),
		byUser:   make(map[string]map[string]struct{}),
	}
}

func (a *SessionAuthority) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, a.logger, "SessionAuthority", operation, attrs...)
}

// TTL returns the configured session lifetime.
func (a *SessionAuthority) TTL() time.Duration {
	return a.ttl
}

// Authenticate verifies credentials and issues a new session.
func (a *SessionAuthority) Authenticate(ctx context.Context, username, password string) (session Session, err error) {
	if a == nil {
		err = fmt.Errorf("SessionAuthority is nil")
		return
	}
	if a.verifier == nil {
		err = fmt.Errorf("credential verifier not configured")
		return
	}

	logger := a.loggerWith(ctx, "Authenticate", "username", strings.ToLower(strings.TrimSpace(username)))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "authentication failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", session.UserID).InfoContext(ctx, "authentication succeeded")
	}()

	var userID string
	userID, err = a.verifier.Verify(ctx, username, password)
	if err != nil {
		return
	}
	if userID == "" {
		err = ErrInvalidCredentials
		return
	}

	var token string
	token, err = a.newToken()
	if err != nil {
		return
	}

	now := a.now()
	session = Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(a.ttl),
		Active:    true,
	}

	a.mu.Lock()
	if _, exists := a.sessions[token]; exists {
		a.mu.Unlock()
		err = fmt.Errorf("session token collision")
		return
	}
	a.storeLocked(session)
	a.mu.Unlock()
	return
}

// Validate returns the live session for token. An expired session is removed
// and reported as ErrSessionExpired; later lookups report ErrSessionNotFound.
func (a *SessionAuthority) Validate(ctx context.Context, token string) (Session, error) {
	if a == nil {
		return Session{}, fmt.Errorf("SessionAuthority is nil")
	}
	token = strings.TrimSpace(token)

	a.mu.RLock()
	session, ok := a.sessions[token]
	a.mu.RUnlock()
	if !ok {
		return Session{}, ErrSessionNotFound
	}

	now := a.now()
	if session.ValidAt(now) {
		return session, nil
	}

	a.mu.Lock()
	current, stillLive := a.sessions[token]
	if stillLive && current.ValidAt(now) {
		// refreshed concurrently
		a.mu.Unlock()
		return current, nil
	}
	if stillLive {
		a.removeLocked(token)
	}
	a.mu.Unlock()

	if !stillLive {
		return Session{}, ErrSessionNotFound
	}
	a.loggerWith(ctx, "Validate", "user_id", session.UserID).DebugContext(ctx, "session expired on validation")
	return Session{}, ErrSessionExpired
}

// Refresh validates token and extends its expiry to now plus the TTL.
func (a *SessionAuthority) Refresh(ctx context.Context, token string) (session Session, err error) {
	if a == nil {
		err = fmt.Errorf("SessionAuthority is nil")
		return
	}
	token = strings.TrimSpace(token)

	logger := a.loggerWith(ctx, "Refresh")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "session refresh failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", session.UserID, "expires_at", session.ExpiresAt).InfoContext(ctx, "session refreshed")
	}()

	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	current, ok := a.sessions[token]
	if !ok {
		err = ErrSessionNotFound
		return
	}
	if !current.ValidAt(now) {
		a.removeLocked(token)
		err = ErrSessionExpired
		return
	}
	current.ExpiresAt = now.Add(a.ttl)
	a.sessions[token] = current
	session = current
	return
}

// Invalidate removes the session for token and reports whether it existed.
func (a *SessionAuthority) Invalidate(ctx context.Context, token string) bool {
	if a == nil {
		return false
	}
	token = strings.TrimSpace(token)

	a.mu.Lock()
	session, ok := a.sessions[token]
	if ok {
		a.removeLocked(token)
	}
	a.mu.Unlock()

	if ok {
		a.loggerWith(ctx, "Invalidate", "user_id", session.UserID).InfoContext(ctx, "session invalidated")
	}
	return ok
}

// InvalidateAllForUser removes every session owned by userID and returns how many were removed.
func (a *SessionAuthority) InvalidateAllForUser(ctx context.Context, userID string) int {
	if a == nil {
		return 0
	}

	a.mu.Lock()
	tokens := a.byUser[userID]
	count := len(tokens)
	for token := range tokens {
		delete(a.sessions, token)
	}
	delete(a.byUser, userID)
	a.mu.Unlock()

	if count > 0 {
		a.loggerWith(ctx, "InvalidateAllForUser", "user_id", userID, "count", count).InfoContext(ctx, "user sessions invalidated")
	}
	return count
}

// SweepExpired removes all expired sessions in a single scan and returns how many were removed.
func (a *SessionAuthority) SweepExpired(ctx context.Context) int {
	if a == nil {
		return 0
	}
	now := a.now()

	a.mu.Lock()
	removed := 0
	for token, session := range a.sessions {
		if !session.ValidAt(now) {
			a.removeLocked(token)
			removed++
		}
	}
	a.mu.Unlock()

	if removed > 0 {
		a.loggerWith(ctx, "SweepExpired", "count", removed).DebugContext(ctx, "expired sessions swept")
	}
	return removed
}

// ActiveSessions lists the unexpired sessions of userID ordered by creation time.
func (a *SessionAuthority) ActiveSessions(ctx context.Context, userID string) []Session {
	if a == nil {
		return nil
	}
	now := a.now()

	a.mu.RLock()
	out := make([]Session, 0, len(a.byUser[userID]))
	for token := range a.byUser[userID] {
		if session := a.sessions[token]; session.ValidAt(now) {
			out = append(out, session)
		}
	}
	a.mu.RUnlock()

	sortSessions(out)
	return out
}

// Count returns the number of sessions in the live set.
func (a *SessionAuthority) Count() int {
	if a == nil {
		return 0
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.sessions)
}

// RunSweeper calls SweepExpired every interval until ctx is cancelled.
func (a *SessionAuthority) RunSweeper(ctx context.Context, interval time.Duration) {
	if a == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.SweepExpired(ctx)
		}
	}
}

func (a *SessionAuthority) storeLocked(session Session) {
	a.sessions[session.Token] = session
	tokens, ok := a.byUser[session.UserID]
	if !ok {
		tokens = make(map[string]struct{})
		a.byUser[session.UserID] = tokens
	}
	tokens[session.Token] = struct{}{}
}

func (a *SessionAuthority) removeLocked(token string) {
	session, ok := a.sessions[token]
	if !ok {
		return
	}
	delete(a.sessions, token)
	if tokens, ok := a.byUser[session.UserID]; ok {
		delete(tokens, token)
		if len(tokens) == 0 {
			delete(a.byUser, session.UserID)
		}
	}
}

func sortSessions(sessions []Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].Token < sessions[j].Token
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}
