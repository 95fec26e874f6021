// Package session exposes the externally-owned chat session to the rest of
// the pipeline. The session is read-only from this side: the path resolver and
// the delivery dispatcher consume it, the renewal collaborator refreshes it.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is the authenticated chat identity for the current session.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Token       string `json:"token"`
	SessionID   string `json:"session_id"`
}

// Provider supplies the current session and handles renewal requests.
type Provider interface {
	// Current returns the live session user, or false when no session exists.
	Current() (User, bool)
	// Renew asks the session collaborator for a fresh token.
	Renew(ctx context.Context) error
}

// StaticProvider holds a fixed user and delegates renewal to an optional hook.
// It is the provider used by the CLI and by tests.
type StaticProvider struct {
	mu      sync.Mutex
	user    *User
	renewFn func(ctx context.Context) (User, error)
}

// NewStaticProvider creates a provider seeded with the given user.
// A nil user means no live session.
func NewStaticProvider(user *User) *StaticProvider {
	return &StaticProvider{user: user}
}

// SetRenewFunc installs the renewal hook. The returned user replaces the
// current one on success.
func (p *StaticProvider) SetRenewFunc(fn func(ctx context.Context) (User, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.renewFn = fn
}

// Current returns the held user, or false when none is set.
func (p *StaticProvider) Current() (User, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.user == nil {
		return User{}, false
	}
	return *p.user, true
}

// Set replaces the held user. Nil clears the session.
func (p *StaticProvider) Set(user *User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = user
}

// Renew invokes the renewal hook and adopts the refreshed user.
func (p *StaticProvider) Renew(ctx context.Context) error {
	p.mu.Lock()
	fn := p.renewFn
	p.mu.Unlock()
	if fn == nil {
		return ErrNoRenewal
	}
	user, err := fn(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.user = &user
	p.mu.Unlock()
	return nil
}

// invalidationVocabulary are the substrings that mark an error as a session
// invalidation rather than a generic delivery failure.
var invalidationVocabulary = []string{"session", "auth", "token"}

// IsInvalidation reports whether the error text matches the known
// session-invalidation vocabulary.
func IsInvalidation(message string) bool {
	lowered := strings.ToLower(message)
	for _, word := range invalidationVocabulary {
		if strings.Contains(lowered, word) {
			return true
		}
	}
	return false
}

// TokenExpired reports whether the token's exp claim has passed. The token is
// parsed without signature verification; the server remains the authority,
// this only lets the client renew proactively. Tokens without an exp claim or
// that fail to parse are treated as expired.
func TokenExpired(token string, now time.Time) bool {
	if strings.TrimSpace(token) == "" {
		return true
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return now.After(exp.Time)
}
