package auth

import (
	"context"
	"log"
	"sync"
	"time"

	"collaborative-table-editor/internal/errors"
)

// SessionStore tracks which tokens are still live. A token absent from the
// store is an expired (or revoked) session.
type SessionStore interface {
	Put(ctx context.Context, token string, ttl time.Duration) error
	Exists(ctx context.Context, token string) (bool, error)
	Delete(ctx context.Context, token string) error
}

// ExpiredHandler is notified, best effort, when a session is found expired.
type ExpiredHandler func(auth Authentication)

// Authenticator issues session tokens and resolves them back into
// Authentication values for every authorized call.
type Authenticator struct {
	secret   []byte
	ttl      time.Duration
	sessions SessionStore

	mu       sync.Mutex
	handlers []ExpiredHandler
}

func NewAuthenticator(secret string, ttl time.Duration, sessions SessionStore) *Authenticator {
	return &Authenticator{
		secret:   []byte(secret),
		ttl:      ttl,
		sessions: sessions,
	}
}

// Issue creates a session token for a logged-in user and records it live.
func (a *Authenticator) Issue(ctx context.Context, userID uint64, userName string, authority Authority) (string, error) {
	token, err := generateJWT(a.secret, userID, userName, authority, a.ttl)
	if err != nil {
		return "", err
	}
	if err := a.sessions.Put(ctx, token, a.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Revoke invalidates a session (logout or administrative kick). Components
// watching for expiry are notified.
func (a *Authenticator) Revoke(ctx context.Context, token string) error {
	c, err := parseJWT(a.secret, token)
	if err != nil {
		return errors.AuthenticationNotFound()
	}
	if err := a.sessions.Delete(ctx, token); err != nil {
		return err
	}
	a.notifyExpired(Authentication{
		UserID:    c.UserID,
		UserName:  c.UserName,
		Authority: ParseAuthority(c.Authority),
		Token:     token,
	})
	return nil
}

// Resolve validates a caller-supplied token. A token with a good signature
// whose session has lapsed fails as expired; anything else fails as unknown.
func (a *Authenticator) Resolve(ctx context.Context, token string) (Authentication, error) {
	c, err := parseJWT(a.secret, token)
	if err != nil {
		return Authentication{}, errors.AuthenticationNotFound()
	}

	resolved := Authentication{
		UserID:    c.UserID,
		UserName:  c.UserName,
		Authority: ParseAuthority(c.Authority),
		Token:     token,
	}

	if c.ExpiresAt != nil && time.Now().After(c.ExpiresAt.Time) {
		a.notifyExpired(resolved)
		return Authentication{}, errors.AuthenticationExpired()
	}

	live, err := a.sessions.Exists(ctx, token)
	if err != nil {
		return Authentication{}, errors.Internal(err)
	}
	if !live {
		a.notifyExpired(resolved)
		return Authentication{}, errors.AuthenticationExpired()
	}

	return resolved, nil
}

// OnExpired registers a handler fired when a session is found expired.
// Delivery is asynchronous and best effort.
func (a *Authenticator) OnExpired(fn ExpiredHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers = append(a.handlers, fn)
}

func (a *Authenticator) notifyExpired(auth Authentication) {
	a.mu.Lock()
	handlers := make([]ExpiredHandler, len(a.handlers))
	copy(handlers, a.handlers)
	a.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[AUTH] expired handler panicked: %v", r)
			}
		}()
		for _, fn := range handlers {
			fn(auth)
		}
	}()
}
