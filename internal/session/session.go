// Package session supplies the bearer token sent with every backend call.
// The token is owned by an outside collaborator; providers only read it.
package session

import (
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Provider returns the current session token. ok is false when no
// usable token exists, which callers treat as "not authenticated".
type Provider interface {
	Token() (token string, ok bool)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func() (string, bool)

func (f ProviderFunc) Token() (string, bool) { return f() }

// Static always returns the same token.
type Static string

func (s Static) Token() (string, bool) {
	t := strings.TrimSpace(string(s))
	return t, t != ""
}

// Env reads the token from an environment variable on every call.
type Env string

func (e Env) Token() (string, bool) {
	t := strings.TrimSpace(os.Getenv(string(e)))
	return t, t != ""
}

// File re-reads the token from a file on every call so an outside login
// flow can rotate it.
type File string

func (f File) Token() (string, bool) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return "", false
	}
	t := strings.TrimSpace(string(data))
	return t, t != ""
}

// First returns the token of the first provider that has one.
type First []Provider

func (fs First) Token() (string, bool) {
	for _, p := range fs {
		if p == nil {
			continue
		}
		if t, ok := p.Token(); ok {
			return t, true
		}
	}
	return "", false
}

// Expiring wraps a provider and hides tokens whose JWT exp claim has
// passed. Tokens that are not JWTs are passed through unchanged.
type Expiring struct {
	Provider Provider
	Now      func() time.Time
	Leeway   time.Duration
}

func (e Expiring) Token() (string, bool) {
	t, ok := e.Provider.Token()
	if !ok {
		return "", false
	}
	exp, isJWT := Expiry(t)
	if !isJWT || exp.IsZero() {
		return t, true
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	if !now().Before(exp.Add(e.Leeway)) {
		return "", false
	}
	return t, true
}

// Expiry returns the exp claim of a JWT without verifying its signature.
// isJWT is false when token cannot be parsed as a JWT.
func Expiry(token string) (exp time.Time, isJWT bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	date, err := claims.GetExpirationTime()
	if err != nil || date == nil {
		return time.Time{}, true
	}
	return date.Time, true
}

// Options selects where the token comes from.
type Options struct {
	Token     string
	TokenEnv  string
	TokenFile string
}

// New builds the provider chain: literal token, then environment, then
// file. Expired JWTs are rejected.
func New(opts Options) Provider {
	var chain First
	if opts.Token != "" {
		chain = append(chain, Static(opts.Token))
	}
	if opts.TokenEnv != "" {
		chain = append(chain, Env(opts.TokenEnv))
	}
	if opts.TokenFile != "" {
		chain = append(chain, File(opts.TokenFile))
	}
	return Expiring{Provider: chain}
}
