package twin

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MintToken signs a session token for subject valid for ttl.
func (s *Server) MintToken(subject string, ttl time.Duration) (string, error) {
	if len(s.opts.Secret) == 0 {
		return "", errors.New("twin has no signing secret")
	}
	now := s.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": "admin",
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	})
	return token.SignedString(s.opts.Secret)
}

func (s *Server) verifyToken(raw string) error {
	if len(s.opts.Secret) == 0 {
		return errors.New("twin has no signing secret")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	_, err := parser.Parse(raw, func(*jwt.Token) (any, error) {
		return s.opts.Secret, nil
	})
	return err
}

// authenticate enforces the API key header and a valid bearer token.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey != "" && r.Header.Get(s.opts.APIKeyHeader) != s.opts.APIKey {
			writeFailure(w, http.StatusUnauthorized, "Invalid API key")
			return
		}
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeFailure(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if err := s.verifyToken(strings.TrimSpace(raw)); err != nil {
			s.logger.Debug("rejected session token", "error", err)
			writeFailure(w, http.StatusUnauthorized, "Session expired, please log in again")
			return
		}
		next.ServeHTTP(w, r)
	})
}
