package middleware

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/Njanja2025/control-plane/internal/config"
	cperrors "github.com/Njanja2025/control-plane/internal/errors"
	"github.com/Njanja2025/control-plane/pkg/logger"
	"github.com/golang-jwt/jwt/v4"
)

// JWTAuth validates bearer tokens on mutating control-plane endpoints
// (deregister, scale). Read endpoints stay open.
type JWTAuth struct {
	cfg       config.AuthConfig
	logger    *logger.Logger
	publicKey *rsa.PublicKey
}

// NewJWTAuth creates the auth middleware. Returns nil when auth is
// disabled so callers can skip wiring it.
func NewJWTAuth(cfg config.AuthConfig, log *logger.Logger) (*JWTAuth, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	auth := &JWTAuth{
		cfg:    cfg,
		logger: log.MiddlewareLogger("jwt_auth"),
	}

	switch cfg.Algorithm {
	case "HS256":
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("jwt secret key is required for HS256")
		}
	case "RS256":
		key, err := loadRSAPublicKey(cfg.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load JWT public key: %w", err)
		}
		auth.publicKey = key
	default:
		return nil, fmt.Errorf("unsupported JWT algorithm: %s", cfg.Algorithm)
	}

	return auth, nil
}

// Middleware rejects requests without a valid bearer token
func (a *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := a.extractToken(r)
			if err == nil {
				err = a.validateToken(token)
			}

			if err != nil {
				a.logger.WithField("path", r.URL.Path).WithError(err).Warn("Rejected unauthenticated request")

				cpErr := cperrors.NewAuthenticationError(err.Error())
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(cpErr.HTTPStatusCode())
				json.NewEncoder(w).Encode(cpErr)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken pulls the bearer token from the Authorization header
func (a *JWTAuth) extractToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", fmt.Errorf("malformed Authorization header")
	}
	return token, nil
}

// validateToken parses and verifies the token signature and claims
func (a *JWTAuth) validateToken(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		switch a.cfg.Algorithm {
		case "HS256":
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(a.cfg.SecretKey), nil
		case "RS256":
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return a.publicKey, nil
		default:
			return nil, fmt.Errorf("unsupported algorithm: %s", a.cfg.Algorithm)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

// loadRSAPublicKey reads a PEM-encoded RSA public key from disk
func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPublicKeyFromPEM(data)
}
