package middleware

import (
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	apierrors "github.com/feral-file/ff-gift-engine/internal/api/shared/errors"
	"github.com/feral-file/ff-gift-engine/internal/logger"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	AUTH_TYPE_KEY    contextKey = "auth_type"
	AUTH_SUBJECT_KEY contextKey = "auth_subject"

	API_KEY_HEADER = "X-API-Key"
)

// AuthConfig holds authentication configuration for operator endpoints
type AuthConfig struct {
	JWTPublicKey string // RSA public key in PEM format
	APIKeys      []string
}

// Authenticator validates operator credentials: an RS* signed JWT or a static API key
type Authenticator struct {
	publicKey *rsa.PublicKey
	apiKeys   [][]byte
	parser    *jwt.Parser
}

// NewAuthenticator parses the configured key material once. With neither a public key
// nor an API key configured every request is rejected.
func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	a := &Authenticator{
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"})),
	}

	if cfg.JWTPublicKey != "" {
		key, err := parseRSAPublicKey(cfg.JWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
		}
		a.publicKey = key
	}
	for _, k := range cfg.APIKeys {
		if k != "" {
			a.apiKeys = append(a.apiKeys, []byte(k))
		}
	}

	return a, nil
}

// Authenticate checks the request headers and returns the auth type and subject
func (a *Authenticator) Authenticate(authHeader, apiKeyHeader string) (authType, subject string, err error) {
	if apiKeyHeader != "" {
		return "apikey", "", a.validateAPIKey(apiKeyHeader)
	}
	if authHeader == "" {
		return "", "", errors.New("missing Authorization header")
	}

	scheme, credentials, ok := strings.Cut(authHeader, " ")
	if !ok {
		return "", "", errors.New("invalid Authorization header format")
	}

	switch strings.ToLower(scheme) {
	case "bearer":
		claims, err := a.validateJWT(credentials)
		if err != nil {
			return "", "", err
		}
		return "jwt", claims.Subject, nil
	case "apikey":
		return "apikey", "", a.validateAPIKey(credentials)
	}
	return "", "", fmt.Errorf("unsupported authorization type: %s", scheme)
}

// Auth returns a gin middleware guarding operator endpoints
func Auth(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authType, subject, err := a.Authenticate(c.GetHeader("Authorization"), c.GetHeader(API_KEY_HEADER))
		if err != nil {
			logger.WarnCtx(c.Request.Context(), "Authentication failed",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, apierrors.NewUnauthorizedError("Authentication failed", err.Error()))
			return
		}

		c.Set(string(AUTH_TYPE_KEY), authType)
		if subject != "" {
			c.Set(string(AUTH_SUBJECT_KEY), subject)
		}
		logger.DebugCtx(c.Request.Context(), "Operator authenticated",
			zap.String("auth_type", authType),
			zap.String("subject", subject),
		)

		c.Next()
	}
}

func (a *Authenticator) validateJWT(tokenString string) (*jwt.RegisteredClaims, error) {
	if a.publicKey == nil {
		return nil, errors.New("JWT public key not configured")
	}

	// exp and nbf are checked by the parser when present
	claims := &jwt.RegisteredClaims{}
	token, err := a.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func (a *Authenticator) validateAPIKey(apiKey string) error {
	if len(a.apiKeys) == 0 {
		return errors.New("no API keys configured")
	}
	for _, k := range a.apiKeys {
		if subtle.ConstantTimeCompare(k, []byte(apiKey)) == 1 {
			return nil
		}
	}
	return errors.New("invalid API key")
}

// parseRSAPublicKey parses an RSA public key in PKIX or PKCS1 PEM form
func parseRSAPublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, errors.New("failed to parse PEM block containing public key")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}

	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not an RSA key")
	}
	return rsaKey, nil
}
