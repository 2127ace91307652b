package middleware_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-gift-engine/internal/api/middleware"
	"github.com/feral-file/ff-gift-engine/internal/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func generateKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func sign(t *testing.T, key *rsa.PrivateKey, method jwt.SigningMethod, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestAuthenticator(t *testing.T) {
	key, publicPEM := generateKey(t)
	otherKey, _ := generateKey(t)

	auth, err := middleware.NewAuthenticator(middleware.AuthConfig{
		JWTPublicKey: publicPEM,
		APIKeys:      []string{"k1", ""},
	})
	require.NoError(t, err)

	valid := sign(t, key, jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   "ops@feralfile.com",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	expired := sign(t, key, jwt.SigningMethodRS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	foreign := sign(t, otherKey, jwt.SigningMethodRS256, jwt.RegisteredClaims{})

	tests := []struct {
		name        string
		header      string
		apiKey      string
		wantType    string
		wantSubject string
		wantErr     bool
	}{
		{name: "jwt", header: "Bearer " + valid, wantType: "jwt", wantSubject: "ops@feralfile.com"},
		{name: "api key scheme", header: "ApiKey k1", wantType: "apikey"},
		{name: "api key header", apiKey: "k1", wantType: "apikey"},
		{name: "expired jwt", header: "Bearer " + expired, wantErr: true},
		{name: "foreign signer", header: "Bearer " + foreign, wantErr: true},
		{name: "wrong api key", header: "ApiKey nope", wantErr: true},
		{name: "empty api key is not configured", header: "ApiKey ", wantErr: true},
		{name: "missing", wantErr: true},
		{name: "malformed", header: "Bearer", wantErr: true},
		{name: "basic", header: "Basic dXNlcjpwYXNz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authType, subject, err := auth.Authenticate(tt.header, tt.apiKey)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, authType)
			assert.Equal(t, tt.wantSubject, subject)
		})
	}
}

func TestAuthenticator_RejectsHMACToken(t *testing.T) {
	_, publicPEM := generateKey(t)
	auth, err := middleware.NewAuthenticator(middleware.AuthConfig{JWTPublicKey: publicPEM})
	require.NoError(t, err)

	// HS256 signed with the public key bytes must not pass
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte(publicPEM))
	require.NoError(t, err)

	_, _, err = auth.Authenticate("Bearer "+token, "")
	assert.Error(t, err)
}

func TestNewAuthenticator_InvalidKey(t *testing.T) {
	_, err := middleware.NewAuthenticator(middleware.AuthConfig{JWTPublicKey: "not a pem"})
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	auth, err := middleware.NewAuthenticator(middleware.AuthConfig{APIKeys: []string{"k1"}})
	require.NoError(t, err)

	router := gin.New()
	router.Use(middleware.RequestID())
	router.GET("/ops", middleware.Auth(auth), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(string(middleware.AUTH_TYPE_KEY)))
	})

	req := httptest.NewRequest(http.MethodGet, "/ops", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "unauthorized")
	_, err = uuid.Parse(w.Header().Get(middleware.REQUEST_ID_HEADER))
	assert.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/ops", nil)
	req.Header.Set(middleware.API_KEY_HEADER, "k1")
	reqID := uuid.NewString()
	req.Header.Set(middleware.REQUEST_ID_HEADER, reqID)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "apikey", w.Body.String())
	assert.Equal(t, reqID, w.Header().Get(middleware.REQUEST_ID_HEADER))
}

func TestRecovery(t *testing.T) {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.GET("/panic", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}
