package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAuthRouter(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", handler, func(c *gin.Context) {
		viewerID, _ := GetViewerID(c)
		c.JSON(http.StatusOK, gin.H{"viewer_id": viewerID})
	})
	return router
}

func TestJWTAuthValidToken(t *testing.T) {
	SetJWTSecret("test-secret")
	router := setupAuthRouter(JWTAuth())

	token, err := GenerateToken("viewer-1", "viewer@example.com", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "viewer-1")
}

func TestJWTAuthMissingHeader(t *testing.T) {
	SetJWTSecret("test-secret")
	router := setupAuthRouter(JWTAuth())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuthMalformedHeader(t *testing.T) {
	SetJWTSecret("test-secret")
	router := setupAuthRouter(JWTAuth())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Token abc")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuthExpiredToken(t *testing.T) {
	SetJWTSecret("test-secret")
	router := setupAuthRouter(JWTAuth())

	token, err := GenerateToken("viewer-1", "", -time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuthWrongSecret(t *testing.T) {
	SetJWTSecret("secret-a")
	token, err := GenerateToken("viewer-1", "", time.Hour)
	require.NoError(t, err)

	SetJWTSecret("secret-b")
	router := setupAuthRouter(JWTAuth())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOptionalAuthAnonymousFallback(t *testing.T) {
	SetJWTSecret("test-secret")
	router := setupAuthRouter(OptionalAuth())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "anon:")
}

func TestOptionalAuthWithToken(t *testing.T) {
	SetJWTSecret("test-secret")
	router := setupAuthRouter(OptionalAuth())

	token, err := GenerateToken("viewer-2", "", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "viewer-2")
}

func TestOptionalAuthRejectsBadToken(t *testing.T) {
	SetJWTSecret("test-secret")
	router := setupAuthRouter(OptionalAuth())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
