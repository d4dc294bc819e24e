// internal/middleware/auth_test.go
package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"merithub/internal/contextutils"
	"merithub/internal/models"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims *ActorClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestRequireInstallsActor(t *testing.T) {
	dept := "Physics"
	token := signToken(t, &ActorClaims{
		ActorID:       42,
		Roles:         []string{"institution_head", "bogus_role"},
		InstitutionID: 7,
		Department:    &dept,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSecret)

	var got *models.ActorContext
	handler := NewAuthenticator(testSecret, zap.NewNop()).Require(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = contextutils.GetActor(r.Context())
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, int64(42), got.ActorID)
	assert.Equal(t, int64(7), got.InstitutionID)
	assert.Equal(t, "Physics", *got.Department)
	// Unknown role strings are dropped, not carried through.
	assert.Equal(t, []models.Role{models.RoleInstitutionHead}, got.Roles)
}

func TestRequireRejectsMissingToken(t *testing.T) {
	handler := NewAuthenticator(testSecret, zap.NewNop()).Require(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRejectsExpiredToken(t *testing.T) {
	token := signToken(t, &ActorClaims{
		ActorID: 42,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}, testSecret)

	handler := NewAuthenticator(testSecret, zap.NewNop()).Require(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRejectsWrongSecret(t *testing.T) {
	token := signToken(t, &ActorClaims{
		ActorID: 42,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, "other-secret")

	handler := NewAuthenticator(testSecret, zap.NewNop()).Require(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
