// internal/middleware/auth.go
package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"merithub/internal/contextutils"
	"merithub/internal/models"
	"merithub/internal/response"
)

// ===============================
// AUTHENTICATION MIDDLEWARE
// ===============================

// ActorClaims is the verified token payload this service trusts. Token
// issuance belongs to the identity subsystem; this service only
// verifies and reconstructs the actor per request.
type ActorClaims struct {
	ActorID       int64    `json:"actor_id"`
	Roles         []string `json:"roles"`
	InstitutionID int64    `json:"institution_id"`
	Department    *string  `json:"department,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies bearer tokens and installs the ActorContext
type Authenticator struct {
	secret []byte
	logger *zap.Logger
}

// NewAuthenticator creates the authentication middleware
func NewAuthenticator(secret string, logger *zap.Logger) *Authenticator {
	return &Authenticator{secret: []byte(secret), logger: logger}
}

// Require rejects requests without a valid bearer token
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			response.WriteError(w, r, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "missing bearer token")
			return
		}

		claims := &ActorClaims{}
		token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return a.secret, nil
		})
		if err != nil || !token.Valid {
			a.logger.Debug("Token verification failed", zap.Error(err))
			response.WriteError(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "token is invalid or expired")
			return
		}

		roles := make([]models.Role, 0, len(claims.Roles))
		for _, r := range claims.Roles {
			role := models.Role(r)
			if role.Valid() {
				roles = append(roles, role)
			}
		}

		actor := &models.ActorContext{
			ActorID:       claims.ActorID,
			Roles:         roles,
			InstitutionID: claims.InstitutionID,
			Department:    claims.Department,
			RemoteAddr:    r.RemoteAddr,
			UserAgent:     r.UserAgent(),
		}
		next.ServeHTTP(w, r.WithContext(contextutils.WithActor(r.Context(), actor)))
	})
}
