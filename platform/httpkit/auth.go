package httpkit

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"achievement_engine/platform/config"
)

const (
	// ContextUserIDKey is the gin context key for the authenticated user ID.
	ContextUserIDKey = "userID"
	// ContextRolesKey is the gin context key for the user's roles.
	ContextRolesKey = "roles"
	// RoleAdmin grants access to the /admin route group.
	RoleAdmin = "admin"

	tokenTypeAccess = "access"

	errMissingToken = "missing token"
	errInvalidToken = "invalid token"
)

var errTokenRejected = errors.New(errInvalidToken)

// AccessClaims is the payload of an access token issued by the identity service.
type AccessClaims struct {
	jwt.RegisteredClaims
	Type  string   `json:"type"`
	Roles []string `json:"roles,omitempty"`
}

// AuthRequired validates HS256 access tokens from the Authorization header.
// Export downloads may pass the token as ?token= instead.
func AuthRequired(cfg config.JWTConfig) gin.HandlerFunc {
	secret := []byte(cfg.GetJWTAccessSecret())
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			raw = c.Query("token")
		}
		if raw == "" {
			abortUnauthorized(c, errMissingToken)
			return
		}

		claims, userID, err := parseAccessToken(parser, secret, raw)
		if err != nil {
			abortUnauthorized(c, errInvalidToken)
			return
		}

		c.Set(ContextUserIDKey, userID)
		c.Set(ContextRolesKey, claims.Roles)
		c.Next()
	}
}

// RequireRole rejects callers whose token lacks role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok || !id.HasRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "forbidden"})
			return
		}
		c.Next()
	}
}

func parseAccessToken(parser *jwt.Parser, secret []byte, raw string) (*AccessClaims, uuid.UUID, error) {
	claims := &AccessClaims{}
	token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, uuid.Nil, errTokenRejected
	}
	if claims.Type != tokenTypeAccess {
		return nil, uuid.Nil, errTokenRejected
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, uuid.Nil, errTokenRejected
	}
	return claims, userID, nil
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: message})
}
