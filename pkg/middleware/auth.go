package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/feupam/feupam-checkout/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	UserIDKey = "user_id"
	EmailKey  = "email"
	RoleKey   = "role"

	RoleAdmin = "admin"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims are the identity claims the BFF relies on
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// AuthConfig configures bearer token verification
type AuthConfig struct {
	Secret string
	Issuer string
	// WithToken attaches the raw token to the request context so it can be
	// forwarded to the backend
	WithToken func(ctx context.Context, token string) context.Context
}

// ParseToken verifies an HMAC-signed token and returns its claims
func ParseToken(cfg *AuthConfig, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Auth requires a valid bearer token and exposes its claims on the context
func Auth(cfg *AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			response.Unauthorized(c, ErrMissingToken.Error())
			return
		}

		claims, err := ParseToken(cfg, tokenString)
		if err != nil {
			response.Unauthorized(c, err.Error())
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(EmailKey, claims.Email)
		c.Set(RoleKey, claims.Role)
		if cfg.WithToken != nil {
			c.Request = c.Request.WithContext(cfg.WithToken(c.Request.Context(), tokenString))
		}
		c.Next()
	}
}

// RequireRole rejects users without the given role
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(RoleKey) != role {
			response.Forbidden(c, "insufficient role")
			return
		}
		c.Next()
	}
}

// GetUserID returns the authenticated user ID
func GetUserID(c *gin.Context) (string, bool) {
	id := c.GetString(UserIDKey)
	return id, id != ""
}

// bearerToken reads the Authorization header. EventSource cannot set
// headers, so stream routes also accept an access_token query parameter.
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if scheme, token, found := strings.Cut(header, " "); found && strings.EqualFold(scheme, "Bearer") && token != "" {
		return strings.TrimSpace(token), true
	}
	if strings.HasSuffix(c.Request.URL.Path, "/stream") {
		if token := c.Query("access_token"); token != "" {
			return token, true
		}
	}
	return "", false
}
