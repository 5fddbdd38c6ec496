// Package auth identifies the caller of the HTTP API. The bearer token's
// subject names the session a request acts on.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type ctxKey struct{}

// Config holds the token validation settings.
type Config struct {
	Secret   string
	Audience string
	Issuer   string
}

var (
	errMissingHeader = errors.New("authorization header required")
	errMalformed     = errors.New("invalid authorization header")
	errEmptyToken    = errors.New("token missing")
)

// UserID returns the session owner stored by Middleware.
func UserID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// WithUserID stores id as the session owner of ctx.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// Middleware rejects requests without a valid HS256 bearer token.
func Middleware(cfg Config) gin.HandlerFunc {
	secret := []byte(strings.TrimSpace(cfg.Secret))
	audience := strings.TrimSpace(cfg.Audience)
	issuer := strings.TrimSpace(cfg.Issuer)

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(audience))
	}
	if issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(parserOpts...)

	return func(c *gin.Context) {
		if len(secret) == 0 {
			abort(c, "authentication not configured")
			return
		}

		raw, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abort(c, err.Error())
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		switch {
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			abort(c, "invalid audience")
			return
		case errors.Is(err, jwt.ErrTokenExpired):
			abort(c, "token expired")
			return
		case err != nil || !token.Valid:
			abort(c, "invalid token")
			return
		}

		if claims.Subject == "" {
			abort(c, "missing subject")
			return
		}

		c.Request = c.Request.WithContext(WithUserID(c.Request.Context(), claims.Subject))
		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errMissingHeader
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errMalformed
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errEmptyToken
	}
	return token, nil
}

func abort(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
