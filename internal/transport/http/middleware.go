package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/auth"
)

// ContextKeyIdentity is the gin context key holding the resolved auth.Identity.
const ContextKeyIdentity = "identity"

type identityKey struct{}

// withIdentity stores id on ctx so plain net/http handlers can read it.
func withIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity resolved by AuthMiddleware.
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(auth.Identity)
	return id, ok
}

// bearerToken extracts the credential from the Authorization header,
// falling back to the token query parameter when allowQuery is set.
func bearerToken(r *http.Request, allowQuery bool) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	if allowQuery {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, true
		}
	}
	return "", false
}

// AuthMiddleware resolves the request credential and aborts with 401 when it is missing or invalid.
// Browsers cannot set headers on a WebSocket handshake, so /ws also accepts ?token=.
func AuthMiddleware(resolver auth.Resolver, logger *zerolog.Logger, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.Request, allowQuery)
		if !ok {
			logger.Debug().Str("path", c.Request.URL.Path).Msg("missing or malformed credential")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing credential"})
			return
		}

		id, err := resolver.Resolve(token)
		if err != nil {
			logger.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}

		c.Set(ContextKeyIdentity, id)
		c.Request = c.Request.WithContext(withIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}
