package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat-server/internal/auth"
	"github.com/vovakirdan/relaychat-server/internal/utils"
)

const (
	// ContextKeyUserID is the context key for storing user ID.
	ContextKeyUserID = "user_id"
	// ContextKeyToken is the context key for the raw bearer token.
	ContextKeyToken = "token"

	// HeaderConnectionID names the caller's own websocket, excluded from fanout of its REST actions.
	HeaderConnectionID = "X-Connection-ID"
)

// bearerToken extracts the token from "Authorization: Bearer <token>" or the ?token= query parameter.
func bearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	return r.URL.Query().Get("token"), true
}

// AuthMiddleware creates a middleware that validates JWT tokens.
func AuthMiddleware(authService *auth.Service, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.Request)
		if !ok {
			logger.Debug().Msg("invalid authorization header format")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid authorization header format"})
			return
		}

		userID, err := authService.VerifyToken(c.Request.Context(), token)
		if err != nil {
			if auth.IsAuthError(err) {
				logger.Debug().Err(err).Msg("invalid token")
				c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
				return
			}
			logger.Error().Err(err).Msg("token verification failed")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{Error: "temporarily unavailable"})
			return
		}

		c.Set(ContextKeyUserID, userID)
		c.Set(ContextKeyToken, token)
		c.Next()
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

// currentUserID reads the authenticated user set by AuthMiddleware.
func currentUserID(c *gin.Context) (string, bool) {
	v, exists := c.Get(ContextKeyUserID)
	if !exists {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// originConnID returns the caller's connection ID, or "" when the header is not one we issued.
func originConnID(c *gin.Context) string {
	id := strings.TrimSpace(c.GetHeader(HeaderConnectionID))
	if !utils.IsID(id) {
		return ""
	}
	return id
}
