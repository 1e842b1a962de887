package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat-server/internal/auth"
)

// APIHandlers provides HTTP handlers for authentication endpoints.
type APIHandlers struct {
	authService *auth.Service
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(authService *auth.Service, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		log:         logger,
	}
}

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Phone     string `json:"phone" binding:"required"`
	FirstName string `json:"firstName" binding:"required"`
	LastName  string `json:"lastName"`
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Phone string `json:"phone" binding:"required"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Register handles user registration.
// POST /api/auth/register
func (h *APIHandlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid register request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	user, token, err := h.authService.Register(c.Request.Context(), auth.RegisterInput{
		Phone:     req.Phone,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidPhone), errors.Is(err, auth.ErrFirstNameRequired):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		case errors.Is(err, auth.ErrPhoneTaken):
			c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
		default:
			h.log.Error().Err(err).Msg("failed to register user")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	h.log.Info().Str("user_id", user.ID).Msg("user registered successfully")
	c.JSON(http.StatusCreated, AuthResponse{Token: token, User: userResponse(user)})
}

// Login handles phone login.
// POST /api/auth/login
func (h *APIHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	user, token, err := h.authService.Login(c.Request.Context(), req.Phone)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidPhone) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		h.log.Error().Err(err).Msg("failed to login user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("user_id", user.ID).Msg("user logged in successfully")
	c.JSON(http.StatusOK, AuthResponse{Token: token, User: userResponse(user)})
}

// Logout revokes the caller's token.
// POST /api/auth/logout
func (h *APIHandlers) Logout(c *gin.Context) {
	token := c.GetString(ContextKeyToken)
	if err := h.authService.Logout(c.Request.Context(), token); err != nil {
		if auth.IsAuthError(err) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
			return
		}
		h.log.Error().Err(err).Msg("failed to logout")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me returns the authenticated user.
// GET /api/auth/me
func (h *APIHandlers) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	user, err := h.authService.Me(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
			return
		}
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to load user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, userResponse(user))
}
