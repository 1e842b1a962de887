package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat-server/internal/service/users"
	"github.com/vovakirdan/relaychat-server/internal/store"
)

// PresenceSource reports live presence from the realtime layer.
type PresenceSource interface {
	OnlineUsers() []string
	IsOnline(userID string) bool
}

// UserHandlers provides HTTP handlers for user operations.
type UserHandlers struct {
	users    *users.Service
	presence PresenceSource
	log      *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(svc *users.Service, presence PresenceSource, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		users:    svc,
		presence: presence,
		log:      logger,
	}
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID           string    `json:"id"`
	Phone        string    `json:"phone"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName,omitempty"`
	Username     string    `json:"username,omitempty"`
	Bio          string    `json:"bio,omitempty"`
	AvatarURL    string    `json:"avatar,omitempty"`
	OnlineStatus string    `json:"onlineStatus"`
	LastSeen     time.Time `json:"lastSeen"`
}

func userResponse(u *store.User) UserResponse {
	return UserResponse{
		ID:           u.ID,
		Phone:        u.Phone,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Username:     u.Username,
		Bio:          u.Bio,
		AvatarURL:    u.AvatarURL,
		OnlineStatus: string(u.OnlineStatus),
		LastSeen:     u.LastSeen,
	}
}

// withLivePresence overrides the persisted status, which may lag behind the registry.
func (h *UserHandlers) withLivePresence(u *store.User) UserResponse {
	resp := userResponse(u)
	if h.presence == nil {
		return resp
	}
	if h.presence.IsOnline(u.ID) {
		resp.OnlineStatus = string(store.StatusOnline)
	} else {
		resp.OnlineStatus = string(store.StatusOffline)
	}
	return resp
}

// SearchUsers handles searching for users.
// GET /api/users/search?q=query
func (h *UserHandlers) SearchUsers(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	found, err := h.users.Search(c.Request.Context(), uid, c.Query("q"))
	if err != nil {
		if errors.Is(err, users.ErrQueryTooShort) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		h.log.Error().Err(err).Msg("failed to search users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]UserResponse, 0, len(found))
	for _, u := range found {
		response = append(response, h.withLivePresence(u))
	}
	c.JSON(http.StatusOK, response)
}

// GetUser returns one user.
// GET /api/users/:userId
func (h *UserHandlers) GetUser(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.Param("userId"))
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
			return
		}
		h.log.Error().Err(err).Msg("failed to get user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, h.withLivePresence(user))
}

// UpdateProfileRequest carries optional profile fields.
type UpdateProfileRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Username  *string `json:"username"`
	Bio       *string `json:"bio"`
}

// UpdateMe updates the caller's profile.
// PUT /api/users/me
func (h *UserHandlers) UpdateMe(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), uid, store.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Username:  req.Username,
		Bio:       req.Bio,
	})
	if err != nil {
		switch {
		case errors.Is(err, users.ErrFirstNameRequired), errors.Is(err, users.ErrInvalidUsername):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		case errors.Is(err, users.ErrUsernameTaken):
			c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
		case errors.Is(err, users.ErrUserNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		default:
			h.log.Error().Err(err).Str("user_id", uid).Msg("failed to update profile")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}
	c.JSON(http.StatusOK, userResponse(user))
}

// PresenceResponse lists users holding a live connection.
type PresenceResponse struct {
	UserIDs []string `json:"userIds"`
}

// OnlineUsers returns the live presence set.
// GET /api/presence
func (h *UserHandlers) OnlineUsers(c *gin.Context) {
	ids := []string{}
	if h.presence != nil {
		if online := h.presence.OnlineUsers(); online != nil {
			ids = online
		}
	}
	c.JSON(http.StatusOK, PresenceResponse{UserIDs: ids})
}
