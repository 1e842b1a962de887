package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/vovakirdan/relaychat-server/internal/store"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrQueryTooShort     = errors.New("search query must be at least 2 characters")
	ErrFirstNameRequired = errors.New("first name is required")
	ErrInvalidUsername   = errors.New("username must start with a letter, be 3-30 characters, and contain only letters, numbers, and underscores")
	ErrUsernameTaken     = errors.New("username already taken")
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{2,29}$`)

const (
	minQueryLen = 2
	searchLimit = 20
)

// Service provides profile and lookup operations.
type Service struct {
	store store.UserStore
}

// New creates a user service.
func New(st store.UserStore) *Service {
	return &Service{store: st}
}

// Get returns a user by ID.
func (s *Service) Get(ctx context.Context, userID string) (*store.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// Search finds users by name, username or phone, excluding the caller.
func (s *Service) Search(ctx context.Context, userID, query string) ([]*store.User, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < minQueryLen {
		return nil, ErrQueryTooShort
	}

	found, err := s.store.SearchUsers(ctx, query, searchLimit+1)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}

	out := make([]*store.User, 0, len(found))
	for _, u := range found {
		if u.ID == userID {
			continue
		}
		out = append(out, u)
		if len(out) == searchLimit {
			break
		}
	}
	return out, nil
}

// UpdateProfile validates and applies a partial profile update.
// An empty username clears it.
func (s *Service) UpdateProfile(ctx context.Context, userID string, update store.ProfileUpdate) (*store.User, error) {
	if update.FirstName != nil {
		trimmed := strings.TrimSpace(*update.FirstName)
		if trimmed == "" {
			return nil, ErrFirstNameRequired
		}
		update.FirstName = &trimmed
	}
	if update.LastName != nil {
		trimmed := strings.TrimSpace(*update.LastName)
		update.LastName = &trimmed
	}
	if update.Bio != nil {
		trimmed := strings.TrimSpace(*update.Bio)
		update.Bio = &trimmed
	}
	if update.Username != nil && *update.Username != "" {
		if !usernamePattern.MatchString(*update.Username) {
			return nil, ErrInvalidUsername
		}
		existing, err := s.store.GetUserByUsername(ctx, *update.Username)
		switch {
		case err == nil && existing.ID != userID:
			return nil, ErrUsernameTaken
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("check username: %w", err)
		}
	}

	user, err := s.store.UpdateProfile(ctx, userID, update)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return user, nil
}
