package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"github.com/vovakirdan/relaychat-server/internal/store"
)

var (
	// ErrTokenMissing is returned when no bearer token was supplied.
	ErrTokenMissing = errors.New("token missing")
	// ErrTokenInvalid is returned for malformed, forged or orphaned tokens.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired is returned when the token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked is returned for tokens revoked by logout.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrInvalidPhone is returned when the phone has fewer than 9 digits.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrFirstNameRequired is returned when registering without a first name.
	ErrFirstNameRequired = errors.New("first name is required")
	// ErrPhoneTaken is returned when registering an already known phone.
	ErrPhoneTaken = errors.New("phone number already registered")
	// ErrUserNotFound is returned when the authenticated user no longer exists.
	ErrUserNotFound = errors.New("user not found")
)

const minPhoneDigits = 9

// defaultFirstName is given to users created implicitly by Login.
const defaultFirstName = "User"

// PresenceChecker reports whether a user still has live connections.
type PresenceChecker interface {
	IsOnline(userID string) bool
}

// RegisterInput carries registration fields.
type RegisterInput struct {
	Phone     string
	FirstName string
	LastName  string
}

// Service provides authentication operations.
type Service struct {
	users     store.UserStore
	tokens    store.TokenStore
	jwtConfig *JWTConfig
	presence  PresenceChecker
	log       *zerolog.Logger
	now       func() time.Time
}

// NewService creates a new authentication service.
func NewService(users store.UserStore, tokens store.TokenStore, jwtConfig *JWTConfig, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		users:     users,
		tokens:    tokens,
		jwtConfig: jwtConfig,
		log:       logger,
		now:       time.Now,
	}
}

// SetPresence lets Logout skip the offline write while other devices are connected.
func (s *Service) SetPresence(p PresenceChecker) {
	s.presence = p
}

// NormalizePhone keeps digits and '+' only.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidPhone reports whether phone has enough digits.
func ValidPhone(phone string) bool {
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= minPhoneDigits
}

// Register creates a new user and returns it with a JWT token.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*store.User, string, error) {
	if !ValidPhone(in.Phone) {
		return nil, "", ErrInvalidPhone
	}
	firstName := strings.TrimSpace(in.FirstName)
	if firstName == "" {
		return nil, "", ErrFirstNameRequired
	}
	phone := NormalizePhone(in.Phone)

	existing, err := s.users.GetUserByPhone(ctx, phone)
	if err == nil && existing != nil {
		return nil, "", ErrPhoneTaken
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, "", fmt.Errorf("lookup phone: %w", err)
	}

	user := &store.User{
		Phone:     phone,
		FirstName: firstName,
		LastName:  strings.TrimSpace(in.LastName),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, "", fmt.Errorf("create user: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Phone)
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}
	return user, token, nil
}

// Login issues a token for phone, creating the user when the phone is unknown.
func (s *Service) Login(ctx context.Context, phone string) (*store.User, string, error) {
	if strings.TrimSpace(phone) == "" || !ValidPhone(phone) {
		return nil, "", ErrInvalidPhone
	}
	phone = NormalizePhone(phone)

	user, err := s.users.GetUserByPhone(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		user = &store.User{Phone: phone, FirstName: defaultFirstName}
		if err = s.users.CreateUser(ctx, user); err != nil {
			return nil, "", fmt.Errorf("create user: %w", err)
		}
		s.log.Info().Str("user_id", user.ID).Msg("user created on login")
	} else if err != nil {
		return nil, "", fmt.Errorf("lookup phone: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Phone)
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}
	return user, token, nil
}

// Logout revokes token until it expires and persists the user as offline
// unless they still have live connections.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := ValidateToken(s.jwtConfig, token)
	if err != nil {
		return err
	}

	expiresAt := s.now().Add(s.jwtConfig.TTL)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := s.tokens.RevokeToken(ctx, Fingerprint(token), expiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}

	if s.presence != nil && s.presence.IsOnline(claims.UserID) {
		return nil
	}
	if err := s.users.SetOnlineStatus(ctx, claims.UserID, store.StatusOffline, s.now()); err != nil &&
		!errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("set offline: %w", err)
	}
	return nil
}

// VerifyToken checks signature, expiry, revocation and that the user exists.
func (s *Service) VerifyToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrTokenMissing
	}
	claims, err := ValidateToken(s.jwtConfig, token)
	if err != nil {
		return "", err
	}

	revoked, err := s.tokens.IsTokenRevoked(ctx, Fingerprint(token))
	if err != nil {
		return "", fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return "", ErrTokenRevoked
	}

	if _, err := s.users.GetUserByID(ctx, claims.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: unknown user", ErrTokenInvalid)
		}
		return "", fmt.Errorf("load user: %w", err)
	}
	return claims.UserID, nil
}

// Me returns the current user.
func (s *Service) Me(ctx context.Context, userID string) (*store.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// RunJanitor purges expired revocations every interval until ctx ends.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.tokens.PurgeExpiredTokens(ctx, s.now())
			if err != nil {
				s.log.Warn().Err(err).Msg("purge revoked tokens failed")
				continue
			}
			if n > 0 {
				s.log.Debug().Int64("purged", n).Msg("revoked tokens purged")
			}
		}
	}
}

// Fingerprint hashes a raw token so bearer credentials are never stored.
func Fingerprint(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// IsAuthError reports whether err rejects the credential itself.
func (s *Service) IsAuthError(err error) bool {
	return IsAuthError(err)
}

// IsAuthError reports whether err is one of the token errors.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrTokenMissing) ||
		errors.Is(err, ErrTokenInvalid) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenRevoked)
}
