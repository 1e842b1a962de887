package core

import (
	"context"
	"time"

	"github.com/vovakirdan/relaychat-server/internal/store"
)

// Authenticator resolves a bearer credential to a user ID.
// IsAuthError separates rejected credentials from failures to check them.
type Authenticator interface {
	VerifyToken(ctx context.Context, token string) (string, error)
	IsAuthError(err error) bool
}

// Directory is the persistence the core reads memberships and messages from,
// and writes presence to.
type Directory interface {
	ListChatIDsForUser(ctx context.Context, userID string) ([]string, error)
	IsChatMember(ctx context.Context, chatID, userID string) (bool, error)
	GetMessage(ctx context.Context, id string) (*store.Message, error)
	SetOnlineStatus(ctx context.Context, userID string, status store.OnlineStatus, at time.Time) error
}

// Auditor receives persisted presence transitions.
type Auditor interface {
	PresenceChanged(ctx context.Context, userID string, status store.OnlineStatus, at time.Time) error
}

// Recorder counts what the core does. Implementations must be safe for concurrent use.
type Recorder interface {
	ConnectionAdmitted()
	ConnectionDismissed()
	AdmissionRejected(reason string)
	PresenceChanged(status string)
	PresenceWriteFailed()
	EventsDelivered(kind string, n int)
	DeliveryDropped(kind string)
}

type nopRecorder struct{}

func (nopRecorder) ConnectionAdmitted() {}
func (nopRecorder) ConnectionDismissed() {}
func (nopRecorder) AdmissionRejected(string) {}
func (nopRecorder) PresenceChanged(string) {}
func (nopRecorder) PresenceWriteFailed() {}
func (nopRecorder) EventsDelivered(string, int) {}
func (nopRecorder) DeliveryDropped(string) {}

type nopAuditor struct{}

func (nopAuditor) PresenceChanged(context.Context, string, store.OnlineStatus, time.Time) error {
	return nil
}
