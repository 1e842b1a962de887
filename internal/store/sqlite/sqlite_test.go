package sqlite

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/vovakirdan/relaychat-server/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewWithSetup(":memory:", Migrate)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *SQLiteStore, phone, firstName, username string) *store.User {
	t.Helper()
	user := &store.User{Phone: phone, FirstName: firstName, Username: username}
	if err := s.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create user %s: %v", firstName, err)
	}
	return user
}

func TestSearchUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedUser(t, s, "+79990000001", "Alice", "alice")
	seedUser(t, s, "+79990000002", "Alex", "alex")
	seedUser(t, s, "+79990000003", "Alan", "")
	seedUser(t, s, "+79990000004", "Bob", "bob")
	seedUser(t, s, "+79990000005", "Charlie", "charlie")

	tests := []struct {
		name     string
		query    string
		expected []string
	}{
		{name: "search 'al'", query: "al", expected: []string{"Alan", "Alex", "Alice"}},
		{name: "search 'li'", query: "li", expected: []string{"Alice", "Charlie"}},
		{name: "search by phone", query: "0004", expected: []string{"Bob"}},
		{name: "search non-existent", query: "zz", expected: []string{}},
		{name: "search ignores ascii case", query: "BOB", expected: []string{"Bob"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := s.SearchUsers(ctx, tt.query, 20)
			if err != nil {
				t.Fatalf("SearchUsers failed: %v", err)
			}

			names := make([]string, 0, len(results))
			for _, u := range results {
				names = append(names, u.FirstName)
			}
			sort.Strings(names)

			if len(names) != len(tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, names)
			}
			for i := range names {
				if names[i] != tt.expected[i] {
					t.Fatalf("expected %v, got %v", tt.expected, names)
				}
			}
		})
	}
}

func TestUserLookupsAndProfile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "+79990000001", "Alice", "")
	if alice.ID == "" {
		t.Fatalf("expected generated id")
	}
	if alice.OnlineStatus != store.StatusOffline {
		t.Fatalf("expected offline by default, got %q", alice.OnlineStatus)
	}

	byPhone, err := s.GetUserByPhone(ctx, "+79990000001")
	if err != nil {
		t.Fatalf("GetUserByPhone: %v", err)
	}
	if byPhone.ID != alice.ID {
		t.Fatalf("expected %s, got %s", alice.ID, byPhone.ID)
	}

	if _, err := s.GetUserByID(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	username := "alice_w"
	bio := "hello"
	updated, err := s.UpdateProfile(ctx, alice.ID, store.ProfileUpdate{Username: &username, Bio: &bio})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.Username != username || updated.Bio != bio || updated.FirstName != "Alice" {
		t.Fatalf("unexpected profile: %+v", updated)
	}

	byUsername, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if byUsername.ID != alice.ID {
		t.Fatalf("expected %s, got %s", alice.ID, byUsername.ID)
	}

	if _, err := s.UpdateProfile(ctx, "missing", store.ProfileUpdate{Bio: &bio}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOnlineStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "+79990000001", "Alice", "")
	bob := seedUser(t, s, "+79990000002", "Bob", "")

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.SetOnlineStatus(ctx, alice.ID, store.StatusOnline, at); err != nil {
		t.Fatalf("SetOnlineStatus: %v", err)
	}
	if err := s.SetOnlineStatus(ctx, bob.ID, store.StatusOnline, at); err != nil {
		t.Fatalf("SetOnlineStatus: %v", err)
	}

	got, err := s.GetUserByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got.OnlineStatus != store.StatusOnline || !got.LastSeen.Equal(at) {
		t.Fatalf("unexpected status %q at %v", got.OnlineStatus, got.LastSeen)
	}

	if err := s.SetOnlineStatus(ctx, "missing", store.StatusOnline, at); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.ResetOnlineStatus(ctx); err != nil {
		t.Fatalf("ResetOnlineStatus: %v", err)
	}
	for _, id := range []string{alice.ID, bob.ID} {
		u, err := s.GetUserByID(ctx, id)
		if err != nil {
			t.Fatalf("GetUserByID: %v", err)
		}
		if u.OnlineStatus != store.StatusOffline {
			t.Fatalf("expected offline after reset, got %q", u.OnlineStatus)
		}
	}
}

func TestChatsAndMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "+79990000001", "Alice", "")
	bob := seedUser(t, s, "+79990000002", "Bob", "")
	carol := seedUser(t, s, "+79990000003", "Carol", "")

	direct := &store.Chat{
		Type:      store.ChatTypeDirect,
		CreatorID: alice.ID,
		Members:   []store.ChatMember{{UserID: alice.ID}, {UserID: bob.ID}},
	}
	if err := s.CreateChat(ctx, direct); err != nil {
		t.Fatalf("CreateChat direct: %v", err)
	}

	group := &store.Chat{
		Type:      store.ChatTypeGroup,
		Name:      "team",
		CreatorID: alice.ID,
		Members: []store.ChatMember{
			{UserID: alice.ID, Role: store.RoleAdmin},
			{UserID: carol.ID},
		},
	}
	if err := s.CreateChat(ctx, group); err != nil {
		t.Fatalf("CreateChat group: %v", err)
	}

	found, err := s.FindDirectChat(ctx, bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("FindDirectChat: %v", err)
	}
	if found.ID != direct.ID || len(found.Members) != 2 {
		t.Fatalf("unexpected direct chat: %+v", found)
	}
	if _, err := s.FindDirectChat(ctx, bob.ID, carol.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	ids, err := s.ListChatIDsForUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListChatIDsForUser: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 chats for alice, got %v", ids)
	}

	chats, err := s.ListChatsForUser(ctx, carol.ID)
	if err != nil {
		t.Fatalf("ListChatsForUser: %v", err)
	}
	if len(chats) != 1 || chats[0].ID != group.ID || chats[0].Name != "team" {
		t.Fatalf("unexpected chats for carol: %+v", chats)
	}

	var adminRole store.MemberRole
	for _, m := range chats[0].Members {
		if m.UserID == alice.ID {
			adminRole = m.Role
		}
	}
	if adminRole != store.RoleAdmin {
		t.Fatalf("expected alice to be admin, got %q", adminRole)
	}

	member, err := s.IsChatMember(ctx, group.ID, bob.ID)
	if err != nil {
		t.Fatalf("IsChatMember: %v", err)
	}
	if member {
		t.Fatalf("bob should not be a group member")
	}

	if err := s.DeleteChat(ctx, group.ID); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if _, err := s.GetChat(ctx, group.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	member, err = s.IsChatMember(ctx, group.ID, carol.ID)
	if err != nil {
		t.Fatalf("IsChatMember: %v", err)
	}
	if member {
		t.Fatalf("membership should be removed with the chat")
	}
}

func TestMessagesLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "+79990000001", "Alice", "")
	bob := seedUser(t, s, "+79990000002", "Bob", "")
	chat := &store.Chat{
		Type:    store.ChatTypeDirect,
		Members: []store.ChatMember{{UserID: alice.ID}, {UserID: bob.ID}},
	}
	if err := s.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var saved []*store.Message
	for i, content := range []string{"one", "two", "three"} {
		msg := &store.Message{
			ChatID:    chat.ID,
			SenderID:  alice.ID,
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
		saved = append(saved, msg)
	}

	msgs, err := s.ListMessages(ctx, chat.ID, 50, time.Time{})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 3 || msgs[0].Content != "one" || msgs[2].Content != "three" {
		t.Fatalf("expected chronological order, got %+v", msgs)
	}

	page, err := s.ListMessages(ctx, chat.ID, 1, saved[2].CreatedAt)
	if err != nil {
		t.Fatalf("ListMessages before: %v", err)
	}
	if len(page) != 1 || page[0].Content != "two" {
		t.Fatalf("expected newest message before cursor, got %+v", page)
	}

	if err := s.UpdateMessageContent(ctx, saved[0].ID, "uno", base.Add(time.Minute)); err != nil {
		t.Fatalf("UpdateMessageContent: %v", err)
	}
	edited, err := s.GetMessage(ctx, saved[0].ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if edited.Content != "uno" || !edited.IsEdited {
		t.Fatalf("unexpected edited message: %+v", edited)
	}

	if err := s.MarkSeen(ctx, bob.ID, []string{saved[0].ID, saved[1].ID}, base); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if err := s.MarkSeen(ctx, bob.ID, []string{saved[0].ID}, base.Add(time.Second)); err != nil {
		t.Fatalf("MarkSeen repeat: %v", err)
	}

	if err := s.MarkMessageDeleted(ctx, saved[1].ID, base.Add(time.Minute)); err != nil {
		t.Fatalf("MarkMessageDeleted: %v", err)
	}
	deleted, err := s.GetMessage(ctx, saved[1].ID)
	if err != nil {
		t.Fatalf("GetMessage deleted: %v", err)
	}
	if !deleted.IsDeleted {
		t.Fatalf("expected soft delete flag")
	}

	msgs, err = s.ListMessages(ctx, chat.ID, 50, time.Time{})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected deleted message to be hidden, got %d", len(msgs))
	}
	if len(msgs[0].SeenBy) != 1 || msgs[0].SeenBy[0] != bob.ID {
		t.Fatalf("expected seenBy [bob], got %v", msgs[0].SeenBy)
	}
	if len(msgs[1].SeenBy) != 0 {
		t.Fatalf("expected no readers for last message, got %v", msgs[1].SeenBy)
	}

	if err := s.MarkMessageDeleted(ctx, "missing", base); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokedTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := s.RevokeToken(ctx, "fp-old", now.Add(-time.Hour)); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if err := s.RevokeToken(ctx, "fp-live", now.Add(time.Hour)); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	// revoking twice is harmless
	if err := s.RevokeToken(ctx, "fp-live", now.Add(time.Hour)); err != nil {
		t.Fatalf("RevokeToken repeat: %v", err)
	}

	revoked, err := s.IsTokenRevoked(ctx, "fp-live")
	if err != nil || !revoked {
		t.Fatalf("expected fp-live revoked, got %v %v", revoked, err)
	}

	purged, err := s.PurgeExpiredTokens(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpiredTokens: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}

	revoked, err = s.IsTokenRevoked(ctx, "fp-old")
	if err != nil || revoked {
		t.Fatalf("expected fp-old purged, got %v %v", revoked, err)
	}
}
