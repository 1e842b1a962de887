package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouterJoinIsIdempotent(t *testing.T) {
	r := NewRouter()
	r.Attach("c1")

	assert.True(t, r.JoinRoom("c1", "chat"))
	assert.False(t, r.JoinRoom("c1", "chat"))
	assert.Equal(t, []string{"c1"}, r.MembersOf("chat"))
	assert.True(t, r.InRoom("c1", "chat"))
}

func TestRouterRefusesUnattached(t *testing.T) {
	r := NewRouter()

	assert.False(t, r.JoinRoom("ghost", "chat"))
	assert.Zero(t, r.JoinAll("ghost", []string{"a", "b"}))
	assert.Empty(t, r.MembersOf("chat"))
	assert.Zero(t, r.Len())
}

func TestRouterJoinAllCountsNew(t *testing.T) {
	r := NewRouter()
	r.Attach("c1")

	assert.Equal(t, 2, r.JoinAll("c1", []string{"a", "b", "a", ""}))
	assert.ElementsMatch(t, []string{"a", "b"}, r.RoomsOf("c1"))
}

func TestRouterLeaveAllCleansEverything(t *testing.T) {
	r := NewRouter()
	r.Attach("c1")
	r.Attach("c2")
	r.JoinAll("c1", []string{"a", "b"})
	r.JoinAll("c2", []string{"b"})

	left := r.LeaveAll("c1")
	assert.ElementsMatch(t, []string{"a", "b"}, left)

	assert.Empty(t, r.MembersOf("a"))
	assert.Equal(t, []string{"c2"}, r.MembersOf("b"))
	assert.Empty(t, r.RoomsOf("c1"))
	assert.Equal(t, 1, r.Len(), "empty room must be deleted")

	// A late join after leaving must not resurrect the connection.
	assert.False(t, r.JoinRoom("c1", "a"))
	assert.Empty(t, r.MembersOf("a"))

	assert.Nil(t, r.LeaveAll("c1"))
}
