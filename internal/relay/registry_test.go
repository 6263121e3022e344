package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreateAndJoin(t *testing.T) {
	r := NewRegistry()

	room, dep := r.Create("a")
	assert.Nil(t, dep)
	assert.Equal(t, Room{ID: "a", Creator: "a"}, room)

	_, ok := r.Peer("a")
	assert.False(t, ok, "half-open room must not route")

	room, dep, err := r.Join("b", "a")
	require.NoError(t, err)
	assert.Nil(t, dep)
	assert.Equal(t, "b", room.Joiner)

	peer, ok := r.Peer("a")
	require.True(t, ok)
	assert.Equal(t, "b", peer)

	peer, ok = r.Peer("b")
	require.True(t, ok)
	assert.Equal(t, "a", peer)
}

func TestRegistryJoinErrors(t *testing.T) {
	r := NewRegistry()

	_, _, err := r.Join("b", "missing")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	r.Create("a")
	_, _, err = r.Join("a", "a")
	assert.ErrorIs(t, err, ErrAlreadyInRoom)

	_, _, err = r.Join("b", "a")
	require.NoError(t, err)

	for _, requester := range []string{"a", "b", "c"} {
		_, _, err = r.Join(requester, "a")
		assert.ErrorIs(t, err, ErrRoomFull, "requester %s", requester)
	}

	room, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "b", room.Joiner)
}

func TestRegistryFailedJoinKeepsMembership(t *testing.T) {
	r := NewRegistry()
	r.Create("a")
	r.Create("c")
	_, _, err := r.Join("b", "a")
	require.NoError(t, err)

	_, _, err = r.Join("c", "a")
	require.ErrorIs(t, err, ErrRoomFull)

	_, ok := r.Lookup("c")
	assert.True(t, ok, "creator of another room keeps it after a failed join")
}

func TestRegistryDepart(t *testing.T) {
	r := NewRegistry()

	assert.Nil(t, r.Depart("nobody"))

	r.Create("a")
	dep := r.Depart("a")
	require.NotNil(t, dep)
	assert.Empty(t, dep.Survivor)
	assert.Equal(t, 0, r.Len())

	_, _, err := r.Join("b", "a")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	r.Create("a")
	_, _, err = r.Join("b", "a")
	require.NoError(t, err)

	dep = r.Depart("b")
	require.NotNil(t, dep)
	assert.Equal(t, "a", dep.Survivor)
	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.Depart("a"), "room is gone for the survivor too")
}

func TestRegistryRecreateTearsDownPreviousRoom(t *testing.T) {
	r := NewRegistry()
	r.Create("a")
	_, _, err := r.Join("b", "a")
	require.NoError(t, err)

	room, dep := r.Create("a")
	require.NotNil(t, dep)
	assert.Equal(t, "b", dep.Survivor)
	assert.Equal(t, "a", room.ID)
	assert.Empty(t, room.Joiner)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryJoinLeavesPreviousRoom(t *testing.T) {
	r := NewRegistry()
	r.Create("a")
	r.Create("b")
	_, _, err := r.Join("c", "b")
	require.NoError(t, err)

	_, dep, err := r.Join("b", "a")
	require.NoError(t, err)
	require.NotNil(t, dep)
	assert.Equal(t, "b", dep.Room.ID)
	assert.Equal(t, "c", dep.Survivor)

	_, ok := r.Lookup("b")
	assert.False(t, ok)
	_, ok = r.Peer("c")
	assert.False(t, ok)
}
