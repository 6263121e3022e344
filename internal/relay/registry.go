package relay

import "errors"

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadyInRoom = errors.New("already in room")
)

// Room is a two-party rendezvous keyed by the creator's session ID.
type Room struct {
	ID      string
	Creator string
	Joiner  string
}

// Full reports whether both members are present.
func (r Room) Full() bool {
	return r.Joiner != ""
}

// Other returns the member that is not sessionID, or "" if absent.
func (r Room) Other(sessionID string) string {
	switch sessionID {
	case r.Creator:
		return r.Joiner
	case r.Joiner:
		return r.Creator
	}
	return ""
}

// Departure describes a room torn down because one member left it.
type Departure struct {
	Room     Room
	Survivor string
}

// Registry is the room table. It is not safe for concurrent use; the Hub
// loop is its only reader and writer.
type Registry struct {
	rooms    map[string]*Room
	memberOf map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		memberOf: make(map[string]string),
	}
}

// Create opens a room owned by sessionID. If the session already belonged
// to a room, that room is torn down first and described by the returned
// Departure.
func (r *Registry) Create(sessionID string) (Room, *Departure) {
	dep := r.Depart(sessionID)

	room := &Room{ID: sessionID, Creator: sessionID}
	r.rooms[room.ID] = room
	r.memberOf[sessionID] = room.ID
	return *room, dep
}

// Join admits sessionID as the joiner of roomID. A failed join leaves the
// registry untouched. A successful join tears down any other room the
// session was in.
func (r *Registry) Join(sessionID, roomID string) (Room, *Departure, error) {
	room, ok := r.rooms[roomID]
	if !ok {
		return Room{}, nil, ErrRoomNotFound
	}
	if room.Full() {
		return Room{}, nil, ErrRoomFull
	}
	if room.Creator == sessionID {
		return Room{}, nil, ErrAlreadyInRoom
	}

	dep := r.Depart(sessionID)

	room.Joiner = sessionID
	r.memberOf[sessionID] = room.ID
	return *room, dep, nil
}

// Peer returns the other member of sessionID's room. Only full rooms are
// eligible.
func (r *Registry) Peer(sessionID string) (string, bool) {
	room, ok := r.roomOf(sessionID)
	if !ok || !room.Full() {
		return "", false
	}
	return room.Other(sessionID), true
}

// Depart deletes the room sessionID belongs to. It returns nil when the
// session owns no room.
func (r *Registry) Depart(sessionID string) *Departure {
	room, ok := r.roomOf(sessionID)
	if !ok {
		return nil
	}

	delete(r.rooms, room.ID)
	delete(r.memberOf, room.Creator)
	if room.Joiner != "" {
		delete(r.memberOf, room.Joiner)
	}
	return &Departure{Room: *room, Survivor: room.Other(sessionID)}
}

// Lookup returns a copy of the room with the given ID.
func (r *Registry) Lookup(roomID string) (Room, bool) {
	room, ok := r.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	return *room, true
}

// Len returns the number of open rooms.
func (r *Registry) Len() int {
	return len(r.rooms)
}

func (r *Registry) roomOf(sessionID string) (*Room, bool) {
	id, ok := r.memberOf[sessionID]
	if !ok {
		return nil, false
	}
	room, ok := r.rooms[id]
	return room, ok
}
