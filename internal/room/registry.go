// Package room tracks which sessions are attached to which shared canvas.
package room

import (
	"sort"
	"sync"
)

// Member is a participant that can be addressed by the registry's callers.
// The registry itself only uses ID; Send is what broadcasters deliver through.
type Member interface {
	// ID returns a value unique among all live members.
	ID() string
	// Send enqueues one frame for the member without blocking.
	Send(frame []byte) error
}

type entry struct {
	member Member
	seq    uint64
}

// Registry maps a canvas id to its set of active members.
// A member belongs to at most one room; rooms are dropped as soon as they empty.
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[int64]map[string]entry // roomID → memberID → entry
	memberOf map[string]int64           // memberID → roomID
	seq      uint64
	onEmpty  func(roomID int64)
}

// Option configures a Registry.
type Option func(*Registry)

// WithEmptyRoomHook registers fn to be called, outside the registry lock,
// each time a room loses its last member.
func WithEmptyRoomHook(fn func(roomID int64)) Option {
	return func(r *Registry) { r.onEmpty = fn }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:    make(map[int64]map[string]entry),
		memberOf: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds m to roomID, creating the room if absent. Registering the same
// pair twice is a no-op. A member already in a different room is moved.
//
// Precondition: m must be non-nil with a non-empty ID.
// Postcondition: m is a member of roomID only. Returns the room it was moved out of, or 0.
func (r *Registry) Register(roomID int64, m Member) (previous int64) {
	var emptied bool

	r.mu.Lock()
	id := m.ID()
	if cur, ok := r.memberOf[id]; ok {
		if cur == roomID {
			r.mu.Unlock()
			return 0
		}
		emptied = r.removeLocked(cur, id)
		previous = cur
	}

	members := r.rooms[roomID]
	if members == nil {
		members = make(map[string]entry)
		r.rooms[roomID] = members
	}
	r.seq++
	members[id] = entry{member: m, seq: r.seq}
	r.memberOf[id] = roomID
	r.mu.Unlock()

	if emptied {
		r.fireEmpty(previous)
	}
	return previous
}

// Unregister removes m from roomID. It is a no-op when m is not a member of roomID.
//
// Postcondition: m is not a member of roomID. Returns true if a membership was removed.
func (r *Registry) Unregister(roomID int64, m Member) bool {
	r.mu.Lock()
	id := m.ID()
	if cur, ok := r.memberOf[id]; !ok || cur != roomID {
		r.mu.Unlock()
		return false
	}
	emptied := r.removeLocked(roomID, id)
	r.mu.Unlock()

	if emptied {
		r.fireEmpty(roomID)
	}
	return true
}

// Leave removes m from whichever room it belongs to.
//
// Postcondition: m is in no room. Returns the room it left and whether it was in one.
func (r *Registry) Leave(m Member) (int64, bool) {
	r.mu.Lock()
	id := m.ID()
	roomID, ok := r.memberOf[id]
	if !ok {
		r.mu.Unlock()
		return 0, false
	}
	emptied := r.removeLocked(roomID, id)
	r.mu.Unlock()

	if emptied {
		r.fireEmpty(roomID)
	}
	return roomID, true
}

// removeLocked deletes a membership and reports whether the room became empty.
// Caller must hold r.mu for writing.
func (r *Registry) removeLocked(roomID int64, id string) bool {
	delete(r.memberOf, id)
	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.rooms, roomID)
		return true
	}
	return false
}

func (r *Registry) fireEmpty(roomID int64) {
	if r.onEmpty != nil {
		r.onEmpty(roomID)
	}
}

// RoomOf returns the room m currently belongs to.
func (r *Registry) RoomOf(m Member) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.memberOf[m.ID()]
	return roomID, ok
}

// Members returns a point-in-time copy of roomID's members in join order.
//
// Postcondition: The returned slice is owned by the caller (may be empty).
func (r *Registry) Members(roomID int64) []Member {
	return r.snapshot(roomID, "")
}

// MembersExcept returns a point-in-time copy of roomID's members other than
// except, in join order. The copy is safe to iterate while membership changes.
//
// Postcondition: The returned slice never contains except.
func (r *Registry) MembersExcept(roomID int64, except Member) []Member {
	return r.snapshot(roomID, except.ID())
}

func (r *Registry) snapshot(roomID int64, skipID string) []Member {
	r.mu.RLock()
	members := r.rooms[roomID]
	entries := make([]entry, 0, len(members))
	for id, e := range members {
		if id == skipID {
			continue
		}
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]Member, len(entries))
	for i, e := range entries {
		out[i] = e.member
	}
	return out
}

// RoomSize returns the number of members in roomID.
func (r *Registry) RoomSize(roomID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// Stats returns the number of non-empty rooms and total memberships.
func (r *Registry) Stats() (rooms, members int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), len(r.memberOf)
}
