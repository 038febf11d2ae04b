package room

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type mockMember struct {
	id string
}

func (m *mockMember) ID() string          { return m.id }
func (m *mockMember) Send(_ []byte) error { return nil }

func ids(members []Member) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.ID()
	}
	return out
}

func TestRegistry_RegisterAndMembers(t *testing.T) {
	r := NewRegistry()
	a, b, c := &mockMember{"a"}, &mockMember{"b"}, &mockMember{"c"}

	r.Register(42, a)
	r.Register(42, b)
	r.Register(42, c)

	assert.Equal(t, []string{"a", "b", "c"}, ids(r.Members(42)))
	assert.Equal(t, []string{"b", "c"}, ids(r.MembersExcept(42, a)))
	assert.Equal(t, 3, r.RoomSize(42))
}

func TestRegistry_RegisterIdempotent(t *testing.T) {
	r := NewRegistry()
	a := &mockMember{"a"}

	assert.Zero(t, r.Register(1, a))
	assert.Zero(t, r.Register(1, a))

	rooms, members := r.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 1, members)
}

func TestRegistry_RegisterMovesBetweenRooms(t *testing.T) {
	r := NewRegistry()
	a := &mockMember{"a"}

	r.Register(1, a)
	prev := r.Register(2, a)
	assert.Equal(t, int64(1), prev)

	assert.Empty(t, r.Members(1))
	assert.Equal(t, []string{"a"}, ids(r.Members(2)))
	roomID, ok := r.RoomOf(a)
	require.True(t, ok)
	assert.Equal(t, int64(2), roomID)

	rooms, _ := r.Stats()
	assert.Equal(t, 1, rooms, "the abandoned room is dropped")
}

func TestRegistry_UnregisterNonMemberIsNoop(t *testing.T) {
	r := NewRegistry()
	a, b := &mockMember{"a"}, &mockMember{"b"}
	r.Register(1, a)

	assert.False(t, r.Unregister(1, b))
	assert.False(t, r.Unregister(2, a))
	assert.False(t, r.Unregister(99, b))
	assert.Equal(t, []string{"a"}, ids(r.Members(1)))
}

func TestRegistry_EmptyRoomDropped(t *testing.T) {
	var emptied []int64
	r := NewRegistry(WithEmptyRoomHook(func(roomID int64) { emptied = append(emptied, roomID) }))
	a := &mockMember{"a"}

	r.Register(7, a)
	assert.True(t, r.Unregister(7, a))

	rooms, members := r.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, members)
	assert.Empty(t, r.Members(7))
	assert.Equal(t, []int64{7}, emptied)
}

func TestRegistry_Leave(t *testing.T) {
	r := NewRegistry()
	a := &mockMember{"a"}

	_, ok := r.Leave(a)
	assert.False(t, ok)

	r.Register(3, a)
	roomID, ok := r.Leave(a)
	assert.True(t, ok)
	assert.Equal(t, int64(3), roomID)
	_, ok = r.RoomOf(a)
	assert.False(t, ok)
}

func TestRegistry_SnapshotIsolatedFromChanges(t *testing.T) {
	r := NewRegistry()
	a, b, c := &mockMember{"a"}, &mockMember{"b"}, &mockMember{"c"}
	r.Register(1, a)
	r.Register(1, b)

	snap := r.MembersExcept(1, a)
	r.Register(1, c)
	r.Unregister(1, b)

	assert.Equal(t, []string{"b"}, ids(snap))
}

func TestRegistry_ConcurrentJoinsNoLostRegistration(t *testing.T) {
	r := NewRegistry()
	const n = 200
	members := make([]*mockMember, n)
	for i := range members {
		members[i] = &mockMember{id: fmt.Sprintf("m%d", i)}
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, m := range members {
		wg.Add(1)
		go func(m *mockMember) {
			defer wg.Done()
			<-start
			r.Register(42, m)
		}(m)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, n, r.RoomSize(42))
	assert.Len(t, r.MembersExcept(42, members[0]), n-1)
}

func TestRegistry_ConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := &mockMember{id: fmt.Sprintf("m%d", i)}
			room := int64(i % 5)
			for j := 0; j < 100; j++ {
				r.Register(room, m)
				_ = r.MembersExcept(room, m)
				r.Unregister(room, m)
			}
		}(i)
	}
	wg.Wait()

	rooms, members := r.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, members)
}

// Property: a member is in at most one room, and MembersExcept never returns the excluded member.
func TestPropertyMembershipInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry()
		pool := make([]*mockMember, 6)
		for i := range pool {
			pool[i] = &mockMember{id: fmt.Sprintf("m%d", i)}
		}

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			m := pool[rapid.IntRange(0, len(pool)-1).Draw(t, "member")]
			room := rapid.Int64Range(1, 3).Draw(t, "room")
			if rapid.Bool().Draw(t, "register") {
				r.Register(room, m)
			} else {
				r.Unregister(room, m)
			}
		}

		total := 0
		for room := int64(1); room <= 3; room++ {
			for _, m := range pool {
				for _, other := range r.MembersExcept(room, m) {
					if other.ID() == m.ID() {
						t.Fatalf("MembersExcept(%d, %s) returned the excluded member", room, m.ID())
					}
				}
			}
			total += r.RoomSize(room)
		}

		seen := map[string]int{}
		for room := int64(1); room <= 3; room++ {
			for _, m := range r.Members(room) {
				seen[m.ID()]++
			}
		}
		for id, n := range seen {
			if n > 1 {
				t.Fatalf("member %s appears in %d rooms", id, n)
			}
		}
		_, members := r.Stats()
		if members != total {
			t.Fatalf("Stats members=%d, sum of room sizes=%d", members, total)
		}
	})
}
