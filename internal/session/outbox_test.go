package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func drain(o *Outbox) []string {
	var out []string
	for {
		select {
		case f, ok := <-o.Frames():
			if !ok {
				return out
			}
			out = append(out, string(f))
		default:
			return out
		}
	}
}

func TestOutbox_FIFO(t *testing.T) {
	o := NewOutbox(4, DropOldest)
	for _, f := range []string{"a", "b", "c"} {
		dropped, err := o.Push([]byte(f))
		require.NoError(t, err)
		assert.False(t, dropped)
	}
	assert.Equal(t, 3, o.Len())
	assert.Equal(t, []string{"a", "b", "c"}, drain(o))
}

func TestOutbox_DropOldest(t *testing.T) {
	o := NewOutbox(2, DropOldest)
	_, _ = o.Push([]byte("a"))
	_, _ = o.Push([]byte("b"))

	dropped, err := o.Push([]byte("c"))
	require.NoError(t, err)
	assert.True(t, dropped)
	assert.Equal(t, uint64(1), o.Dropped())
	assert.Equal(t, []string{"b", "c"}, drain(o))
}

func TestOutbox_DisconnectRejects(t *testing.T) {
	o := NewOutbox(1, Disconnect)
	_, err := o.Push([]byte("a"))
	require.NoError(t, err)

	_, err = o.Push([]byte("b"))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, []string{"a"}, drain(o))
}

func TestOutbox_CloseIdempotent(t *testing.T) {
	o := NewOutbox(1, DropOldest)
	o.Close()
	o.Close()

	_, err := o.Push([]byte("a"))
	assert.ErrorIs(t, err, ErrClosed)
	_, ok := <-o.Frames()
	assert.False(t, ok)
}

func TestOutbox_CapacityFloor(t *testing.T) {
	o := NewOutbox(0, Disconnect)
	_, err := o.Push([]byte("a"))
	assert.NoError(t, err)
}

func TestParseOverflowPolicy(t *testing.T) {
	p, err := ParseOverflowPolicy("drop-oldest")
	require.NoError(t, err)
	assert.Equal(t, DropOldest, p)

	p, err = ParseOverflowPolicy("disconnect")
	require.NoError(t, err)
	assert.Equal(t, Disconnect, p)
	assert.Equal(t, "disconnect", p.String())

	_, err = ParseOverflowPolicy("block")
	assert.Error(t, err)
}

func TestOutbox_ConcurrentPushWithReader(t *testing.T) {
	o := NewOutbox(8, DropOldest)
	var got int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range o.Frames() {
			got++
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, err := o.Push([]byte("x"))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	o.Close()
	<-done

	assert.Equal(t, 1600, got+int(o.Dropped()))
}

// Property: under DropOldest the queue holds the newest min(n, cap) frames in order.
func TestPropertyDropOldestKeepsNewest(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 16).Draw(t, "cap")
		n := rapid.IntRange(0, 64).Draw(t, "n")
		o := NewOutbox(capacity, DropOldest)
		for i := 0; i < n; i++ {
			if _, err := o.Push([]byte{byte(i)}); err != nil {
				t.Fatalf("Push: %v", err)
			}
		}
		got := drain(o)
		want := n
		if want > capacity {
			want = capacity
		}
		if len(got) != want {
			t.Fatalf("len=%d, want %d", len(got), want)
		}
		for i, f := range got {
			if f[0] != byte(n-want+i) {
				t.Fatalf("frame %d = %d, want %d", i, f[0], n-want+i)
			}
		}
	})
}
