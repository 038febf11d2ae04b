// Package session provides the per-connection state machine that reads
// frames from a transport, dispatches them, and writes queued frames back.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// OverflowPolicy decides what happens when an outbox is full.
type OverflowPolicy int

const (
	// DropOldest discards the oldest queued frame to make room.
	DropOldest OverflowPolicy = iota
	// Disconnect rejects the frame; the owning session closes itself.
	Disconnect
)

// String returns the configuration name of the policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case Disconnect:
		return "disconnect"
	}
	return fmt.Sprintf("OverflowPolicy(%d)", int(p))
}

// ParseOverflowPolicy maps a configuration name to a policy.
func ParseOverflowPolicy(name string) (OverflowPolicy, error) {
	switch name {
	case "drop-oldest":
		return DropOldest, nil
	case "disconnect":
		return Disconnect, nil
	}
	return 0, fmt.Errorf("unknown overflow policy %q", name)
}

var (
	// ErrClosed is returned when sending to a closed session or outbox.
	ErrClosed = errors.New("session closed")
	// ErrQueueFull is returned when the outbox is full under the Disconnect policy.
	ErrQueueFull = errors.New("outbound queue full")
)

// Outbox is a bounded FIFO of frames consumed by a single writer goroutine.
type Outbox struct {
	frames  chan []byte
	policy  OverflowPolicy
	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// NewOutbox creates an Outbox holding at most capacity frames.
//
// Postcondition: Returns an open Outbox; capacity values < 1 are raised to 1.
func NewOutbox(capacity int, policy OverflowPolicy) *Outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &Outbox{
		frames: make(chan []byte, capacity),
		policy: policy,
	}
}

// Push enqueues frame without blocking.
//
// Postcondition: Returns a nil error when frame was queued, with dropped set if
// the oldest frame was discarded to make room; ErrQueueFull under Disconnect
// when full; or ErrClosed.
func (o *Outbox) Push(frame []byte) (dropped bool, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false, ErrClosed
	}
	for {
		select {
		case o.frames <- frame:
			return dropped, nil
		default:
		}
		if o.policy == Disconnect {
			return false, ErrQueueFull
		}
		// The writer may drain concurrently, so the receive can miss; loop until the send fits.
		select {
		case <-o.frames:
			o.dropped++
			dropped = true
		default:
		}
	}
}

// Frames returns the channel the writer goroutine ranges over.
// It is closed by Close.
func (o *Outbox) Frames() <-chan []byte {
	return o.frames
}

// Dropped returns how many frames the DropOldest policy has discarded.
func (o *Outbox) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

// Len returns the number of queued frames.
func (o *Outbox) Len() int {
	return len(o.frames)
}

// Close closes the frames channel. It is idempotent.
//
// Postcondition: Further Push calls return ErrClosed.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.frames)
	}
}
