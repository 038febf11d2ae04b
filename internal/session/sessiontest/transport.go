// Package sessiontest provides an in-memory session transport for tests.
package sessiontest

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// Transport is an in-memory session.Transport. Frames pushed with Inject are
// returned by ReadFrame; frames written by the session are recorded.
type Transport struct {
	Addr string

	inbound chan []byte
	readErr chan error

	mu       sync.Mutex
	cond     *sync.Cond
	written  [][]byte
	pings    int
	autoPong bool
	onPong   func()
	writeErr error
	closed   bool
	done     chan struct{}
	blockW   chan struct{}
}

// NewTransport creates an open Transport.
func NewTransport() *Transport {
	t := &Transport{
		Addr:    "pipe",
		inbound: make(chan []byte, 64),
		readErr: make(chan error, 1),
		done:    make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Inject queues an inbound frame for ReadFrame.
func (t *Transport) Inject(frame []byte) { t.inbound <- frame }

// Hangup makes the next ReadFrame report a clean remote close.
func (t *Transport) Hangup() { t.Fail(io.EOF) }

// Fail makes the next ReadFrame return err.
func (t *Transport) Fail(err error) {
	select {
	case t.readErr <- err:
	default:
	}
}

// SetAutoPong makes every Ping answer immediately through the OnPong callback.
func (t *Transport) SetAutoPong(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.autoPong = on
}

// SetWriteError makes subsequent WriteFrame calls fail with err.
func (t *Transport) SetWriteError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

// BlockWrites stalls WriteFrame until the returned release func is called.
func (t *Transport) BlockWrites() (release func()) {
	ch := make(chan struct{})
	t.mu.Lock()
	t.blockW = ch
	t.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// ReadFrame implements session.Transport.
func (t *Transport) ReadFrame() ([]byte, error) {
	select {
	case f := <-t.inbound:
		return f, nil
	case err := <-t.readErr:
		return nil, err
	case <-t.done:
		return nil, net.ErrClosed
	}
}

// WriteFrame implements session.Transport.
func (t *Transport) WriteFrame(frame []byte) error {
	t.mu.Lock()
	block := t.blockW
	t.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-t.done:
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return net.ErrClosed
	}
	if t.writeErr != nil {
		return t.writeErr
	}
	t.written = append(t.written, append([]byte(nil), frame...))
	t.cond.Broadcast()
	return nil
}

// Ping implements session.Transport.
func (t *Transport) Ping() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return net.ErrClosed
	}
	t.pings++
	fn, auto := t.onPong, t.autoPong
	t.mu.Unlock()
	if auto && fn != nil {
		fn()
	}
	return nil
}

// OnPong implements session.Transport.
func (t *Transport) OnPong(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPong = fn
}

// Pong simulates the peer answering a probe.
func (t *Transport) Pong() {
	t.mu.Lock()
	fn := t.onPong
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Close implements session.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return net.ErrClosed
	}
	t.closed = true
	close(t.done)
	t.cond.Broadcast()
	return nil
}

// RemoteAddr implements session.Transport.
func (t *Transport) RemoteAddr() string { return t.Addr }

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Pings returns how many probes were sent.
func (t *Transport) Pings() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pings
}

// Written returns a copy of every frame written so far.
func (t *Transport) Written() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.written))
	copy(out, t.written)
	return out
}

// ErrTimeout is returned by WaitWritten when too few frames arrive in time.
var ErrTimeout = errors.New("timed out waiting for frames")

// WaitWritten blocks until at least n frames have been written or timeout elapses.
//
// Postcondition: Returns the written frames, with ErrTimeout if fewer than n arrived.
func (t *Transport) WaitWritten(n int, timeout time.Duration) ([][]byte, error) {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		t.mu.Lock()
		t.cond.Broadcast()
		t.mu.Unlock()
	})
	defer timer.Stop()

	t.mu.Lock()
	for len(t.written) < n && time.Now().Before(deadline) {
		t.cond.Wait()
	}
	out := make([][]byte, len(t.written))
	copy(out, t.written)
	t.mu.Unlock()

	if len(out) < n {
		return out, ErrTimeout
	}
	return out, nil
}
