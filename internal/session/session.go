package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Prasannaverse13/ArtChainCollective/internal/observability"
	"github.com/Prasannaverse13/ArtChainCollective/internal/room"
)

// State is a position in the session lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Reason records why a session closed.
type Reason string

const (
	ReasonClientClosed   Reason = "client-closed"
	ReasonTransportError Reason = "transport-error"
	ReasonEvicted        Reason = "evicted"
	ReasonSlowConsumer   Reason = "slow-consumer"
	ReasonShutdown       Reason = "shutdown"
)

// Transport is the framed connection a Session drives.
// ReadFrame is only called from the session's read loop and WriteFrame only
// from its writer goroutine; Ping and Close may be called from any goroutine.
type Transport interface {
	// ReadFrame blocks for the next inbound frame. A clean remote close is reported as io.EOF.
	ReadFrame() ([]byte, error)
	// WriteFrame writes one outbound frame.
	WriteFrame(frame []byte) error
	// Ping sends a liveness probe. The peer's reply is reported through OnPong.
	Ping() error
	// OnPong registers fn to run whenever the peer answers a probe.
	OnPong(fn func())
	// Close tears down the connection, unblocking ReadFrame.
	Close() error
	// RemoteAddr describes the peer for logging.
	RemoteAddr() string
}

// Handler processes one inbound frame for a session.
type Handler interface {
	Handle(ctx context.Context, s *Session, frame []byte)
}

// Rooms is the part of the room registry a session needs to join and leave rooms.
type Rooms interface {
	Register(roomID int64, m room.Member) (previous int64)
	Leave(m room.Member) (int64, bool)
	RoomOf(m room.Member) (int64, bool)
}

// Config holds per-session tunables.
type Config struct {
	QueueSize int
	Overflow  OverflowPolicy
}

// Session is the server-side state of one participant's connection.
// It satisfies room.Member and the liveness monitor's probe contract.
type Session struct {
	id        string
	createdAt time.Time
	transport Transport
	handler   Handler
	rooms     Rooms
	outbox    *Outbox
	logger    *zap.Logger
	metrics   *observability.Metrics

	state atomic.Int32
	alive atomic.Bool

	// roomMu orders Join against the CLOSING transition.
	roomMu sync.Mutex

	mu          sync.Mutex
	userID      int64
	displayName string
	onClose     []func(*Session, Reason)

	closeOnce   sync.Once
	closeReason Reason
	closed      chan struct{}
	writerDone  chan struct{}
}

// New creates a Session in the CONNECTING state.
//
// Precondition: id must be unique among live sessions; transport, handler,
// rooms, logger, and metrics must be non-nil.
// Postcondition: Returns a Session ready for Run. The session starts alive.
func New(id string, transport Transport, handler Handler, rooms Rooms, cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Session {
	s := &Session{
		id:         id,
		createdAt:  time.Now(),
		transport:  transport,
		handler:    handler,
		rooms:      rooms,
		outbox:     NewOutbox(cfg.QueueSize, cfg.Overflow),
		logger:     logger.With(observability.SessionFields(id, transport.RemoteAddr())...),
		metrics:    metrics,
		closed:     make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	s.alive.Store(true)
	transport.OnPong(s.MarkAlive)
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was constructed.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Logger returns the session-scoped logger.
func (s *Session) Logger() *zap.Logger { return s.logger }

// Room returns the room the session has joined, if any.
func (s *Session) Room() (int64, bool) { return s.rooms.RoomOf(s) }

// Join moves the session into roomID.
//
// Postcondition: Returns the room left, 0 if none. Returns ErrClosed without
// registering once the session is closing or closed.
func (s *Session) Join(roomID int64) (previous int64, err error) {
	s.roomMu.Lock()
	defer s.roomMu.Unlock()
	if s.State() >= StateClosing {
		return 0, ErrClosed
	}
	return s.rooms.Register(roomID, s), nil
}

// SetIdentity records the self-declared participant identity sent with join.
func (s *Session) SetIdentity(userID int64, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.displayName = displayName
}

// Identity returns the self-declared participant identity, zero if never set.
func (s *Session) Identity() (userID int64, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.displayName
}

// OnClose registers fn to run once the session reaches CLOSED.
// Hooks registered after close never run.
func (s *Session) OnClose(fn func(*Session, Reason)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = append(s.onClose, fn)
}

// Send enqueues a frame for the writer goroutine without blocking.
//
// Postcondition: Returns nil if queued, ErrClosed if the session is closing
// or closed, or ErrQueueFull under the Disconnect policy, in which case the
// session closes itself asynchronously.
func (s *Session) Send(frame []byte) error {
	if s.State() >= StateClosing {
		return ErrClosed
	}
	dropped, err := s.outbox.Push(frame)
	if dropped {
		s.metrics.QueueOverflows.WithLabelValues(DropOldest.String()).Inc()
		s.logger.Debug("outbound queue full, dropped oldest frame")
	}
	if errors.Is(err, ErrQueueFull) {
		s.metrics.QueueOverflows.WithLabelValues(Disconnect.String()).Inc()
		go s.Close(ReasonSlowConsumer)
	}
	return err
}

// MarkAlive records a probe reply.
func (s *Session) MarkAlive() { s.alive.Store(true) }

// TakeAlive reports whether a probe reply arrived since the previous call and
// marks the session as awaiting the next reply.
func (s *Session) TakeAlive() bool { return s.alive.Swap(false) }

// Probe sends a liveness probe over the transport.
func (s *Session) Probe() error {
	if s.State() >= StateClosing {
		return ErrClosed
	}
	return s.transport.Ping()
}

// Evict closes the session on behalf of the liveness monitor.
func (s *Session) Evict() { s.Close(ReasonEvicted) }

// Run drives the session: it moves to ACTIVE, starts the writer, and reads
// frames until the transport fails, the peer closes, or ctx is cancelled.
//
// Precondition: Run must be called at most once.
// Postcondition: The session is CLOSED when Run returns. Returns nil for a
// clean close and the transport error otherwise.
func (s *Session) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		return ErrClosed
	}
	s.logger.Debug("session active")

	go s.writeLoop()

	stop := context.AfterFunc(ctx, func() { s.Close(ReasonShutdown) })
	defer stop()

	var runErr error
	for {
		frame, err := s.transport.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.Close(ReasonClientClosed)
			} else {
				if s.State() < StateClosing {
					runErr = err
				}
				s.Close(ReasonTransportError)
			}
			break
		}
		s.handler.Handle(ctx, s, frame)
	}

	<-s.closed
	<-s.writerDone
	return runErr
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)
	for frame := range s.outbox.Frames() {
		if err := s.transport.WriteFrame(frame); err != nil {
			s.logger.Debug("write failed", zap.Error(err))
			s.Close(ReasonTransportError)
			// Drain so the range ends once Close has closed the outbox.
			for range s.outbox.Frames() {
			}
			return
		}
	}
}

// Close moves the session through CLOSING to CLOSED. Only the first call has
// any effect; later calls wait for it to finish.
//
// Postcondition: The session is in no room, its outbox and transport are
// closed, and OnClose hooks have run.
func (s *Session) Close(reason Reason) {
	s.closeOnce.Do(func() {
		s.roomMu.Lock()
		s.state.Store(int32(StateClosing))
		s.closeReason = reason
		// Unregister before the transport goes away so no broadcast targets a dead session.
		roomID, joined := s.rooms.Leave(s)
		s.roomMu.Unlock()

		s.outbox.Close()
		if err := s.transport.Close(); err != nil {
			s.logger.Debug("closing transport", zap.Error(err))
		}

		s.mu.Lock()
		hooks := s.onClose
		s.onClose = nil
		s.mu.Unlock()
		for _, fn := range hooks {
			fn(s, reason)
		}

		s.state.Store(int32(StateClosed))
		close(s.closed)

		fields := []zap.Field{
			zap.String("reason", string(reason)),
			zap.Duration("duration", time.Since(s.createdAt)),
		}
		if joined {
			fields = append(fields, zap.Int64("room_id", roomID))
		}
		s.logger.Info("session closed", fields...)
	})
	<-s.closed
}

// Done is closed once the session reaches CLOSED.
func (s *Session) Done() <-chan struct{} { return s.closed }

// CloseReason returns why the session closed, or "" while it is open.
func (s *Session) CloseReason() Reason {
	select {
	case <-s.closed:
		return s.closeReason
	default:
		return ""
	}
}
