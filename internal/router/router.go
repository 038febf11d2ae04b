// Package router dispatches decoded client envelopes: it joins sessions to
// canvas rooms, fans draw strokes out to the rest of the room, and answers pings.
package router

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Prasannaverse13/ArtChainCollective/internal/liveness"
	"github.com/Prasannaverse13/ArtChainCollective/internal/observability"
	"github.com/Prasannaverse13/ArtChainCollective/internal/protocol"
	"github.com/Prasannaverse13/ArtChainCollective/internal/room"
	"github.com/Prasannaverse13/ArtChainCollective/internal/session"
)

// SnapshotStore reads the last persisted canvas snapshot.
type SnapshotStore interface {
	// Get returns the snapshot for roomID and whether one exists.
	Get(ctx context.Context, roomID int64) (json.RawMessage, bool, error)
}

// RosterProvider lists the stored collaborators of a canvas.
type RosterProvider interface {
	ListMembers(ctx context.Context, roomID int64) ([]protocol.Participant, error)
}

// Persister accepts snapshots for throttled persistence without blocking.
type Persister interface {
	MaybePersist(roomID int64, snapshot json.RawMessage) bool
}

// identified is satisfied by sessions that carry a self-declared identity.
type identified interface {
	Identity() (userID int64, displayName string)
}

// Router implements session.Handler for the collaboration protocol.
type Router struct {
	rooms     *room.Registry
	store     SnapshotStore
	roster    RosterProvider
	persister Persister
	monitor   *liveness.Monitor
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	clients atomic.Int64
}

// Option configures a Router.
type Option func(*Router)

// WithClock replaces time.Now for pong server times.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New creates a Router.
//
// Precondition: all arguments must be non-nil.
func New(
	rooms *room.Registry,
	store SnapshotStore,
	roster RosterProvider,
	persister Persister,
	monitor *liveness.Monitor,
	logger *zap.Logger,
	metrics *observability.Metrics,
	opts ...Option,
) *Router {
	r := &Router{
		rooms:     rooms,
		store:     store,
		roster:    roster,
		persister: persister,
		monitor:   monitor,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach starts tracking a newly accepted session: it is counted as an open
// client and probed by the liveness monitor until it closes.
//
// Postcondition: On close the session is untracked and uncounted.
func (r *Router) Attach(s *session.Session) {
	r.clients.Add(1)
	r.metrics.SessionsOpened.Inc()
	r.metrics.SessionsActive.Inc()
	r.monitor.Track(s)
	s.OnClose(func(s *session.Session, _ session.Reason) {
		r.monitor.Untrack(s.ID())
		r.clients.Add(-1)
		r.metrics.SessionsActive.Dec()
	})
}

// Clients returns the number of open sessions across all rooms.
func (r *Router) Clients() int {
	return int(r.clients.Load())
}

// Handle processes one inbound frame from s. Every failure is reported and
// contained; the session stays usable.
func (r *Router) Handle(ctx context.Context, s *session.Session, frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		r.Report(s, CategoryMalformed, err, zap.Int("bytes", len(frame)))
		return
	}
	r.metrics.MessagesReceived.WithLabelValues(string(env.Type)).Inc()

	switch env.Type {
	case protocol.TypeJoin:
		r.handleJoin(ctx, s, env)
	case protocol.TypeDraw:
		r.handleDraw(s, env)
	case protocol.TypePing:
		r.handlePing(s, env)
	}
}

func (r *Router) handleJoin(ctx context.Context, s *session.Session, env protocol.Envelope) {
	jd, err := protocol.ParseJoin(env.Data)
	if err != nil {
		r.Report(s, CategoryMalformed, err)
		return
	}
	if jd.UserID != 0 || jd.DisplayName != "" {
		s.SetIdentity(jd.UserID, jd.DisplayName)
	}

	roomID := env.ArtworkID
	previous, err := s.Join(roomID)
	if err != nil {
		s.Logger().Debug("join ignored", zap.Int64("room_id", roomID), zap.Error(err))
		return
	}
	fields := []zap.Field{zap.Int64("room_id", roomID), zap.Int("room_size", r.rooms.RoomSize(roomID))}
	if previous != 0 {
		fields = append(fields, zap.Int64("previous_room_id", previous))
	}
	s.Logger().Info("joined room", fields...)

	snap, ok, err := r.store.Get(ctx, roomID)
	if err != nil {
		r.Report(s, CategoryPersistence, err, zap.Int64("room_id", roomID))
		snap, ok = nil, false
	}
	if !ok {
		snap = nil
	}
	r.reply(s, protocol.TypeCanvasInit, roomID, snap)
	r.reply(s, protocol.TypeCollaborators, roomID, r.collaborators(ctx, s, roomID))
}

// collaborators merges the stored roster with the sessions currently in the room.
// Stored participants keep their order; online sessions without a stored entry
// follow as guests in join order.
func (r *Router) collaborators(ctx context.Context, s *session.Session, roomID int64) []protocol.Participant {
	stored, err := r.roster.ListMembers(ctx, roomID)
	if err != nil {
		r.Report(s, CategoryPersistence, err, zap.Int64("room_id", roomID))
		stored = nil
	}

	index := make(map[int64]int, len(stored))
	out := make([]protocol.Participant, 0, len(stored))
	for _, p := range stored {
		index[p.ID] = len(out)
		p.Online = false
		p.SessionID = ""
		out = append(out, p)
	}

	for _, m := range r.rooms.Members(roomID) {
		var uid int64
		var name string
		if who, ok := m.(identified); ok {
			uid, name = who.Identity()
		}
		if i, ok := index[uid]; ok && uid != 0 {
			if !out[i].Online {
				out[i].Online = true
				out[i].SessionID = m.ID()
			}
			continue
		}
		if name == "" {
			name = "Guest"
		}
		out = append(out, protocol.Participant{
			ID:          uid,
			DisplayName: name,
			Role:        protocol.RoleGuest,
			Online:      true,
			SessionID:   m.ID(),
		})
	}
	return out
}

func (r *Router) handleDraw(s *session.Session, env protocol.Envelope) {
	roomID, joined := s.Room()
	if !joined {
		r.Report(s, CategoryUnregistered, errNotJoined, zap.Int64("artwork_id", env.ArtworkID))
		return
	}
	dd, err := protocol.ParseDraw(env.Data)
	if err != nil {
		r.Report(s, CategoryMalformed, err, zap.Int64("room_id", roomID))
		return
	}
	if env.ArtworkID != roomID {
		s.Logger().Debug("draw artworkId differs from joined room",
			zap.Int64("artwork_id", env.ArtworkID),
			zap.Int64("room_id", roomID),
		)
	}

	out, err := protocol.NewEnvelope(protocol.TypeDraw, roomID, env.Data)
	if err != nil {
		r.Report(s, CategoryMalformed, err, zap.Int64("room_id", roomID))
		return
	}
	frame, err := protocol.Encode(out)
	if err != nil {
		r.Report(s, CategoryMalformed, err, zap.Int64("room_id", roomID))
		return
	}
	r.broadcast(s, roomID, frame)

	if dd.HasSnapshot() {
		r.persister.MaybePersist(roomID, dd.CanvasState)
	}
}

// broadcast enqueues frame to every member of roomID except the sender.
// A failed recipient is reported and skipped; it is not evicted here.
func (r *Router) broadcast(sender *session.Session, roomID int64, frame []byte) int {
	delivered := 0
	for _, m := range r.rooms.MembersExcept(roomID, sender) {
		if err := m.Send(frame); err != nil {
			r.Report(sender, CategoryDelivery, err,
				zap.Int64("room_id", roomID),
				zap.String("recipient_id", m.ID()),
			)
			continue
		}
		delivered++
	}
	r.metrics.Deliveries.Add(float64(delivered))
	return delivered
}

func (r *Router) handlePing(s *session.Session, env protocol.Envelope) {
	pong := protocol.NewPong(r.now(), env.Data, r.Clients())
	r.reply(s, protocol.TypePong, 0, pong)
}

func (r *Router) reply(s *session.Session, t protocol.MessageType, roomID int64, data any) {
	env, err := protocol.NewEnvelope(t, roomID, data)
	if err != nil {
		r.Report(s, CategoryMalformed, err)
		return
	}
	frame, err := protocol.Encode(env)
	if err != nil {
		r.Report(s, CategoryMalformed, err)
		return
	}
	if err := s.Send(frame); err != nil {
		r.Report(s, CategoryDelivery, err, zap.String("reply", string(t)))
	}
}
