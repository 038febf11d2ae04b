package probe_test

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/Prasannaverse13/ArtChainCollective/internal/config"
	"github.com/Prasannaverse13/ArtChainCollective/internal/liveness"
	"github.com/Prasannaverse13/ArtChainCollective/internal/observability"
	"github.com/Prasannaverse13/ArtChainCollective/internal/probe"
	"github.com/Prasannaverse13/ArtChainCollective/internal/protocol"
	"github.com/Prasannaverse13/ArtChainCollective/internal/room"
	"github.com/Prasannaverse13/ArtChainCollective/internal/router"
	"github.com/Prasannaverse13/ArtChainCollective/internal/storage/memory"
	"github.com/Prasannaverse13/ArtChainCollective/internal/transport/websocket"
)

type persistFunc func(int64, json.RawMessage) bool

func (f persistFunc) MaybePersist(id int64, snap json.RawMessage) bool { return f(id, snap) }

func startServer(t *testing.T) (string, *memory.Store) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := observability.NewMetrics()
	store := memory.New()
	require.NoError(t, store.Apply(memory.Seed{
		Users:         []memory.User{{ID: 5, Username: "ines", DisplayName: "Ines"}},
		Artworks:      []memory.Artwork{{ID: 9, Title: "Tide", CanvasData: "data:image/png;base64,CCCC"}},
		Collaborators: []memory.Collaborator{{ArtworkID: 9, UserID: 5, ContributionPercentage: 60, IsOwner: true}},
	}))
	rooms := room.NewRegistry()
	persist := persistFunc(func(id int64, snap json.RawMessage) bool {
		return store.Put(context.Background(), id, snap) == nil
	})
	rtr := router.New(rooms, store, store, persist, liveness.NewMonitor(time.Hour, logger, metrics), logger, metrics)
	srv, err := websocket.NewServer(config.WebSocketConfig{
		Path:         "/ws",
		ReadLimit:    1 << 20,
		WriteTimeout: time.Second,
		SendQueue:    256,
		Overflow:     config.OverflowDropOldest,
	}, rtr, rooms, store, metrics, logger)
	require.NoError(t, err)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		srv.Stop()
	})
	return "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws", store
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	err := probe.App(&out).Run(append([]string{"canvasprobe"}, args...))
	require.NoError(t, err, out.String())
	return out.String()
}

func TestPingCommand(t *testing.T) {
	url, _ := startServer(t)
	out := run(t, "--url", url, "ping", "-n", "3")
	assert.Equal(t, 3, strings.Count(out, "clients=1"))
	assert.Contains(t, out, "seq=3")
}

func TestJoinCommand(t *testing.T) {
	url, _ := startServer(t)

	out := run(t, "--url", url, "join", "--room", "9")
	assert.Contains(t, out, "artwork 9: snapshot")
	assert.Contains(t, out, "Ines")
	assert.Contains(t, out, "owner")

	out = run(t, "--url", url, "join", "--room", "10", "--name", "Kai")
	assert.Contains(t, out, "artwork 10: blank canvas")
	assert.Contains(t, out, "Kai")
}

func TestDrawCommandReachesWatchers(t *testing.T) {
	url, store := startServer(t)

	watcher, err := probe.Dial(context.Background(), url, 2*time.Second)
	require.NoError(t, err)
	_, err = watcher.Join(9, protocol.JoinData{})
	require.NoError(t, err)

	out := run(t, "--url", url, "draw", "--room", "9", "--strokes", "8", "--delay", "0s", "--snapshot", "data:image/png;base64,DDDD")
	assert.Contains(t, out, "sent 8 strokes to artwork 9")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var draws int
	_ = watcher.Listen(ctx, func(env protocol.Envelope) {
		if env.Type == protocol.TypeDraw {
			draws++
			if draws == 8 {
				cancel()
			}
		}
	})
	assert.Equal(t, 8, draws)

	snap, ok, err := store.Get(context.Background(), 9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `"data:image/png;base64,DDDD"`, string(snap))
}

func TestWatchCommandStopsAfterDuration(t *testing.T) {
	url, _ := startServer(t)
	start := time.Now()
	out := run(t, "--url", url, "watch", "--room", "9", "--for", "100ms")
	assert.Contains(t, out, "artwork 9: snapshot")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRoomFlagRequired(t *testing.T) {
	var out bytes.Buffer
	err := probe.App(&out).Run([]string{"canvasprobe", "join"})
	assert.Error(t, err)
}

func TestDialFailure(t *testing.T) {
	_, err := probe.Dial(context.Background(), "ws://127.0.0.1:1/ws", 200*time.Millisecond)
	assert.Error(t, err)
}

func TestCircleStrokesAreConnectedAndValid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 500).Draw(t, "n")
		r := rapid.Float64Range(1, 1000).Draw(t, "r")
		strokes := probe.Circle(n, 0, 0, r, "#000", 2)
		if len(strokes) != n {
			t.Fatalf("got %d strokes, want %d", len(strokes), n)
		}
		for i, s := range strokes {
			if err := s.Validate(); err != nil {
				t.Fatalf("stroke %d invalid: %v", i, err)
			}
			if i > 0 && (s.LastX != strokes[i-1].X || s.LastY != strokes[i-1].Y) {
				t.Fatalf("stroke %d does not start where %d ended", i, i-1)
			}
			if d := math.Hypot(s.X, s.Y); math.Abs(d-r) > 1e-6*r {
				t.Fatalf("stroke %d endpoint off the circle: %v", i, d)
			}
		}
	})
	assert.Nil(t, probe.Circle(0, 0, 0, 1, "#000", 1))
}
