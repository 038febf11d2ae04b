// Package probe is a small websocket client for exercising a running
// collaboration server from the command line.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Prasannaverse13/ArtChainCollective/internal/protocol"
)

// Client speaks the collaboration protocol over one websocket connection.
// It is not safe for concurrent use.
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration
}

// Dial connects to url (ws:// or wss://).
//
// Postcondition: Returns a connected Client or a non-nil error.
func Dial(ctx context.Context, url string, timeout time.Duration) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

func (c *Client) send(t protocol.MessageType, roomID int64, data any) error {
	env, err := protocol.NewEnvelope(t, roomID, data)
	if err != nil {
		return err
	}
	frame, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("sending %s: %w", t, err)
	}
	return nil
}

// Next reads the next envelope, waiting at most wait.
func (c *Client) Next(wait time.Duration) (protocol.Envelope, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return protocol.Envelope{}, err
	}
	_, frame, err := c.conn.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("reading: %w", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return protocol.Envelope{}, fmt.Errorf("decoding %q: %w", frame, err)
	}
	return env, nil
}

func (c *Client) await(want protocol.MessageType) (protocol.Envelope, error) {
	deadline := time.Now().Add(c.timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return protocol.Envelope{}, fmt.Errorf("timed out waiting for %s", want)
		}
		env, err := c.Next(left)
		if err != nil {
			return protocol.Envelope{}, err
		}
		if env.Type == want {
			return env, nil
		}
	}
}

// JoinResult is what the server sends back on join.
type JoinResult struct {
	Snapshot      json.RawMessage
	Collaborators []protocol.Participant
}

// HasSnapshot reports whether the canvas has a persisted snapshot.
func (r JoinResult) HasSnapshot() bool { return !protocol.IsNull(r.Snapshot) }

// Join enters roomID and waits for the canvas-init and collaborators replies.
func (c *Client) Join(roomID int64, who protocol.JoinData) (JoinResult, error) {
	var data any
	if who != (protocol.JoinData{}) {
		data = who
	}
	if err := c.send(protocol.TypeJoin, roomID, data); err != nil {
		return JoinResult{}, err
	}
	canvas, err := c.await(protocol.TypeCanvasInit)
	if err != nil {
		return JoinResult{}, err
	}
	list, err := c.await(protocol.TypeCollaborators)
	if err != nil {
		return JoinResult{}, err
	}
	res := JoinResult{Snapshot: canvas.Data}
	if err := json.Unmarshal(list.Data, &res.Collaborators); err != nil {
		return JoinResult{}, fmt.Errorf("decoding collaborators: %w", err)
	}
	return res, nil
}

// Draw sends one stroke to roomID.
func (c *Client) Draw(roomID int64, stroke protocol.DrawData) error {
	if err := stroke.Validate(); err != nil {
		return err
	}
	return c.send(protocol.TypeDraw, roomID, stroke)
}

// Ping sends a ping carrying echo and returns the pong and round-trip time.
func (c *Client) Ping(echo any) (protocol.PongData, time.Duration, error) {
	start := time.Now()
	if err := c.send(protocol.TypePing, 0, echo); err != nil {
		return protocol.PongData{}, 0, err
	}
	env, err := c.await(protocol.TypePong)
	if err != nil {
		return protocol.PongData{}, 0, err
	}
	var pong protocol.PongData
	if err := json.Unmarshal(env.Data, &pong); err != nil {
		return protocol.PongData{}, 0, fmt.Errorf("decoding pong: %w", err)
	}
	return pong, time.Since(start), nil
}

// Listen calls fn for every envelope received until ctx is done or the
// connection fails. A done ctx is not an error. The connection is closed on return.
func (c *Client) Listen(ctx context.Context, fn func(protocol.Envelope)) error {
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading: %w", err)
		}
		var env protocol.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			return fmt.Errorf("decoding %q: %w", frame, err)
		}
		fn(env)
	}
}

// Close sends a normal close frame and closes the connection.
func (c *Client) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}
