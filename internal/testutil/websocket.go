package testutil

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Prasannaverse13/ArtChainCollective/internal/protocol"
)

// WSClient is a test client for interacting with the websocket endpoint.
type WSClient struct {
	conn    *websocket.Conn
	timeout time.Duration
}

// NewWSClient dials the websocket URL (ws://host:port/path).
//
// Precondition: url must point at a running server.
// Postcondition: Returns a connected client closed at test cleanup, or fails the test.
func NewWSClient(t *testing.T, url string) *WSClient {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	c := &WSClient{conn: conn, timeout: 5 * time.Second}
	t.Cleanup(func() { c.Close() })
	return c
}

// SendRaw writes text as a single text frame.
func (c *WSClient) SendRaw(text string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Send encodes an envelope for messageType and writes it.
func (c *WSClient) Send(t protocol.MessageType, artworkID int64, data any) error {
	env, err := protocol.NewEnvelope(t, artworkID, data)
	if err != nil {
		return err
	}
	frame, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return c.SendRaw(string(frame))
}

// Read reads one envelope, waiting at most the client timeout.
func (c *WSClient) Read() (protocol.Envelope, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return protocol.Envelope{}, err
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("reading frame: %w", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return protocol.Envelope{}, fmt.Errorf("decoding frame %q: %w", data, err)
	}
	return env, nil
}

// ReadType reads envelopes until one of type want arrives.
func (c *WSClient) ReadType(want protocol.MessageType) (protocol.Envelope, error) {
	for {
		env, err := c.Read()
		if err != nil {
			return protocol.Envelope{}, err
		}
		if env.Type == want {
			return env, nil
		}
	}
}

// SetTimeout changes the read and write timeout.
func (c *WSClient) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Close sends a normal close frame and closes the connection.
func (c *WSClient) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}
