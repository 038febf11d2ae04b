package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Drawing tools accepted in draw payloads.
const (
	ToolPen    = "pen"
	ToolEraser = "eraser"
)

// JoinData is the optional join payload. Both fields are self-declared and
// only used to label the participant in collaborator lists.
type JoinData struct {
	UserID      int64  `json:"userId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// ParseJoin decodes the join payload. An absent or null payload yields a zero JoinData.
func ParseJoin(raw json.RawMessage) (JoinData, error) {
	var jd JoinData
	if IsNull(raw) {
		return jd, nil
	}
	if err := json.Unmarshal(raw, &jd); err != nil {
		return JoinData{}, fmt.Errorf("%w: join data: %v", ErrMalformed, err)
	}
	if jd.UserID < 0 {
		return JoinData{}, fmt.Errorf("%w: userId must not be negative", ErrMalformed)
	}
	return jd, nil
}

// DrawData is one stroke segment plus an optional full-canvas snapshot.
type DrawData struct {
	Tool        string          `json:"tool"`
	Color       string          `json:"color"`
	LineWidth   float64         `json:"lineWidth"`
	LastX       float64         `json:"lastX"`
	LastY       float64         `json:"lastY"`
	X           float64         `json:"x"`
	Y           float64         `json:"y"`
	CanvasState json.RawMessage `json:"canvasState,omitempty"`
}

// HasSnapshot reports whether the stroke carries a canvas snapshot.
func (d DrawData) HasSnapshot() bool {
	return !IsNull(d.CanvasState)
}

// Validate checks the stroke fields.
//
// Postcondition: Returns nil or an error wrapping ErrInvalidStroke.
func (d DrawData) Validate() error {
	if d.Tool != ToolPen && d.Tool != ToolEraser {
		return fmt.Errorf("%w: tool must be pen or eraser, got %q", ErrInvalidStroke, d.Tool)
	}
	if !(d.LineWidth > 0) || math.IsInf(d.LineWidth, 0) {
		return fmt.Errorf("%w: lineWidth must be positive, got %v", ErrInvalidStroke, d.LineWidth)
	}
	for _, v := range []float64{d.LastX, d.LastY, d.X, d.Y} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: coordinates must be finite", ErrInvalidStroke)
		}
	}
	return nil
}

// ParseDraw decodes and validates a draw payload.
//
// Postcondition: Returns a valid DrawData or an error wrapping ErrMalformed or ErrInvalidStroke.
func ParseDraw(raw json.RawMessage) (DrawData, error) {
	var dd DrawData
	if IsNull(raw) {
		return DrawData{}, fmt.Errorf("%w: draw requires data", ErrInvalidStroke)
	}
	if err := json.Unmarshal(raw, &dd); err != nil {
		return DrawData{}, fmt.Errorf("%w: draw data: %v", ErrMalformed, err)
	}
	if err := dd.Validate(); err != nil {
		return DrawData{}, err
	}
	return dd, nil
}

// PongData answers a ping.
type PongData struct {
	ServerTime string          `json:"serverTime"`
	Echo       json.RawMessage `json:"echo"`
	Clients    int             `json:"clients"`
}

// NewPong builds a pong payload stamped with now in UTC.
func NewPong(now time.Time, echo json.RawMessage, clients int) PongData {
	if IsNull(echo) {
		echo = nil
	}
	return PongData{
		ServerTime: now.UTC().Format(time.RFC3339Nano),
		Echo:       echo,
		Clients:    clients,
	}
}

// Participant roles in a collaborators list.
const (
	RoleOwner        = "owner"
	RoleCollaborator = "collaborator"
	RoleGuest        = "guest"
)

// Participant describes one entry of a collaborators list.
type Participant struct {
	ID                     int64  `json:"id"`
	DisplayName            string `json:"displayName"`
	Role                   string `json:"role"`
	ContributionPercentage int    `json:"contributionPercentage,omitempty"`
	Online                 bool   `json:"online"`
	SessionID              string `json:"sessionId,omitempty"`
}
