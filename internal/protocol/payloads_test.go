package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDraw_Valid(t *testing.T) {
	dd, err := ParseDraw(json.RawMessage(`{"tool":"pen","color":"#0ff0fc","lineWidth":5,"lastX":0,"lastY":0,"x":10,"y":10}`))
	require.NoError(t, err)
	assert.Equal(t, ToolPen, dd.Tool)
	assert.Equal(t, "#0ff0fc", dd.Color)
	assert.Equal(t, 5.0, dd.LineWidth)
	assert.Equal(t, 10.0, dd.X)
	assert.False(t, dd.HasSnapshot())
}

func TestParseDraw_WithSnapshot(t *testing.T) {
	dd, err := ParseDraw(json.RawMessage(`{"tool":"eraser","color":"#000","lineWidth":2,"lastX":1,"lastY":1,"x":2,"y":2,"canvasState":"data:image/png;base64,AAA"}`))
	require.NoError(t, err)
	assert.True(t, dd.HasSnapshot())
	assert.Equal(t, `"data:image/png;base64,AAA"`, string(dd.CanvasState))
}

func TestParseDraw_NullSnapshotIgnored(t *testing.T) {
	dd, err := ParseDraw(json.RawMessage(`{"tool":"pen","lineWidth":1,"canvasState":null}`))
	require.NoError(t, err)
	assert.False(t, dd.HasSnapshot())
}

func TestParseDraw_Invalid(t *testing.T) {
	cases := map[string]struct {
		raw  string
		want error
	}{
		"missing data":   {``, ErrInvalidStroke},
		"null data":      {`null`, ErrInvalidStroke},
		"bad tool":       {`{"tool":"brush","lineWidth":1}`, ErrInvalidStroke},
		"zero width":     {`{"tool":"pen","lineWidth":0}`, ErrInvalidStroke},
		"negative width": {`{"tool":"pen","lineWidth":-3}`, ErrInvalidStroke},
		"not an object":  {`"pen"`, ErrMalformed},
		"bad field type": {`{"tool":"pen","lineWidth":"wide"}`, ErrMalformed},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDraw(json.RawMessage(tc.raw))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestParseJoin(t *testing.T) {
	jd, err := ParseJoin(json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Zero(t, jd)

	jd, err = ParseJoin(nil)
	require.NoError(t, err)
	assert.Zero(t, jd)

	jd, err = ParseJoin(json.RawMessage(`{"userId":3,"displayName":"ada"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(3), jd.UserID)
	assert.Equal(t, "ada", jd.DisplayName)

	_, err = ParseJoin(json.RawMessage(`{"userId":-1}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ParseJoin(json.RawMessage(`[]`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestIsNull(t *testing.T) {
	assert.True(t, IsNull(nil))
	assert.True(t, IsNull(json.RawMessage(" null ")))
	assert.False(t, IsNull(json.RawMessage(`""`)))
	assert.False(t, IsNull(json.RawMessage(`{}`)))
}
