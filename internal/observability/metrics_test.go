package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Independent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.Evictions.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Evictions))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Evictions))
}

func TestMetrics_ErrorsByCategory(t *testing.T) {
	m := NewMetrics()
	m.Errors.WithLabelValues("malformed").Inc()
	m.Errors.WithLabelValues("malformed").Inc()
	m.Errors.WithLabelValues("delivery").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Errors.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("delivery")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RegisterRoomStats(func() (int, int) { return 3, 7 })
	m.SessionsOpened.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "artchain_collab_sessions_opened_total 1")
	assert.Contains(t, string(body), "artchain_collab_rooms_active 3")
	assert.Contains(t, string(body), "artchain_collab_room_members 7")
}

func TestMetrics_PoolStats(t *testing.T) {
	m := NewMetrics()
	m.RegisterPoolStats(func() (int, int, int) { return 5, 3, 2 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `artchain_collab_db_connections{state="total"} 5`)
	assert.Contains(t, body, `artchain_collab_db_connections{state="idle"} 3`)
	assert.Contains(t, body, `artchain_collab_db_connections{state="acquired"} 2`)
}
