package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluegreenops/poolwatch/internal/engine"
	"github.com/bluegreenops/poolwatch/internal/maintenance"
	"github.com/bluegreenops/poolwatch/internal/notify"
	"github.com/bluegreenops/poolwatch/internal/parser"
	"github.com/bluegreenops/poolwatch/internal/pool"
	"github.com/bluegreenops/poolwatch/internal/window"
)

func newTestServer(t *testing.T) (*Server, *maintenance.Store) {
	t.Helper()
	maint := maintenance.New(false)
	eng := engine.New(engine.Config{},
		parser.NewNginxParser(),
		window.New(5*time.Minute),
		pool.New(),
		maint,
		notify.NewWebhook(notify.Config{}),
		nil,
	)
	return New(Config{Port: 0}, eng, maint), maint
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doRequest(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestStatusReportsEngineState(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doRequest(t, s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var st engine.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, 0, st.WindowCount)
	assert.Equal(t, 0.0, st.ErrorRatio)
}

func TestMaintenanceToggle(t *testing.T) {
	s, maint := newTestServer(t)

	rr := doRequest(t, s, http.MethodGet, "/maintenance", "")
	assert.JSONEq(t, `{"enabled": false}`, rr.Body.String())

	rr = doRequest(t, s, http.MethodPut, "/maintenance", `{"enabled": true}`)
	require.Equal(t, http.StatusOK, rr.Code)
	// Read-after-write: the store reflects the toggle immediately.
	assert.True(t, maint.Enabled())

	rr = doRequest(t, s, http.MethodPut, "/maintenance", `{"enabled": false}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, maint.Enabled())
}

func TestMaintenanceRejectsBadBody(t *testing.T) {
	s, maint := newTestServer(t)

	for _, body := range []string{"", "{}", `{"enabled": "yes"}`, "not json"} {
		rr := doRequest(t, s, http.MethodPut, "/maintenance", body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
	assert.False(t, maint.Enabled())
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doRequest(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "poolwatch_")
}
