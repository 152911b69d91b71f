package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/psantana5/sweepwatch/internal/engine"
	"github.com/psantana5/sweepwatch/internal/metrics"
	"github.com/psantana5/sweepwatch/internal/progress"
	"github.com/psantana5/sweepwatch/pkg/auth"
)

type stubSource struct {
	model    progress.RenderModel
	logs     []string
	startErr error
	stopErr  error
}

func (s *stubSource) Render() progress.RenderModel       { return s.model }
func (s *stubSource) Logs() []string                     { return s.logs }
func (s *stubSource) TriggerCheck(context.Context) error { return s.startErr }
func (s *stubSource) ForceClose(context.Context) error   { return s.stopErr }

func newRouter(src Source, m *metrics.Metrics) *mux.Router {
	r := mux.NewRouter()
	NewHandler(src, m, nil).RegisterRoutes(r)
	return r
}

func TestGetRender(t *testing.T) {
	src := &stubSource{model: progress.RenderModel{
		Phase:      progress.PhaseRunning,
		StatusText: progress.StatusRunningPrefix + "2m",
		Progress:   &progress.ProgressView{Percent: 40, Processed: 40, Total: 100},
	}}
	router := newRouter(src, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/render", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got progress.RenderModel
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, progress.PhaseRunning, got.Phase)
	require.NotNil(t, got.Progress)
	assert.Equal(t, 40, got.Progress.Processed)
}

func TestGetLogs(t *testing.T) {
	router := newRouter(&stubSource{logs: []string{"a", "b"}}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/logs", nil))

	var got struct {
		Logs []string `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, []string{"a", "b"}, got.Logs)
}

func TestActionStatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"confirmed", nil, http.StatusOK},
		{"in flight", engine.ErrActionInFlight, http.StatusConflict},
		{"logged out", engine.ErrUnauthenticated, http.StatusUnauthorized},
		{"timeout", fmt.Errorf("failed to trigger check: %w", engine.ErrConfirmTimeout), http.StatusGatewayTimeout},
		{"server error", fmt.Errorf("failed to trigger check: boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(&stubSource{startErr: tt.err, stopErr: tt.err}, nil)
			for _, path := range []string{"/actions/start", "/actions/stop"} {
				w := httptest.NewRecorder()
				router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
				assert.Equal(t, tt.want, w.Code, path)
			}
		})
	}
}

func TestActionsRequirePost(t *testing.T) {
	router := newRouter(&stubSource{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/actions/start", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	router := newRouter(&stubSource{}, m)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `sweepwatch_feed_requests_total{method="GET",route="/health",status="200"} 1`))
}

func TestActionAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("feed-token"), bcrypt.MinCost)
	require.NoError(t, err)
	v, err := auth.NewVerifier(string(hash))
	require.NoError(t, err)

	h := NewHandler(&stubSource{}, nil, nil)
	h.SetActionAuth(v)
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/actions/start", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/actions/start", nil)
	req.Header.Set("Authorization", "Bearer feed-token")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/render", nil))
	assert.Equal(t, http.StatusOK, w.Code, "read routes stay open")
}
