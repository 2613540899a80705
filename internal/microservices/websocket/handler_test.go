package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"echohub/internal/logging"
	"echohub/internal/microservices/session"
	"echohub/internal/protocol"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockConnectionLister mocks the registry view used by the stats endpoint
type MockConnectionLister struct {
	mock.Mock
}

func (m *MockConnectionLister) Len() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockConnectionLister) IDs() []string {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]string)
}

type MockReadiness struct {
	mock.Mock
}

func (m *MockReadiness) Ready() bool {
	return m.Called().Bool(0)
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestConnectionsHandler(t *testing.T) {
	lister := new(MockConnectionLister)
	lister.On("Len").Return(2)
	lister.On("IDs").Return([]string{"a", "b"})

	router := setupRouter()
	router.GET("/api/connections", ConnectionsHandler(lister))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/connections", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Count int      `json:"count"`
		IDs   []string `json:"ids"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, []string{"a", "b"}, body.IDs)
	lister.AssertExpectations(t)
}

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name   string
		ready  bool
		status int
	}{
		{"ready", true, http.StatusOK},
		{"shutting down", false, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := new(MockReadiness)
			check.On("Ready").Return(tt.ready)

			router := setupRouter()
			router.GET("/readyz", ReadyHandler(check))

			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/readyz", nil)
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			check.AssertExpectations(t)
		})
	}
}

func TestServerRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := session.NewHub(session.WithLogger(logging.Discard()))
	srv := NewServer(Config{Path: "/socket"}, hub, logging.Discard())

	tests := []struct {
		path     string
		status   int
		contains string
	}{
		{"/healthz", http.StatusOK, `"ok"`},
		{"/readyz", http.StatusServiceUnavailable, "shutting_down"}, // not started yet
		{"/api/connections", http.StatusOK, `"count":0`},
		{"/metrics", http.StatusOK, "echohub_active_connections"},
		{"/socket", http.StatusBadRequest, ""}, // plain GET without upgrade headers
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, tt.path, nil)
			srv.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.contains != "" {
				assert.Contains(t, w.Body.String(), tt.contains)
			}
		})
	}
	assert.Equal(t, 0, hub.Registry().Len())
}

func TestParamsFromQuery(t *testing.T) {
	values := url.Values{
		"userId":    {"12345", "ignored"},
		"sessionId": {"abcde"},
		"empty":     {},
	}
	assert.Equal(t, protocol.Params{"userId": "12345", "sessionId": "abcde"}, paramsFromQuery(values))
	assert.Empty(t, paramsFromQuery(nil))
}
