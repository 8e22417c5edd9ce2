package http

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/audex/internal/config"
	"github.com/jmylchreest/audex/internal/http/middleware"
	"github.com/jmylchreest/audex/internal/observability"
)

type pingOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

func testServer() *Server {
	return NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, observability.Discard(), "1.2.3")
}

func TestNewServer_Defaults(t *testing.T) {
	s := testServer()
	assert.Equal(t, defaultReadTimeout, s.httpServer.ReadTimeout)
	assert.Zero(t, s.httpServer.WriteTimeout)
	assert.Equal(t, defaultShutdownTimeout, s.shutdownTimeout)
	assert.Equal(t, "127.0.0.1:0", s.httpServer.Addr)
}

func TestServer_RoutesAndMiddleware(t *testing.T) {
	s := testServer()
	huma.Register(s.API(), huma.Operation{
		OperationID: "ping",
		Method:      http.MethodGet,
		Path:        "/ping",
	}, func(context.Context, *struct{}) (*pingOutput, error) {
		out := &pingOutput{}
		out.Body.Message = "pong"
		return out, nil
	})
	s.Router().Get("/raw", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("raw"))
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pong")
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/raw", nil))
	assert.Equal(t, "raw", rec.Body.String())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"1.2.3"`)
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	s := testServer()
	s.Router().Get("/raw", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("raw"))
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/raw")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
