package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	appctx "github.com/bassista/go_learn/internal/app"
	"github.com/bassista/go_learn/internal/config"
	"github.com/bassista/go_learn/internal/credential"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testApp(t *testing.T) *appctx.App {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{
			RequestTimeout:     time.Second,
			CORSAllowedOrigins: "http://localhost:5173",
		},
		GraphQL: config.GraphQLConfig{
			HTTPEndpoint: "http://127.0.0.1:1/graphql",
			WSEndpoint:   "ws://127.0.0.1:1/graphql-ws",
		},
	}
	app, err := appctx.New(cfg, credential.NewMemoryStore())
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	t.Cleanup(app.Shutdown)
	return app
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestNewRouter_HealthWithCORS(t *testing.T) {
	r := newRouter(testApp(t), quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("expected CORS header for the frontend origin, got %q", got)
	}
}

func TestNewRouter_UnreachableBackendIsBadGateway(t *testing.T) {
	r := newRouter(testApp(t), quietLogger())

	req := httptest.NewRequest(http.MethodPost, "/graphql/query", strings.NewReader(`{"query":"{ me { id } }"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateGraceHttpServer(t *testing.T) {
	app := testApp(t)
	srv := createGraceHttpServer(app.BaseCtx, "test", config.ServerConfig{
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		IdleTimeout:     time.Second,
		ShutDownTimeout: time.Second,
	}, newRouter(app, quietLogger()))
	if srv == nil {
		t.Fatal("expected a server")
	}
}
