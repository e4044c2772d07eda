package route

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bassista/go_learn/internal/app"
	"github.com/bassista/go_learn/internal/config"
	"github.com/bassista/go_learn/internal/credential"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T, backend http.HandlerFunc) (*gin.Engine, *app.App) {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		GraphQL: config.GraphQLConfig{
			HTTPEndpoint: srv.URL,
			WSEndpoint:   "ws://127.0.0.1:1/graphql-ws",
		},
		Auth: config.AuthConfig{LoginPath: config.DefaultLoginPath, TokenKey: config.DefaultTokenKey},
	}
	appCtx, err := app.New(cfg, credential.NewMemoryStore())
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	t.Cleanup(appCtx.Shutdown)

	r := gin.New()
	SetupRoutes(r, appCtx)
	return r, appCtx
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSetupRoutes_Registered(t *testing.T) {
	r, _ := newRouter(t, func(w http.ResponseWriter, _ *http.Request) {})

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/", http.StatusFound},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/configuration", http.StatusOK},
		{http.MethodGet, "/auth/login", http.StatusOK},
		{http.MethodGet, "/session", http.StatusOK},
		{http.MethodGet, "/debug/cache", http.StatusOK},
		{http.MethodPost, "/auth/logout", http.StatusNoContent},
	}
	for _, tt := range tests {
		if w := do(r, tt.method, tt.path, ""); w.Code != tt.want {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.path, tt.want, w.Code)
		}
	}
}

func TestSetupRoutes_InvalidSessionRedirectsToLogin(t *testing.T) {
	r, appCtx := newRouter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"Authentication required"}]}`))
	})

	if w := do(r, http.MethodPost, "/auth/login", `{"token":"stale"}`); w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", w.Code)
	}

	w := do(r, http.MethodPost, "/graphql/query", `{"query":"query { me { id } }"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("query: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Authentication required") {
		t.Errorf("expected the error in the body, got %s", w.Body.String())
	}

	home := do(r, http.MethodGet, "/", "")
	if home.Code != http.StatusSeeOther || home.Header().Get("Location") != config.DefaultLoginPath {
		t.Errorf("expected redirect to login, got %d %q", home.Code, home.Header().Get("Location"))
	}
	if _, ok := appCtx.Tokens.Token(); ok {
		t.Error("credential should be removed")
	}

	metrics := do(r, http.MethodGet, "/metrics", "")
	if !strings.Contains(metrics.Body.String(), "go_learn_session_invalidations_total 1") {
		t.Errorf("expected invalidation metric, got:\n%s", metrics.Body.String())
	}

}
