package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

func init() {
	color.NoColor = true
}

type backend struct {
	mu    sync.Mutex
	auths []string
	reply string
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.auths = append(b.auths, r.Header.Get("Authorization"))
	reply := b.reply
	b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(reply))
}

func (b *backend) lastAuth() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.auths) == 0 {
		return ""
	}
	return b.auths[len(b.auths)-1]
}

// setupEnv points the configuration at a temporary directory and endpoint.
func setupEnv(t *testing.T, httpURL, wsURL string) string {
	t.Helper()
	dir := t.TempDir()
	credPath := filepath.Join(dir, "credentials.json")
	t.Setenv("GO_LEARN_CONFIG_PATH", dir)
	t.Setenv("GO_LEARN_AUTH_CREDENTIAL_PATH", credPath)
	t.Setenv("GO_LEARN_GRAPHQL_HTTP_ENDPOINT", httpURL)
	if wsURL != "" {
		t.Setenv("GO_LEARN_GRAPHQL_WS_ENDPOINT", wsURL)
	}
	return credPath
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestLoginWhoamiLogout(t *testing.T) {
	srv := httptest.NewServer(&backend{reply: `{"data":{}}`})
	defer srv.Close()
	setupEnv(t, srv.URL, "")

	out, _, err := run(t, "whoami")
	require.NoError(t, err)
	assert.Equal(t, "anonymous\n", out)

	// Unsigned JWT: {"sub":"u1","email":"ada@learn.example","role":"student"}
	token := "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9." +
		"eyJzdWIiOiJ1MSIsImVtYWlsIjoiYWRhQGxlYXJuLmV4YW1wbGUiLCJyb2xlIjoic3R1ZGVudCJ9." +
		"c2lnbmF0dXJl"
	out, _, err = run(t, "login", token)
	require.NoError(t, err)
	assert.Contains(t, out, "logged in")

	out, _, err = run(t, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "u1")
	assert.Contains(t, out, "ada@learn.example")
	assert.Contains(t, out, "student")

	out, _, err = run(t, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "logged out")

	out, _, err = run(t, "whoami")
	require.NoError(t, err)
	assert.Equal(t, "anonymous\n", out)
}

func TestEphemeralLoginDoesNotPersist(t *testing.T) {
	srv := httptest.NewServer(&backend{reply: `{"data":{}}`})
	defer srv.Close()
	setupEnv(t, srv.URL, "")

	_, _, err := run(t, "--ephemeral", "login", "opaque")
	require.NoError(t, err)

	out, _, err := run(t, "whoami")
	require.NoError(t, err)
	assert.Equal(t, "anonymous\n", out)
}

func TestQuerySendsStoredCredential(t *testing.T) {
	b := &backend{reply: `{"data":{"me":{"__typename":"User","id":"u1","name":"Ada"}}}`}
	srv := httptest.NewServer(b)
	defer srv.Close()
	setupEnv(t, srv.URL, "")

	_, _, err := run(t, "login", "opaque-token")
	require.NoError(t, err)

	out, errOut, err := run(t, "query", `query Me { me { id name } }`)
	require.NoError(t, err)
	assert.Equal(t, "Bearer opaque-token", b.lastAuth())
	assert.Empty(t, errOut)

	var res struct {
		Data struct {
			Me struct{ Name string } `json:"me"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "Ada", res.Data.Me.Name)
}

func TestQueryWithVariablesFromFile(t *testing.T) {
	b := &backend{reply: `{"data":{"course":null}}`}
	srv := httptest.NewServer(b)
	defer srv.Close()
	dir := filepath.Dir(setupEnv(t, srv.URL, ""))

	doc := filepath.Join(dir, "course.graphql")
	require.NoError(t, os.WriteFile(doc, []byte(`query Course($id: ID!) { course(id: $id) { id } }`), 0o600))

	out, _, err := run(t, "query", "@"+doc, "--vars", `{"id":"c1"}`, "--fetch-policy", "network-only")
	require.NoError(t, err)
	assert.Contains(t, out, `"course": null`)

	_, _, err = run(t, "query", "@"+doc, "--vars", `[1]`)
	assert.ErrorContains(t, err, "--vars must be a JSON object")
}

func TestQueryRejectedCredentialWarns(t *testing.T) {
	b := &backend{reply: `{"data":null,"errors":[{"message":"Unauthorized"}]}`}
	srv := httptest.NewServer(b)
	defer srv.Close()
	setupEnv(t, srv.URL, "")

	_, _, err := run(t, "login", "stale")
	require.NoError(t, err)

	_, errOut, err := run(t, "query", `{ me { id } }`)
	require.NoError(t, err)
	assert.Contains(t, errOut, "error: Unauthorized")
	assert.Contains(t, errOut, "session expired")

	out, _, err := run(t, "whoami")
	require.NoError(t, err)
	assert.Equal(t, "anonymous\n", out, "rejected credential should be removed from the file")
}

func TestPrintErrorsShowsMessageAndPath(t *testing.T) {
	var buf bytes.Buffer
	printErrors(&buf, gqlerror.List{
		{Message: "Unauthorized"},
		{Message: "Forbidden", Path: ast.Path{ast.PathName("course"), ast.PathIndex(0), ast.PathName("title")}},
	})
	assert.Equal(t, "error: Unauthorized\nerror: Forbidden (at course[0].title)\n", buf.String())
}

func TestOperationKindMismatch(t *testing.T) {
	srv := httptest.NewServer(&backend{reply: `{"data":{}}`})
	defer srv.Close()
	setupEnv(t, srv.URL, "")

	_, _, err := run(t, "query", `mutation { enroll(courseId: "c1") { id } }`)
	assert.ErrorContains(t, err, "query cannot run a mutation operation")

	_, _, err = run(t, "mutate", `{ me { id } }`)
	assert.ErrorContains(t, err, "mutate cannot run a query operation")

	_, _, err = run(t, "subscribe", `{ me { id } }`)
	assert.Error(t, err)

	_, _, err = run(t, "query", `{ me {`)
	assert.Error(t, err)
}

func TestSubscribeStreamsEvents(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{"graphql-transport-ws"}}
	wsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg struct {
				ID   string `json:"id"`
				Type string `json:"type"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Type {
			case "connection_init":
				_ = conn.WriteJSON(map[string]any{"type": "connection_ack"})
			case "subscribe":
				for _, body := range []string{"first", "second"} {
					_ = conn.WriteJSON(map[string]any{
						"id":      msg.ID,
						"type":    "next",
						"payload": map[string]any{"data": map[string]any{"commentAdded": map[string]any{"__typename": "Comment", "id": body, "body": body}}},
					})
				}
				_ = conn.WriteJSON(map[string]any{"id": msg.ID, "type": "complete"})
			}
		}
	}))
	defer wsSrv.Close()
	setupEnv(t, "http://127.0.0.1:1/graphql", "ws"+strings.TrimPrefix(wsSrv.URL, "http"))

	out, _, err := run(t, "subscribe", `subscription { commentAdded { id body } }`)
	require.NoError(t, err)
	assert.Contains(t, out, `"body": "first"`)
	assert.Contains(t, out, `"body": "second"`)
	assert.Less(t, strings.Index(out, "first"), strings.Index(out, "second"))

	out, _, err = run(t, "subscribe", "--count", "1", `subscription { commentAdded { id body } }`)
	require.NoError(t, err)
	assert.Contains(t, out, `"body": "first"`)
	assert.NotContains(t, out, `"body": "second"`)
}
