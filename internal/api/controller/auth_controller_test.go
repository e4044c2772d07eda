package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// mockSessions implements Sessions and TokenReader for testing
type mockSessions struct {
	token     string
	loginErr  error
	logoutErr error
	logouts   int
}

func (m *mockSessions) Login(token string) error {
	if m.loginErr != nil {
		return m.loginErr
	}
	m.token = token
	return nil
}

func (m *mockSessions) Logout() error {
	if m.logoutErr != nil {
		return m.logoutErr
	}
	m.token = ""
	m.logouts++
	return nil
}

func (m *mockSessions) Token() (string, bool) {
	return m.token, m.token != ""
}

func signedToken(t *testing.T, sub, email string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"role":  "student",
		"exp":   exp.Unix(),
	})
	s, err := tok.SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func authRouter(s *mockSessions) *gin.Engine {
	ac := NewAuthController(s, s, "/auth/login")
	r := gin.New()
	r.GET("/auth/login", ac.LoginPage)
	r.POST("/auth/login", ac.Login)
	r.POST("/auth/logout", ac.Logout)
	return r
}

func post(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthController_LoginPage(t *testing.T) {
	s := &mockSessions{}
	w := httptest.NewRecorder()
	authRouter(s).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if body["authenticated"] != false {
		t.Errorf("expected anonymous, got %v", body["authenticated"])
	}
}

func TestAuthController_LoginWithJWT(t *testing.T) {
	s := &mockSessions{}
	token := signedToken(t, "u1", "ada@learn.example", time.Now().Add(time.Hour))

	w := post(authRouter(s), "/auth/login", `{"token":"`+token+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if s.token != token {
		t.Error("token was not stored")
	}

	var resp SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if !resp.Authenticated || resp.Subject != "u1" || resp.Email != "ada@learn.example" || resp.Role != "student" {
		t.Errorf("unexpected session %+v", resp)
	}
	if resp.Expired || resp.ExpiresAt == nil {
		t.Errorf("expected a future expiry, got %+v", resp)
	}
}

func TestAuthController_LoginWithOpaqueToken(t *testing.T) {
	s := &mockSessions{}
	w := post(authRouter(s), "/auth/login", `{"token":"opaque-session-id"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if s.token != "opaque-session-id" {
		t.Errorf("expected opaque token stored, got %q", s.token)
	}
}

func TestAuthController_LoginErrors(t *testing.T) {
	tests := []struct {
		name     string
		sessions *mockSessions
		body     string
		want     int
	}{
		{"missing token", &mockSessions{}, `{}`, http.StatusBadRequest},
		{"invalid json", &mockSessions{}, `{"token":`, http.StatusBadRequest},
		{"store failure", &mockSessions{loginErr: errors.New("read-only file system")}, `{"token":"t"}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(authRouter(tt.sessions), "/auth/login", tt.body)
			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestAuthController_Logout(t *testing.T) {
	s := &mockSessions{token: "t"}
	w := post(authRouter(s), "/auth/logout", "")

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", w.Code)
	}
	if s.logouts != 1 || s.token != "" {
		t.Errorf("expected one logout clearing the token, got %d logouts, token %q", s.logouts, s.token)
	}

	s.logoutErr = errors.New("permission denied")
	if w := post(authRouter(s), "/auth/logout", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
}
