package controller

import (
	"net/http"
	"time"

	"github.com/bassista/go_learn/internal/credential"
	"github.com/gin-gonic/gin"
)

// SessionResponse describes the current session. Claims are decoded without
// verification and are for display only.
type SessionResponse struct {
	Authenticated bool       `json:"authenticated"`
	Subject       string     `json:"subject,omitempty"`
	Email         string     `json:"email,omitempty"`
	Role          string     `json:"role,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	Expired       bool       `json:"expired"`
}

func newSessionResponse(claims *credential.Claims, authenticated bool) SessionResponse {
	resp := SessionResponse{Authenticated: authenticated}
	if claims == nil {
		return resp
	}
	resp.Subject = claims.Subject
	resp.Email = claims.Email
	resp.Role = claims.Role
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		resp.ExpiresAt = &exp
	}
	resp.Expired = claims.Expired(time.Now())
	return resp
}

// PendingNavigation exposes the navigation requested by the last invalidation.
type PendingNavigation interface {
	Pending() (string, bool)
}

// InvalidationCounter reports how often the session was invalidated.
type InvalidationCounter interface {
	Count() int64
}

// SessionController reports who the facade is acting for.
type SessionController struct {
	tokens  TokenReader
	nav     PendingNavigation
	counter InvalidationCounter
}

func NewSessionController(tokens TokenReader, nav PendingNavigation, counter InvalidationCounter) *SessionController {
	return &SessionController{tokens: tokens, nav: nav, counter: counter}
}

// GetSession handles GET /session.
func (sc *SessionController) GetSession(c *gin.Context) {
	resp := newSessionResponse(nil, false)
	if token, ok := sc.tokens.Token(); ok {
		claims, _ := credential.ParseClaims(token)
		resp = newSessionResponse(claims, true)
	}
	path, _ := sc.nav.Pending()
	c.JSON(http.StatusOK, gin.H{
		"session":       resp,
		"redirect":      path,
		"invalidations": sc.counter.Count(),
	})
}
