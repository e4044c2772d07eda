package controller

import (
	"net/http"

	"github.com/bassista/go_learn/internal/credential"
	"github.com/bassista/go_learn/internal/logger"
	"github.com/gin-gonic/gin"
)

// Sessions starts and ends the session of the single local user.
type Sessions interface {
	Login(token string) error
	Logout() error
}

// TokenReader reads the current credential.
type TokenReader interface {
	Token() (string, bool)
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Token string `json:"token" binding:"required"`
}

// AuthController is the login entry point the session invalidator navigates to.
type AuthController struct {
	sessions  Sessions
	tokens    TokenReader
	loginPath string
}

func NewAuthController(sessions Sessions, tokens TokenReader, loginPath string) *AuthController {
	return &AuthController{sessions: sessions, tokens: tokens, loginPath: loginPath}
}

// LoginPage handles GET /auth/login.
func (ac *AuthController) LoginPage(c *gin.Context) {
	_, ok := ac.tokens.Token()
	c.JSON(http.StatusOK, gin.H{
		"authenticated": ok,
		"login":         "POST " + ac.loginPath + ` {"token": "..."}`,
	})
}

// Login handles POST /auth/login - stores the token sent by the login form.
func (ac *AuthController) Login(c *gin.Context) {
	log := logger.WithComponent("auth-controller")

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debugf("login: invalid payload: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	var claims *credential.Claims
	if parsed, err := credential.ParseClaims(req.Token); err == nil {
		claims = parsed
	} else {
		log.Debugf("login: token is not a JWT, storing it opaque")
	}

	if err := ac.sessions.Login(req.Token); err != nil {
		log.Errorf("login: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store credential"})
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(claims, true))
}

// Logout handles POST /auth/logout - removes the credential and resets the cache.
func (ac *AuthController) Logout(c *gin.Context) {
	if err := ac.sessions.Logout(); err != nil {
		logger.WithComponent("auth-controller").Errorf("logout: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove credential"})
		return
	}
	c.Status(http.StatusNoContent)
}
