package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	honeybadger "github.com/honeybadger-io/honeybadger-go"
	"github.com/sirupsen/logrus"
)

// HoneybadgerMiddleware reports panics and failed requests of the session
// shell to Honeybadger. 401 and 404 are part of normal login flow and are
// not reported. On panic it notifies and re-panics so gin.Recovery writes
// the response.
func HoneybadgerMiddleware(logger *logrus.Logger, apiKey, env string) gin.HandlerFunc {
	if apiKey == "" {
		logger.Info("Honeybadger is not active. To enable error reporting, set HONEYBADGER_API_KEY.")
		return func(c *gin.Context) {
			c.Next()
		}
	}

	hb := honeybadger.New(honeybadger.Configuration{
		APIKey: apiKey,
		Env:    env,
	})
	logger.Info("Honeybadger error reporting is enabled.")

	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				hb.Notify(fmt.Sprintf("Panic: %s %s", c.Request.Method, c.Request.URL.Path),
					c.Request, honeybadger.Context{"stack": string(debug.Stack())}, honeybadger.Tags{"panic", "http"})
				logger.Error("Recovered from panic, notified Honeybadger: ", rec)
				panic(rec)
			}
		}()

		c.Next()

		status := c.Writer.Status()
		if !reportable(status) {
			return
		}
		tag := "4XX"
		if status >= 500 {
			tag = "5XX"
		}
		hb.Notify(fmt.Sprintf("HTTP %d: %s %s", status, c.Request.Method, c.Request.URL.Path), c.Request, honeybadger.Tags{tag, "http"})
		logger.Warnf("Honeybadger reported HTTP %d for %s %s", status, c.Request.Method, c.Request.URL.Path)
	}
}

func reportable(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusNotFound:
		return false
	}
	return status >= 400
}
