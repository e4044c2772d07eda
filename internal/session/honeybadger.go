package session

import (
	"context"

	honeybadger "github.com/honeybadger-io/honeybadger-go"

	"github.com/bassista/go_learn/internal/logger"
)

// HoneybadgerReporter sends session and transport failures to Honeybadger.
type HoneybadgerReporter struct {
	client *honeybadger.Client
}

// NewReporter returns a Honeybadger-backed Reporter, or nil when apiKey is
// empty so callers can skip reporting entirely.
func NewReporter(apiKey, env string) Reporter {
	if apiKey == "" {
		logger.WithComponent("session").Info("Honeybadger is not active for client errors. Set HONEYBADGER_API_KEY to enable it.")
		return nil
	}
	return &HoneybadgerReporter{client: honeybadger.New(honeybadger.Configuration{
		APIKey: apiKey,
		Env:    env,
	})}
}

func (r *HoneybadgerReporter) Report(_ context.Context, err error, tags ...string) {
	if _, nerr := r.client.Notify(err, honeybadger.Tags(tags)); nerr != nil {
		logger.WithComponent("session").Warnf("honeybadger notify failed: %v", nerr)
	}
}

// Flush waits for queued notices to be sent.
func (r *HoneybadgerReporter) Flush() {
	r.client.Flush()
}
