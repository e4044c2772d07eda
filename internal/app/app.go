package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bassista/go_learn/internal/cache"
	"github.com/bassista/go_learn/internal/client"
	"github.com/bassista/go_learn/internal/config"
	"github.com/bassista/go_learn/internal/credential"
	"github.com/bassista/go_learn/internal/link"
	"github.com/bassista/go_learn/internal/link/ws"
	"github.com/bassista/go_learn/internal/logger"
	"github.com/bassista/go_learn/internal/metric"
	"github.com/bassista/go_learn/internal/session"
)

// App is the application container (immutable dependencies + lifecycle context).
// It is not a request context; handlers should still use gin's request context.
type App struct {
	Config      *config.Config
	Credentials credential.Store
	Tokens      *credential.Source
	Cache       *cache.Store
	Metrics     *metric.Metrics
	Navigator   *session.PendingNavigator
	Session     *session.Invalidator
	Stream      *ws.Link
	Client      *client.Client

	reporter session.Reporter

	BaseCtx context.Context
	Cancel  context.CancelFunc
}

// New wires the facade: credential source, cache, both transports and the
// session invalidator feeding the navigation state.
func New(cfg *config.Config, store credential.Store) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if store == nil {
		return nil, errors.New("credential store is nil")
	}

	watchPolicy, err := policyOrDefault(cfg.GraphQL.WatchFetchPolicy, client.DefaultWatchPolicy)
	if err != nil {
		return nil, err
	}
	queryPolicy, err := policyOrDefault(cfg.GraphQL.QueryFetchPolicy, client.DefaultQueryPolicy)
	if err != nil {
		return nil, err
	}

	metrics, err := metric.New()
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	tokenKey := cfg.Auth.TokenKey
	if tokenKey == "" {
		tokenKey = config.DefaultTokenKey
	}
	loginPath := cfg.Auth.LoginPath
	if loginPath == "" {
		loginPath = config.DefaultLoginPath
	}

	tokens := credential.NewSource(store, tokenKey)
	nav := session.NewPendingNavigator()
	reporter := session.NewReporter(cfg.Misc.HoneybadgerAPIKey, cfg.Misc.Env)

	opts := []session.Option{session.OnInvalidate(metrics.SessionInvalidated)}
	if reporter != nil {
		opts = append(opts, session.WithReporter(reporter))
	}
	inv := session.NewInvalidator(tokens, nav, loginPath, opts...)

	stream := ws.New(ws.Config{
		URL:              cfg.GraphQL.WSEndpoint,
		ConnectionParams: ws.BearerParams(tokens),
		KeepAlive:        cfg.GraphQL.KeepAlive,
		RetryAttempts:    cfg.GraphQL.RetryAttempts,
		RetryWait:        cfg.GraphQL.RetryWait,
	})
	request := link.NewHTTPLink(cfg.GraphQL.HTTPEndpoint, &http.Client{Timeout: cfg.GraphQL.HTTPTimeout})

	cacheStore := cache.NewStore(cache.DefaultPolicies())
	gql := client.New(
		client.Pipeline(request, stream, tokens, inv.HandleErrors, metrics.Middleware()),
		cacheStore,
		client.WithWatchPolicy(watchPolicy),
		client.WithQueryPolicy(queryPolicy),
		client.WithMetrics(metrics),
	)

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		Config:      cfg,
		Credentials: store,
		Tokens:      tokens,
		Cache:       cacheStore,
		Metrics:     metrics,
		Navigator:   nav,
		Session:     inv,
		Stream:      stream,
		Client:      gql,
		reporter:    reporter,
		BaseCtx:     ctx,
		Cancel:      cancel,
	}, nil
}

func policyOrDefault(name string, def client.FetchPolicy) (client.FetchPolicy, error) {
	if name == "" {
		return def, nil
	}
	return client.ParseFetchPolicy(name)
}

// Logout removes the credential and resets the cache.
func (a *App) Logout() error {
	if err := a.Tokens.Clear(); err != nil {
		return err
	}
	a.Cache.Reset()
	logger.WithComponent("session").Info("logged out, cache reset")
	return nil
}

// Login stores token as the current credential and clears any pending
// navigation to the login page.
func (a *App) Login(token string) error {
	if err := a.Tokens.Save(token); err != nil {
		return err
	}
	a.Navigator.Take()
	logger.WithComponent("session").Info("credential stored")
	return nil
}

func (a *App) Shutdown() {
	if a == nil || a.Cancel == nil {
		return
	}
	a.Cancel()
	if a.Stream != nil {
		if err := a.Stream.Close(); err != nil {
			logger.WithComponent("app").Warnf("closing stream link: %v", err)
		}
	}
	if hb, ok := a.reporter.(*session.HoneybadgerReporter); ok {
		hb.Flush()
	}
}

// StartWatchers follows external changes to the credential file, so a logout
// from another process (gqlctl logout) ends this session too.
func (a *App) StartWatchers() error {
	fs, ok := a.Credentials.(*credential.FileStore)
	if !ok {
		return nil
	}
	if err := fs.StartWatcher(a.BaseCtx); err != nil {
		return fmt.Errorf("cannot start credential file watcher: %w", err)
	}
	return nil
}
