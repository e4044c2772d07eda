package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"syscall"

	"github.com/bassista/go_learn/internal/api/middleware"
	route "github.com/bassista/go_learn/internal/api/route"
	appctx "github.com/bassista/go_learn/internal/app"
	"github.com/bassista/go_learn/internal/config"
	"github.com/bassista/go_learn/internal/credential"
	"github.com/bassista/go_learn/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/enrichman/httpgrace"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithComponent("main").Fatalf("configuration error: %v", err)
	}

	if err := logger.Configure(cfg.Misc.LogLevel, cfg.Misc.LogFormat); err != nil {
		logger.WithComponent("main").Warnf("invalid logging configuration, keeping defaults: %v", err)
	}
	logger.WithComponent("main").Debugf("log level set to: %s", logger.Logger.GetLevel().String())
	logger.WithComponent("main").Infof("GraphQL endpoint: %s, streaming endpoint: %s", cfg.GraphQL.HTTPEndpoint, cfg.GraphQL.WSEndpoint)
	logger.WithComponent("main").Infof("Session shell will run on port: %d", cfg.Server.Port)

	store, err := credential.NewStoreFromConfig(cfg.Auth.CredentialStore, cfg.Auth.CredentialPath)
	if err != nil {
		logger.WithComponent("main").Fatalf("cannot init credential store: %v", err)
	}

	app, err := appctx.New(cfg, store)
	if err != nil {
		logger.WithComponent("main").Fatalf("cannot init app: %v", err)
	}
	defer app.Shutdown()

	if err := app.StartWatchers(); err != nil {
		logger.WithComponent("main").Fatalf("%v", err)
	}

	gin.SetMode(cfg.Misc.GinMode)
	gin.DefaultWriter = logger.Logger.Writer()
	gin.DefaultErrorWriter = logger.Logger.Writer()

	r := newRouter(app, logger.Logger)
	srv := createGraceHttpServer(app.BaseCtx, "session-shell", app.Config.Server, r)

	if err := srv.ListenAndServe(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithComponent("main").Fatal(err)
	}
}

// newRouter builds the session shell: error reporting, recovery and CORS
// around the facade routes.
func newRouter(app *appctx.App, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.HoneybadgerMiddleware(logger, app.Config.Misc.HoneybadgerAPIKey, app.Config.Misc.Env))
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(app.Config.Server.CORSAllowedOrigins))

	route.SetupRoutes(r, app)
	return r
}

func createGraceHttpServer(ctx context.Context, name string, serverConfig config.ServerConfig, r *gin.Engine) *httpgrace.Server {
	slogLogger := slog.New(slog.NewTextHandler(logger.Logger.Writer(), nil))

	srv := httpgrace.NewServer(r,
		httpgrace.WithTimeout(serverConfig.ShutDownTimeout),
		httpgrace.WithSignals(syscall.SIGTERM, syscall.SIGINT),
		httpgrace.WithLogger(slogLogger),
		httpgrace.WithBeforeShutdown(func() {
			logger.WithComponent("http").Infof("Shutting down %s server....", name)
		}),
		httpgrace.WithServerOptions(
			httpgrace.WithReadTimeout(serverConfig.ReadTimeout),
			httpgrace.WithWriteTimeout(serverConfig.WriteTimeout),
			httpgrace.WithIdleTimeout(serverConfig.IdleTimeout),
			func(srv *http.Server) {
				srv.BaseContext = func(_ net.Listener) context.Context {
					return ctx
				}
			},
			func(srv *http.Server) {
				srv.ErrorLog = log.New(logger.Logger.Writer(), fmt.Sprintf("[%s] ", name), log.LstdFlags)
			},
		),
	)
	return srv
}
