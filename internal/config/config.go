package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the validated application configuration.
type Config struct {
	Server  ServerConfig
	GraphQL GraphQLConfig
	Auth    AuthConfig
	Misc    MiscConfig
}

// ServerConfig configures the session shell HTTP server.
type ServerConfig struct {
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ShutDownTimeout    time.Duration
	RequestTimeout     time.Duration
	CORSAllowedOrigins string
}

// GraphQLConfig configures both transports and the default fetch policies.
type GraphQLConfig struct {
	HTTPEndpoint     string        `validate:"required,url"`
	WSEndpoint       string        `validate:"required,url"`
	HTTPTimeout      time.Duration `validate:"gte=0"`
	KeepAlive        time.Duration `validate:"gte=0"`
	RetryAttempts    int           `validate:"gte=0"`
	RetryWait        time.Duration `validate:"gte=0"`
	WatchFetchPolicy string        `validate:"oneof=cache-first cache-and-network network-only cache-only no-cache"`
	QueryFetchPolicy string        `validate:"oneof=cache-first cache-and-network network-only cache-only no-cache"`
}

// AuthConfig describes where the credential lives and where to send the user
// when the backend rejects it.
type AuthConfig struct {
	CredentialStore string `validate:"oneof=file memory"`
	CredentialPath  string
	TokenKey        string `validate:"required"`
	LoginPath       string `validate:"required,startswith=/"`
}

// MiscConfig holds logging, gin and error reporting settings.
type MiscConfig struct {
	LogLevel          string
	LogFormat         string `validate:"omitempty,oneof=text json"`
	GinMode           string `validate:"omitempty,oneof=debug release test"`
	HoneybadgerAPIKey string
	Env               string
}

const (
	DefaultHTTPEndpoint = "http://localhost:8080/graphql"
	DefaultWSEndpoint   = "ws://localhost:8080/graphql-ws"
	DefaultTokenKey     = "authToken"
	DefaultLoginPath    = "/auth/login"
)

// LoadConfig reads .env, config.yaml and the environment, in increasing
// order of precedence, and validates the result.
// GO_LEARN_CONFIG_PATH selects the directory holding config.yaml and .env.
func LoadConfig() (*Config, error) {
	confPath := getEnvOrDefault("GO_LEARN_CONFIG_PATH", ".")

	// A missing .env is normal; real environment variables win over it.
	if err := godotenv.Load(confPath + "/.env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(confPath)
	v.AddConfigPath(confPath + "/config")

	setDefaults(v)

	// GO_LEARN_GRAPHQL_HTTP_ENDPOINT overrides graphql.http_endpoint, and so on.
	v.SetEnvPrefix("GO_LEARN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The frontend build used these unprefixed names; keep honoring them.
	_ = v.BindEnv("graphql.http_endpoint", "GO_LEARN_GRAPHQL_HTTP_ENDPOINT", "GRAPHQL_ENDPOINT")
	_ = v.BindEnv("graphql.ws_endpoint", "GO_LEARN_GRAPHQL_WS_ENDPOINT", "GRAPHQL_WS_ENDPOINT")
	_ = v.BindEnv("misc.honeybadger_api_key", "GO_LEARN_MISC_HONEYBADGER_API_KEY", "HONEYBADGER_API_KEY")
	_ = v.BindEnv("misc.env", "GO_LEARN_MISC_ENV", "GO_ENV")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	port, err := getEnvOrViperPort(v, "PORT", "server.port")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               port,
			ReadTimeout:        v.GetDuration("server.read_timeout"),
			WriteTimeout:       v.GetDuration("server.write_timeout"),
			IdleTimeout:        v.GetDuration("server.idle_timeout"),
			ShutDownTimeout:    v.GetDuration("server.shutdown_timeout"),
			RequestTimeout:     v.GetDuration("server.request_timeout"),
			CORSAllowedOrigins: v.GetString("server.cors_allowed_origins"),
		},
		GraphQL: GraphQLConfig{
			HTTPEndpoint:     v.GetString("graphql.http_endpoint"),
			WSEndpoint:       v.GetString("graphql.ws_endpoint"),
			HTTPTimeout:      v.GetDuration("graphql.http_timeout"),
			KeepAlive:        v.GetDuration("graphql.keep_alive"),
			RetryAttempts:    v.GetInt("graphql.retry_attempts"),
			RetryWait:        v.GetDuration("graphql.retry_wait"),
			WatchFetchPolicy: v.GetString("graphql.watch_fetch_policy"),
			QueryFetchPolicy: v.GetString("graphql.query_fetch_policy"),
		},
		Auth: AuthConfig{
			CredentialStore: v.GetString("auth.credential_store"),
			CredentialPath:  v.GetString("auth.credential_path"),
			TokenKey:        v.GetString("auth.token_key"),
			LoginPath:       v.GetString("auth.login_path"),
		},
		Misc: MiscConfig{
			LogLevel:          v.GetString("misc.log_level"),
			LogFormat:         v.GetString("misc.log_format"),
			GinMode:           v.GetString("misc.gin_mode"),
			HoneybadgerAPIKey: v.GetString("misc.honeybadger_api_key"),
			Env:               v.GetString("misc.env"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5173)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.request_timeout", 15*time.Second)
	v.SetDefault("server.cors_allowed_origins", "*")

	v.SetDefault("graphql.http_endpoint", DefaultHTTPEndpoint)
	v.SetDefault("graphql.ws_endpoint", DefaultWSEndpoint)
	v.SetDefault("graphql.http_timeout", 0)
	v.SetDefault("graphql.keep_alive", 12*time.Second)
	v.SetDefault("graphql.retry_attempts", 5)
	v.SetDefault("graphql.retry_wait", time.Second)
	v.SetDefault("graphql.watch_fetch_policy", "cache-and-network")
	v.SetDefault("graphql.query_fetch_policy", "cache-first")

	v.SetDefault("auth.credential_store", "file")
	v.SetDefault("auth.credential_path", "./data/credentials.json")
	v.SetDefault("auth.token_key", DefaultTokenKey)
	v.SetDefault("auth.login_path", DefaultLoginPath)

	v.SetDefault("misc.log_level", "info")
	v.SetDefault("misc.log_format", "text")
	v.SetDefault("misc.gin_mode", "release")
}

// validate runs struct tag validation and the cross-field checks tags cannot express.
func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.IdleTimeout <= 0 {
		return errors.New("server read, write and idle timeouts must be positive")
	}
	if c.Server.ShutDownTimeout <= 0 {
		return errors.New("server shutdown timeout must be positive")
	}
	if c.Server.RequestTimeout <= 0 {
		return errors.New("server request timeout must be positive")
	}
	if !strings.HasPrefix(c.GraphQL.HTTPEndpoint, "http://") && !strings.HasPrefix(c.GraphQL.HTTPEndpoint, "https://") {
		return fmt.Errorf("graphql http endpoint must be http(s), got %q", c.GraphQL.HTTPEndpoint)
	}
	if !strings.HasPrefix(c.GraphQL.WSEndpoint, "ws://") && !strings.HasPrefix(c.GraphQL.WSEndpoint, "wss://") {
		return fmt.Errorf("graphql websocket endpoint must be ws(s), got %q", c.GraphQL.WSEndpoint)
	}
	if c.Auth.CredentialStore == "file" && c.Auth.CredentialPath == "" {
		return errors.New("credential path is required for the file credential store")
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvOrViperPort prefers the plain env var (PORT), falling back to viper.
func getEnvOrViperPort(v *viper.Viper, envKey, viperKey string) (int, error) {
	if raw := os.Getenv(envKey); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", envKey, raw, err)
		}
		return port, nil
	}
	return v.GetInt(viperKey), nil
}
