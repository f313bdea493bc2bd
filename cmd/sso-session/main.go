package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/marcogenualdo/sso-session/internal/agent"
	"github.com/marcogenualdo/sso-session/internal/auth"
	"github.com/marcogenualdo/sso-session/internal/auth/oidc"
	"github.com/marcogenualdo/sso-session/internal/cache"
	"github.com/marcogenualdo/sso-session/internal/config"
	"github.com/marcogenualdo/sso-session/internal/events"
	"github.com/marcogenualdo/sso-session/internal/proxy"
	"github.com/marcogenualdo/sso-session/internal/server"
)

const (
	version           = "1.0.0"
	defaultConfigPath = "/etc/sso-session/config.yaml"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	configPathShort := flag.String("c", defaultConfigPath, "path to configuration file (short)")
	showVersion := flag.Bool("version", false, "show version and exit")
	showHelp := flag.Bool("help", false, "show help and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("SSO Session v%s\n", version)
		os.Exit(0)
	}

	if *showHelp {
		fmt.Println("SSO Session - OIDC implicit flow session gateway")
		fmt.Println("\nUsage:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfgPath := *configPath
	if *configPathShort != defaultConfigPath {
		cfgPath = *configPathShort
	}

	// a missing .env is fine
	_ = godotenv.Load()

	if err := run(cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	logger.Info("starting sso-session", "version", version)

	ctx := context.Background()

	var sessionOpts []auth.Option
	if cfg.OIDC.Issuer != "" {
		endpoints, err := oidc.Discover(ctx, cfg.OIDC.Issuer)
		if err != nil {
			return err
		}
		endpoints.Apply(&cfg.OIDC)
		sessionOpts = append(sessionOpts, auth.WithVerifier(endpoints.Verifier(cfg.OIDC.ClientID)))
		logger.Info("provider discovered",
			"issuer", endpoints.Issuer,
			"authorization_endpoint", cfg.OIDC.AuthorizationEndpoint,
			"end_session_endpoint", cfg.OIDC.EndSessionEndpoint,
		)
	} else {
		logger.Warn("no issuer configured, id_tokens are not verified and identity headers are disabled")
	}

	cacheInstance, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}
	logger.Info("cache initialized", "type", cfg.Cache.Type)

	bus := events.NewBus()
	bus.Subscribe(func(e events.Event) {
		logger.Debug("session event", "event", e.Kind.String())
	})

	frames, err := agent.NewFrameHost(
		cfg.OIDC.RedirectURI,
		agent.SecondaryDispatch(cfg.OIDC, cacheInstance, cfg.Cache.KeyPrefix, bus, logger, sessionOpts...),
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create frame host: %w", err)
	}

	nav := agent.NewNavigator()
	session, err := auth.New(ctx, cfg.OIDC, cache.NewMirror(cacheInstance, cfg.Cache.KeyPrefix), nav, frames, bus, logger, sessionOpts...)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	logger.Info("session initialized",
		"authenticated", session.IsAuthenticated(ctx),
		"advance_refresh", cfg.OIDC.AdvanceRefreshDuration(),
	)

	transport := proxy.NewTransport(cfg.OIDC, session, bus, logger, proxy.BackendTransport(cfg.Backend))

	srv, err := server.New(*cfg, cacheInstance, session, nav, transport, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start()
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var out io.Writer = os.Stdout
	if strings.ToLower(cfg.Output) == "stderr" {
		out = os.Stderr
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}
