package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"launchpad/gateway/auth"
	"launchpad/gateway/cache"
	"launchpad/gateway/chain"
	"launchpad/gateway/config"
	"launchpad/gateway/creator"
	"launchpad/gateway/indexer"
	"launchpad/gateway/middleware"
	"launchpad/gateway/routes"
	"launchpad/gateway/store"
	"launchpad/observability/logging"
	telemetry "launchpad/observability/otel"
)

func main() {
	var cfgPath string
	var envFile string
	var allowInsecureFlag bool
	flag.StringVar(&cfgPath, "config", "", "path to launchpad configuration (yaml or toml)")
	flag.StringVar(&envFile, "env", ".env", "optional dotenv file loaded before configuration")
	flag.BoolVar(&allowInsecureFlag, "allow-insecure", false, "DEV ONLY: permit plaintext listeners on loopback interfaces")
	flag.Parse()

	if err := loadEnvFile(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "load env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Options{
		Service:    cfg.Observability.ServiceName,
		Env:        cfg.Environment,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err := run(cfg, configDir(cfgPath), allowInsecureFlag, logger); err != nil {
		logger.Error("launchpad exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, baseDir string, allowInsecureFlag bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	logger.Info("starting launchpad",
		"listen", cfg.ListenAddress,
		"driver", cfg.Database.Driver,
		logging.MaskField("dsn", cfg.Database.DSN),
		logging.MaskField("indexer_api_key", cfg.Indexer.APIKey),
		logging.MaskField("jobs_secret", cfg.Jobs.HMACSecret),
		"jobs", cfg.Jobs.Enabled,
	)

	db, err := store.Open(store.OpenConfig{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		SlowThreshold:   cfg.Database.SlowThreshold,
	})
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	tokens := store.New(db)

	subgraph, err := indexer.New(indexer.Config{
		Endpoint: cfg.Indexer.Endpoint,
		APIKey:   cfg.Indexer.APIKey,
		Timeout:  cfg.Indexer.Timeout,
	})
	if err != nil {
		return err
	}

	node, err := chain.Dial(ctx, cfg.RPC.Endpoint, cfg.RPC.Timeout)
	if err != nil {
		return err
	}
	defer node.Close()
	if err := node.VerifyChainID(ctx, cfg.RPC.ChainID); err != nil {
		return err
	}

	tokenCache, err := cache.New(ctx, cache.Config{
		Backend:   cfg.Cache.Backend,
		Capacity:  cfg.Cache.Capacity,
		TTL:       cfg.Cache.TTL,
		RedisAddr: cfg.Cache.RedisAddr,
		RedisDB:   cfg.Cache.RedisDB,
		Password:  cfg.Cache.RedisPassword,
		KeyPrefix: cfg.Cache.KeyPrefix,
	}, logger)
	if err != nil {
		return err
	}
	if closer, ok := tokenCache.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	logger.Info("token cache ready", "backend", tokenCache.Backend())

	resolver, err := creator.New(creator.Config{
		Store:   tokens,
		Indexer: subgraph,
		Chain:   node,
		Logger:  logger,
		OnResolved: func(token common.Address) {
			if err := tokenCache.Delete(context.Background(), cache.TokenKey(token)); err != nil {
				logger.Warn("invalidate resolved token", "token", strings.ToLower(token.Hex()), "error", err)
			}
		},
	})
	if err != nil {
		return err
	}

	gate := auth.NewGate(auth.GateConfig{
		Message:            cfg.Auth.Message,
		StrictAddressMatch: cfg.Auth.StrictAddressMatch,
		Logger:             logger,
	})
	creatorGate, err := auth.NewCreatorGate(auth.CreatorGateConfig{
		Resolver:     resolver,
		MaxBodyBytes: cfg.Auth.MaxBodyBytes,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	var operator *middleware.Authenticator
	if cfg.Jobs.Enabled {
		operator, err = middleware.NewAuthenticator(middleware.AuthConfig{
			HMACSecret: cfg.Jobs.HMACSecret,
			Issuer:     cfg.Jobs.Issuer,
			Audience:   cfg.Jobs.Audience,
			ScopeClaim: cfg.Jobs.ScopeClaim,
			ClockSkew:  cfg.Jobs.ClockSkew,
		}, logger)
		if err != nil {
			return err
		}
	}

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: cfg.Observability.ServiceName,
		LogRequests: cfg.Observability.LogRequests,
		Enabled:     cfg.Observability.Metrics || cfg.Observability.Tracing,
	}, logger)

	router, err := routes.New(routes.Config{
		Store:         tokens,
		Resolver:      resolver,
		Cache:         tokenCache,
		Gate:          gate,
		CreatorGate:   creatorGate,
		Operator:      operator,
		BackfillLimit: cfg.Jobs.BackfillLimit,
		RateLimiter:   middleware.NewRateLimiter(rateLimits(cfg.RateLimits)),
		Observability: obs,
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowCredentials: cfg.CORS.AllowCredentials,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("configure routes: %w", err)
	}

	handler := router
	if cfg.Observability.Tracing {
		handler = otelhttp.NewHandler(router, cfg.Observability.ServiceName)
	}

	tlsConfig, err := buildTLSConfig(baseDir, cfg)
	if err != nil {
		return fmt.Errorf("configure TLS: %w", err)
	}
	if tlsConfig == nil {
		if !cfg.Security.AllowInsecure && !allowInsecureFlag {
			return errors.New("TLS certificate and key are required; provide security.tlsCertFile/tlsKeyFile or start with --allow-insecure in dev")
		}
		if !strings.EqualFold(cfg.Environment, "dev") && !isLoopbackAddress(cfg.ListenAddress) {
			return errors.New("plaintext mode is restricted to loopback listeners or dev environment")
		}
	}

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		TLSConfig:         tlsConfig,
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		scheme := "http"
		if tlsConfig != nil {
			scheme = "https"
			listener = tls.NewListener(listener, tlsConfig)
		}
		logger.Info("listening", "addr", scheme+"://"+listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	return nil
}

func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func configDir(cfgPath string) string {
	if strings.TrimSpace(cfgPath) == "" {
		return ""
	}
	return filepath.Dir(cfgPath)
}

// telemetryConfig merges the file settings with the standard OTEL_* variables,
// which win when set.
func telemetryConfig(cfg config.Config) telemetry.Config {
	tc := telemetry.Config{
		ServiceName: cfg.Observability.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Observability.OTLPEndpoint,
		Insecure:    cfg.Observability.OTLPInsecure,
		Headers:     cfg.Observability.OTLPHeaders,
		Metrics:     cfg.Observability.Metrics,
		Traces:      cfg.Observability.Tracing,
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		tc.Endpoint = endpoint
	}
	if raw := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")); raw != "" {
		tc.Headers = telemetry.ParseHeaders(raw)
	}
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			tc.Insecure = parsed
		}
	}
	return tc
}

func rateLimits(cfg config.RateLimitsConfig) map[string]middleware.RateLimit {
	limits := make(map[string]middleware.RateLimit, 3)
	for key, entry := range map[string]config.RateLimitConfig{
		routes.LimitPublic: cfg.Public,
		routes.LimitAuth:   cfg.Auth,
		routes.LimitJobs:   cfg.Jobs,
	} {
		if entry.RatePerSecond <= 0 {
			continue
		}
		limits[key] = middleware.RateLimit{RatePerSecond: entry.RatePerSecond, Burst: entry.Burst}
	}
	return limits
}

func buildTLSConfig(baseDir string, cfg config.Config) (*tls.Config, error) {
	if !cfg.TLSEnabled() {
		return nil, nil
	}
	certPath := resolvePath(baseDir, cfg.Security.TLSCertFile)
	keyPath := resolvePath(baseDir, cfg.Security.TLSKeyFile)
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	if baseDir == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(baseDir, trimmed)
}

func isLoopbackAddress(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
