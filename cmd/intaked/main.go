package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/intake/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/intake/internal/identity"
	"github.com/MarkoPoloResearchLab/intake/internal/intakeapi"
	"github.com/MarkoPoloResearchLab/intake/internal/telemetry"
	"github.com/MarkoPoloResearchLab/intake/pkg/intake"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const (
	flagListenAddr              = "listen-addr"
	flagGRPCListenAddr          = "grpc-listen-addr"
	flagDatabaseURL             = "database-url"
	flagStoreDriver             = "store-driver"
	flagSessionBackend          = "session-backend"
	flagRedisURL                = "redis-url"
	flagSessionTTL              = "session-ttl"
	flagAllowedOrigins          = "allowed-origins"
	flagJWTSigningKey           = "jwt-signing-key"
	flagJWTIssuer               = "jwt-issuer"
	flagJWTCookieName           = "jwt-cookie-name"
	flagIdentityEndpoint        = "identity-endpoint"
	flagIdentityClientID        = "identity-client-id"
	flagIdentityRedirectURI     = "identity-redirect-uri"
	flagIdentityTimeout         = "identity-timeout"
	flagIdentityVerificationKey = "identity-verification-key"

	envPrefix              = "INTAKE"
	dotenvFile             = ".env"
	defaultListenAddr      = ":9090"
	defaultGRPCListenAddr  = ":7000"
	defaultDatabaseURL     = "sqlite:///tmp/intake.db"
	defaultAllowedOrigins  = "http://localhost:8000"
	defaultJWTIssuer       = "tauth"
	defaultJWTCookieName   = "app_session"
	defaultSessionTTL      = 30 * time.Minute
	defaultIdentityTimeout = 10 * time.Second

	storeDriverGorm     = "gorm"
	storeDriverPgx      = "pgx"
	sessionBackendDB    = "database"
	sessionBackendRedis = "redis"
)

type runtimeConfig struct {
	ListenAddr              string
	GRPCListenAddr          string
	DatabaseURL             string
	StoreDriver             string
	SessionBackend          string
	RedisURL                string
	SessionTTL              time.Duration
	AllowedOrigins          []string
	JWTSigningKey           string
	JWTIssuer               string
	JWTCookieName           string
	IdentityEndpoint        string
	IdentityClientID        string
	IdentityRedirectURI     string
	IdentityTimeout         time.Duration
	IdentityVerificationKey string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "intaked: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "intaked",
		Short:         "Account-opening intake server (HTTP API and gRPC engine)",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	flags.String(flagGRPCListenAddr, defaultGRPCListenAddr, "gRPC listen address")
	flags.String(flagDatabaseURL, defaultDatabaseURL, "sqlite:// URL, sqlite path, or postgres:// URL")
	flags.String(flagStoreDriver, storeDriverGorm, "application store driver (gorm|pgx)")
	flags.String(flagSessionBackend, sessionBackendDB, "profile session backend (database|redis)")
	flags.String(flagRedisURL, "", "redis:// URL for the redis session backend")
	flags.Duration(flagSessionTTL, defaultSessionTTL, "profile session lifetime in redis")
	flags.String(flagAllowedOrigins, defaultAllowedOrigins, "comma-separated CORS origins")
	flags.String(flagJWTSigningKey, "", "HS256 key shared with the session issuer")
	flags.String(flagJWTIssuer, defaultJWTIssuer, "expected session token issuer")
	flags.String(flagJWTCookieName, defaultJWTCookieName, "session cookie name")
	flags.String(flagIdentityEndpoint, "", "identity provider user-info endpoint")
	flags.String(flagIdentityClientID, "", "relying-party client id")
	flags.String(flagIdentityRedirectURI, "", "relying-party redirect URI")
	flags.Duration(flagIdentityTimeout, defaultIdentityTimeout, "identity exchange timeout")
	flags.String(flagIdentityVerificationKey, "", "HS256 key verifying JWT user-info responses")

	cmd.AddCommand(newReconcileCommand())
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	if err := godotenv.Load(dotenvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", dotenvFile, err)
	}

	configuration := viper.New()
	configuration.SetEnvPrefix(envPrefix)
	configuration.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	configuration.AutomaticEnv()
	if err := configuration.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg.ListenAddr = configuration.GetString(flagListenAddr)
	cfg.GRPCListenAddr = configuration.GetString(flagGRPCListenAddr)
	cfg.DatabaseURL = configuration.GetString(flagDatabaseURL)
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(configuration.GetString(flagStoreDriver)))
	cfg.SessionBackend = strings.ToLower(strings.TrimSpace(configuration.GetString(flagSessionBackend)))
	cfg.RedisURL = configuration.GetString(flagRedisURL)
	cfg.SessionTTL = configuration.GetDuration(flagSessionTTL)
	cfg.AllowedOrigins = intakeapi.ParseAllowedOrigins(configuration.GetString(flagAllowedOrigins))
	cfg.JWTSigningKey = configuration.GetString(flagJWTSigningKey)
	cfg.JWTIssuer = configuration.GetString(flagJWTIssuer)
	cfg.JWTCookieName = configuration.GetString(flagJWTCookieName)
	cfg.IdentityEndpoint = configuration.GetString(flagIdentityEndpoint)
	cfg.IdentityClientID = configuration.GetString(flagIdentityClientID)
	cfg.IdentityRedirectURI = configuration.GetString(flagIdentityRedirectURI)
	cfg.IdentityTimeout = configuration.GetDuration(flagIdentityTimeout)
	cfg.IdentityVerificationKey = configuration.GetString(flagIdentityVerificationKey)
	return cfg.validate()
}

func (cfg *runtimeConfig) validate() error {
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.GRPCListenAddr == "" {
		cfg.GRPCListenAddr = defaultGRPCListenAddr
	}
	switch cfg.StoreDriver {
	case storeDriverGorm:
	case storeDriverPgx:
		if driver, _, err := resolveDriver(cfg.DatabaseURL); err != nil || driver != driverPostgres {
			return fmt.Errorf("store driver %s requires a postgres database url", storeDriverPgx)
		}
	default:
		return fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
	switch cfg.SessionBackend {
	case sessionBackendDB:
	case sessionBackendRedis:
		if strings.TrimSpace(cfg.RedisURL) == "" {
			return fmt.Errorf("redis url is required for the redis session backend")
		}
	default:
		return fmt.Errorf("unsupported session backend %q", cfg.SessionBackend)
	}
	if cfg.JWTSigningKey == "" {
		return fmt.Errorf("jwt signing key is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	stores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(registry)

	reconciler := intake.NewReconciler(intake.WithReconcilerLogger(logger))
	intakeService, err := intake.NewService(
		stores.sessions,
		stores.recorder,
		intake.WithReconciler(reconciler),
		intake.WithOperationLogger(telemetry.NewOperationLogger(logger, metrics)),
	)
	if err != nil {
		return fmt.Errorf("intake service init: %w", err)
	}

	deps := intakeapi.Dependencies{
		Service:  intakeService,
		Metrics:  metrics,
		Gatherer: registry,
		Logger:   logger,
	}
	if cfg.IdentityEndpoint != "" {
		identityClient, err := identity.NewClient(identity.Config{
			Endpoint:        cfg.IdentityEndpoint,
			ClientID:        cfg.IdentityClientID,
			RedirectURI:     cfg.IdentityRedirectURI,
			Timeout:         cfg.IdentityTimeout,
			VerificationKey: cfg.IdentityVerificationKey,
		}, identity.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("identity client init: %w", err)
		}
		deps.Identity = identityClient
	} else {
		logger.Warn("identity endpoint not configured; only profile uploads are accepted")
	}

	apiServer, err := intakeapi.NewServer(intakeapi.Config{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    cfg.AllowedOrigins,
		SessionSigningKey: cfg.JWTSigningKey,
		SessionIssuer:     cfg.JWTIssuer,
		SessionCookieName: cfg.JWTCookieName,
	}, deps)
	if err != nil {
		return fmt.Errorf("http api init: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return apiServer.Run(groupCtx)
	})
	group.Go(func() error {
		return serveGRPC(groupCtx, cfg.GRPCListenAddr, grpcserver.NewProfileServer(reconciler), logger)
	})
	return group.Wait()
}

func serveGRPC(ctx context.Context, listenAddr string, profileServer *grpcserver.ProfileServer, logger *zap.Logger) error {
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	grpcServer := grpc.NewServer()
	grpcserver.RegisterProfileService(grpcServer, profileServer)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", listenAddr))
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	}
}
