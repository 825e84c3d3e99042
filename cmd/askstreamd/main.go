package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/askstream/askstream/internal/httpserver"
	"github.com/askstream/askstream/internal/openpayments"
	"github.com/askstream/askstream/internal/store/gormstore"
	"github.com/askstream/askstream/internal/store/memstore"
	"github.com/askstream/askstream/pkg/credits"
	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagAllowedOrigins = "allowed-origins"
	flagSigningKey     = "host-signing-key"
	flagPaymentTimeout = "payment-timeout"
	flagTokenTTL       = "token-ttl"

	configKeyDatabaseURL    = "database_url"
	configKeyListenAddr     = "listen_addr"
	configKeyAllowedOrigins = "allowed_origins"
	configKeySigningKey     = "host_signing_key"
	configKeyPaymentTimeout = "payment_timeout"
	configKeyTokenTTL       = "token_ttl"

	defaultDatabaseURL    = "sqlite:///tmp/askstream.db"
	defaultListenAddr     = ":8080"
	defaultPaymentTimeout = 3 * time.Second
	defaultTokenTTL       = 12 * time.Hour
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	AllowedOrigins string
	SigningKey     string
	PaymentTimeout time.Duration
	TokenTTL       time.Duration
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "askstreamd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "askstreamd",
		Short:         "Pay-to-ask question API for live streams",
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

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL URL, sqlite URL/path, or \"memory\"")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated CORS origins")
	cmd.Flags().String(flagSigningKey, "", "HMAC key for host bearer tokens")
	cmd.Flags().Duration(flagPaymentTimeout, defaultPaymentTimeout, "per-request timeout for incoming-payment reads")

	cmd.AddCommand(newTokenCommand(cfg))

	return cmd
}

// newTokenCommand mints a host bearer token so a streamer can call the
// host-only endpoints without a separate identity service.
func newTokenCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "token <host-id>",
		Short:         "Mint a host bearer token",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(cfg.SigningKey) == "" {
				return fmt.Errorf("host signing key is required")
			}
			token, err := httpserver.SignHostToken(cfg.SigningKey, args[0], cfg.TokenTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String(flagSigningKey, "", "HMAC key for host bearer tokens")
	cmd.Flags().Duration(flagTokenTTL, defaultTokenTTL, "token lifetime")
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:    "DATABASE_URL",
		configKeyListenAddr:     "LISTEN_ADDR",
		configKeyAllowedOrigins: "ALLOWED_ORIGINS",
		configKeySigningKey:     "HOST_SIGNING_KEY",
		configKeyPaymentTimeout: "PAYMENT_TIMEOUT",
		configKeyTokenTTL:       "TOKEN_TTL",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configKeyDatabaseURL:    flagDatabaseURL,
		configKeyListenAddr:     flagListenAddr,
		configKeyAllowedOrigins: flagAllowedOrigins,
		configKeySigningKey:     flagSigningKey,
		configKeyPaymentTimeout: flagPaymentTimeout,
		configKeyTokenTTL:       flagTokenTTL,
	}
	for key, name := range flagBindings {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.SigningKey = viper.GetString(configKeySigningKey)
	cfg.PaymentTimeout = viper.GetDuration(configKeyPaymentTimeout)
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = defaultPaymentTimeout
	}
	cfg.TokenTTL = viper.GetDuration(configKeyTokenTTL)
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer func() { _ = cleanup() }()

	verifier := openpayments.NewClient(cfg.PaymentTimeout, logger)
	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := credits.NewService(store, verifier, clock,
		credits.WithOperationLogger(credits.NewZapOperationLogger(logger)))
	if err != nil {
		return fmt.Errorf("credits service init: %w", err)
	}

	return httpserver.Run(ctx, httpserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: httpserver.ParseAllowedOrigins(cfg.AllowedOrigins),
		HostSigningKey: cfg.SigningKey,
		HostTokenTTL:   cfg.TokenTTL,
	}, service, logger)
}

func openStore(ctx context.Context, dsn string) (credits.Store, func() error, error) {
	if dsn == "memory" {
		return memstore.New(), func() error { return nil }, nil
	}

	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	var db *gorm.DB
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}

	// PostgreSQL schemas are managed externally; sqlite self-migrates.
	if driver == "sqlite" {
		if err := gormstore.Migrate(db); err != nil {
			return nil, nil, fmt.Errorf("auto migrate: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return gormstore.New(db.WithContext(ctx)), sqlDB.Close, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "askstream.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
