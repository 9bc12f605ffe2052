package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/billingworks/creditledger/internal/api"
	"github.com/billingworks/creditledger/internal/store/gormstore"
	"github.com/billingworks/creditledger/pkg/credits"
	"github.com/billingworks/creditledger/pkg/pricing"
	"github.com/billingworks/creditledger/pkg/proration"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagAllowedOrigins = "allowed-origins"
	flagStripeAPIKey   = "stripe-api-key"
	flagPricingConfig  = "pricing-config"

	configKeyDatabaseURL    = "database_url"
	configKeyListenAddr     = "listen_addr"
	configKeyAllowedOrigins = "allowed_origins"
	configKeyStripeAPIKey   = "stripe_api_key"
	configKeyPricingConfig  = "pricing_config"

	defaultDatabaseURL    = "sqlite:///tmp/creditledger.db"
	defaultHTTPListenAddr = ":8080"
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	AllowedOrigins []string
	StripeAPIKey   string
	PricingConfig  string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "creditd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "creditd",
		Short:         "Workspace credit ledger and billing server",
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

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultHTTPListenAddr, "HTTP listen address")
	cmd.Flags().StringSlice(flagAllowedOrigins, nil, "CORS allowed origins")
	cmd.Flags().String(flagStripeAPIKey, "", "Stripe secret key for proration previews")
	cmd.Flags().String(flagPricingConfig, "", "Path to a JSON pricing rate override file")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:    "DATABASE_URL",
		configKeyListenAddr:     "HTTP_LISTEN_ADDR",
		configKeyAllowedOrigins: "ALLOWED_ORIGINS",
		configKeyStripeAPIKey:   "STRIPE_API_KEY",
		configKeyPricingConfig:  "PRICING_CONFIG",
	}
	for key, envName := range bindings {
		if err := viper.BindEnv(key, envName); err != nil {
			return err
		}
	}

	flagNames := map[string]string{
		configKeyDatabaseURL:    flagDatabaseURL,
		configKeyListenAddr:     flagListenAddr,
		configKeyAllowedOrigins: flagAllowedOrigins,
		configKeyStripeAPIKey:   flagStripeAPIKey,
		configKeyPricingConfig:  flagPricingConfig,
	}
	for key, flagName := range flagNames {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultHTTPListenAddr
	}
	cfg.AllowedOrigins = viper.GetStringSlice(configKeyAllowedOrigins)
	cfg.StripeAPIKey = viper.GetString(configKeyStripeAPIKey)
	cfg.PricingConfig = viper.GetString(configKeyPricingConfig)
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }
	creditService, err := credits.NewDeductionService(store, clock,
		credits.WithOperationLogger(credits.NewZapOperationLogger(logger)))
	if err != nil {
		return fmt.Errorf("credit service init: %w", err)
	}

	calculator := buildCalculator(cfg.PricingConfig, logger)
	logger.Info("pricing calculator ready",
		zap.Int("text_models", len(calculator.Config().TextCreditsPerKToken)))

	prorationOptions := []proration.ServiceOption{}
	if cfg.StripeAPIKey != "" {
		prorationOptions = append(prorationOptions,
			proration.WithPreviewClient(proration.NewStripePreviewClient(cfg.StripeAPIKey)))
	}
	prorationService, err := proration.NewService(
		gormstore.NewCatalogStore(gormDB),
		func() time.Time { return time.Now().UTC() },
		prorationOptions...,
	)
	if err != nil {
		return fmt.Errorf("proration service init: %w", err)
	}

	return api.Run(ctx, api.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger, api.Dependencies{
		Credits:     creditService,
		Workspaces:  store,
		Proration:   prorationService,
		Generations: gormstore.NewGenerationStore(gormDB),
	})
}

// buildCalculator layers an optional JSON override file over the built-in
// rate table. An unreadable or malformed file is logged and ignored so the
// server always starts with a working rate table.
func buildCalculator(path string, logger *zap.Logger) *pricing.Calculator {
	calculator, err := pricing.NewCalculator(pricing.DefaultConfig())
	if err != nil {
		// DefaultConfig always validates.
		panic(err)
	}
	if path == "" {
		return calculator
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("pricing override unreadable, using defaults",
			zap.String("path", path), zap.Error(err))
		return calculator
	}
	var patch pricing.Patch
	if err := json.Unmarshal(raw, &patch); err != nil {
		logger.Warn("pricing override malformed, using defaults",
			zap.String("path", path), zap.Error(err))
		return calculator
	}
	calculator.UpdateConfig(patch)
	return calculator
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormCfg := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormCfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
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
			path = "creditledger.db"
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

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := gormstore.AutoMigrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
