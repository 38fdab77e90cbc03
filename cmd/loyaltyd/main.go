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

	"github.com/MarkoPoloResearchLab/loyalty/internal/portal"
	"github.com/MarkoPoloResearchLab/loyalty/internal/rates"
	"github.com/MarkoPoloResearchLab/loyalty/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL       = "database-url"
	flagListenAddr        = "listen-addr"
	flagAllowedOrigins    = "allowed-origins"
	flagSessionSigningKey = "session-signing-key"
	flagSessionIssuer     = "session-issuer"
	flagSessionCookie     = "session-cookie"
	flagRatesBaseURL      = "rates-base-url"
	flagRatesAPIKey       = "rates-api-key"
	flagInternalAPIKey    = "internal-api-key"

	configKeyDatabaseURL       = "database_url"
	configKeyListenAddr        = "listen_addr"
	configKeyAllowedOrigins    = "allowed_origins"
	configKeySessionSigningKey = "session_signing_key"
	configKeySessionIssuer     = "session_issuer"
	configKeySessionCookie     = "session_cookie"
	configKeyRatesBaseURL      = "rates_base_url"
	configKeyRatesAPIKey       = "rates_api_key"
	configKeyInternalAPIKey    = "internal_api_key"

	defaultDatabaseURL = "sqlite:///tmp/loyalty.db"
	defaultListenAddr  = ":9090"
)

type runtimeConfig struct {
	DatabaseURL string
	Portal      portal.Config
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "loyaltyd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "loyaltyd",
		Short:         "Travel loyalty portal API server",
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
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-delimited CORS origins")
	cmd.Flags().String(flagSessionSigningKey, "", "HMAC key for session token validation")
	cmd.Flags().String(flagSessionIssuer, "", "expected session token issuer")
	cmd.Flags().String(flagSessionCookie, "", "session cookie name")
	cmd.Flags().String(flagRatesBaseURL, "", "exchange rate provider base URL")
	cmd.Flags().String(flagRatesAPIKey, "", "exchange rate provider API key")
	cmd.Flags().String(flagInternalAPIKey, "", "shared key for internal booking callbacks")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]struct {
		flag string
		env  string
	}{
		configKeyDatabaseURL:       {flag: flagDatabaseURL, env: "DATABASE_URL"},
		configKeyListenAddr:        {flag: flagListenAddr, env: "LISTEN_ADDR"},
		configKeyAllowedOrigins:    {flag: flagAllowedOrigins, env: "ALLOWED_ORIGINS"},
		configKeySessionSigningKey: {flag: flagSessionSigningKey, env: "SESSION_SIGNING_KEY"},
		configKeySessionIssuer:     {flag: flagSessionIssuer, env: "SESSION_ISSUER"},
		configKeySessionCookie:     {flag: flagSessionCookie, env: "SESSION_COOKIE"},
		configKeyRatesBaseURL:      {flag: flagRatesBaseURL, env: "RATES_BASE_URL"},
		configKeyRatesAPIKey:       {flag: flagRatesAPIKey, env: "RATES_API_KEY"},
		configKeyInternalAPIKey:    {flag: flagInternalAPIKey, env: "INTERNAL_API_KEY"},
	}
	for key, binding := range bindings {
		if err := viper.BindEnv(key, binding.env); err != nil {
			return err
		}
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(binding.flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.Portal = portal.Config{
		ListenAddr:        viper.GetString(configKeyListenAddr),
		AllowedOrigins:    portal.ParseAllowedOrigins(viper.GetString(configKeyAllowedOrigins)),
		SessionSigningKey: viper.GetString(configKeySessionSigningKey),
		SessionIssuer:     viper.GetString(configKeySessionIssuer),
		SessionCookieName: viper.GetString(configKeySessionCookie),
		RatesBaseURL:      viper.GetString(configKeyRatesBaseURL),
		RatesAPIKey:       viper.GetString(configKeyRatesAPIKey),
		InternalAPIKey:    viper.GetString(configKeyInternalAPIKey),
	}
	return cfg.Portal.Validate()
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
	service, err := loyalty.NewService(store, clock, loyalty.WithOperationLogger(&zapOperationLogger{logger: logger}))
	if err != nil {
		return fmt.Errorf("loyalty service init: %w", err)
	}

	var converter portal.RateConverter
	if cfg.Portal.RatesBaseURL != "" {
		ratesClient, err := rates.NewClient(cfg.Portal.RatesBaseURL, rates.WithAPIKey(cfg.Portal.RatesAPIKey))
		if err != nil {
			return fmt.Errorf("rates client init: %w", err)
		}
		converter = loyalty.NewConverter(ratesClient)
	} else {
		logger.Warn("rates base url not configured, conversions will degrade")
		converter = loyalty.NewConverter(unavailableRates{})
	}

	return portal.Run(ctx, cfg.Portal, portal.Dependencies{
		Logger:    logger,
		Service:   service,
		Trips:     store,
		Converter: converter,
	})
}

// zapOperationLogger bridges domain operation callbacks onto structured logs.
type zapOperationLogger struct {
	logger *zap.Logger
}

func (operationLogger *zapOperationLogger) LogOperation(ctx context.Context, entry loyalty.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("client_id", entry.ClientID.String()),
		zap.String("status", entry.Status),
		zap.Int64("points", entry.Points.Int64()),
	}
	if entry.RedemptionID != nil {
		fields = append(fields, zap.String("redemption_id", entry.RedemptionID.String()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("loyalty operation failed", fields...)
		return
	}
	operationLogger.logger.Info("loyalty operation", fields...)
}

// unavailableRates stands in when no provider is configured; every lookup
// reports unavailable so callers take their documented fallback paths.
type unavailableRates struct{}

func (unavailableRates) LookupRate(ctx context.Context, fromCurrency string, toCurrency string) (loyalty.Rate, error) {
	return loyalty.Rate{}, loyalty.ErrRateLookupUnavailable
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
			path = "loyalty.db"
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
	models := []any{
		&gormstore.Client{},
		&gormstore.LoyaltySetting{},
		&gormstore.PointTransaction{},
		&gormstore.RedemptionRequest{},
		&gormstore.Referral{},
		&gormstore.Booking{},
		&gormstore.Traveler{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
