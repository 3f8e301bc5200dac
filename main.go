package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/username/cryptotaxpl/src/config"
	"github.com/username/cryptotaxpl/src/database"
	"github.com/username/cryptotaxpl/src/handlers"
	"github.com/username/cryptotaxpl/src/logger"
	"github.com/username/cryptotaxpl/src/security"
	"github.com/username/cryptotaxpl/src/services"

	_ "time/tzdata"
)

const usage = `Usage: cryptotaxpl <command> [flags]

Commands:
  serve      run the HTTP API
  download   download trades from the configured exchange accounts as CSV
  pit38      calculate PIT-38 from CSV files or from the exchange accounts
  rates      print NBP mid rates for a currency
  token      issue an API bearer token
  migrate    apply database migrations and exit

Run "cryptotaxpl <command> -h" for the flags of a command.
`

// app holds what every command shares after startup.
type app struct {
	cfg    *config.AppConfig
	logger *slog.Logger
	db     *sql.DB
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		fmt.Fprint(os.Stdout, usage)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cmd, args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("Command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string) error {
	bootLogger := logger.New(os.Getenv("LOG_LEVEL"), os.Stderr)
	cfg, err := config.Load(bootLogger)
	if err != nil {
		return err
	}
	a := &app{cfg: cfg, logger: logger.InitLogger(cfg.LogLevel)}

	switch cmd {
	case "serve":
		return a.serve(ctx, args)
	case "download":
		return a.download(ctx, args)
	case "pit38":
		return a.pit38(ctx, args)
	case "rates":
		return a.rates(ctx, args)
	case "token":
		return a.token(args)
	case "migrate":
		return a.migrate(args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// openStore opens the rate database and applies pending migrations.
func (a *app) openStore() (*database.RateRepository, error) {
	if a.db == nil {
		db, err := database.Open(a.cfg.DatabasePath, a.logger)
		if err != nil {
			return nil, err
		}
		if err := database.RunMigrations(db, a.logger); err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
	}
	return database.NewRateRepository(a.db), nil
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("Closing database failed", "error", err)
		}
	}
}

// rateProvider returns the NBP client backed by the SQLite store.
func (a *app) rateProvider() (*services.NBPClient, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	return services.NewNBPClient(services.NBPConfig{
		BaseURL:           a.cfg.NBPBaseURL,
		RequestsPerSecond: a.cfg.NBPRequestsPerSecond,
		CacheTTL:          a.cfg.RateCacheTTL,
		Location:          a.cfg.TaxTimezone,
		Store:             store,
	}, a.logger), nil
}

func (a *app) taxService(rates services.RateProvider, reportCache *cache.Cache) services.TaxService {
	return services.NewTaxService(rates, a.cfg.TaxTimezone, a.cfg.MaxLookbackDays, reportCache, a.logger)
}

func (a *app) defaultOptions() services.TaxOptions {
	return services.TaxOptions{
		Year:              a.cfg.TaxYear,
		SettlementDay:     a.cfg.SettlementDay,
		PreviousYearCosts: a.cfg.PreviousYearCosts,
	}
}

func (a *app) serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	port := fs.String("port", a.cfg.Port, "listen port")
	if err := fs.Parse(args); err != nil {
		return err
	}
	defer a.close()

	rates, err := a.rateProvider()
	if err != nil {
		return err
	}

	ttl := a.cfg.ReportCacheTTL
	if ttl <= 0 {
		ttl = services.DefaultCacheExpiration
	}
	reportCache := cache.New(ttl, services.CacheCleanupInterval)
	taxService := a.taxService(rates, reportCache)

	if a.cfg.RateSyncSchedule != "" {
		scheduler := services.NewRateSyncScheduler(ctx, rates, a.cfg.RateSyncCurrencies, a.cfg.TaxTimezone, a.logger)
		if _, err := scheduler.Schedule(a.cfg.RateSyncSchedule); err != nil {
			return fmt.Errorf("%w: RATE_SYNC_SCHEDULE %q: %v", config.ErrInvalidConfig, a.cfg.RateSyncSchedule, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	var auth *security.AuthService
	if a.cfg.JWTSecret != "" {
		auth = security.NewAuthService(a.cfg.JWTSecret, a.cfg.AccessTokenExpiry)
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		Tax:            handlers.NewTaxHandler(taxService, a.defaultOptions(), a.cfg.MaxUploadSizeBytes, a.cfg.TaxTimezone, a.logger),
		Rates:          handlers.NewRatesHandler(rates, a.cfg.TaxTimezone, a.logger),
		Auth:           auth,
		AllowedOrigins: a.cfg.CORSAllowedOrigins,
		RequestsPerSec: a.cfg.APIRequestsPerSec,
		Logger:         a.logger,
	})

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", "address", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	a.logger.Info("Server stopped gracefully.")
	return nil
}

func (a *app) migrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	defer a.close()
	_, err := a.openStore()
	return err
}

func (a *app) token(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "cli", "token subject")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.cfg.JWTSecret == "" {
		return fmt.Errorf("%w: JWT_SECRET is not set", config.ErrInvalidConfig)
	}
	token, err := security.NewAuthService(a.cfg.JWTSecret, a.cfg.AccessTokenExpiry).GenerateToken(*subject)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
