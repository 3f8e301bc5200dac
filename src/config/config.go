package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	ExchangeKraken  = "kraken"
	ExchangeBinance = "binance"
)

// Account is one exchange API key pair.
type Account struct {
	ID        string // position in the numbered env vars, e.g. "1" for KRAKEN_1
	Exchange  string
	Name      string
	APIKey    string
	APISecret string
}

// AppConfig is built once at startup and passed by pointer. Nothing mutates it after Load.
type AppConfig struct {
	Port         string
	DatabasePath string
	LogLevel     string

	TaxYear              int
	SettlementDay        int
	PreviousYearCosts    decimal.Decimal
	TaxTimezone          *time.Location
	MaxLookbackDays      int
	FilterQuoteAssets    []string
	Accounts             []Account
	MaxConcurrentSymbols int

	NBPBaseURL           string
	NBPRequestsPerSecond float64
	RateCacheTTL         time.Duration
	RateSyncSchedule     string
	RateSyncCurrencies   []string

	JWTSecret          string
	AccessTokenExpiry  time.Duration
	CORSAllowedOrigins []string
	MaxUploadSizeBytes int64
	APIRequestsPerSec  float64
	ReportCacheTTL     time.Duration
}

// Load reads .env (when present) and the process environment.
func Load(logger *slog.Logger) (*AppConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded, relying on environment variables", "error", err)
	} else {
		logger.Info(".env file loaded successfully.")
	}
	return FromEnv(os.LookupEnv, logger)
}

// FromEnv builds a validated AppConfig from lookup.
func FromEnv(lookup func(string) (string, bool), logger *slog.Logger) (*AppConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := envReader{lookup: lookup, logger: logger}

	tzName := e.str("TAX_TIMEZONE", "Europe/Warsaw")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("%w: TAX_TIMEZONE %q: %v", ErrInvalidConfig, tzName, err)
	}

	carryStr := e.str("PREVIOUS_YEAR_COST_FIELD36", "0.00")
	carry, err := decimal.NewFromString(strings.TrimSpace(carryStr))
	if err != nil {
		return nil, fmt.Errorf("%w: PREVIOUS_YEAR_COST_FIELD36 %q is not a decimal", ErrInvalidConfig, carryStr)
	}

	accounts, err := loadAccounts(e, ExchangeKraken, "KRAKEN")
	if err != nil {
		return nil, err
	}
	binanceAccounts, err := loadAccounts(e, ExchangeBinance, "BINANCE")
	if err != nil {
		return nil, err
	}
	accounts = append(accounts, binanceAccounts...)

	cfg := &AppConfig{
		Port:         e.str("PORT", "8080"),
		DatabasePath: e.str("DATABASE_PATH", "./cryptotaxpl.db"),
		LogLevel:     e.str("LOG_LEVEL", "info"),

		TaxYear:              e.integer("TAX_YEAR", time.Now().In(loc).Year()-1),
		SettlementDay:        e.integer("SETTLEMENT_DAY", -1),
		PreviousYearCosts:    carry,
		TaxTimezone:          loc,
		MaxLookbackDays:      e.integer("RATE_MAX_LOOKBACK_DAYS", 60),
		FilterQuoteAssets:    e.currencies("FILTER_QUOTE_ASSETS"),
		Accounts:             accounts,
		MaxConcurrentSymbols: e.integer("BINANCE_MAX_WORKERS", 2),

		NBPBaseURL:           strings.TrimRight(e.str("NBP_API_BASE_URL", "https://api.nbp.pl"), "/"),
		NBPRequestsPerSecond: e.number("NBP_REQUESTS_PER_SECOND", 5),
		RateCacheTTL:         e.duration("RATE_CACHE_TTL", 24*time.Hour),
		RateSyncSchedule:     e.str("RATE_SYNC_SCHEDULE", ""),
		RateSyncCurrencies:   e.currencies("RATE_SYNC_CURRENCIES"),

		JWTSecret:          e.str("JWT_SECRET", ""),
		AccessTokenExpiry:  e.duration("JWT_ACCESS_TOKEN_EXPIRY", 60*time.Minute),
		CORSAllowedOrigins: e.list("CORS_ALLOWED_ORIGINS"),
		MaxUploadSizeBytes: int64(e.integer("MAX_UPLOAD_SIZE_BYTES", 10*1024*1024)),
		APIRequestsPerSec:  e.number("API_REQUESTS_PER_SECOND", 10),
		ReportCacheTTL:     e.duration("REPORT_CACHE_TTL", 15*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded",
		"port", cfg.Port,
		"logLevel", cfg.LogLevel,
		"dbPath", cfg.DatabasePath,
		"taxYear", cfg.TaxYear,
		"settlementDay", cfg.SettlementDay,
		"timezone", cfg.TaxTimezone.String(),
		"accounts", len(cfg.Accounts))
	return cfg, nil
}

// Validate reports configuration errors that must stop the program before any trade is processed.
func (c *AppConfig) Validate() error {
	var problems []string
	if c.SettlementDay > 0 {
		problems = append(problems, fmt.Sprintf("SETTLEMENT_DAY must be zero or negative, got %d", c.SettlementDay))
	}
	if c.PreviousYearCosts.IsNegative() {
		problems = append(problems, fmt.Sprintf("PREVIOUS_YEAR_COST_FIELD36 must not be negative, got %s", c.PreviousYearCosts))
	}
	if c.TaxYear < 2000 || c.TaxYear > 9999 {
		problems = append(problems, fmt.Sprintf("TAX_YEAR %d is out of range", c.TaxYear))
	}
	if c.MaxLookbackDays <= 0 {
		problems = append(problems, "RATE_MAX_LOOKBACK_DAYS must be positive")
	}
	if c.MaxConcurrentSymbols <= 0 {
		problems = append(problems, "BINANCE_MAX_WORKERS must be positive")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		problems = append(problems, "JWT_SECRET must be at least 32 bytes when set")
	}

	names := make(map[string]bool)
	keys := make(map[string]bool)
	for _, a := range c.Accounts {
		if names[a.Name] {
			problems = append(problems, fmt.Sprintf("duplicate account name %q", a.Name))
		}
		names[a.Name] = true
		if keys[a.APIKey] {
			problems = append(problems, fmt.Sprintf("API key of account %q is used by another account", a.Name))
		}
		keys[a.APIKey] = true
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// WithAccounts returns a copy restricted to the named accounts. The receiver is left untouched.
func (c *AppConfig) WithAccounts(names ...string) (*AppConfig, error) {
	byName := make(map[string]Account, len(c.Accounts))
	for _, a := range c.Accounts {
		byName[a.Name] = a
	}
	selected := make([]Account, 0, len(names))
	for _, n := range names {
		a, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("%w: unknown account %q", ErrInvalidConfig, n)
		}
		selected = append(selected, a)
	}
	view := *c
	view.Accounts = selected
	view.FilterQuoteAssets = append([]string(nil), c.FilterQuoteAssets...)
	view.RateSyncCurrencies = append([]string(nil), c.RateSyncCurrencies...)
	view.CORSAllowedOrigins = append([]string(nil), c.CORSAllowedOrigins...)
	return &view, nil
}

// AccountsFor lists the accounts configured for one exchange.
func (c *AppConfig) AccountsFor(exchange string) []Account {
	var out []Account
	for _, a := range c.Accounts {
		if a.Exchange == exchange {
			out = append(out, a)
		}
	}
	return out
}

// loadAccounts reads PREFIX_1, PREFIX_API_KEY_1, PREFIX_API_SECRET_1, PREFIX_2 ... until the first gap.
func loadAccounts(e envReader, exchange, prefix string) ([]Account, error) {
	var accounts []Account
	for i := 1; ; i++ {
		id := strconv.Itoa(i)
		key, hasKey := e.lookup(prefix + "_API_KEY_" + id)
		secret, hasSecret := e.lookup(prefix + "_API_SECRET_" + id)
		if !hasKey && !hasSecret {
			break
		}
		if strings.TrimSpace(key) == "" || strings.TrimSpace(secret) == "" {
			return nil, fmt.Errorf("%w: %s account %s needs both %s_API_KEY_%s and %s_API_SECRET_%s",
				ErrInvalidConfig, exchange, id, prefix, id, prefix, id)
		}
		name, ok := e.lookup(prefix + "_" + id)
		if !ok || strings.TrimSpace(name) == "" {
			name = fmt.Sprintf("%s %s", strings.ToUpper(exchange[:1])+exchange[1:], id)
		}
		accounts = append(accounts, Account{
			ID:        id,
			Exchange:  exchange,
			Name:      strings.TrimSpace(name),
			APIKey:    strings.TrimSpace(key),
			APISecret: strings.TrimSpace(secret),
		})
	}
	return accounts, nil
}

type envReader struct {
	lookup func(string) (string, bool)
	logger *slog.Logger
}

func (e envReader) str(key, fallback string) string {
	if value, exists := e.lookup(key); exists {
		return value
	}
	e.logger.Debug("Environment variable not set, using default", "key", key, "default", fallback)
	return fallback
}

func (e envReader) integer(key string, fallback int) int {
	valueStr := strings.TrimSpace(e.str(key, ""))
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	e.logger.Warn("Invalid integer value, using default", "key", key, "value", valueStr, "default", fallback)
	return fallback
}

func (e envReader) number(key string, fallback float64) float64 {
	valueStr := strings.TrimSpace(e.str(key, ""))
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil && value > 0 {
		return value
	}
	e.logger.Warn("Invalid numeric value, using default", "key", key, "value", valueStr, "default", fallback)
	return fallback
}

func (e envReader) duration(key string, fallback time.Duration) time.Duration {
	valueStr := strings.TrimSpace(e.str(key, ""))
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	e.logger.Warn("Invalid duration value, using default", "key", key, "value", valueStr, "default", fallback.String())
	return fallback
}

func (e envReader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(e.str(key, ""), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (e envReader) currencies(key string) []string {
	out := e.list(key)
	for i := range out {
		out[i] = strings.ToUpper(out[i])
	}
	return out
}
