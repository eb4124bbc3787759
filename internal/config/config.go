package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // MARKET_TIMEZONE must resolve without a system zoneinfo

	"github.com/shopspring/decimal"

	"github.com/iremturen/stofina-sub001/internal/engine"
)

// Config holds all runtime configuration for the venue.
type Config struct {
	Port     int
	LogLevel string

	Symbols        []string
	PriceTolerance decimal.Decimal
	VWAPWindow     time.Duration

	DisplayRefreshInterval time.Duration
	MatchSweepInterval     time.Duration
	ExpirationInterval     time.Duration
	PhaseInterval          time.Duration
	WatcherCleanupInterval time.Duration

	MarketTimezone *time.Location
	MarketOpen     time.Duration // offset from local midnight
	MarketClose    time.Duration

	LedgerURL           string // in-process ledger when empty
	LedgerTimeout       time.Duration
	LedgerRetries       int
	LedgerBackoff       time.Duration
	LedgerInitialCash   int64 // cents
	LedgerInitialShares int64

	KafkaBrokers     []string // no Kafka when empty
	KafkaEventsTopic string
	KafkaTicksTopic  string

	BroadcastWebhookURL string
	WebhookTimeout      time.Duration

	// Simulated ticks are used when no Kafka tick topic is consumed.
	SeedPrice      int64 // cents
	TickInterval   time.Duration
	TickVolatility decimal.Decimal

	JournalDir    string // in-memory trades only when empty
	Workers       int
	WorkerQueue   int
	PyroscopeAddr string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for the first invalid value.
func Load() (*Config, error) {
	l := &loader{}
	cfg := &Config{
		Port:     l.integer("PORT", 8080),
		LogLevel: getStr("LOG_LEVEL", "info"),

		Symbols:        getList("SYMBOLS", "AAPL,MSFT,GOOG"),
		PriceTolerance: l.dec("PRICE_TOLERANCE", "0.10"),
		VWAPWindow:     l.duration("VWAP_WINDOW", 5*time.Minute),

		DisplayRefreshInterval: l.duration("DISPLAY_REFRESH_INTERVAL", 5*time.Second),
		MatchSweepInterval:     l.duration("MATCH_SWEEP_INTERVAL", 2*time.Second),
		ExpirationInterval:     l.duration("EXPIRATION_INTERVAL", 1*time.Second),
		PhaseInterval:          l.duration("PHASE_INTERVAL", 30*time.Second),
		WatcherCleanupInterval: l.duration("WATCHER_CLEANUP_INTERVAL", 1*time.Minute),

		MarketTimezone: l.location("MARKET_TIMEZONE", "UTC"),
		MarketOpen:     l.clock("MARKET_OPEN", "09:30"),
		MarketClose:    l.clock("MARKET_CLOSE", "16:00"),

		LedgerURL:           getStr("LEDGER_URL", ""),
		LedgerTimeout:       l.duration("LEDGER_TIMEOUT", 3*time.Second),
		LedgerRetries:       l.integer("LEDGER_RETRIES", 3),
		LedgerBackoff:       l.duration("LEDGER_BACKOFF", 100*time.Millisecond),
		LedgerInitialCash:   l.cents("LEDGER_INITIAL_CASH", "1000000.00"),
		LedgerInitialShares: int64(l.integer("LEDGER_INITIAL_SHARES", 10000)),

		KafkaBrokers:     getList("KAFKA_BROKERS", ""),
		KafkaEventsTopic: getStr("KAFKA_EVENTS_TOPIC", "stofina.events"),
		KafkaTicksTopic:  getStr("KAFKA_TICKS_TOPIC", "stofina.ticks"),

		BroadcastWebhookURL: getStr("BROADCAST_WEBHOOK_URL", ""),
		WebhookTimeout:      l.duration("WEBHOOK_TIMEOUT", 5*time.Second),

		SeedPrice:      l.cents("SEED_PRICE", "100.00"),
		TickInterval:   l.duration("TICK_INTERVAL", 1*time.Second),
		TickVolatility: l.dec("TICK_VOLATILITY", "0.002"),

		JournalDir:    getStr("JOURNAL_DIR", ""),
		Workers:       l.integer("WORKERS", 4),
		WorkerQueue:   l.integer("WORKER_QUEUE", 64),
		PyroscopeAddr: getStr("PYROSCOPE_ADDR", ""),

		ReadTimeout:     l.duration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    l.duration("WRITE_TIMEOUT", 10*time.Second),
		IdleTimeout:     l.duration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: l.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if l.err != nil {
		return nil, l.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", c.LogLevel)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d is outside 1-65535", c.Port)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("invalid SYMBOLS: at least one symbol is required")
	}
	if !c.PriceTolerance.IsPositive() || c.PriceTolerance.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("invalid PRICE_TOLERANCE: %s must be in (0, 1]", c.PriceTolerance)
	}
	if c.MarketClose <= c.MarketOpen {
		return fmt.Errorf("invalid MARKET_CLOSE: must be after MARKET_OPEN")
	}
	if c.LedgerRetries < 1 {
		return fmt.Errorf("invalid LEDGER_RETRIES: %d, must be >= 1", c.LedgerRetries)
	}
	if c.Workers < 1 || c.WorkerQueue < 1 {
		return fmt.Errorf("invalid WORKERS/WORKER_QUEUE: both must be >= 1")
	}
	if c.SeedPrice <= 0 {
		return fmt.Errorf("invalid SEED_PRICE: must be > 0")
	}
	if c.TickVolatility.IsNegative() || c.TickVolatility.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("invalid TICK_VOLATILITY: %s must be in [0, 1)", c.TickVolatility)
	}
	for key, d := range map[string]time.Duration{
		"DISPLAY_REFRESH_INTERVAL": c.DisplayRefreshInterval,
		"MATCH_SWEEP_INTERVAL":     c.MatchSweepInterval,
		"EXPIRATION_INTERVAL":      c.ExpirationInterval,
		"PHASE_INTERVAL":           c.PhaseInterval,
		"WATCHER_CLEANUP_INTERVAL": c.WatcherCleanupInterval,
		"TICK_INTERVAL":            c.TickInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid %s: must be > 0", key)
		}
	}
	return nil
}

// loader parses typed values and keeps the first failure.
type loader struct {
	err error
}

func (l *loader) fail(key string, err error) {
	if l.err == nil {
		l.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (l *loader) integer(key string, defaultVal int) int {
	v, err := getInt(key, defaultVal)
	if err != nil {
		l.fail(key, err)
	}
	return v
}

func (l *loader) duration(key string, defaultVal time.Duration) time.Duration {
	v, err := getDuration(key, defaultVal)
	if err != nil {
		l.fail(key, err)
	}
	return v
}

func (l *loader) dec(key, defaultVal string) decimal.Decimal {
	v, err := decimal.NewFromString(getStr(key, defaultVal))
	if err != nil {
		l.fail(key, err)
	}
	return v
}

// cents parses a dollar amount with at most two decimal places.
func (l *loader) cents(key, defaultVal string) int64 {
	d := l.dec(key, defaultVal)
	if !d.Equal(d.Round(2)) {
		l.fail(key, fmt.Errorf("%s has more than 2 decimal places", d))
		return 0
	}
	return d.Shift(2).IntPart()
}

func (l *loader) location(key, defaultVal string) *time.Location {
	loc, err := time.LoadLocation(getStr(key, defaultVal))
	if err != nil {
		l.fail(key, err)
		return time.UTC
	}
	return loc
}

func (l *loader) clock(key, defaultVal string) time.Duration {
	d, err := engine.ParseClock(getStr(key, defaultVal))
	if err != nil {
		l.fail(key, err)
	}
	return d
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

// getList splits a comma separated value, dropping blanks.
func getList(key, defaultVal string) []string {
	var out []string
	for _, part := range strings.Split(getStr(key, defaultVal), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
