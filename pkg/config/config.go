package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the bot controller.
type Config struct {
	Port      string
	AccountID string

	// Instance fingerprint recorded in halt audit rows so an operator can
	// tell which host issued a stop/resume.
	InstanceID string

	// Binance.US
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string
	Symbols          []string
	QuoteAsset       string

	// Execution
	ExecutionEnabled bool
	UseMockFeed      bool
	MaxSlippageBps   float64
	TickSize         float64

	// Decision loop
	CycleInterval        time.Duration
	PriceRefreshInterval time.Duration

	// Reconciliation
	ReconInterval time.Duration
	ReconAutoSync bool

	// Shutdown
	ShutdownGrace  time.Duration
	CancelDeadline time.Duration

	// Risk / playbooks
	RiskConfigPath string
	PlaybookPath   string
	StartingEquity float64

	// Database
	DBPath string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/bot.db")
	}

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		AccountID:            getEnv("ACCOUNT_ID", "default"),
		InstanceID:           instanceID(),
		BinanceTestnet:       getEnvBool("BINANCE_TESTNET", false),
		BinanceAPIKey:        os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:     os.Getenv("BINANCE_API_SECRET"),
		Symbols:              splitAndTrim(getEnv("SYMBOLS", "BTCUSD,ETHUSD")),
		QuoteAsset:           getEnv("QUOTE_ASSET", "USD"),
		ExecutionEnabled:     getEnvBool("EXECUTION_ENABLED", true),
		UseMockFeed:          getEnvBool("USE_MOCK_FEED", false),
		MaxSlippageBps:       getEnvFloat("MAX_SLIPPAGE_BPS", 20),
		TickSize:             getEnvFloat("DEFAULT_TICK_SIZE", 0.01),
		CycleInterval:        getEnvDuration("CYCLE_INTERVAL_SECONDS", 60),
		PriceRefreshInterval: getEnvDuration("PRICE_REFRESH_SECONDS", 15),
		ReconInterval:        getEnvDuration("RECON_INTERVAL_SECONDS", 300),
		ReconAutoSync:        getEnvBool("RECON_AUTO_SYNC", true),
		ShutdownGrace:        getEnvDuration("SHUTDOWN_GRACE_SECONDS", 10),
		CancelDeadline:       getEnvDuration("CANCEL_DEADLINE_SECONDS", 5),
		RiskConfigPath:       getEnv("RISK_CONFIG_PATH", ""),
		PlaybookPath:         getEnv("PLAYBOOK_PATH", ""),
		StartingEquity:       getEnvFloat("STARTING_EQUITY", 10000.0),
		DBPath:               dbPath,
	}, nil
}

// instanceID fetches a stable host identifier. Falls back to hostname when
// the machine id is unreadable (containers without /etc/machine-id).
func instanceID() string {
	if id, err := machineid.ProtectedID("binanceusbot"); err == nil {
		return id
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, strings.ToUpper(t))
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, defSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defSeconds)) * time.Second
}
