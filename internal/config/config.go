package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	DBUser        string
	DBPassword    string
	DBName        string
	DBHost        string
	DBPort        string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	BotToken      string
	AdminIDs      []int64
	// AnnounceChatID receives settlement announcements (the group the bot runs in).
	AnnounceChatID int64

	EtherscanURL    string
	EtherscanKey    string
	EtherscanRPS    float64
	EthRPCURL       string
	ExplorerBaseURL string

	SettlementInterval time.Duration
	StopSalesLead      time.Duration
	BlockConfirmations uint64
	GrantTimeout       time.Duration
	WithdrawMin        decimal.Decimal

	LogLevel string
	LogFile  string

	OpsAddr         string
	OpsAllowedCIDRs []string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		DBUser:          getEnv("DB_USER", "postgres"),
		DBPassword:      getEnv("DB_PASSWORD", "postgres"),
		DBName:          getEnv("DB_NAME", "sweepstake_bot"),
		DBHost:          getEnv("DB_HOST", "localhost"),
		DBPort:          getEnv("DB_PORT", "5432"),
		RedisHost:       getEnv("REDIS_HOST", ""),
		RedisPort:       getEnv("REDIS_PORT", "6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		BotToken:        getEnv("TELEGRAM_BOT_TOKEN", ""),
		AdminIDs:        getEnvInt64List("ADMIN_IDS"),
		AnnounceChatID:  getEnvInt64("ANNOUNCE_CHAT_ID", 0),
		EtherscanURL:    getEnv("ETHERSCAN_API_URL", "https://api.etherscan.io/api"),
		EtherscanKey:    getEnv("ETHERSCAN_API_KEY", ""),
		EtherscanRPS:    getEnvFloat("ETHERSCAN_RPS", 4),
		EthRPCURL:       getEnv("ETH_RPC_URL", ""),
		ExplorerBaseURL: getEnv("EXPLORER_BASE_URL", "https://etherscan.io"),

		SettlementInterval: getEnvDuration("SETTLEMENT_INTERVAL", time.Minute),
		StopSalesLead:      getEnvDuration("STOP_SALES_LEAD", 2*time.Hour),
		BlockConfirmations: getEnvUint64("BLOCK_CONFIRMATIONS", 12),
		GrantTimeout:       getEnvDuration("GRANT_TIMEOUT", 5*time.Minute),
		WithdrawMin:        getEnvDecimal("WITHDRAW_MIN", decimal.NewFromInt(1)),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", "sweepstake-bot.log"),

		OpsAddr:         getEnv("OPS_ADDR", ":9090"),
		OpsAllowedCIDRs: getEnvList("OPS_ALLOWED_CIDRS", []string{"127.0.0.0/8", "::1/128", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}),
	}
}

// IsAdmin reports whether the Telegram user may run privileged commands.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// RedisEnabled reports whether a Redis host was configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("Invalid %s=%q, using %d", key, raw, fallback)
		return fallback
	}
	return v
}

// getEnvUint64 accepts zero and rejects negative values.
func getEnvUint64(key string, fallback uint64) uint64 {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		log.Printf("Invalid %s=%q, using %d", key, raw, fallback)
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("Invalid %s=%q, using %v", key, raw, fallback)
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		log.Printf("Invalid %s=%q, using %s", key, raw, fallback)
		return fallback
	}
	return v
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return fallback
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		log.Printf("Invalid %s=%q, using %s", key, raw, fallback)
		return fallback
	}
	return v
}

func getEnvList(key string, fallback []string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt64List(key string) []int64 {
	var out []int64
	for _, part := range getEnvList(key, nil) {
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			log.Printf("Skipping invalid %s entry %q", key, part)
			continue
		}
		out = append(out, v)
	}
	return out
}
