package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

var cardBINPattern = regexp.MustCompile(`^[0-9]{6,8}$`)

// Config holds application configuration
type Config struct {
	Port        string
	DBConn      string
	RepoBackend string
	LogLevel    string

	JWTSecret       string
	IDTokenTTL      time.Duration
	RefreshSecret   string
	RefreshTokenTTL time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CBRURL          string
	KeyRateSchedule string

	HMACSecret      string
	EncryptionKey   string
	CardBIN         string
	DefaultCurrency string
	SignupBonus     decimal.Decimal

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string

	KafkaBrokers []string
	KafkaTopic   string

	HandlerTimeout time.Duration
	MaxBodyBytes   int64
	AllowedOrigins []string

	InitialDataSequential bool
	RunMigrations         bool

	// Users registering with these emails get the admin role
	AdminEmails []string
}

// NewConfig loads configuration from environment variables.
// A .env file in the working directory is read first when present.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		DBConn:          getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=bank sslmode=disable"),
		RepoBackend:     getEnv("REPO_BACKEND", "pg"),
		LogLevel:        getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:       getEnv("JWT_SECRET", "secret"),
		IDTokenTTL:      getEnvAsDuration("ID_TOKEN_TTL", 15*time.Minute),
		RefreshSecret:   getEnv("REFRESH_SECRET", "refresh-secret"),
		RefreshTokenTTL: getEnvAsDuration("REFRESH_TOKEN_TTL", 72*time.Hour),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvAsInt("REDIS_DB", 0),
		CBRURL:          getEnv("CBR_URL", "https://www.cbr.ru/DailyInfoWebServ/DailyInfo.asmx"),
		KeyRateSchedule: getEnv("KEY_RATE_SCHEDULE", "@hourly"),
		HMACSecret:      getEnv("HMAC_SECRET", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"),
		EncryptionKey:   getEnv("ENCRYPTION_KEY", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"),
		CardBIN:         getEnv("CARD_BIN", "400000"),
		DefaultCurrency: strings.ToUpper(getEnv("DEFAULT_CURRENCY", "RUB")),
		SMTPHost:        getEnv("SMTP_HOST", ""),
		SMTPPort:        getEnv("SMTP_PORT", "587"),
		SMTPUsername:    getEnv("SMTP_USERNAME", ""),
		SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
		SenderEmail:     getEnv("SENDER_EMAIL", "no-reply@gopay.local"),
		KafkaBrokers:    splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:      getEnv("KAFKA_TOPIC", "gopay.events"),
		HandlerTimeout:  getEnvAsDuration("HANDLER_TIMEOUT", 10*time.Second),
		MaxBodyBytes:    int64(getEnvAsInt("MAX_BODY_BYTES", 1<<20)),
		AllowedOrigins:  splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		InitialDataSequential: getEnvAsBool("INITIAL_DATA_SEQUENTIAL", false),
		RunMigrations:         getEnvAsBool("RUN_MIGRATIONS", true),
		AdminEmails:           splitCSV(strings.ToLower(getEnv("ADMIN_EMAILS", ""))),
	}

	bonus, err := decimal.NewFromString(getEnv("SIGNUP_BONUS", "500"))
	if err != nil {
		return nil, fmt.Errorf("invalid SIGNUP_BONUS: %w", err)
	}
	cfg.SignupBonus = bonus

	if cfg.RepoBackend != "pg" && cfg.RepoBackend != "mem" {
		return nil, fmt.Errorf("unsupported REPO_BACKEND=%s", cfg.RepoBackend)
	}
	if cfg.RepoBackend == "pg" && cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.RefreshSecret == "" {
		return nil, fmt.Errorf("REFRESH_SECRET is required")
	}
	if cfg.HMACSecret == "" {
		return nil, fmt.Errorf("HMAC_SECRET is required")
	}
	if _, err := cfg.EncryptionKeyBytes(); err != nil {
		return nil, err
	}
	if !cardBINPattern.MatchString(cfg.CardBIN) {
		return nil, fmt.Errorf("CARD_BIN must be 6 to 8 digits, got %q", cfg.CardBIN)
	}
	if bonus.IsNegative() {
		return nil, fmt.Errorf("SIGNUP_BONUS must not be negative")
	}

	return cfg, nil
}

// EncryptionKeyBytes decodes ENCRYPTION_KEY into an AES key.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be hex encoded: %w", err)
	}
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must decode to 16, 24, or 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SMTPEnabled reports whether outgoing mail is configured.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultVal
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
