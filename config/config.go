// config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	StoreREST     = "rest"
	StorePostgres = "postgres"

	StorageRecordStore = "supabase"
	StorageS3          = "s3"
)

type Config struct {
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Moderators ModeratorsConfig `mapstructure:"moderators"`
	Store      StoreConfig      `mapstructure:"store"`
	Supabase   SupabaseConfig   `mapstructure:"supabase"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Storage    StorageConfig    `mapstructure:"storage"`
	OCR        OCRConfig        `mapstructure:"ocr"`
	Stripe     StripeConfig     `mapstructure:"stripe"`
	YooKassa   YooKassaConfig   `mapstructure:"yookassa"`
	Qiwi       QiwiConfig       `mapstructure:"qiwi"`
	Tinkoff    TinkoffConfig    `mapstructure:"tinkoff"`
	Payment    PaymentConfig    `mapstructure:"payment"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
	Debug bool   `mapstructure:"debug"`
}

type ModeratorsConfig struct {
	ChatIDs string  `mapstructure:"chat_ids"`
	IDs     []int64 `mapstructure:"-"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type SupabaseConfig struct {
	URL        string        `mapstructure:"url"`
	ServiceKey string        `mapstructure:"service_key"`
	Bucket     string        `mapstructure:"bucket"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type DBConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	DBName       string        `mapstructure:"name"`
	SSLMode      string        `mapstructure:"ssl_mode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	ConnLifetime time.Duration `mapstructure:"conn_lifetime"`
}

// RedisConfig with an empty Addr keeps bot state in process memory.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type StorageConfig struct {
	Driver        string `mapstructure:"driver"`
	Endpoint      string `mapstructure:"endpoint"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	Bucket        string `mapstructure:"bucket"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// OCRConfig with an empty APIKey disables text extraction; every screenshot then goes to moderators.
type OCRConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type StripeConfig struct {
	SecretKey  string `mapstructure:"secret_key"`
	WebhookKey string `mapstructure:"webhook_key"`
	PriceID    string `mapstructure:"price_id"`
}

type YooKassaConfig struct {
	ShopID    string `mapstructure:"shop_id"`
	SecretKey string `mapstructure:"secret_key"`
}

type QiwiConfig struct {
	WebhookKey string `mapstructure:"webhook_key"`
}

type TinkoffConfig struct {
	TerminalPassword string `mapstructure:"terminal_password"`
}

type PaymentConfig struct {
	Amount                string        `mapstructure:"amount"`
	Currency              string        `mapstructure:"currency"`
	Window                time.Duration `mapstructure:"window"`
	AccessTTL             time.Duration `mapstructure:"access_ttl"`
	AccessBaseURL         string        `mapstructure:"access_base_url"`
	AutoApproveConfidence int           `mapstructure:"auto_approve_confidence"`
	ScreenshotWaitTTL     time.Duration `mapstructure:"screenshot_wait_ttl"`
	DedupeTTL             time.Duration `mapstructure:"dedupe_ttl"`
	SupportContact        string        `mapstructure:"support_contact"`
	Requisites            string        `mapstructure:"requisites"`
}

type ServerConfig struct {
	Port      string  `mapstructure:"port"`
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

var defaults = map[string]interface{}{
	"telegram.token":                   "",
	"telegram.debug":                   false,
	"moderators.chat_ids":              "",
	"store.driver":                     StoreREST,
	"supabase.url":                     "",
	"supabase.service_key":             "",
	"supabase.bucket":                  "payment-screenshots",
	"supabase.timeout":                 15 * time.Second,
	"db.host":                          "localhost",
	"db.port":                          "5432",
	"db.user":                          "postgres",
	"db.password":                      "postgres",
	"db.name":                          "vip_bot",
	"db.ssl_mode":                      "disable",
	"db.max_open_conns":                20,
	"db.max_idle_conns":                10,
	"db.conn_lifetime":                 5 * time.Minute,
	"redis.addr":                       "",
	"redis.password":                   "",
	"redis.db":                         0,
	"storage.driver":                   StorageRecordStore,
	"storage.endpoint":                 "",
	"storage.access_key":               "",
	"storage.secret_key":               "",
	"storage.bucket":                   "payment-screenshots",
	"storage.use_ssl":                  true,
	"storage.public_base_url":          "",
	"ocr.api_key":                      "",
	"ocr.model":                        "gpt-4o",
	"stripe.secret_key":                "",
	"stripe.webhook_key":               "",
	"stripe.price_id":                  "",
	"yookassa.shop_id":                 "",
	"yookassa.secret_key":              "",
	"qiwi.webhook_key":                 "",
	"tinkoff.terminal_password":        "",
	"payment.amount":                   "500",
	"payment.currency":                 "RUB",
	"payment.window":                   24 * time.Hour,
	"payment.access_ttl":               30 * 24 * time.Hour,
	"payment.access_base_url":          "https://t.me/+",
	"payment.auto_approve_confidence":  80,
	"payment.screenshot_wait_ttl":      time.Hour,
	"payment.dedupe_ttl":               72 * time.Hour,
	"payment.support_contact":          "@support_username",
	"payment.requisites":               "",
	"server.port":                      "8080",
	"server.rate_limit":                20.0,
	"server.rate_burst":                40,
	"log.level":                        "info",
	"log.development":                  false,
	"shutdown_timeout":                 10 * time.Second,
}

// Environment names the bot has always been deployed with.
var legacyEnv = map[string][]string{
	"telegram.token":       {"TELEGRAM_TOKEN", "BOT_TOKEN"},
	"moderators.chat_ids":  {"MODERATORS_CHAT_IDS", "MODERATOR_CHAT_IDS"},
	"supabase.url":         {"SUPABASE_URL"},
	"supabase.service_key": {"SUPABASE_SERVICE_KEY", "SUPABASE_SERVICE_ROLE_KEY"},
}

// Load loads the configuration
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")
	v.AddConfigPath("$HOME/.vip-bot")

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Process any ${ENV_VAR} syntax in the config values
	for _, key := range v.AllKeys() {
		value := v.GetString(key)
		if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
			envVar := strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${")
			if envValue := os.Getenv(envVar); envValue != "" {
				v.Set(key, envValue)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	ids, err := ParseIDs(cfg.Moderators.ChatIDs)
	if err != nil {
		return nil, fmt.Errorf("invalid moderator chat ids: %w", err)
	}
	cfg.Moderators.IDs = ids

	return &cfg, nil
}

// Validate checks the settings the process cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram token is not configured")
	}

	switch c.Store.Driver {
	case StoreREST:
		if c.Supabase.URL == "" || c.Supabase.ServiceKey == "" {
			return errors.New("record store url and service key are required for the rest driver")
		}
	case StorePostgres:
		if c.DB.Host == "" || c.DB.DBName == "" {
			return errors.New("db host and name are required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Storage.Driver {
	case StorageRecordStore:
		if c.Store.Driver != StoreREST {
			return errors.New("record store object storage requires the rest store driver")
		}
	case StorageS3:
		if c.Storage.Endpoint == "" || c.Storage.Bucket == "" {
			return errors.New("s3 endpoint and bucket are required for the s3 storage driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if _, err := c.Payment.Price(); err != nil {
		return err
	}
	if c.Payment.AutoApproveConfidence < 60 || c.Payment.AutoApproveConfidence > 100 {
		return fmt.Errorf("auto approve confidence must be within [60, 100], got %d", c.Payment.AutoApproveConfidence)
	}
	return nil
}

// Price returns the configured fee.
func (p PaymentConfig) Price() (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(p.Amount))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid payment amount %q: %w", p.Amount, err)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("payment amount must be positive, got %s", amount)
	}
	return amount, nil
}

// ParseIDs parses a comma separated list of chat ids, skipping blanks.
func ParseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
