/**
 * @description
 * This package handles the configuration management for the ussd-service. It uses the
 * Viper library to read configuration from environment variables (and an optional .env
 * file), then normalises the values the USSD core depends on: session timeout, PIN
 * attempt ceiling, tier limits and the service charge.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"

	SessionBackendPostgres = "postgres"
	SessionBackendRedis    = "redis"
	SessionBackendMongo    = "mongo"
	SessionBackendMemory   = "memory"
)

// TierLimit is the (daily, monthly) debit ceiling for one account tier, in kobo.
type TierLimit struct {
	Daily   int64
	Monthly int64
}

// Config holds all the configuration variables for the ussd-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	StoreBackend         string `mapstructure:"STORE_BACKEND"`
	SessionBackend       string `mapstructure:"SESSION_BACKEND"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix       string `mapstructure:"REDIS_KEY_PREFIX"`
	MongoURI             string `mapstructure:"MONGO_URI"`
	MongoDatabase        string `mapstructure:"MONGO_DATABASE"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	EventsExchange       string `mapstructure:"EVENTS_EXCHANGE"`
	DepositEventQueue    string `mapstructure:"DEPOSIT_EVENT_QUEUE"`
	InternalAPIKey       string `mapstructure:"INTERNAL_API_KEY"`
	AdminJWTSecret       string `mapstructure:"ADMIN_JWT_SECRET"`
	AdminCORSOrigins     string `mapstructure:"ADMIN_CORS_ORIGINS"`
	USSDCode             string `mapstructure:"USSD_CODE"`
	BankName             string `mapstructure:"BANK_NAME"`
	SupportPhone         string `mapstructure:"SUPPORT_PHONE"`
	DefaultRegion        string `mapstructure:"DEFAULT_REGION"`
	TimeZone             string `mapstructure:"TIME_ZONE"`
	SessionTimeoutSecs   int    `mapstructure:"SESSION_TIMEOUT_SECONDS"`
	SessionSweepSchedule string `mapstructure:"SESSION_SWEEP_SCHEDULE"`
	MaxPINAttempts       int    `mapstructure:"MAX_PIN_ATTEMPTS"`
	HistoryMaxItems      int    `mapstructure:"HISTORY_MAX_ITEMS"`
	RateLimitPerMinute   int    `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	AirtimeVendorURL     string `mapstructure:"AIRTIME_VENDOR_URL"`
	AirtimeVendorAPIKey  string `mapstructure:"AIRTIME_VENDOR_API_KEY"`

	// Monetary settings are configured in naira and converted to kobo after load.
	TierLimits            map[int]TierLimit
	MaxTransferAmountKobo int64
	MinAirtimeAmountKobo  int64
	MaxAirtimeAmountKobo  int64
	USSDChargeKobo        int64
}

var defaultTierLimitsNaira = map[int][2]float64{
	1: {20000, 300000},
	2: {100000, 2000000},
	3: {500000, 5000000},
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_BACKEND", StoreBackendPostgres)
	viper.SetDefault("SESSION_BACKEND", SessionBackendPostgres)
	viper.SetDefault("REDIS_KEY_PREFIX", "ussd")
	viper.SetDefault("MONGO_DATABASE", "ussd_wallet")
	viper.SetDefault("EVENTS_EXCHANGE", "ussd.events")
	viper.SetDefault("DEPOSIT_EVENT_QUEUE", "ussd_service.deposits")
	viper.SetDefault("ADMIN_CORS_ORIGINS", "https://*,http://*")
	viper.SetDefault("USSD_CODE", "*384*2025#")
	viper.SetDefault("BANK_NAME", "QuickBank")
	viper.SetDefault("SUPPORT_PHONE", "0700-000-0000")
	viper.SetDefault("DEFAULT_REGION", "NG")
	viper.SetDefault("TIME_ZONE", "UTC")
	viper.SetDefault("SESSION_TIMEOUT_SECONDS", 90)
	viper.SetDefault("SESSION_SWEEP_SCHEDULE", "@every 1m")
	viper.SetDefault("MAX_PIN_ATTEMPTS", 3)
	viper.SetDefault("HISTORY_MAX_ITEMS", 10)
	viper.SetDefault("RATE_LIMIT_PER_MINUTE", 60)
	viper.SetDefault("MAX_TRANSFER_AMOUNT", "100000")
	viper.SetDefault("MIN_AIRTIME_AMOUNT", "50")
	viper.SetDefault("MAX_AIRTIME_AMOUNT", "10000")
	viper.SetDefault("USSD_CHARGE", "6.98")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range []string{
		"SERVER_PORT", "PORT", "DATABASE_URL", "STORE_BACKEND", "SESSION_BACKEND",
		"REDIS_URL", "REDIS_KEY_PREFIX", "MONGO_URI", "MONGO_DATABASE",
		"RABBITMQ_URL", "EVENTS_EXCHANGE", "DEPOSIT_EVENT_QUEUE",
		"INTERNAL_API_KEY", "ADMIN_JWT_SECRET", "ADMIN_CORS_ORIGINS",
		"USSD_CODE", "BANK_NAME", "SUPPORT_PHONE", "DEFAULT_REGION", "TIME_ZONE",
		"SESSION_TIMEOUT_SECONDS", "SESSION_SWEEP_SCHEDULE", "MAX_PIN_ATTEMPTS",
		"HISTORY_MAX_ITEMS", "RATE_LIMIT_PER_MINUTE",
		"AIRTIME_VENDOR_URL", "AIRTIME_VENDOR_API_KEY",
		"MAX_TRANSFER_AMOUNT", "MIN_AIRTIME_AMOUNT", "MAX_AIRTIME_AMOUNT", "USSD_CHARGE",
		"TIER1_DAILY_LIMIT", "TIER1_MONTHLY_LIMIT",
		"TIER2_DAILY_LIMIT", "TIER2_MONTHLY_LIMIT",
		"TIER3_DAILY_LIMIT", "TIER3_MONTHLY_LIMIT",
	} {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "USSD_REDIS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "USSD_SERVICE_INTERNAL_API_KEY")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisKeyPrefix = strings.TrimSuffix(strings.TrimSpace(config.RedisKeyPrefix), ":")
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "ussd"
	}

	config.StoreBackend = strings.ToLower(strings.TrimSpace(config.StoreBackend))
	switch config.StoreBackend {
	case StoreBackendPostgres, StoreBackendMemory:
	default:
		log.Printf("level=warn component=config msg=\"unknown store backend; using postgres\" value=%q", config.StoreBackend)
		config.StoreBackend = StoreBackendPostgres
	}

	config.SessionBackend = strings.ToLower(strings.TrimSpace(config.SessionBackend))
	switch config.SessionBackend {
	case SessionBackendPostgres, SessionBackendRedis, SessionBackendMongo, SessionBackendMemory:
	default:
		log.Printf("level=warn component=config msg=\"unknown session backend; using postgres\" value=%q", config.SessionBackend)
		config.SessionBackend = SessionBackendPostgres
	}

	if config.SessionTimeoutSecs <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive session timeout; using default\" value=%d", config.SessionTimeoutSecs)
		config.SessionTimeoutSecs = 90
	}
	if config.MaxPINAttempts <= 0 {
		config.MaxPINAttempts = 3
	}
	if config.HistoryMaxItems <= 0 {
		config.HistoryMaxItems = 10
	}
	if strings.TrimSpace(config.SessionSweepSchedule) == "" {
		config.SessionSweepSchedule = "@every 1m"
	}
	if strings.TrimSpace(config.DefaultRegion) == "" {
		config.DefaultRegion = "NG"
	}
	config.DefaultRegion = strings.ToUpper(strings.TrimSpace(config.DefaultRegion))

	config.MaxTransferAmountKobo = nairaSettingToKobo("MAX_TRANSFER_AMOUNT", 10000000)
	config.MinAirtimeAmountKobo = nairaSettingToKobo("MIN_AIRTIME_AMOUNT", 5000)
	config.MaxAirtimeAmountKobo = nairaSettingToKobo("MAX_AIRTIME_AMOUNT", 1000000)
	config.USSDChargeKobo = nairaSettingToKobo("USSD_CHARGE", 698)
	if config.MinAirtimeAmountKobo > config.MaxAirtimeAmountKobo {
		log.Printf("level=warn component=config msg=\"airtime minimum above maximum; swapping\" min_kobo=%d max_kobo=%d", config.MinAirtimeAmountKobo, config.MaxAirtimeAmountKobo)
		config.MinAirtimeAmountKobo, config.MaxAirtimeAmountKobo = config.MaxAirtimeAmountKobo, config.MinAirtimeAmountKobo
	}

	config.TierLimits = make(map[int]TierLimit, len(defaultTierLimitsNaira))
	for tier, defaults := range defaultTierLimitsNaira {
		daily := nairaSettingToKobo(tierKey(tier, "DAILY"), nairaToKobo(defaults[0]))
		monthly := nairaSettingToKobo(tierKey(tier, "MONTHLY"), nairaToKobo(defaults[1]))
		if monthly < daily {
			log.Printf("level=warn component=config msg=\"monthly limit below daily limit; raising monthly\" tier=%d daily_kobo=%d monthly_kobo=%d", tier, daily, monthly)
			monthly = daily
		}
		config.TierLimits[tier] = TierLimit{Daily: daily, Monthly: monthly}
	}

	return
}

// SessionTimeout returns the inactivity window as a duration.
func (c Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSecs) * time.Second
}

// Location resolves TIME_ZONE, falling back to UTC.
func (c Config) Location() *time.Location {
	name := strings.TrimSpace(c.TimeZone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("level=warn component=config msg=\"invalid TIME_ZONE; using UTC\" value=%q err=%v", name, err)
		return time.UTC
	}
	return loc
}

// AdminOrigins splits ADMIN_CORS_ORIGINS on commas.
func (c Config) AdminOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.AdminCORSOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func tierKey(tier int, window string) string {
	return "TIER" + strconv.Itoa(tier) + "_" + window + "_LIMIT"
}

func nairaToKobo(value float64) int64 {
	return int64(math.Round(value * 100))
}

// nairaSettingToKobo reads a whole-currency setting and converts it to kobo, falling back
// to the given default on empty, unparsable or negative values.
func nairaSettingToKobo(key string, fallback int64) int64 {
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("level=warn component=config msg=\"invalid amount setting; using default\" key=%s value=%q err=%v", key, raw, err)
		return fallback
	}
	if value < 0 {
		log.Printf("level=warn component=config msg=\"negative amount setting; using default\" key=%s value=%q", key, raw)
		return fallback
	}
	return nairaToKobo(value)
}
