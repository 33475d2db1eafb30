package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string
	Env                   string
	LogLevel              string
	DatabaseDriver        string // memory, postgres, sqlite
	DatabaseDSN           string
	JWTSecret             string
	AccessTokenTTLMinutes int
	RedisAddress          string
	RedisPassword         string
	SentryDSN             string

	MessageMaxLength         int
	LocationMaxAge           time.Duration
	DiscoveryRefreshInterval time.Duration

	Moderation ModerationConfig
}

type ModerationConfig struct {
	Timeout       time.Duration
	ClassifierURL string
	APIKey        string
	Model         string
	EventChannel  string
}

// Load 从可选的 config.yaml 与环境变量加载配置，非法值回退到默认值。
func Load() Config {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 配置文件不存在时只依赖环境变量
	_ = v.ReadInConfig()

	v.SetDefault("server.port", "8080")
	v.SetDefault("app.env", "dev")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=geochat port=5432 sslmode=disable TimeZone=UTC")
	v.SetDefault("auth.jwt_secret", defaultJWTSecret)
	v.SetDefault("auth.access_token_ttl_minutes", "1440")
	v.SetDefault("redis.address", "")
	v.SetDefault("message.max_length", "1000")
	v.SetDefault("session.location_max_age", "5m")
	v.SetDefault("discovery.refresh_interval", "30s")
	v.SetDefault("moderation.timeout", "10s")
	v.SetDefault("moderation.model", "gpt-4o-mini")
	v.SetDefault("moderation.event_channel", "moderation:reports")

	_ = v.BindEnv("server.port", "APP_PORT")
	_ = v.BindEnv("app.env", "APP_ENV")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("database.driver", "DATABASE_DRIVER")
	_ = v.BindEnv("database.dsn", "DATABASE_DSN")
	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("auth.access_token_ttl_minutes", "ACCESS_TOKEN_TTL_MINUTES")
	_ = v.BindEnv("redis.address", "REDIS_ADDRESS")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("sentry.dsn", "SENTRY_DSN")
	_ = v.BindEnv("message.max_length", "MESSAGE_MAX_LENGTH")
	_ = v.BindEnv("session.location_max_age", "LOCATION_MAX_AGE")
	_ = v.BindEnv("discovery.refresh_interval", "DISCOVERY_REFRESH_INTERVAL")
	_ = v.BindEnv("moderation.timeout", "MODERATION_TIMEOUT")
	_ = v.BindEnv("moderation.classifier_url", "CLASSIFIER_URL")
	_ = v.BindEnv("moderation.api_key", "CLASSIFIER_API_KEY")
	_ = v.BindEnv("moderation.model", "CLASSIFIER_MODEL")

	return Config{
		Port:                     v.GetString("server.port"),
		Env:                      v.GetString("app.env"),
		LogLevel:                 v.GetString("log.level"),
		DatabaseDriver:           strings.ToLower(v.GetString("database.driver")),
		DatabaseDSN:              v.GetString("database.dsn"),
		JWTSecret:                v.GetString("auth.jwt_secret"),
		AccessTokenTTLMinutes:    positiveInt(v, "auth.access_token_ttl_minutes", 1440),
		RedisAddress:             v.GetString("redis.address"),
		RedisPassword:            v.GetString("redis.password"),
		SentryDSN:                v.GetString("sentry.dsn"),
		MessageMaxLength:         positiveInt(v, "message.max_length", 1000),
		LocationMaxAge:           parseDuration(v, "session.location_max_age", 5*time.Minute),
		DiscoveryRefreshInterval: parseDuration(v, "discovery.refresh_interval", 30*time.Second),
		Moderation: ModerationConfig{
			Timeout:       parseDuration(v, "moderation.timeout", 10*time.Second),
			ClassifierURL: v.GetString("moderation.classifier_url"),
			APIKey:        v.GetString("moderation.api_key"),
			Model:         v.GetString("moderation.model"),
			EventChannel:  v.GetString("moderation.event_channel"),
		},
	}
}

// Validate 在启动前检查关键配置，生产环境禁止使用默认 JWT 密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("port is required")
	}
	if cfg.DatabaseDriver != "memory" && cfg.DatabaseDSN == "" {
		return errors.New("database dsn is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return fmt.Errorf("default jwt secret is not allowed in %s", cfg.Env)
	}
	if cfg.JWTSecret == "" {
		return errors.New("jwt secret is required")
	}
	return nil
}

func positiveInt(v *viper.Viper, key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parseDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
