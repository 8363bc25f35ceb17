package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Quota     QuotaConfig
	Provider  ProviderConfig
	Storage   StorageConfig
	Pipeline  PipelineConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	DSN string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type RateLimitConfig struct {
	SubmitPerHour int
}

type QuotaConfig struct {
	// MonthlyLimit caps completed submissions per owner per calendar month.
	MonthlyLimit int
}

type ProviderConfig struct {
	BaseURL       string
	APIKey        string
	SubmitTimeout time.Duration
	PollTimeout   time.Duration
	FetchTimeout  time.Duration
}

type StorageConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type PipelineConfig struct {
	Concurrency  int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	PollInterval time.Duration

	SweepInterval time.Duration
	PendingGrace  time.Duration
	StuckAfter    time.Duration
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	viper.SetDefault("server.port", "3000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("database.dsn", "host=localhost user=imageforge password=imageforge dbname=imageforge port=5432 sslmode=disable")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("ratelimit.submit_per_hour", 30)
	viper.SetDefault("quota.monthly_limit", 200)
	viper.SetDefault("provider.base_url", "https://api.flux.dev")
	viper.SetDefault("provider.api_key", "")
	viper.SetDefault("provider.submit_timeout", "30s")
	viper.SetDefault("provider.poll_timeout", "15s")
	viper.SetDefault("provider.fetch_timeout", "60s")
	viper.SetDefault("storage.endpoint", "")
	viper.SetDefault("storage.region", "auto")
	viper.SetDefault("storage.access_key_id", "")
	viper.SetDefault("storage.secret_access_key", "")
	viper.SetDefault("storage.bucket_name", "imageforge-artifacts")
	viper.SetDefault("storage.public_url", "")
	viper.SetDefault("pipeline.concurrency", 10)
	viper.SetDefault("pipeline.max_attempts", 5)
	viper.SetDefault("pipeline.base_backoff", "2s")
	viper.SetDefault("pipeline.max_backoff", "60s")
	viper.SetDefault("pipeline.poll_interval", "5s")
	viper.SetDefault("pipeline.sweep_interval", "1m")
	viper.SetDefault("pipeline.pending_grace", "30s")
	viper.SetDefault("pipeline.stuck_after", "2m")

	// Config file is optional; env vars and defaults cover everything.
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Database: DatabaseConfig{
			DSN: viper.GetString("database.dsn"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerHour: viper.GetInt("ratelimit.submit_per_hour"),
		},
		Quota: QuotaConfig{
			MonthlyLimit: viper.GetInt("quota.monthly_limit"),
		},
		Provider: ProviderConfig{
			BaseURL:       viper.GetString("provider.base_url"),
			APIKey:        viper.GetString("provider.api_key"),
			SubmitTimeout: viper.GetDuration("provider.submit_timeout"),
			PollTimeout:   viper.GetDuration("provider.poll_timeout"),
			FetchTimeout:  viper.GetDuration("provider.fetch_timeout"),
		},
		Storage: StorageConfig{
			Endpoint:        viper.GetString("storage.endpoint"),
			Region:          viper.GetString("storage.region"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			BucketName:      viper.GetString("storage.bucket_name"),
			PublicURL:       viper.GetString("storage.public_url"),
		},
		Pipeline: PipelineConfig{
			Concurrency:   viper.GetInt("pipeline.concurrency"),
			MaxAttempts:   viper.GetInt("pipeline.max_attempts"),
			BaseBackoff:   viper.GetDuration("pipeline.base_backoff"),
			MaxBackoff:    viper.GetDuration("pipeline.max_backoff"),
			PollInterval:  viper.GetDuration("pipeline.poll_interval"),
			SweepInterval: viper.GetDuration("pipeline.sweep_interval"),
			PendingGrace:  viper.GetDuration("pipeline.pending_grace"),
			StuckAfter:    viper.GetDuration("pipeline.stuck_after"),
		},
	}

	return cfg, nil
}
