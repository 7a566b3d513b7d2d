package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. MAILPIPE_DATABASE_URL.
const EnvPrefix = "MAILPIPE"

// Load reads configuration from defaults, an optional config.yaml in the
// working directory, a .env file and MAILPIPE_* environment variables, in
// increasing order of precedence. The result is validated.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches the
// working directory for config.yaml and tolerates its absence.
func LoadFile(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without defaults are invisible to AutomaticEnv during Unmarshal.
	for _, key := range []string{
		"database.url",
		"auth.jwt_secret",
		"llm.gemini_api_key",
		"converter.url",
		"nsq.lookupd_address",
		"nsq.nsqd_address",
		"notification.from_email",
		"notification.aws_region",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("auth.token_lifetime", "1h")

	v.SetDefault("worker.interval", "5s")
	v.SetDefault("worker.batch_size", 5)
	v.SetDefault("worker.base_retry_delay", "60s")
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.task_timeout", "10m")

	v.SetDefault("reaper.interval", "1h")
	v.SetDefault("reaper.threshold", "30m")

	v.SetDefault("outbox.interval", "5s")
	v.SetDefault("outbox.batch_size", 10)
	v.SetDefault("outbox.base_retry_delay", "60s")
	v.SetDefault("outbox.http_timeout", "30s")
	v.SetDefault("outbox.stale_after", "30m")

	v.SetDefault("storage.document_root", "data/documents")
	v.SetDefault("storage.results_dir", "data/results")
	v.SetDefault("storage.template_root", "data/templates")

	v.SetDefault("converter.timeout", "60s")

	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.timeout", "120s")

	v.SetDefault("nsq.enabled", false)
	v.SetDefault("nsq.intake_topic", "attachments.ready")
	v.SetDefault("nsq.intake_channel", "mailpipe-extraction")
	v.SetDefault("nsq.completed_topic", "")

	v.SetDefault("notification.provider", "log")
}
