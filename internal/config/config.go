package config

import "time"

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server" validate:"required"`
	Database     DatabaseConfig     `mapstructure:"database" validate:"required"`
	Auth         AuthConfig         `mapstructure:"auth" validate:"required"`
	Worker       WorkerConfig       `mapstructure:"worker" validate:"required"`
	Reaper       ReaperConfig       `mapstructure:"reaper" validate:"required"`
	Outbox       OutboxConfig       `mapstructure:"outbox" validate:"required"`
	Storage      StorageConfig      `mapstructure:"storage" validate:"required"`
	Converter    ConverterConfig    `mapstructure:"converter" validate:"required"`
	LLM          LLMConfig          `mapstructure:"llm" validate:"required"`
	NSQ          NSQConfig          `mapstructure:"nsq"`
	Notification NotificationConfig `mapstructure:"notification" validate:"required"`
}

// ServerConfig contains the operator API settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"required,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// AuthConfig contains the operator API authentication settings.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"gt=0"`
}

// WorkerConfig controls the extraction worker loop.
type WorkerConfig struct {
	Interval       time.Duration `mapstructure:"interval" validate:"gt=0"`
	BatchSize      int           `mapstructure:"batch_size" validate:"gt=0"`
	BaseRetryDelay time.Duration `mapstructure:"base_retry_delay" validate:"gt=0"`
	MaxAttempts    int           `mapstructure:"max_attempts" validate:"gt=0"`
	TaskTimeout    time.Duration `mapstructure:"task_timeout" validate:"gt=0"`
}

// ReaperConfig controls stuck-task recovery.
type ReaperConfig struct {
	Interval  time.Duration `mapstructure:"interval" validate:"gt=0"`
	Threshold time.Duration `mapstructure:"threshold" validate:"gt=0"`
}

// OutboxConfig controls webhook delivery.
type OutboxConfig struct {
	Interval       time.Duration `mapstructure:"interval" validate:"gt=0"`
	BatchSize      int           `mapstructure:"batch_size" validate:"gt=0"`
	BaseRetryDelay time.Duration `mapstructure:"base_retry_delay" validate:"gt=0"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout" validate:"gt=0"`
	StaleAfter     time.Duration `mapstructure:"stale_after" validate:"gt=0"`
}

// StorageConfig locates input documents and extraction results.
type StorageConfig struct {
	DocumentRoot string `mapstructure:"document_root" validate:"required"`
	ResultsDir   string `mapstructure:"results_dir" validate:"required"`
	TemplateRoot string `mapstructure:"template_root" validate:"required"`
}

// ConverterConfig points at the PDF conversion service.
type ConverterConfig struct {
	URL     string        `mapstructure:"url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// LLMConfig contains the Gemini extraction settings.
type LLMConfig struct {
	GeminiAPIKey string        `mapstructure:"gemini_api_key" validate:"required"`
	ModelName    string        `mapstructure:"model_name" validate:"required"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// NSQConfig controls the attachment intake consumer and the completion publisher.
type NSQConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	LookupdAddress string `mapstructure:"lookupd_address" validate:"required_if=Enabled true"`
	NSQDAddress    string `mapstructure:"nsqd_address" validate:"required_if=Enabled true"`
	IntakeTopic    string `mapstructure:"intake_topic" validate:"required_if=Enabled true"`
	IntakeChannel  string `mapstructure:"intake_channel" validate:"required_if=Enabled true"`
	CompletedTopic string `mapstructure:"completed_topic"`
}

// NotificationConfig selects how senders are told their email finished.
type NotificationConfig struct {
	Provider  string `mapstructure:"provider" validate:"required,oneof=log ses"`
	FromEmail string `mapstructure:"from_email" validate:"required_if=Provider ses"`
	AWSRegion string `mapstructure:"aws_region" validate:"required_if=Provider ses"`
}
