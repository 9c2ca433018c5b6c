package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	validSinks        = map[string]bool{"file": true, "minio": true, "s3": true}
	validMappingSinks = map[string]bool{"file": true, "minio": true, "s3": true, "dynamodb": true}
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// .env is optional; real environment always wins
	_ = godotenv.Load()

	config := GetDefaults()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/doc-sentinel/")
	v.AddConfigPath("$HOME/.doc-sentinel/")

	v.SetEnvPrefix("DOCSENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	active = v
	return config, nil
}

var active *viper.Viper

// bindEnv registers the keys that are commonly overridden from the
// environment so AutomaticEnv picks them up without a config file.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"server.port",
		"logging.level",
		"logging.format",
		"ner.enabled",
		"ner.endpoint",
		"ocr.enabled",
		"ocr.endpoint",
		"cache.enabled",
		"cache.redis_url",
		"database.enabled",
		"database.url",
		"export.text_sink",
		"export.mapping_sink",
		"export.dir",
		"export.minio.access_key",
		"export.minio.secret_key",
		"auth.enabled",
		"auth.jwt_secret",
		"telemetry.enabled",
		"telemetry.endpoint",
	} {
		_ = v.BindEnv(key)
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.Detection.LookaheadChars <= 0 {
		return fmt.Errorf("invalid lookahead: %d (must be positive)", config.Detection.LookaheadChars)
	}

	if config.NER.MinScore < 0 || config.NER.MinScore > 1 {
		return fmt.Errorf("invalid ner min_score: %f (must be within [0,1])", config.NER.MinScore)
	}

	if config.NER.Backend != "http" && config.NER.Backend != "onnx" {
		return fmt.Errorf("invalid ner backend: %s (must be http or onnx)", config.NER.Backend)
	}

	if !validSinks[config.Export.TextSink] {
		return fmt.Errorf("invalid export text_sink: %s (must be file, minio, or s3)", config.Export.TextSink)
	}

	if !validMappingSinks[config.Export.MappingSink] {
		return fmt.Errorf("invalid export mapping_sink: %s", config.Export.MappingSink)
	}

	if config.Auth.Enabled && config.Auth.JWTSecret == "" {
		return fmt.Errorf("auth enabled but jwt_secret is empty")
	}

	if config.Jobs.Workers <= 0 {
		return fmt.Errorf("invalid jobs workers: %d", config.Jobs.Workers)
	}

	return nil
}

// Watch starts watching the configuration file for changes. The callback
// receives only configurations that pass validation.
func Watch(onError func(error), callback func(*Config)) error {
	if active == nil {
		return fmt.Errorf("config not loaded")
	}

	v := active
	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := v.Unmarshal(newConfig); err != nil {
			onError(fmt.Errorf("reload %s: %w", e.Name, err))
			return
		}

		if err := validateConfig(newConfig); err != nil {
			onError(fmt.Errorf("reload %s: %w", e.Name, err))
			return
		}

		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
