// Package config loads scribe settings from the environment and an optional
// YAML file.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               int
	NatsURL            string
	NatsToken          string
	DatabaseURL        string
	Store              string
	SQLitePath         string
	LogLevel           string
	LLMProvider        string
	AnthropicAPIKey    string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	Model              string
	TitleModel         string
	MaxTokens          int
	APIToken           string
	MaxConflictRetries int
	HeartbeatInterval  time.Duration
}

var defaults = map[string]any{
	"scribe_port":                 8760,
	"nats_url":                    "nats://hermes:4222",
	"scribe_store":                "postgres",
	"scribe_sqlite_path":          "scribe.db",
	"log_level":                   "info",
	"scribe_llm_provider":         "anthropic",
	"scribe_model":                "claude-sonnet-4-20250514",
	"scribe_max_tokens":           4096,
	"scribe_max_conflict_retries": 3,
	"scribe_heartbeat_interval":   "30s",
}

// Load reads settings into a fresh viper instance. Environment variables win
// over the file named by SCRIBE_CONFIG.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	// Bound explicitly so AutomaticEnv sees keys with no default.
	for _, key := range []string{
		"nats_token", "database_url", "anthropic_api_key", "openai_api_key",
		"openai_base_url", "scribe_title_model", "scribe_api_token", "scribe_config",
	} {
		_ = v.BindEnv(key)
	}

	if path := v.GetString("scribe_config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return Config{
		Port:               intOr(v, "scribe_port"),
		NatsURL:            v.GetString("nats_url"),
		NatsToken:          v.GetString("nats_token"),
		DatabaseURL:        v.GetString("database_url"),
		Store:              v.GetString("scribe_store"),
		SQLitePath:         v.GetString("scribe_sqlite_path"),
		LogLevel:           v.GetString("log_level"),
		LLMProvider:        v.GetString("scribe_llm_provider"),
		AnthropicAPIKey:    v.GetString("anthropic_api_key"),
		OpenAIAPIKey:       v.GetString("openai_api_key"),
		OpenAIBaseURL:      v.GetString("openai_base_url"),
		Model:              v.GetString("scribe_model"),
		TitleModel:         v.GetString("scribe_title_model"),
		MaxTokens:          intOr(v, "scribe_max_tokens"),
		APIToken:           v.GetString("scribe_api_token"),
		MaxConflictRetries: intOr(v, "scribe_max_conflict_retries"),
		HeartbeatInterval:  durationOr(v, "scribe_heartbeat_interval"),
	}, nil
}

// intOr parses key as an int, falling back to its default when the value is
// not a number.
func intOr(v *viper.Viper, key string) int {
	raw := v.GetString(key)
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return defaults[key].(int)
}

func durationOr(v *viper.Viper, key string) time.Duration {
	if d, err := time.ParseDuration(v.GetString(key)); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(defaults[key].(string))
	return d
}
