package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom log shipping configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// PipelineConfig tunes the scan and classification phases.
type PipelineConfig struct {
	ClassifyWorkers int
	PollInterval    time.Duration
	MutoolBin       string
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
	RedisURL     string
	Stream       string
	Group        string
	PollInterval time.Duration
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Config is the top-level configuration.
type Config struct {
	Logging   LoggingConfig
	Axiom     AxiomConfig
	Pipeline  PipelineConfig
	Queue     QueueConfig
	Server    ServerConfig
	RulesFile string
	OutputDir string
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/imagecleaner.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_imagecleaner",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Pipeline = PipelineConfig{
		ClassifyWorkers: parseInt(getEnv("CLASSIFY_WORKERS", "8"), 8),
		PollInterval:    parseDuration(getEnv("PIPELINE_POLL_INTERVAL", "50ms"), 50*time.Millisecond),
		MutoolBin:       getEnv("MUTOOL_BIN", "mutool"),
	}

	cfg.Queue = QueueConfig{
		RedisURL:     getEnv("REDIS_URL", ""),
		Stream:       getEnv("QUEUE_STREAM", "jobs:clean:docs"),
		Group:        getEnv("QUEUE_GROUP", "workers:clean"),
		PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "100ms"), 100*time.Millisecond),
	}

	cfg.Server = ServerConfig{
		Addr:            getEnv("HTTP_ADDR", ":8080"),
		ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "15s"), 15*time.Second),
	}

	cfg.RulesFile = getEnv("RULES_FILE", "rules.json")
	cfg.OutputDir = getEnv("OUTPUT_DIR", "")

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
