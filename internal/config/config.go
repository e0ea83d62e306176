// Package config provides configuration management for tuyametrics.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sbaerlocher/tuyametrics/internal/api"
	"github.com/sbaerlocher/tuyametrics/internal/errors"
	"github.com/sbaerlocher/tuyametrics/internal/schema"
)

// SelfMetricsID is the /metrics/{id} segment that serves the exporter's own
// metrics, so no device may be registered under it.
const SelfMetricsID = "self"

// Config holds all configuration settings for tuyametrics.
type Config struct {
	Region          string
	APIKey          string
	APISecret       string
	BaseURL         string
	APITimeout      time.Duration
	APIRPS          float64
	APIBurst        int
	ServiceAPIKey   string
	DeviceSchemas   string
	DefaultDeviceID string
	DeviceListTTL   time.Duration
	Port            string
	LogLevel        string
	LogFormat       string
	RateLimitRPS    float64
	RateLimitBurst  int
	UseTsnet        bool
	TsnetHostname   string
	TsnetStateDir   string
	TsnetAuthKey    string
	Environment     string
}

// Load reads configuration from environment variables and returns a Config struct.
func Load() Config {
	cfg := Config{}

	cfg.loadCloudSettings()
	cfg.loadDeviceSettings()
	cfg.loadNetworkSettings()
	cfg.loadTsnetSettings()
	cfg.loadLoggingSettings()

	return cfg
}

func (cfg *Config) loadCloudSettings() {
	cfg.Region = "eu"
	if v := os.Getenv("TUYA_REGION"); v != "" {
		cfg.Region = strings.ToLower(strings.TrimSpace(v))
	}
	cfg.APIKey = os.Getenv("TUYA_API_KEY")
	cfg.APISecret = os.Getenv("TUYA_API_SECRET")
	cfg.BaseURL = os.Getenv("TUYA_BASE_URL")

	cfg.APITimeout = parseDuration(os.Getenv("TUYA_TIMEOUT"), 10*time.Second)
	cfg.APIRPS = parseFloat(os.Getenv("TUYA_API_RPS"), 5)
	cfg.APIBurst = parseInt(os.Getenv("TUYA_API_BURST"), 5)
}

func (cfg *Config) loadDeviceSettings() {
	cfg.DeviceSchemas = os.Getenv("DEVICE_SCHEMAS")
	cfg.DefaultDeviceID = strings.TrimSpace(os.Getenv("DEFAULT_DEVICE_ID"))
	cfg.DeviceListTTL = parseDuration(os.Getenv("DEVICE_LIST_TTL"), time.Minute)
	cfg.ServiceAPIKey = os.Getenv("SERVICE_API_KEY")
}

func (cfg *Config) loadNetworkSettings() {
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	cfg.RateLimitRPS = parseFloat(os.Getenv("RATE_LIMIT_RPS"), 10)
	cfg.RateLimitBurst = parseInt(os.Getenv("RATE_LIMIT_BURST"), 20)
	cfg.Environment = strings.ToLower(os.Getenv("ENV"))
}

func (cfg *Config) loadTsnetSettings() {
	if strings.ToLower(os.Getenv("USE_TSNET")) == "true" {
		cfg.UseTsnet = true
	}

	cfg.TsnetHostname = "tuyametrics"
	if v, ok := os.LookupEnv("TSNET_HOSTNAME"); ok {
		cfg.TsnetHostname = strings.TrimSpace(v)
	}
	cfg.TsnetStateDir = os.Getenv("TSNET_STATE_DIR")
	cfg.TsnetAuthKey = os.Getenv("TS_AUTHKEY")
}

func (cfg *Config) loadLoggingSettings() {
	cfg.LogLevel = "info"
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.LogFormat = "text"
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
}

// IsProduction reports whether ENV selects a production deployment.
func (cfg Config) IsProduction() bool {
	return cfg.Environment == "production" || cfg.Environment == "prod"
}

// Registry builds the device schema registry from DEVICE_SCHEMAS.
func (cfg Config) Registry() (*schema.Registry, error) {
	reg, err := schema.ParseRegistry(cfg.DeviceSchemas)
	if err != nil {
		return nil, errors.ConfigurationError{Field: "DEVICE_SCHEMAS", Value: cfg.DeviceSchemas, Reason: err.Error()}
	}
	return reg, nil
}

// Validate checks the configuration for consistency and required values.
func (cfg Config) Validate() error {
	if err := cfg.validateCloud(); err != nil {
		return err
	}

	if err := cfg.validateDevices(); err != nil {
		return err
	}

	if err := cfg.validateLogSettings(); err != nil {
		return err
	}

	if err := cfg.validateTsnetSettings(); err != nil {
		return err
	}

	return cfg.validateNetworkSettings()
}

func (cfg Config) validateCloud() error {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return errors.ConfigurationError{Field: "TUYA_API_KEY/TUYA_API_SECRET", Reason: "cloud credentials are required"}
	}

	if cfg.BaseURL == "" {
		if _, err := api.BaseURLForRegion(cfg.Region); err != nil {
			return errors.ConfigurationError{
				Field:  "TUYA_REGION",
				Value:  cfg.Region,
				Reason: fmt.Sprintf("valid options: %v", api.Regions()),
			}
		}
	}

	if cfg.APITimeout <= 0 {
		return fmt.Errorf("TUYA_TIMEOUT must be positive")
	}
	if cfg.APIRPS <= 0 || cfg.APIBurst <= 0 {
		return fmt.Errorf("TUYA_API_RPS and TUYA_API_BURST must be positive")
	}
	return nil
}

func (cfg Config) validateDevices() error {
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}

	if _, ok := reg.Kind(SelfMetricsID); ok {
		return errors.ConfigurationError{
			Field:  "DEVICE_SCHEMAS",
			Value:  SelfMetricsID,
			Reason: "device id is reserved for /metrics/" + SelfMetricsID,
		}
	}

	if cfg.DeviceListTTL < 0 {
		return errors.ConfigurationError{
			Field:  "DEVICE_LIST_TTL",
			Value:  cfg.DeviceListTTL.String(),
			Reason: "must not be negative",
		}
	}

	if cfg.DefaultDeviceID != "" {
		if _, ok := reg.Kind(cfg.DefaultDeviceID); !ok {
			return errors.ConfigurationError{
				Field:  "DEFAULT_DEVICE_ID",
				Value:  cfg.DefaultDeviceID,
				Reason: "device has no entry in DEVICE_SCHEMAS",
			}
		}
	}
	return nil
}

func (cfg Config) validateLogSettings() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if cfg.LogLevel != "" && !contains(validLogLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s, valid options: %v", cfg.LogLevel, validLogLevels)
	}

	validLogFormats := []string{"json", "text"}
	if cfg.LogFormat != "" && !contains(validLogFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s, valid options: %v", cfg.LogFormat, validLogFormats)
	}
	return nil
}

func (cfg Config) validateTsnetSettings() error {
	if cfg.UseTsnet && cfg.TsnetHostname == "" {
		return fmt.Errorf("TSNET_HOSTNAME required when USE_TSNET=true")
	}
	return nil
}

func (cfg Config) validateNetworkSettings() error {
	if cfg.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}

// SetupTsnetStateDir creates and validates the tsnet state directory.
func SetupTsnetStateDir(dir string) string {
	if dir == "" {
		dir = "/tmp/tsnet-tuyametrics"
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		slog.Warn("failed to create state directory", "dir", dir, "error", err)
		return ""
	}
	slog.Info("using tsnet state directory", "dir", dir)
	return dir
}

func parseDuration(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if sec, err := strconv.Atoi(v); err == nil {
		return time.Duration(sec) * time.Second
	}
	return def
}

func parseFloat(v string, def float64) float64 {
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}

func parseInt(v string, def int) int {
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return def
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
