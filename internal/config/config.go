// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for uoechat.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/jeranaias/uoe-chat/internal/api"
	"github.com/jeranaias/uoe-chat/internal/logging"
	"github.com/jeranaias/uoe-chat/internal/model"
	"github.com/jeranaias/uoe-chat/internal/tracing"
	"github.com/jeranaias/uoe-chat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the main configuration structure for uoechat.
type Config struct {
	// API configures the backend connection.
	API APIConfig `toml:"api" json:"api"`

	// Chat holds the initial namespace, turn limits and retrieval settings.
	Chat ChatConfig `toml:"chat" json:"chat"`

	// Log configures the zap logger.
	Log LogConfig `toml:"log" json:"log"`

	// Metrics configures the optional Prometheus endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics"`

	// Trace configures OpenTelemetry span export.
	Trace TraceConfig `toml:"trace" json:"trace"`

	// UI holds presentation preferences.
	UI UIConfig `toml:"ui" json:"ui"`
}

// APIConfig contains backend connection settings.
type APIConfig struct {
	// BaseURL is the API root. "/health" lives one level up when it ends in /api.
	BaseURL string `toml:"base_url" json:"base_url" validate:"required,url"`

	// TimeoutSecs bounds non-streaming requests.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs" validate:"min=1,max=600"`

	// HealthIntervalSecs is the liveness probe period.
	HealthIntervalSecs int `toml:"health_interval_secs" json:"health_interval_secs" validate:"min=1,max=3600"`

	// RequestsPerSecond throttles outbound chat and feedback calls. Negative disables it.
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second" validate:"gte=-1"`

	// Burst is the throttle bucket size.
	Burst int `toml:"burst" json:"burst" validate:"min=0"`

	// NamespacesTTLSecs is how long the namespace listing is cached.
	NamespacesTTLSecs int `toml:"namespaces_ttl_secs" json:"namespaces_ttl_secs" validate:"min=0"`
}

// ChatConfig contains conversation defaults.
type ChatConfig struct {
	Namespace      string `toml:"namespace" json:"namespace" validate:"required,oneof=bs-adp ms-phd rules"`
	MaxTurns       int    `toml:"max_turns" json:"max_turns" validate:"min=1,max=100"`
	MaxQueryLength int    `toml:"max_query_length" json:"max_query_length" validate:"min=1,max=100000"`
	EnhanceQuery   bool   `toml:"enhance_query" json:"enhance_query"`
	EnableSmart    bool   `toml:"enable_smart" json:"enable_smart"`
	TopKRetrieve   int    `toml:"top_k_retrieve" json:"top_k_retrieve" validate:"min=1,max=20"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level      string `toml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format     string `toml:"format" json:"format" validate:"oneof=console json"`
	File       string `toml:"file" json:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" validate:"min=0"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" validate:"min=0"`
}

// MetricsConfig contains Prometheus exporter settings.
type MetricsConfig struct {
	// ListenAddr is host:port for /metrics. Empty disables the exporter.
	ListenAddr string `toml:"listen_addr" json:"listen_addr" validate:"omitempty,hostname_port"`
}

// TraceConfig contains OTLP/HTTP span export settings.
type TraceConfig struct {
	Enabled     bool    `toml:"enabled" json:"enabled"`
	Endpoint    string  `toml:"endpoint" json:"endpoint" validate:"omitempty,hostname_port"`
	Insecure    bool    `toml:"insecure" json:"insecure"`
	SampleRatio float64 `toml:"sample_ratio" json:"sample_ratio" validate:"min=0,max=1"`
}

// UIConfig contains UI preferences.
type UIConfig struct {
	// Markdown renders assistant answers with glamour.
	Markdown bool `toml:"markdown" json:"markdown"`

	// Theme is "auto", "dark" or "light".
	Theme string `toml:"theme" json:"theme" validate:"oneof=auto dark light"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	settings := model.DefaultSettings()
	return &Config{
		API: APIConfig{
			BaseURL:            api.DefaultBaseURL,
			TimeoutSecs:        int(api.DefaultTimeout / time.Second),
			HealthIntervalSecs: 30,
			RequestsPerSecond:  api.DefaultRequestsPerSecond,
			Burst:              api.DefaultBurst,
			NamespacesTTLSecs:  int(api.DefaultNamespacesTTL / time.Second),
		},
		Chat: ChatConfig{
			Namespace:      string(model.DefaultNamespace),
			MaxTurns:       10,
			MaxQueryLength: 2000,
			EnhanceQuery:   settings.EnhanceQuery,
			EnableSmart:    settings.EnableSmart,
			TopKRetrieve:   settings.TopKRetrieve,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Trace: TraceConfig{
			Endpoint:    tracing.DefaultEndpoint,
			Insecure:    true,
			SampleRatio: 1,
		},
		UI: UIConfig{
			Markdown: true,
			Theme:    "auto",
		},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the path to the uoechat config directory (~/.uoechat).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".uoechat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the legacy JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir creates the config directory if it doesn't exist.
// SECURITY: Directory is owner-only.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions tightens a config file to 0600 on Unix.
// Returns an error only when the permissions are too open and cannot be fixed.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if info.Mode().Perm()&0077 == 0 {
		return nil
	}
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("config file %s has insecure permissions %o: %w", path, info.Mode().Perm(), err)
	}
	return nil
}

// =============================================================================
// LOADING
// =============================================================================

// LoadDotEnv loads .env from the working directory and the config directory.
// Variables already set in the environment win. Missing files are ignored.
func LoadDotEnv() error {
	candidates := []string{".env"}
	if dir, err := ConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, ".env"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Load loads configuration with precedence:
//  1. Environment variables (UOE_*, including those from .env)
//  2. ~/.uoechat/config.toml
//  3. ~/.uoechat/config.json
//  4. Built-in defaults
func Load() (*Config, error) {
	tomlPath, err := ConfigPathTOML()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(tomlPath); err == nil {
		return LoadFromPath(tomlPath)
	}

	jsonPath, err := ConfigPathJSON()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(jsonPath); err == nil {
		return LoadFromPath(jsonPath)
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads a config file (TOML or JSON by extension), fills
// missing values from defaults, applies env overrides and validates.
func LoadFromPath(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		cfg, err = LoadJSON(path)
	} else {
		cfg, err = LoadTOML(path)
	}
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file on top of the defaults.
func LoadTOML(path string) (*Config, error) {
	if err := ensureSecurePermissions(path); err != nil {
		return nil, err
	}
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

// LoadJSON decodes a JSON file on top of the defaults.
func LoadJSON(path string) (*Config, error) {
	if err := ensureSecurePermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config %s: %w", path, err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

// fillDefaults restores values a file explicitly zeroed where zero is meaningless.
func (c *Config) fillDefaults() {
	d := Default()
	if c.API.BaseURL == "" {
		c.API.BaseURL = d.API.BaseURL
	}
	if c.API.TimeoutSecs == 0 {
		c.API.TimeoutSecs = d.API.TimeoutSecs
	}
	if c.API.HealthIntervalSecs == 0 {
		c.API.HealthIntervalSecs = d.API.HealthIntervalSecs
	}
	if c.Chat.Namespace == "" {
		c.Chat.Namespace = d.Chat.Namespace
	}
	if c.Chat.MaxTurns == 0 {
		c.Chat.MaxTurns = d.Chat.MaxTurns
	}
	if c.Chat.MaxQueryLength == 0 {
		c.Chat.MaxQueryLength = d.Chat.MaxQueryLength
	}
	if c.Chat.TopKRetrieve == 0 {
		c.Chat.TopKRetrieve = d.Chat.TopKRetrieve
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
	if c.Trace.Endpoint == "" {
		c.Trace.Endpoint = d.Trace.Endpoint
	}
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes the config to ~/.uoechat/config.toml.
func (c *Config) Save() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return c.SaveTOML(path)
}

// SaveTOML writes the config as TOML with a short header.
func (c *Config) SaveTOML(path string) error {
	var buf bytes.Buffer
	buf.WriteString("# uoechat configuration\n")
	buf.WriteString("# Environment variables (UOE_*) override values in this file.\n\n")
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// SaveJSON writes the config as indented JSON.
func (c *Config) SaveJSON(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every invalid field.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their TOML key so messages match the file.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(ValidateErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fieldKey(fe.Namespace()),
			Message: describe(fe),
		})
	}
	return out
}

// fieldKey turns "Config.api.base_url" into "api.base_url".
func fieldKey(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return fmt.Sprintf("%q is not a valid URL", fe.Value())
	case "oneof":
		return fmt.Sprintf("%v is not one of [%s]", fe.Value(), fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%v is below the minimum %s", fe.Value(), fe.Param())
	case "max":
		return fmt.Sprintf("%v exceeds the maximum %s", fe.Value(), fe.Param())
	case "hostname_port":
		return fmt.Sprintf("%q is not host:port", fe.Value())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported variables:
//   - UOE_API_URL: API base URL
//   - UOE_NAMESPACE: initial namespace (bs-adp, ms-phd, rules)
//   - UOE_LOG_LEVEL: debug, info, warn, error
//   - UOE_LOG_FILE: log file path (rotated)
//   - UOE_METRICS_ADDR: host:port for /metrics
//   - VITE_API_URL: accepted as a fallback for UOE_API_URL
//   - OTEL_ENABLED: "true" turns on span export
//   - OTEL_EXPORTER_OTLP_ENDPOINT: collector host:port or http(s) URL
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("VITE_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("UOE_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("UOE_NAMESPACE"); v != "" {
		c.Chat.Namespace = v
	}
	if v := os.Getenv("UOE_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("UOE_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("UOE_METRICS_ADDR"); v != "" {
		c.Metrics.ListenAddr = v
	}
	if v, err := strconv.ParseBool(os.Getenv("OTEL_ENABLED")); err == nil {
		c.Trace.Enabled = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		if u, err := url.Parse(v); err == nil && u.Host != "" {
			c.Trace.Endpoint = u.Host
			c.Trace.Insecure = u.Scheme != "https"
		} else {
			c.Trace.Endpoint = v
		}
	}
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

// ClientConfig builds the API client configuration.
func (c *Config) ClientConfig() api.ClientConfig {
	cc := api.DefaultClientConfig()
	cc.BaseURL = c.API.BaseURL
	cc.HealthURL = api.HealthURLFromBase(c.API.BaseURL)
	cc.Timeout = time.Duration(c.API.TimeoutSecs) * time.Second
	cc.RequestsPerSecond = c.API.RequestsPerSecond
	cc.Burst = c.API.Burst
	cc.NamespacesTTL = time.Duration(c.API.NamespacesTTLSecs) * time.Second
	return cc
}

// HealthInterval returns the liveness probe period.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.API.HealthIntervalSecs) * time.Second
}

// Namespace returns the configured initial namespace.
func (c *Config) Namespace() model.Namespace {
	return model.Namespace(c.Chat.Namespace)
}

// Settings returns the retrieval settings for a new conversation.
func (c *Config) Settings() model.Settings {
	return model.Settings{
		EnhanceQuery: c.Chat.EnhanceQuery,
		EnableSmart:  c.Chat.EnableSmart,
		TopKRetrieve: c.Chat.TopKRetrieve,
	}
}

// LogOptions returns the logger options.
func (c *Config) LogOptions() logging.Options {
	return logging.Options{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
	}
}

// TraceOptions returns the span export options.
func (c *Config) TraceOptions() tracing.Options {
	return tracing.Options{
		Enabled:     c.Trace.Enabled,
		Endpoint:    c.Trace.Endpoint,
		Insecure:    c.Trace.Insecure,
		SampleRatio: c.Trace.SampleRatio,
		ServiceName: tracing.DefaultServiceName,
	}
}

// =============================================================================
// DOT-NOTATION ACCESS
// =============================================================================

// ErrUnknownKey is returned by Get and Set for keys that don't exist.
var ErrUnknownKey = errors.New("unknown config key")

// Get returns a value by dot-notation key, e.g. "chat.namespace".
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a value by dot-notation key. Strings are converted to the
// field's type. The config is not validated; call Validate afterwards.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if err := setFieldValue(field, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 2 {
		return reflect.Value{}, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	v := reflect.ValueOf(c).Elem()
	for _, part := range parts {
		next, ok := fieldByTOMLTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		v = next
	}
	if v.Kind() == reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return v, nil
}

func fieldByTOMLTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if strings.SplitN(t.Field(i).Tag.Get("toml"), ",", 2)[0] == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal, err := strconv.ParseBool(strVal)
			if err != nil {
				return fmt.Errorf("invalid boolean value: %v", err)
			}
			field.SetBool(boolVal)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Keys returns all configuration keys in dot notation.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		prefix := strings.SplitN(section.Tag.Get("toml"), ",", 2)[0]
		for j := 0; j < section.Type.NumField(); j++ {
			name := strings.SplitN(section.Type.Field(j).Tag.Get("toml"), ",", 2)[0]
			keys = append(keys, prefix+"."+name)
		}
	}
	return keys
}

// =============================================================================
// UTILITIES
// =============================================================================

// Clone returns a copy of the config. All fields are values.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String renders the config as indented JSON.
func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
