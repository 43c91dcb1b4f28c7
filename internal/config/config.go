// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/mcp"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration written as a string ("250ms", "5m") in every
// config format.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigrun-chat configuration.
type Config struct {
	Version string `toml:"version" yaml:"version" json:"version"`

	Server      ServerConfig      `toml:"server" yaml:"server" json:"server"`
	Ollama      OllamaConfig      `toml:"ollama" yaml:"ollama" json:"ollama"`
	Storage     StorageConfig     `toml:"storage" yaml:"storage" json:"storage"`
	Tools       ToolsConfig       `toml:"tools" yaml:"tools" json:"tools"`
	Persistence PersistenceConfig `toml:"persistence" yaml:"persistence" json:"persistence"`
	Logging     logging.Config    `toml:"logging" yaml:"logging" json:"logging"`
	Client      ClientConfig      `toml:"client" yaml:"client" json:"client"`
}

// ServerConfig configures the HTTP relay.
type ServerConfig struct {
	Addr string `toml:"addr" yaml:"addr" json:"addr"`

	// AuthToken, when set, is required as a bearer token on /api routes.
	AuthToken string `toml:"auth_token" yaml:"auth_token" json:"auth_token,omitempty"`

	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit float64 `toml:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
	RateBurst int     `toml:"rate_burst" yaml:"rate_burst" json:"rate_burst"`

	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins" json:"cors_origins,omitempty"`

	ReadHeaderTimeout Duration `toml:"read_header_timeout" yaml:"read_header_timeout" json:"read_header_timeout"`
	ShutdownTimeout   Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// OllamaConfig configures the inference backend.
type OllamaConfig struct {
	URL           string   `toml:"url" yaml:"url" json:"url"`
	DefaultModel  string   `toml:"default_model" yaml:"default_model" json:"default_model"`
	Timeout       Duration `toml:"timeout" yaml:"timeout" json:"timeout"`
	KeepAlive     string   `toml:"keep_alive" yaml:"keep_alive" json:"keep_alive,omitempty"`
	CapabilityTTL Duration `toml:"capability_ttl" yaml:"capability_ttl" json:"capability_ttl"`
}

// StorageConfig configures the chat database.
type StorageConfig struct {
	// Path of the sqlite file. Empty disables persistence.
	Path string `toml:"path" yaml:"path" json:"path"`
}

// ToolsConfig configures tool calling.
type ToolsConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled" json:"enabled"`

	// Workspace confines read_file and list_files. Empty disables them.
	Workspace string `toml:"workspace" yaml:"workspace" json:"workspace,omitempty"`

	EnableFetch       bool  `toml:"enable_fetch" yaml:"enable_fetch" json:"enable_fetch"`
	FetchAllowPrivate bool  `toml:"fetch_allow_private" yaml:"fetch_allow_private" json:"fetch_allow_private"`
	FetchMaxBytes     int64 `toml:"fetch_max_bytes" yaml:"fetch_max_bytes" json:"fetch_max_bytes"`

	MaxRounds int      `toml:"max_rounds" yaml:"max_rounds" json:"max_rounds"`
	Timeout   Duration `toml:"timeout" yaml:"timeout" json:"timeout"`
	Disabled  []string `toml:"disabled" yaml:"disabled" json:"disabled,omitempty"`

	MCP map[string]mcp.ServerConfig `toml:"mcp" yaml:"mcp" json:"mcp,omitempty"`
}

// PersistenceConfig tunes streaming writes.
type PersistenceConfig struct {
	Interval     Duration `toml:"interval" yaml:"interval" json:"interval"`
	DrainTimeout Duration `toml:"drain_timeout" yaml:"drain_timeout" json:"drain_timeout"`
}

// ClientConfig holds defaults for the terminal client.
type ClientConfig struct {
	ServerURL      string `toml:"server_url" yaml:"server_url" json:"server_url"`
	ReasoningLevel string `toml:"reasoning_level" yaml:"reasoning_level" json:"reasoning_level,omitempty"`
	Tools          bool   `toml:"tools" yaml:"tools" json:"tools"`
	Theme          string `toml:"theme" yaml:"theme" json:"theme"`
}

// CurrentVersion is written to new config files.
const CurrentVersion = "1"

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Server: ServerConfig{
			Addr:              "127.0.0.1:8787",
			RateLimit:         10,
			RateBurst:         20,
			ReadHeaderTimeout: Duration(10 * time.Second),
			ShutdownTimeout:   Duration(15 * time.Second),
		},
		Ollama: OllamaConfig{
			URL:           "http://127.0.0.1:11434",
			DefaultModel:  "qwen3:8b",
			Timeout:       Duration(30 * time.Second),
			CapabilityTTL: Duration(5 * time.Minute),
		},
		Storage: StorageConfig{
			Path: defaultStoragePath(),
		},
		Tools: ToolsConfig{
			Enabled:       true,
			EnableFetch:   true,
			FetchMaxBytes: 2 << 20,
			MaxRounds:     25,
			Timeout:       Duration(30 * time.Second),
		},
		Persistence: PersistenceConfig{
			Interval:     Duration(250 * time.Millisecond),
			DrainTimeout: Duration(5 * time.Second),
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Client: ClientConfig{
			ServerURL: "http://127.0.0.1:8787",
			Tools:     true,
			Theme:     "dark",
		},
	}
}

func defaultStoragePath() string {
	dir, err := ConfigDir()
	if err != nil {
		return "chats.db"
	}
	return filepath.Join(dir, "chats.db")
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigrun-chat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigrun-chat"), nil
}

// ConfigPath returns the path of the config file with the given extension.
func ConfigPath(ext string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config."+ext), nil
}

// searchOrder is the order config files are tried in.
var searchOrder = []string{"toml", "yaml", "yml", "json"}

// FindConfigFile returns the first existing config file, or "" if none.
func FindConfigFile() string {
	for _, ext := range searchOrder {
		path, err := ConfigPath(ext)
		if err != nil {
			return ""
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ensureSecurePermissions restricts a config file to its owner. Config
// files may contain the server auth token and MCP headers.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		if err := os.Chmod(path, 0o600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// LoadDotEnv loads .env from the working directory and the config
// directory. Variables already set in the environment are kept.
func LoadDotEnv() {
	candidates := []string{".env"}
	if dir, err := ConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, ".env"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

// Load loads configuration from the first config file found, falling back
// to defaults. Environment overrides are applied last.
func Load() (*Config, error) {
	LoadDotEnv()

	if path := FindConfigFile(); path != "" {
		return LoadFromPath(path)
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from path. The format is chosen by the
// file extension; anything else is read as TOML.
func LoadFromPath(path string) (*Config, error) {
	if err := ensureSecurePermissions(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := Default()
	if err := Decode(cfg, data, FormatOf(path)); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Decode parses data in the given format ("toml", "yaml" or "json") over
// the values already in cfg.
func Decode(cfg *Config, data []byte, format string) error {
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to decode YAML: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to decode JSON: %w", err)
		}
	default:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return fmt.Errorf("failed to decode TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			fmt.Fprintf(os.Stderr, "Warning: unknown config keys: %s\n", strings.Join(keys, ", "))
		}
	}
	return nil
}

// FormatOf returns the config format implied by the extension of path.
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	}
	return "toml"
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath("toml")
	if err != nil {
		return err
	}
	return SaveToPath(cfg, path)
}

// SaveToPath writes cfg atomically with owner-only permissions. The format
// follows the file extension.
func SaveToPath(cfg *Config, path string) error {
	data, err := Encode(cfg, FormatOf(path))
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(path, data, 0o600, 0o700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Encode renders cfg in the given format.
func Encode(cfg *Config, format string) ([]byte, error) {
	switch format {
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to encode config: %w", err)
		}
		return data, nil
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode config: %w", err)
		}
		return append(data, '\n'), nil
	}

	var sb strings.Builder
	sb.WriteString("# rigrun-chat configuration file\n")
	sb.WriteString("# Generated by rigrun-chat - edit with care\n\n")
	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return []byte(sb.String()), nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var validReasoningLevels = map[string]bool{"": true, "low": true, "medium": true, "high": true}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Addr == "" {
		add("server.addr", "must not be empty")
	}
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must not be negative, got %v", c.Server.RateLimit)
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		add("server.rate_burst", "must be at least 1 when rate limiting is enabled")
	}

	// Ollama
	if u, err := url.Parse(c.Ollama.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("ollama.url", "invalid URL '%s', must be http(s)://host[:port]", c.Ollama.URL)
	}
	if c.Ollama.DefaultModel == "" {
		add("ollama.default_model", "must not be empty")
	}
	if c.Ollama.Timeout.D() < 0 {
		add("ollama.timeout", "must not be negative")
	}

	// Tools
	if c.Tools.MaxRounds < 1 || c.Tools.MaxRounds > 100 {
		add("tools.max_rounds", "must be between 1 and 100, got %d", c.Tools.MaxRounds)
	}
	if c.Tools.FetchMaxBytes < 0 {
		add("tools.fetch_max_bytes", "must not be negative")
	}
	if c.Tools.Workspace != "" {
		if info, err := os.Stat(c.Tools.Workspace); err != nil || !info.IsDir() {
			add("tools.workspace", "'%s' is not a directory", c.Tools.Workspace)
		}
	}
	names := make([]string, 0, len(c.Tools.MCP))
	for name := range c.Tools.MCP {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.Contains(name, mcp.NameSeparator) {
			add("tools.mcp."+name, "server name must not contain '%s'", mcp.NameSeparator)
		}
		if err := c.Tools.MCP[name].Validate(); err != nil {
			add("tools.mcp."+name, "%v", err)
		}
	}

	// Persistence
	if c.Persistence.Interval.D() <= 0 {
		add("persistence.interval", "must be positive")
	}
	if c.Persistence.DrainTimeout.D() <= 0 {
		add("persistence.drain_timeout", "must be positive")
	}

	// Logging
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", "%v", err)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		add("logging.format", "invalid format '%s', must be console or json", c.Logging.Format)
	}

	// Client
	if !validReasoningLevels[c.Client.ReasoningLevel] {
		add("client.reasoning_level", "invalid level '%s', must be low, medium or high", c.Client.ReasoningLevel)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero-value fields from Default.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst == 0 {
		c.Server.RateBurst = d.Server.RateBurst
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = d.Server.ReadHeaderTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}

	if c.Ollama.URL == "" {
		c.Ollama.URL = d.Ollama.URL
	}
	c.Ollama.URL = strings.TrimRight(c.Ollama.URL, "/")
	if c.Ollama.DefaultModel == "" {
		c.Ollama.DefaultModel = d.Ollama.DefaultModel
	}
	if c.Ollama.Timeout == 0 {
		c.Ollama.Timeout = d.Ollama.Timeout
	}
	if c.Ollama.CapabilityTTL == 0 {
		c.Ollama.CapabilityTTL = d.Ollama.CapabilityTTL
	}

	if c.Tools.MaxRounds == 0 {
		c.Tools.MaxRounds = d.Tools.MaxRounds
	}
	if c.Tools.FetchMaxBytes == 0 {
		c.Tools.FetchMaxBytes = d.Tools.FetchMaxBytes
	}
	if c.Tools.Timeout == 0 {
		c.Tools.Timeout = d.Tools.Timeout
	}

	if c.Persistence.Interval == 0 {
		c.Persistence.Interval = d.Persistence.Interval
	}
	if c.Persistence.DrainTimeout == 0 {
		c.Persistence.DrainTimeout = d.Persistence.DrainTimeout
	}

	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.Logging.Output == "" {
		c.Logging.Output = d.Logging.Output
	}

	if c.Client.ServerURL == "" {
		c.Client.ServerURL = d.Client.ServerURL
	}
	if c.Client.Theme == "" {
		c.Client.Theme = d.Client.Theme
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RIGRUN_MODEL: overrides ollama.default_model
//   - RIGRUN_OLLAMA_URL: overrides ollama.url
//   - RIGRUN_ADDR: overrides server.addr
//   - RIGRUN_AUTH_TOKEN: overrides server.auth_token
//   - RIGRUN_DB: overrides storage.path ("off" disables persistence)
//   - RIGRUN_WORKSPACE: overrides tools.workspace
//   - RIGRUN_TOOLS: "0" or "false" disables tool calling
//   - RIGRUN_MAX_ROUNDS: overrides tools.max_rounds
//   - RIGRUN_LOG_LEVEL, RIGRUN_LOG_FORMAT: override logging
//   - RIGRUN_SERVER_URL: overrides client.server_url
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RIGRUN_MODEL"); v != "" {
		c.Ollama.DefaultModel = v
	}
	if v := os.Getenv("RIGRUN_OLLAMA_URL"); v != "" {
		c.Ollama.URL = v
	}
	if v := os.Getenv("RIGRUN_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("RIGRUN_AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv("RIGRUN_DB"); v != "" {
		if strings.EqualFold(v, "off") {
			c.Storage.Path = ""
		} else {
			c.Storage.Path = v
		}
	}
	if v := os.Getenv("RIGRUN_WORKSPACE"); v != "" {
		c.Tools.Workspace = v
	}
	if v := os.Getenv("RIGRUN_TOOLS"); v != "" {
		c.Tools.Enabled = parseBool(v)
	}
	if v := os.Getenv("RIGRUN_MAX_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Tools.MaxRounds = n
		}
	}
	if v := os.Getenv("RIGRUN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RIGRUN_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("RIGRUN_SERVER_URL"); v != "" {
		c.Client.ServerURL = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value by its dotted TOML key (e.g. "tools.max_rounds").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a value by its dotted TOML key. String values are converted
// to the field's type.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("toml") == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

var durationType = reflect.TypeOf(Duration(0))

func setFieldValue(field reflect.Value, value any) error {
	if s, ok := value.(string); ok {
		if field.Type() == durationType {
			var d Duration
			if err := d.UnmarshalText([]byte(s)); err != nil {
				return fmt.Errorf("invalid duration value: %v", err)
			}
			field.Set(reflect.ValueOf(d))
			return nil
		}
		switch field.Kind() {
		case reflect.String:
			field.SetString(s)
			return nil
		case reflect.Int, reflect.Int64:
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(n)
			return nil
		case reflect.Float64:
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(f)
			return nil
		case reflect.Bool:
			field.SetBool(parseBool(s))
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, item := range strings.Split(s, ",") {
					if item = strings.TrimSpace(item); item != "" {
						items = append(items, item)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) && field.Kind() != reflect.String {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Keys returns every settable key in dot notation.
func Keys() []string {
	var out []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := f.Tag.Get("toml")
			if name == "" {
				continue
			}
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type, prefix+name+".")
				continue
			}
			if f.Type.Kind() == reflect.Map {
				continue
			}
			out = append(out, prefix+name)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return out
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	clone.Tools.Disabled = append([]string(nil), c.Tools.Disabled...)
	if c.Tools.MCP != nil {
		clone.Tools.MCP = make(map[string]mcp.ServerConfig, len(c.Tools.MCP))
		for name, sc := range c.Tools.MCP {
			sc.Args = append([]string(nil), sc.Args...)
			sc.Headers = copyMap(sc.Headers)
			sc.Env = copyMap(sc.Env)
			clone.Tools.MCP[name] = sc
		}
	}
	return &clone
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

const redacted = "[REDACTED]"

// Redacted returns a copy with secrets replaced.
func (c *Config) Redacted() *Config {
	safe := c.Clone()
	if safe.Server.AuthToken != "" {
		safe.Server.AuthToken = redacted
	}
	for name, sc := range safe.Tools.MCP {
		for k := range sc.Headers {
			sc.Headers[k] = redacted
		}
		for k := range sc.Env {
			sc.Env[k] = redacted
		}
		safe.Tools.MCP[name] = sc
	}
	return safe
}

// String returns the redacted configuration as JSON.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration, loading it on first access.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal replaces the global configuration.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting clears the global configuration.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
