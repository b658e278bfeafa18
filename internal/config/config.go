package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir       string `json:"data_dir" yaml:"data_dir"`
	LogLevel      string `json:"log_level" yaml:"log_level"`
	MaxConcurrent int    `json:"max_concurrent" yaml:"max_concurrent"`
	LLM           struct {
		Provider         string  `json:"provider" yaml:"provider"`
		BaseURL          string  `json:"base_url" yaml:"base_url"`
		APIKey           string  `json:"api_key" yaml:"api_key"`
		Model            string  `json:"model" yaml:"model"`
		MaxTokens        int     `json:"max_tokens" yaml:"max_tokens"`
		Temperature      float32 `json:"temperature" yaml:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens" yaml:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve" yaml:"output_reserve"`
		SystemPromptPath string  `json:"system_prompt_path" yaml:"system_prompt_path"`
	} `json:"llm" yaml:"llm"`
	History struct {
		MaxMessages int `json:"max_messages" yaml:"max_messages"`
	} `json:"history" yaml:"history"`
	Retry struct {
		MaxAttempts int      `json:"max_attempts" yaml:"max_attempts"`
		BaseDelay   Duration `json:"base_delay" yaml:"base_delay"`
		MaxDelay    Duration `json:"max_delay" yaml:"max_delay"`
		Deadline    Duration `json:"deadline" yaml:"deadline"`
		Jitter      bool     `json:"jitter" yaml:"jitter"`
	} `json:"retry" yaml:"retry"`
	Cache struct {
		Enabled    bool `json:"enabled" yaml:"enabled"`
		MaxEntries int  `json:"max_entries" yaml:"max_entries"`
	} `json:"cache" yaml:"cache"`
	Telegram struct {
		Token   string `json:"token" yaml:"token"`
		GroupID int64  `json:"group_id" yaml:"group_id"`
	} `json:"telegram" yaml:"telegram"`
	HTTP struct {
		Enabled bool   `json:"enabled" yaml:"enabled"`
		Listen  string `json:"listen" yaml:"listen"`
	} `json:"http" yaml:"http"`
	Maintenance struct {
		StatsSchedule   string `json:"stats_schedule" yaml:"stats_schedule"`
		QAPruneSchedule string `json:"qa_prune_schedule" yaml:"qa_prune_schedule"`
	} `json:"maintenance" yaml:"maintenance"`
	Messages struct {
		Welcome string `json:"welcome" yaml:"welcome"`
		Help    string `json:"help" yaml:"help"`
		Failure string `json:"failure" yaml:"failure"`
		Cleared string `json:"cleared" yaml:"cleared"`
	} `json:"messages" yaml:"messages"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
// Bare numbers are read as seconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) set(v any) error {
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		d.Duration = parsed
	case float64:
		d.Duration = time.Duration(val * float64(time.Second))
	case int:
		d.Duration = time.Duration(val) * time.Second
	case nil:
		d.Duration = 0
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

func defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".gptrelay"),
		LogLevel:      "info",
		MaxConcurrent: 4,
	}
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 1500
	cfg.LLM.Temperature = 0.8
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 1500
	cfg.History.MaxMessages = 30
	cfg.Retry.MaxAttempts = 5
	cfg.Retry.BaseDelay = Duration{time.Second}
	cfg.Retry.MaxDelay = Duration{30 * time.Second}
	cfg.Retry.Deadline = Duration{2 * time.Minute}
	cfg.Retry.Jitter = true
	cfg.Cache.MaxEntries = 1000
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = ":5000"
	cfg.Maintenance.StatsSchedule = "@hourly"
	cfg.Maintenance.QAPruneSchedule = "@daily"
	cfg.Messages.Welcome = "Hi! I'm an AI assistant. Send me a message and I'll do my best to help.\n\nUse /help to see what I can do."
	cfg.Messages.Help = "Just send me a message and I'll reply.\n\n/clear - forget our conversation\n/top - most active members\n/my - your activity rank\n/help - show this message"
	cfg.Messages.Failure = "Sorry, I couldn't process your message right now. Please try again in a moment."
	cfg.Messages.Cleared = "Conversation history cleared."
	return cfg
}

// Load reads the config at path on top of the built-in defaults, writing the
// defaults out when the file does not exist yet. Files ending in .yaml or
// .yml are read as YAML, everything else as JSON. A .env file next to the
// config (or in the working directory) is loaded before environment
// overrides are applied.
func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads the first .env file that exists. Variables already set in
// the environment win.
func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
		return nil
	}
	return nil
}

// applyEnv overrides config values from the environment (highest precedence).
func applyEnv(cfg *Config) error {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if groupID := os.Getenv("GROUP_ID"); groupID != "" {
		id, err := strconv.ParseInt(groupID, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid GROUP_ID %q: %w", groupID, err)
		}
		cfg.Telegram.GroupID = id
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.HTTP.Listen = ":" + port
	}
	return nil
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := encode(path, cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

// ToMap converts the config into a nested map using its JSON field names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns the config as flat dot-separated keys, optionally with
// secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue returns the value stored at key in the config file. The file is
// created with defaults if it does not exist.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readMap(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value at key in an existing config file. The value is
// parsed as JSON when possible (numbers, booleans, objects) and kept as a
// plain string otherwise.
func SetValue(path, key, value string) error {
	m, err := readMap(path)
	if err != nil {
		return err
	}

	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}

	flat := Flatten(m)
	flat[key] = parsed
	data, err := encode(path, Unflatten(flat))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

// readMap reads the config file as a generic map with JSON value types.
func readMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := decode(path, data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if isYAML(path) {
		// Round-trip through JSON so numbers come back as float64 like they
		// do for JSON files.
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		m = nil
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
	}
	if m == nil {
		m = make(map[string]any)
	}
	return m, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decode(path string, data []byte, v any) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

func encode(path string, v any) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(v)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
