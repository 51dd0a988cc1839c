package main

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/theimaginaryfoundation/emotions-bot/dialog"
	"github.com/theimaginaryfoundation/emotions-bot/emotion"
	"github.com/theimaginaryfoundation/emotions-bot/emotion/provider"
)

type Config struct {
	BotToken string `yaml:"bot_token"`
	APIKey   string `yaml:"api_key"`

	Model            string   `yaml:"model"`
	StructuredOutput bool     `yaml:"structured_output"`
	MaxOutputTokens  int64    `yaml:"max_output_tokens"`
	Threshold        float64  `yaml:"threshold"`
	Labels           []string `yaml:"labels"`

	SupervisionPath string `yaml:"supervision_path"`
	SQLitePath      string `yaml:"sqlite_path"`

	Concurrency int    `yaml:"concurrency"`
	PollTimeout int    `yaml:"poll_timeout"`
	HTTPAddr    string `yaml:"http_addr"`
	AdminChatID int64  `yaml:"admin_chat_id"`

	LogMode string `yaml:"log_mode"`
}

func (c Config) Validate() error {
	if math.IsNaN(c.Threshold) || c.Threshold < 0 || c.Threshold > 1 {
		return errors.New("threshold must be within [0,1]")
	}
	if strings.TrimSpace(c.SupervisionPath) == "" {
		return errors.New("missing supervision-path")
	}
	if len(c.Labels) == 0 {
		return errors.New("labels must not be empty")
	}
	for _, l := range c.Labels {
		if strings.TrimSpace(l) == "" {
			return errors.New("labels must not contain blanks")
		}
		if len(l) > 64 {
			return fmt.Errorf("label %q exceeds 64 bytes", l)
		}
		if dialog.IsReservedChoice(l) {
			return fmt.Errorf("label %q is reserved for keyboard controls", l)
		}
	}
	if c.Concurrency < 0 {
		return errors.New("concurrency must be >= 0")
	}
	if c.PollTimeout < 0 {
		return errors.New("poll-timeout must be >= 0")
	}
	if c.MaxOutputTokens < 0 {
		return errors.New("max-output-tokens must be >= 0")
	}
	return nil
}

// ValidateServe adds the checks only the Telegram server needs.
func (c Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.BotToken == "" {
		return errors.New("missing BOT_TOKEN (or set bot_token in the config file)")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Model:           provider.DefaultModel,
		Threshold:       0.5,
		Labels:          append([]string(nil), emotion.DefaultLabels...),
		SupervisionPath: filepath.FromSlash("output/supervision.csv"),
		Concurrency:     8,
		PollTimeout:     60,
		LogMode:         "dev",
	}
}

// loadConfigFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func loadConfigFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("BOT_TOKEN"); v != "" {
		cfg.BotToken = v
	}
	if v := getenv("OPENAI_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := getenv("EMOTIONS_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := getenv("EMOTIONS_SUPERVISION_PATH"); v != "" {
		cfg.SupervisionPath = v
	}
	if v := getenv("EMOTIONS_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("EMOTIONS_THRESHOLD: %w", err)
		}
		cfg.Threshold = f
	}
	if v := getenv("EMOTIONS_ADMIN_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("EMOTIONS_ADMIN_CHAT_ID: %w", err)
		}
		cfg.AdminChatID = id
	}
	if v := getenv("LOG_MODE"); v != "" {
		cfg.LogMode = v
	}
	return nil
}

// changedFlags is satisfied by *pflag.FlagSet.
type changedFlags interface {
	Changed(name string) bool
}

// applyFlags copies the explicitly set flag values in fv onto cfg, so that
// flag defaults never mask the config file or the environment.
func applyFlags(cfg *Config, fs changedFlags, fv Config) {
	if fs.Changed("model") {
		cfg.Model = fv.Model
	}
	if fs.Changed("structured-output") {
		cfg.StructuredOutput = fv.StructuredOutput
	}
	if fs.Changed("max-output-tokens") {
		cfg.MaxOutputTokens = fv.MaxOutputTokens
	}
	if fs.Changed("threshold") {
		cfg.Threshold = fv.Threshold
	}
	if fs.Changed("labels") {
		cfg.Labels = fv.Labels
	}
	if fs.Changed("supervision-path") {
		cfg.SupervisionPath = fv.SupervisionPath
	}
	if fs.Changed("sqlite-path") {
		cfg.SQLitePath = fv.SQLitePath
	}
	if fs.Changed("concurrency") {
		cfg.Concurrency = fv.Concurrency
	}
	if fs.Changed("poll-timeout") {
		cfg.PollTimeout = fv.PollTimeout
	}
	if fs.Changed("http-addr") {
		cfg.HTTPAddr = fv.HTTPAddr
	}
	if fs.Changed("admin-chat-id") {
		cfg.AdminChatID = fv.AdminChatID
	}
	if fs.Changed("log-mode") {
		cfg.LogMode = fv.LogMode
	}
}

// normalizeLabels trims and de-duplicates labels, keeping first occurrence order.
func normalizeLabels(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, l := range in {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		key := strings.ToLower(l)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l)
	}
	return out
}
