package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"scrapekit/models"

	"gopkg.in/yaml.v3"
)

// JobConfig describes one crawl: what to fetch, which rules to apply and
// where the records go
type JobConfig struct {
	URLs        []string       `yaml:"urls"`
	Pages       int            `yaml:"pages"`
	Parser      string         `yaml:"parser"`
	Format      string         `yaml:"format"`
	Output      string         `yaml:"output"`
	Async       bool           `yaml:"async"`
	Concurrency int            `yaml:"concurrency"`
	Rules       []RuleConfig   `yaml:"rules"`
	Backend     BackendConfig  `yaml:"backend"`
	Filters     FilterConfig   `yaml:"filters"`
	Storage     StorageConfig  `yaml:"storage"`
	Schedule    ScheduleConfig `yaml:"schedule"`
	Split       *SplitConfig   `yaml:"split"`
}

// RuleConfig is a declarative selector rule extracting one field
type RuleConfig struct {
	Selector   string `yaml:"selector"`
	Field      string `yaml:"field"`
	Extract    string `yaml:"extract"` // text, html, number or attr:<name>
	Group      string `yaml:"group"`
	Priority   int    `yaml:"priority"`
	URLPattern string `yaml:"url_pattern"`
}

// BackendConfig holds parser backend settings
type BackendConfig struct {
	UserAgent    string        `yaml:"user_agent"`
	Timeout      time.Duration `yaml:"timeout"`
	Delay        time.Duration `yaml:"delay"`
	Headless     *bool         `yaml:"headless"`
	BrowserBin   string        `yaml:"browser_bin"`
	NextSelector string        `yaml:"next_selector"`
	Block        []string      `yaml:"block"`
}

// SplitConfig slices each URL's numeric query range into several URLs
type SplitConfig struct {
	MinParam string `yaml:"min_param"`
	MaxParam string `yaml:"max_param"`
	Step     int    `yaml:"step"`
}

// FilterConfig represents the record filter criteria
type FilterConfig struct {
	Required []string `yaml:"required"`
	Unique   []string `yaml:"unique"`
}

// StorageConfig holds settings for the optional sinks
type StorageConfig struct {
	Postgres struct {
		DSN   string `yaml:"dsn"`
		Table string `yaml:"table"`
	} `yaml:"postgres"`
	SQLite struct {
		Table string `yaml:"table"`
	} `yaml:"sqlite"`
	Sheets struct {
		SpreadsheetURL string `yaml:"spreadsheet_url"`
		Credentials    string `yaml:"credentials"`
	} `yaml:"sheets"`
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
}

// ScheduleConfig controls periodic re-runs
type ScheduleConfig struct {
	Every time.Duration `yaml:"every"`
}

// LoadConfig loads a job from a YAML file, fills defaults and env fallbacks
func LoadConfig(path string) (*JobConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := GetDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// GetDefaultConfig returns a default configuration
func GetDefaultConfig() *JobConfig {
	cfg := &JobConfig{}
	cfg.Pages = 1
	cfg.Parser = "playwright"
	cfg.Concurrency = 4
	cfg.Backend.Timeout = 30 * time.Second
	cfg.Storage.Postgres.Table = "records"
	cfg.Storage.SQLite.Table = "records"
	return cfg
}

// ApplyEnv fills unset secrets from the environment
func (c *JobConfig) ApplyEnv() {
	if c.Storage.Postgres.DSN == "" {
		c.Storage.Postgres.DSN = os.Getenv("DATABASE_URL")
	}
	if c.Storage.Sheets.Credentials == "" {
		c.Storage.Sheets.Credentials = os.Getenv("GOOGLE_SHEETS_CREDENTIALS")
	}
	if c.Storage.Telegram.Token == "" {
		c.Storage.Telegram.Token = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	}
	if c.Storage.Telegram.ChatID == 0 {
		if id, err := strconv.ParseInt(os.Getenv("TELEGRAM_CHAT_ID"), 10, 64); err == nil {
			c.Storage.Telegram.ChatID = id
		}
	}
}

// IsHeadless reports the effective headless setting, true when unset
func (b BackendConfig) IsHeadless() bool {
	return b.Headless == nil || *b.Headless
}

// Validate checks the job can run
func (c *JobConfig) Validate() error {
	if len(c.URLs) == 0 {
		return fmt.Errorf("%w: no urls to crawl", models.ErrConfiguration)
	}
	if c.Pages < 1 {
		return fmt.Errorf("%w: pages must be at least 1, got %d", models.ErrConfiguration, c.Pages)
	}
	if len(c.Rules) == 0 {
		return fmt.Errorf("%w: no rules defined", models.ErrConfiguration)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", models.ErrConfiguration, c.Concurrency)
	}
	if c.Split != nil && (c.Split.MinParam == "" || c.Split.MaxParam == "") {
		return fmt.Errorf("%w: split needs min_param and max_param", models.ErrConfiguration)
	}
	return nil
}
