// Package config loads ListingPipe settings from a YAML file and the environment.
//
// Precedence, lowest first: built-in defaults, the YAML file, LISTINGPIPE_*
// environment variables, then command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/ListingPipe/internal/models"
	"github.com/BTreeMap/ListingPipe/internal/util"
)

// Defaults.
const (
	DefaultConfigFile    = "config.yaml"
	DefaultStateDir      = "/var/lib/listingpipe"
	DefaultOutputFormat  = "jsonl"
	DefaultWorkers       = 1
	DefaultFetchTimeout  = 20 * time.Second
	DefaultNotifyRetries = 3
)

// Output formats.
const (
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
)

var (
	ErrNoQueries      = errors.New("no search terms or locations configured")
	ErrInvalidFormat  = errors.New("output_format must be jsonl or csv")
	ErrInvalidWorkers = errors.New("workers must be at least 1")
)

// Config is the full runtime configuration.
type Config struct {
	SearchTerms   []string `yaml:"search_terms"`
	Locations     []string `yaml:"locations"`
	AntiKeywords  []string `yaml:"anti_keywords"`
	MaxAge        Duration `yaml:"max_age"`
	AllowShipping bool     `yaml:"allow_shipping"`

	StateDir     string `yaml:"state_dir"`
	OutputPath   string `yaml:"output_path"`
	OutputFormat string `yaml:"output_format"`
	DedupPath    string `yaml:"dedup_path"`
	DatabaseDSN  string `yaml:"database_dsn"`
	Workers      int    `yaml:"workers"`

	Fetch         FetchConfig  `yaml:"fetch"`
	Notifications NotifyConfig `yaml:"notifications"`

	Schedule string `yaml:"schedule"`
	LogLevel string `yaml:"log_level"`
}

type FetchConfig struct {
	BaseURL   string   `yaml:"base_url"`
	InputPath string   `yaml:"input_path"`
	Timeout   Duration `yaml:"timeout"`
	UserAgent string   `yaml:"user_agent"`
}

type NotifyConfig struct {
	SlackWebhookURL string         `yaml:"slack_webhook_url"`
	MaxAttempts     int            `yaml:"max_attempts"`
	Twilio          TwilioConfig   `yaml:"twilio"`
	WhatsApp        WhatsAppConfig `yaml:"whatsapp"`
	GenAI           GenAIConfig    `yaml:"genai"`
}

type TwilioConfig struct {
	AccountSID string   `yaml:"account_sid"`
	AuthToken  string   `yaml:"auth_token"`
	From       string   `yaml:"from"`
	To         []string `yaml:"to"`
}

type WhatsAppConfig struct {
	DBDSN  string   `yaml:"db_dsn"`
	To     []string `yaml:"to"`
	QRPath string   `yaml:"qr_path"`
}

type GenAIConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// LoadFile reads a YAML config from path. A missing file is not an error
// when optional is true; the defaults are returned instead.
func LoadFile(path string, optional bool) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		slog.Debug("Config.LoadFile: loaded", "path", path)
	case errors.Is(err, os.ErrNotExist) && optional:
		slog.Debug("Config.LoadFile: no config file, using defaults", "path", path)
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyEnv overlays LISTINGPIPE_* and the notification credential variables.
func (c *Config) ApplyEnv() {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setList := func(dst *[]string, key string) {
		if v := util.ParseListEnv(key); v != nil {
			*dst = v
		}
	}

	setList(&c.SearchTerms, "LISTINGPIPE_SEARCH_TERMS")
	setList(&c.Locations, "LISTINGPIPE_LOCATIONS")
	setList(&c.AntiKeywords, "LISTINGPIPE_ANTI_KEYWORDS")
	if v := os.Getenv("LISTINGPIPE_MAX_AGE"); v != "" {
		c.MaxAge = Duration(ParseDuration(v))
	}
	c.AllowShipping = util.ParseBoolEnv("LISTINGPIPE_ALLOW_SHIPPING", c.AllowShipping)

	setString(&c.StateDir, "LISTINGPIPE_STATE_DIR")
	setString(&c.OutputPath, "LISTINGPIPE_OUTPUT")
	setString(&c.OutputFormat, "LISTINGPIPE_OUTPUT_FORMAT")
	setString(&c.DedupPath, "LISTINGPIPE_DEDUP_PATH")
	setString(&c.DatabaseDSN, "DATABASE_DSN")
	setString(&c.DatabaseDSN, "LISTINGPIPE_DATABASE_DSN")
	setString(&c.Fetch.BaseURL, "LISTINGPIPE_FETCH_URL")
	setString(&c.Fetch.InputPath, "LISTINGPIPE_INPUT")
	setString(&c.Schedule, "LISTINGPIPE_SCHEDULE")
	setString(&c.LogLevel, "LOG_LEVEL")

	n := &c.Notifications
	setString(&n.SlackWebhookURL, "SLACK_WEBHOOK_URL")
	setString(&n.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	setString(&n.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	setString(&n.Twilio.From, "TWILIO_FROM")
	setList(&n.Twilio.To, "TWILIO_TO")
	setString(&n.WhatsApp.DBDSN, "WHATSAPP_DB_DSN")
	setList(&n.WhatsApp.To, "WHATSAPP_TO")
	setString(&n.GenAI.APIKey, "OPENAI_API_KEY")
	setString(&n.GenAI.Model, "OPENAI_MODEL")
	n.GenAI.Enabled = util.ParseBoolEnv("LISTINGPIPE_GENAI", n.GenAI.Enabled)
}

// ApplyDefaults fills zero-valued fields. Paths left empty are derived from StateDir.
func (c *Config) ApplyDefaults() {
	if c.MaxAge <= 0 {
		c.MaxAge = Duration(models.DefaultMaxAge)
	}
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if c.OutputFormat == "" {
		c.OutputFormat = DefaultOutputFormat
	}
	c.OutputFormat = strings.ToLower(strings.TrimSpace(c.OutputFormat))
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = Duration(DefaultFetchTimeout)
	}
	if c.Notifications.MaxAttempts <= 0 {
		c.Notifications.MaxAttempts = DefaultNotifyRetries
	}
}

// ResolvePaths derives output and dedup paths from the state directory when unset.
func (c *Config) ResolvePaths() {
	if c.OutputPath == "" {
		name := "listings.jsonl"
		if c.OutputFormat == FormatCSV {
			name = "listings.csv"
		}
		c.OutputPath = filepath.Join(c.StateDir, name)
	}
	if c.DedupPath == "" {
		c.DedupPath = filepath.Join(c.StateDir, "seen_ids.txt")
	}
}

// Validate checks settings that would make a run meaningless.
func (c *Config) Validate() error {
	if c.OutputFormat != FormatJSONL && c.OutputFormat != FormatCSV {
		return fmt.Errorf("%w: %q", ErrInvalidFormat, c.OutputFormat)
	}
	if c.Workers < 1 {
		return ErrInvalidWorkers
	}
	return nil
}

// FilterConfig returns the filter settings.
func (c *Config) FilterConfig() models.FilterConfig {
	return models.NewFilterConfig(time.Duration(c.MaxAge), c.AntiKeywords, c.AllowShipping)
}

// Queries returns the cartesian product of configured locations and search terms.
func (c *Config) Queries() ([]models.Query, error) {
	terms := nonEmpty(c.SearchTerms)
	locations := nonEmpty(c.Locations)
	if len(terms) == 0 || len(locations) == 0 {
		return nil, ErrNoQueries
	}
	out := make([]models.Query, 0, len(terms)*len(locations))
	for _, loc := range locations {
		for _, term := range terms {
			out = append(out, models.Query{SearchTerm: term, Location: loc})
		}
	}
	return out, nil
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
