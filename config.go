// CLAUDE:SUMMARY Engine configuration: YAML file shapes, strict decoding, and defaults.
package guet

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config is the top-level engine configuration.
type Config struct {
	// DB is the SQLite file holding baselines, the alert outbox and the
	// event log.
	DB     string `yaml:"db"`
	Listen string `yaml:"listen"`

	Fetch     FetchConfig     `yaml:"fetch"`
	Health    HealthConfig    `yaml:"health"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Reload    ReloadConfig    `yaml:"reload"`
	Retention RetentionConfig `yaml:"retention"`
	Notify    NotifyConfig    `yaml:"notify"`
	Targets   []TargetConfig  `yaml:"targets"`
}

// FetchConfig tunes the shared page fetcher. Zero values fall back to
// the fetcher's own defaults.
type FetchConfig struct {
	UserAgent     string        `yaml:"user_agent"`
	Timeout       time.Duration `yaml:"timeout"`
	RenderTimeout time.Duration `yaml:"render_timeout"`
	MaxBytes      int64         `yaml:"max_bytes" validate:"omitempty,min=1024"`
	// AllowPrivate permits targets on private and loopback addresses,
	// for intranet status pages and lab fixtures. Off, the SSRF guard
	// rejects them on every redirect hop.
	AllowPrivate bool `yaml:"allow_private"`
}

// HealthConfig sets the consecutive-anomaly thresholds shared by all
// watchers.
type HealthConfig struct {
	DegradedAfter    int           `yaml:"degraded_after" validate:"omitempty,min=1"`
	FailingAfter     int           `yaml:"failing_after" validate:"omitempty,min=1"`
	UnknownAfter     int           `yaml:"unknown_after" validate:"omitempty,min=1"`
	DegradationPause time.Duration `yaml:"degradation_pause"`
}

// DispatchConfig tunes outbox draining.
type DispatchConfig struct {
	Poll       time.Duration `yaml:"poll"`
	BatchSize  int           `yaml:"batch_size" validate:"omitempty,min=1"`
	Visibility time.Duration `yaml:"visibility"`
}

// ReloadConfig tunes live configuration reload.
type ReloadConfig struct {
	Poll     time.Duration `yaml:"poll"`
	Debounce time.Duration `yaml:"debounce"`
}

// RetentionConfig bounds the delivered-alert and event history.
type RetentionConfig struct {
	Alerts    time.Duration `yaml:"alerts"`
	Events    time.Duration `yaml:"events"`
	EventRows int           `yaml:"event_rows" validate:"omitempty,min=100"`
	Sweep     time.Duration `yaml:"sweep"`
}

// NotifyConfig selects the alert sinks. With nothing configured, alerts
// go to the structured log so they are never silently dropped.
type NotifyConfig struct {
	Log     bool     `yaml:"log"`
	Webhook string   `yaml:"webhook" validate:"omitempty,url"`
	Command []string `yaml:"command"`
}

// TargetConfig is the on-disk shape of one monitored page.
type TargetConfig struct {
	ID                string        `yaml:"id"`
	Name              string        `yaml:"name"`
	URL               string        `yaml:"url"`
	Rule              Rule          `yaml:"rule"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	Render            bool          `yaml:"render"`
	ForceRefreshEvery time.Duration `yaml:"force_refresh_every"`
	Policy            PolicyConfig  `yaml:"policy"`
}

// PolicyConfig is the on-disk shape of an alert policy. Threshold is a
// string because YAML floats lose precision on prices.
type PolicyConfig struct {
	Cooldown    time.Duration `yaml:"cooldown"`
	ResumePause time.Duration `yaml:"resume_pause"`
	PriceMode   string        `yaml:"price_mode"`
	Threshold   string        `yaml:"threshold"`
	Direction   string        `yaml:"direction"`
}

// LoadFile reads and parses the YAML configuration at path. Unknown
// keys are rejected so a typo cannot silently disable a setting.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses raw YAML into a validated Config with defaults
// applied. Target entries are kept raw; BuildTargets converts them.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DB == "" {
		c.DB = "guet.db"
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8667"
	}
	if c.Reload.Debounce <= 0 {
		// Editors often write a file in several passes.
		c.Reload.Debounce = 500 * time.Millisecond
	}
	if c.Retention.Alerts <= 0 {
		c.Retention.Alerts = 30 * 24 * time.Hour
	}
	if c.Retention.Events <= 0 {
		c.Retention.Events = 14 * 24 * time.Hour
	}
	if c.Retention.EventRows <= 0 {
		c.Retention.EventRows = 50000
	}
	if c.Retention.Sweep <= 0 {
		c.Retention.Sweep = time.Hour
	}
	if !c.Notify.Log && c.Notify.Webhook == "" && len(c.Notify.Command) == 0 {
		c.Notify.Log = true
	}
}

