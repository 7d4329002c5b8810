package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"doorcal/internal/model"
)

// GeneralConfig controls the schedule window and notification policy.
type GeneralConfig struct {
	// DaysInPast and DaysInFuture bound the window around today.
	DaysInPast   int `yaml:"days_to_schedule_in_the_past" json:"days_to_schedule_in_the_past" validate:"gte=0"`
	DaysInFuture int `yaml:"days_to_schedule_in_the_future" json:"days_to_schedule_in_the_future" validate:"gte=0"`

	// SendEmails makes the external calendar notify attendees of changes.
	SendEmails bool `yaml:"send_emails" json:"send_emails"`

	// ClipWeeklyToWindow also clips WEEKLY occurrences to the window. Off by
	// default: weekly rules then produce every future occurrence up to until.
	ClipWeeklyToWindow bool `yaml:"clip_weekly_to_window" json:"clip_weekly_to_window"`
}

// GoogleConfig describes the target Google Calendar.
type GoogleConfig struct {
	CalendarID      string `yaml:"calendar_id" json:"calendar_id" validate:"required"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`

	// Colors maps a door status to a Google Calendar event colorId.
	Colors map[string]string `yaml:"colors" json:"colors" validate:"dive,keys,oneof=locked access_controlled card_and_code unlocked,endkeys,required"`
}

// VerkadaConfig configures the access-control provider API client.
type VerkadaConfig struct {
	BaseURL           string  `yaml:"base_url" json:"base_url" validate:"required,url"`
	TimeoutSeconds    int     `yaml:"timeout_seconds" json:"timeout_seconds" validate:"gt=0"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" validate:"gt=0"`
	MaxRetries        int     `yaml:"max_retries" json:"max_retries" validate:"gte=0,lte=10"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" validate:"required"`
	Password string `yaml:"password" json:"password" validate:"required"`
}

// DaemonConfig is used by `doorcal daemon`.
type DaemonConfig struct {
	// Listen is the HTTP listen address for the status API.
	Listen string `yaml:"listen" json:"listen" validate:"required,hostname_port"`

	// Refresh is a cron-style schedule string (e.g. "*/15 * * * *").
	Refresh string `yaml:"refresh" json:"refresh" validate:"required"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// LockConfig selects the run lock. An empty RedisAddr means an in-process
// lock.
type LockConfig struct {
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword string `yaml:"redis_password" json:"-"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db" validate:"gte=0"`
	Key           string `yaml:"key" json:"key" validate:"required"`
	TTLSeconds    int    `yaml:"ttl_seconds" json:"ttl_seconds" validate:"gt=0"`
}

// LogConfig configures internal/log.
type LogConfig struct {
	Level    string `yaml:"level" json:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Encoding string `yaml:"encoding" json:"encoding" validate:"oneof=console json"`
}

// Config is the top-level application configuration.
type Config struct {
	General GeneralConfig `yaml:"general" json:"general"`
	Google  GoogleConfig  `yaml:"google" json:"google"`
	Verkada VerkadaConfig `yaml:"verkada" json:"verkada"`
	Daemon  DaemonConfig  `yaml:"daemon" json:"daemon"`
	Lock    LockConfig    `yaml:"lock" json:"lock"`
	Log     LogConfig     `yaml:"log" json:"log"`
}

const (
	defaultBaseURL = "https://api.verkada.com"
	defaultListen  = "127.0.0.1:8080"
	defaultRefresh = "*/15 * * * *"
	defaultLockKey = "doorcal:sync"
)

func defaultColors() map[string]string {
	return map[string]string{
		string(model.StatusLocked):           "11",
		string(model.StatusAccessControlled): "5",
		string(model.StatusCardAndCode):      "6",
		string(model.StatusUnlocked):         "10",
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			DaysInPast:   7,
			DaysInFuture: 30,
		},
		Google: GoogleConfig{
			CalendarID:      "primary",
			CredentialsFile: "credentials.json",
			Colors:          defaultColors(),
		},
		Verkada: VerkadaConfig{
			BaseURL:           defaultBaseURL,
			TimeoutSeconds:    30,
			RequestsPerSecond: 5,
			MaxRetries:        3,
		},
		Daemon: DaemonConfig{
			Listen:  defaultListen,
			Refresh: defaultRefresh,
		},
		Lock: LockConfig{
			Key:        defaultLockKey,
			TTLSeconds: 600,
		},
		Log: LogConfig{
			Level:    "warn",
			Encoding: "console",
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly. Negative day counts are
// left for Validate to reject.
func (c *Config) Normalize() {
	if c.Google.Colors == nil {
		c.Google.Colors = map[string]string{}
	}
	for status, color := range defaultColors() {
		if _, ok := c.Google.Colors[status]; !ok {
			c.Google.Colors[status] = color
		}
	}

	if c.Verkada.BaseURL == "" {
		c.Verkada.BaseURL = defaultBaseURL
	}
	if c.Verkada.TimeoutSeconds <= 0 {
		c.Verkada.TimeoutSeconds = 30
	}
	if c.Verkada.RequestsPerSecond <= 0 {
		c.Verkada.RequestsPerSecond = 5
	}

	if c.Daemon.Listen == "" {
		c.Daemon.Listen = defaultListen
	}
	if c.Daemon.Refresh == "" {
		c.Daemon.Refresh = defaultRefresh
	}

	if c.Lock.Key == "" {
		c.Lock.Key = defaultLockKey
	}
	if c.Lock.TTLSeconds <= 0 {
		c.Lock.TTLSeconds = 600
	}

	if c.Log.Level == "" {
		c.Log.Level = "warn"
	}
	switch c.Log.Encoding {
	case "console", "json":
	default:
		c.Log.Encoding = "console"
	}
}

var validate = validator.New()

// Validate checks the struct tags. The returned error lists every failing
// field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

// Window derives the schedule window around the wall-clock date of now.
func (c *Config) Window(now time.Time) model.ScheduleWindow {
	today := model.Date(now)
	return model.ScheduleWindow{
		FirstDate: today.AddDate(0, 0, -c.General.DaysInPast),
		LastDate:  today.AddDate(0, 0, c.General.DaysInFuture),
	}
}

// Color returns the configured colorId for a status, or "" when unset.
func (c *Config) Color(status model.DoorStatus) string {
	return c.Google.Colors[string(status)]
}

// VerkadaTimeout is the per-request HTTP timeout.
func (c *Config) VerkadaTimeout() time.Duration {
	return time.Duration(c.Verkada.TimeoutSeconds) * time.Second
}

// LockTTL bounds how long a crashed run can hold the lock.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Lock.TTLSeconds) * time.Second
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written there with
//     0600 perms and returned.
//   - Otherwise the YAML is unmarshalled, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes cfg to path atomically via a temp file + rename, creating the
// parent directory (0700) if needed. The final file is 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrapf(err, "create config dir %s", dir)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	tmp, err := os.CreateTemp(dir, ".doorcal-config-*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp config")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "replace config %s", path)
	}

	return nil
}

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
