package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"parkwise/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App            AppConfig         `yaml:"app"`
	Database       DatabaseConfig    `yaml:"database"`
	Redis          RedisConfig       `yaml:"redis"`
	Backup         BackupConfig      `yaml:"backup"`
	Monitoring     MonitoringConfig  `yaml:"monitoring"`
	Logging        LoggingConfig     `yaml:"logging"`
	API            APIConfig         `yaml:"api"`
	Occupancy      OccupancyConfig   `yaml:"occupancy"`
	Booking        BookingConfig     `yaml:"booking"`
	Predictor      PredictorConfig   `yaml:"predictor"`
	Payment        PaymentConfig     `yaml:"payment"`
	Feed           FeedConfig        `yaml:"feed"`
	Exports        ExportConfig      `yaml:"exports"`
	FacilitiesPath string            `yaml:"facilities_path"`
	Facilities     []models.Facility `yaml:"facilities"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
	// PerMinute is a fixed-window quota per key shared through redis; 0 disables it.
	PerMinute int `yaml:"per_minute"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// OccupancyConfig tunes detection noise suppression.
type OccupancyConfig struct {
	Window        int           `yaml:"window"`
	Policy        string        `yaml:"policy"`
	MinConfidence float64       `yaml:"min_confidence"`
	MinDwell      time.Duration `yaml:"min_dwell"`
}

type BookingConfig struct {
	HoldGrace          time.Duration `yaml:"hold_grace"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	MaxDurationMinutes int           `yaml:"max_duration_minutes"`
}

type PredictorConfig struct {
	Enabled     bool          `yaml:"enabled"`
	URL         string        `yaml:"url"`
	Timeout     time.Duration `yaml:"timeout"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

type PaymentConfig struct {
	Provider    string        `yaml:"provider"`
	URL         string        `yaml:"url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

type FeedConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	Subject   string `yaml:"subject"`
	Queue     string `yaml:"queue"`
	Embedded  bool   `yaml:"embedded"`
	// Port of the embedded server; 0 picks a free port.
	Port      int    `yaml:"port"`
	Workers   int    `yaml:"workers"`
	QueueSize int    `yaml:"queue_size"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	if path := os.Getenv("FACILITIES_PATH"); path != "" {
		config.FacilitiesPath = path
	}
	if config.FacilitiesPath != "" {
		facilities, err := LoadFacilities(config.FacilitiesPath)
		if err != nil {
			return nil, fmt.Errorf("load facilities: %w", err)
		}
		config.Facilities = append(config.Facilities, facilities...)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	switch c.Occupancy.Policy {
	case models.PolicyUnanimous, models.PolicyMajority:
	default:
		return fmt.Errorf("unknown occupancy policy %q", c.Occupancy.Policy)
	}
	if c.Occupancy.MinConfidence < 0 || c.Occupancy.MinConfidence > 1 {
		return errors.New("occupancy.min_confidence must be within [0,1]")
	}

	if c.Predictor.Enabled && c.Predictor.URL == "" {
		return errors.New("predictor.url is required when predictor is enabled")
	}
	if c.Feed.Enabled && !c.Feed.Embedded && c.Feed.URL == "" {
		return errors.New("feed.url is required unless feed.embedded is set")
	}
	if c.Payment.Provider == "http" && c.Payment.URL == "" {
		return errors.New("payment.url is required for the http provider")
	}

	return ValidateFacilities(c.Facilities)
}

// ValidateFacilities checks ids, pricing and camera bindings. Camera ids must
// be unique across all facilities since detections carry no facility id.
func ValidateFacilities(facilities []models.Facility) error {
	ids := make(map[string]bool)
	cameras := make(map[string]bool)
	for _, f := range facilities {
		if f.ID == "" {
			return fmt.Errorf("facility '%s' has empty ID", f.Name)
		}
		if ids[f.ID] {
			return fmt.Errorf("duplicate facility ID found: %s", f.ID)
		}
		ids[f.ID] = true

		if f.TotalSlots <= 0 {
			return fmt.Errorf("facility %s must have at least one slot", f.ID)
		}
		if f.HourlyRate < 0 || f.OvertimeMultiplier < 0 {
			return fmt.Errorf("facility %s has negative pricing", f.ID)
		}

		for _, cam := range f.Cameras {
			if cam.ID == "" || cameras[cam.ID] {
				return fmt.Errorf("facility %s has empty or duplicate camera %q", f.ID, cam.ID)
			}
			cameras[cam.ID] = true
			if cam.SlotIndex != nil && !f.ValidSlot(*cam.SlotIndex) {
				return fmt.Errorf("facility %s camera %s bound to slot %d out of range", f.ID, cam.ID, *cam.SlotIndex)
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "parkwise"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.HTTP.ReadTimeout == 0 {
		c.API.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.API.HTTP.WriteTimeout == 0 {
		c.API.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 20
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 40
	}

	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "parkwise:"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}

	if c.Occupancy.Window == 0 {
		c.Occupancy.Window = models.DefaultDetectionWindow
	}
	if c.Occupancy.Policy == "" {
		c.Occupancy.Policy = models.PolicyUnanimous
	}

	if c.Booking.HoldGrace == 0 {
		c.Booking.HoldGrace = models.DefaultHoldGrace
	}
	if c.Booking.SweepInterval == 0 {
		c.Booking.SweepInterval = models.DefaultSweepInterval
	}
	if c.Booking.MaxDurationMinutes == 0 {
		c.Booking.MaxDurationMinutes = 24 * 60
	}

	if c.Predictor.Timeout == 0 {
		c.Predictor.Timeout = 2 * time.Second
	}
	if c.Predictor.CacheTTL == 0 {
		c.Predictor.CacheTTL = models.DefaultPredictionTTL
	}
	if c.Predictor.MaxFailures == 0 {
		c.Predictor.MaxFailures = 5
	}
	if c.Predictor.OpenTimeout == 0 {
		c.Predictor.OpenTimeout = 30 * time.Second
	}

	if c.Payment.Provider == "" {
		c.Payment.Provider = "static"
	}
	if c.Payment.Timeout == 0 {
		c.Payment.Timeout = 5 * time.Second
	}
	if c.Payment.MaxFailures == 0 {
		c.Payment.MaxFailures = 5
	}
	if c.Payment.OpenTimeout == 0 {
		c.Payment.OpenTimeout = 30 * time.Second
	}

	if c.Feed.Subject == "" {
		c.Feed.Subject = "parking.detections"
	}
	if c.Feed.Queue == "" {
		c.Feed.Queue = "parkwise-ingest"
	}
	if c.Feed.Workers == 0 {
		c.Feed.Workers = 4
	}
	if c.Feed.QueueSize == 0 {
		c.Feed.QueueSize = 1024
	}
}
