package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"parkwise/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("PARKWISE_DB", filepath.Join(tmpDir, "parkwise.db"))

	yamlContent := `
database:
  path: "${PARKWISE_DB}"
occupancy:
  policy: majority
  min_confidence: 0.6
booking:
  hold_grace: 5m
facilities:
  - id: "downtown"
    name: "Downtown Garage"
    latitude: 12.97
    longitude: 77.59
    total_slots: 10
    hourly_rate: 20
    overtime_multiplier: 1.5
    cameras:
      - id: "cam-1"
        slot_index: 1
      - id: "cam-zone"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(tmpDir, "parkwise.db"), cfg.Database.Path)
	assert.Equal(t, models.PolicyMajority, cfg.Occupancy.Policy)
	assert.Equal(t, 5*time.Minute, cfg.Booking.HoldGrace)
	require.Len(t, cfg.Facilities, 1)
	assert.Equal(t, 10, cfg.Facilities[0].TotalSlots)
	require.Len(t, cfg.Facilities[0].Cameras, 2)
	assert.Equal(t, 1, *cfg.Facilities[0].Cameras[0].SlotIndex)
	assert.Nil(t, cfg.Facilities[0].Cameras[1].SlotIndex)
}

func TestLoadConfigWithFacilitiesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	facilitiesPath := filepath.Join(tmpDir, "facilities.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte("database:\n  path: test.db\n"), 0o644))
	require.NoError(t, os.WriteFile(facilitiesPath, []byte(`
facilities:
  - id: "mall"
    name: "Mall"
    total_slots: 4
    hourly_rate: 30
`), 0o644))
	t.Setenv("FACILITIES_PATH", facilitiesPath)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.Len(t, cfg.Facilities, 1)
	assert.Equal(t, "mall", cfg.Facilities[0].ID)
	assert.Equal(t, 30.0, cfg.Facilities[0].HourlyRate)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	base := func() Config {
		c := Config{Database: DatabaseConfig{Path: "path"}}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "missing database", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "unknown policy", mutate: func(c *Config) { c.Occupancy.Policy = "any" }, wantErr: true},
		{name: "confidence out of range", mutate: func(c *Config) { c.Occupancy.MinConfidence = 1.2 }, wantErr: true},
		{name: "predictor without url", mutate: func(c *Config) { c.Predictor.Enabled = true }, wantErr: true},
		{name: "http payment without url", mutate: func(c *Config) { c.Payment.Provider = "http" }, wantErr: true},
		{name: "remote feed without url", mutate: func(c *Config) { c.Feed.Enabled = true }, wantErr: true},
		{name: "embedded feed", mutate: func(c *Config) { c.Feed.Enabled = true; c.Feed.Embedded = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	assert.Equal(t, 8080, cfg.API.HTTP.Port)
	assert.Equal(t, "x-api-key", cfg.API.Auth.HeaderAPIKey)
	assert.Equal(t, models.DefaultDetectionWindow, cfg.Occupancy.Window)
	assert.Equal(t, models.PolicyUnanimous, cfg.Occupancy.Policy)
	assert.Zero(t, cfg.Occupancy.MinDwell)
	assert.Equal(t, models.DefaultHoldGrace, cfg.Booking.HoldGrace)
	assert.Equal(t, models.DefaultPredictionTTL, cfg.Predictor.CacheTTL)
	assert.Equal(t, "static", cfg.Payment.Provider)
	assert.Equal(t, "parking.detections", cfg.Feed.Subject)
	assert.Equal(t, "exports", cfg.Exports.Path)
}

func TestValidateFacilities(t *testing.T) {
	tests := []struct {
		name       string
		facilities []models.Facility
		wantErr    bool
	}{
		{
			name:       "valid",
			facilities: []models.Facility{{ID: "a", TotalSlots: 2}, {ID: "b", TotalSlots: 1}},
		},
		{
			name:       "empty id",
			facilities: []models.Facility{{Name: "x", TotalSlots: 1}},
			wantErr:    true,
		},
		{
			name:       "duplicate id",
			facilities: []models.Facility{{ID: "a", TotalSlots: 1}, {ID: "a", TotalSlots: 1}},
			wantErr:    true,
		},
		{
			name:       "no slots",
			facilities: []models.Facility{{ID: "a"}},
			wantErr:    true,
		},
		{
			name: "camera slot out of range",
			facilities: []models.Facility{{
				ID: "a", TotalSlots: 2,
				Cameras: []models.CameraBinding{{ID: "c", SlotIndex: intPtr(3)}},
			}},
			wantErr: true,
		},
		{
			name: "duplicate camera",
			facilities: []models.Facility{{
				ID: "a", TotalSlots: 2,
				Cameras: []models.CameraBinding{{ID: "c"}, {ID: "c"}},
			}},
			wantErr: true,
		},
		{
			name: "camera shared across facilities",
			facilities: []models.Facility{
				{ID: "a", TotalSlots: 1, Cameras: []models.CameraBinding{{ID: "c"}}},
				{ID: "b", TotalSlots: 1, Cameras: []models.CameraBinding{{ID: "c"}}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFacilities(tt.facilities)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
