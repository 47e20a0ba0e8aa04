package ekf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero gravity", func(c *Config) { c.Gravity = 0 }},
		{"negative air density", func(c *Config) { c.AirDensity = -1 }},
		{"negative drag", func(c *Config) { c.DragCoef = -0.1 }},
		{"negative gate", func(c *Config) { c.GateSigmas = -3 }},
		{"negative imu noise", func(c *Config) { c.IMU.DeltaAngle[1] = -1e-4 }},
		{"negative process noise", func(c *Config) { c.Process.Wind = -0.1 }},
		{"negative measurement noise", func(c *Config) { c.R.TAS = -2 }},
		{"negative initial uncertainty", func(c *Config) { c.Init.MagEarth = -50 }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := DefaultConfig()
			c.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nav.yaml")
	body := `
gravity: 9.81
declination: 0.23
gate: 5
imu_noise:
  delta_angle: [1.0e-4, 1.0e-4, 2.0e-4]
measurement_noise:
  tas: 4.0
initial_uncertainty:
  wind: 5
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9.81, cfg.Gravity)
	assert.Equal(t, 0.23, cfg.Declination)
	assert.Equal(t, 5.0, cfg.GateSigmas)
	assert.Equal(t, 2e-4, cfg.IMU.DeltaAngle[2])
	assert.Equal(t, 4.0, cfg.R.TAS)
	assert.Equal(t, 5.0, cfg.Init.Wind)

	// untouched keys keep their defaults
	def := DefaultConfig()
	assert.Equal(t, def.AirDensity, cfg.AirDensity)
	assert.Equal(t, def.R.Mag, cfg.R.Mag)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("gravity: [not, a, number]"), 0o644))
	_, err = LoadConfig(bad)
	assert.Error(t, err)

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("gravity: -9.8"), 0o644))
	_, err = LoadConfig(invalid)
	assert.Error(t, err)
}
