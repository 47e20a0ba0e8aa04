package ekf

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// IMUNoise holds 1-sigma noise per IMU sample for the six disturbance
// channels driving the process-noise injection.
type IMUNoise struct {
	DeltaAngle    [3]float64 `yaml:"delta_angle"`    // rad
	DeltaVelocity [3]float64 `yaml:"delta_velocity"` // m/s
}

// ProcessNoise holds the 1-sigma random-walk growth per √s for the
// slowly-varying states.  Their deterministic dynamics are identity; these
// rates are the only thing that lets them move.
type ProcessNoise struct {
	GyroBias   float64 `yaml:"gyro_bias"`    // rad/√s
	GyroScale  float64 `yaml:"gyro_scale"`   // 1/√s
	AccelBiasZ float64 `yaml:"accel_bias_z"` // m/s/√s
	MagEarth   float64 `yaml:"mag_earth"`    // mGauss/√s
	MagBody    float64 `yaml:"mag_body"`     // mGauss/√s
	Wind       float64 `yaml:"wind"`         // m/s/√s
}

// MeasurementNoise holds the measurement noise variances, one per fused
// scalar.
type MeasurementNoise struct {
	VelN float64 `yaml:"vel_n"` // (m/s)²
	VelE float64 `yaml:"vel_e"`
	VelD float64 `yaml:"vel_d"`
	PosN float64 `yaml:"pos_n"` // m²
	PosE float64 `yaml:"pos_e"`
	PosD float64 `yaml:"pos_d"`
	TAS  float64 `yaml:"tas"`  // (m/s)²
	Beta float64 `yaml:"beta"` // rad²
	Mag  float64 `yaml:"mag"`  // mGauss²
	Decl float64 `yaml:"decl"` // rad²
	LOS  float64 `yaml:"los"`  // (rad/s)²
	Acc  float64 `yaml:"acc"`  // (m/s²)²
}

// InitialUncertainty holds the 1-sigma initial uncertainty per state group.
type InitialUncertainty struct {
	RotErr     float64 `yaml:"rot_err"`      // rad
	Vel        float64 `yaml:"vel"`          // m/s
	Pos        float64 `yaml:"pos"`          // m
	GyroBias   float64 `yaml:"gyro_bias"`    // rad
	GyroScale  float64 `yaml:"gyro_scale"`   // dimensionless
	AccelBiasZ float64 `yaml:"accel_bias_z"` // m/s
	MagEarth   float64 `yaml:"mag_earth"`    // mGauss
	MagBody    float64 `yaml:"mag_body"`     // mGauss
	Wind       float64 `yaml:"wind"`         // m/s
}

func (u InitialUncertainty) diagonal() [NStates]float64 {
	var d [NStates]float64
	for i := 0; i < 3; i++ {
		d[RotErrX+i] = u.RotErr
		d[VelN+i] = u.Vel
		d[PosN+i] = u.Pos
		d[DaxBias+i] = u.GyroBias
		d[DaxScale+i] = u.GyroScale
		d[MagN+i] = u.MagEarth
		d[MagX+i] = u.MagBody
	}
	d[DvzBias] = u.AccelBiasZ
	d[WindN] = u.Wind
	d[WindE] = u.Wind
	return d
}

// Config holds everything fixed at filter construction.
type Config struct {
	Gravity     float64 `yaml:"gravity"`     // m/s², positive down
	AirDensity  float64 `yaml:"air_density"` // kg/m³
	DragCoef    float64 `yaml:"drag_coef"`   // K_acc at sea-level density, 1/s
	Declination float64 `yaml:"declination"` // rad, east positive
	GateSigmas  float64 `yaml:"gate"`        // innovation gate, sigmas; 0 disables

	IMU     IMUNoise           `yaml:"imu_noise"`
	Process ProcessNoise       `yaml:"process_noise"`
	R       MeasurementNoise   `yaml:"measurement_noise"`
	Init    InitialUncertainty `yaml:"initial_uncertainty"`
}

// DefaultConfig returns tuning suitable for a small UAV with a consumer-grade
// IMU sampled at 100 Hz.  Specifics here aren't too important for the slow
// states--the covariance adapts quickly once aiding starts.
func DefaultConfig() Config {
	return Config{
		Gravity:     9.80665,
		AirDensity:  1.225,
		DragCoef:    0.15,
		Declination: 0,
		GateSigmas:  0,
		IMU: IMUNoise{
			DeltaAngle:    [3]float64{2e-4, 2e-4, 2e-4},
			DeltaVelocity: [3]float64{5e-3, 5e-3, 5e-3},
		},
		Process: ProcessNoise{
			GyroBias:   1e-6,
			GyroScale:  1e-6,
			AccelBiasZ: 1e-4,
			MagEarth:   3e-3,
			MagBody:    3e-3,
			Wind:       0.1,
		},
		R: MeasurementNoise{
			VelN: 0.09, VelE: 0.09, VelD: 0.09,
			PosN: 0.25, PosE: 0.25, PosD: 0.25,
			TAS: 2.0, Beta: 0.03,
			Mag: 25, Decl: 0.01,
			LOS: 0.03, Acc: 0.25,
		},
		Init: InitialUncertainty{
			RotErr:     0.1,
			Vel:        0.7,
			Pos:        15,
			GyroBias:   1e-3,
			GyroScale:  1e-3,
			AccelBiasZ: 0.2,
			MagEarth:   50,
			MagBody:    50,
			Wind:       3,
		},
	}
}

// LoadConfig reads a YAML tuning file over DefaultConfig and validates it.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "ekf: reading config")
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, errors.Wrap(err, "ekf: parsing config")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the filter cannot run with.
func (c Config) Validate() error {
	if c.Gravity <= 0 {
		return errors.Errorf("ekf: gravity must be positive, got %v", c.Gravity)
	}
	if c.AirDensity <= 0 {
		return errors.Errorf("ekf: air density must be positive, got %v", c.AirDensity)
	}
	if c.DragCoef < 0 {
		return errors.Errorf("ekf: drag coefficient must be non-negative, got %v", c.DragCoef)
	}
	if c.GateSigmas < 0 {
		return errors.Errorf("ekf: innovation gate must be non-negative, got %v", c.GateSigmas)
	}
	for i := 0; i < 3; i++ {
		if c.IMU.DeltaAngle[i] < 0 || c.IMU.DeltaVelocity[i] < 0 {
			return errors.New("ekf: IMU noise must be non-negative")
		}
	}
	for _, v := range []float64{
		c.Process.GyroBias, c.Process.GyroScale, c.Process.AccelBiasZ,
		c.Process.MagEarth, c.Process.MagBody, c.Process.Wind,
	} {
		if v < 0 {
			return errors.New("ekf: process noise must be non-negative")
		}
	}
	for _, v := range []float64{
		c.R.VelN, c.R.VelE, c.R.VelD, c.R.PosN, c.R.PosE, c.R.PosD,
		c.R.TAS, c.R.Beta, c.R.Mag, c.R.Decl, c.R.LOS, c.R.Acc,
	} {
		if v < 0 {
			return errors.New("ekf: measurement noise variance must be non-negative")
		}
	}
	for _, v := range []float64{
		c.Init.RotErr, c.Init.Vel, c.Init.Pos, c.Init.GyroBias, c.Init.GyroScale,
		c.Init.AccelBiasZ, c.Init.MagEarth, c.Init.MagBody, c.Init.Wind,
	} {
		if v < 0 {
			return errors.New("ekf: initial uncertainty must be non-negative")
		}
	}
	return nil
}
