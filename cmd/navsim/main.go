// navsim runs the navigation filter against a synthesized flight scenario
// and reports how well it tracks the truth.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"go.uber.org/zap"

	"github.com/ThomasSFL/InertialNav/ekf"
	"github.com/ThomasSFL/InertialNav/sim"
)

func main() {
	var (
		scenario   string
		configPath string
		logPath    string
		dt         float64
		aidEvery   int
		seed       int64
		gyroNoise  float64
		accelNoise float64
		velNoise   float64
		posNoise   float64
		magNoise   float64
		verbose    bool
	)
	flag.StringVar(&scenario, "scenario", "turn", "scenario to fly: level, turn or takeoff")
	flag.StringVar(&configPath, "config", "", "YAML filter tuning file; defaults apply if empty")
	flag.StringVar(&logPath, "log", "", "CSV file to record the run to")
	flag.Float64Var(&dt, "dt", 0.01, "IMU sample interval, s")
	flag.IntVar(&aidEvery, "aid", 10, "fuse aiding measurements every n IMU samples")
	flag.Int64Var(&seed, "seed", 1, "noise generator seed")
	flag.Float64Var(&gyroNoise, "gyro-noise", 2e-4, "gyro noise per sample, rad")
	flag.Float64Var(&accelNoise, "accel-noise", 5e-3, "accelerometer noise per sample, m/s")
	flag.Float64Var(&velNoise, "vel-noise", 0.3, "velocity measurement noise, m/s")
	flag.Float64Var(&posNoise, "pos-noise", 0.5, "position measurement noise, m")
	flag.Float64Var(&magNoise, "mag-noise", 5, "magnetometer noise, mGauss")
	flag.BoolVar(&verbose, "v", false, "debug logging")
	flag.Parse()

	logCfg := zap.NewProductionConfig()
	if verbose {
		logCfg = zap.NewDevelopmentConfig()
	}
	zl, err := logCfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer zl.Sync()
	log := zl.Sugar()

	if err := run(log, scenario, configPath, logPath, dt, aidEvery, seed,
		sim.Noise{Gyro: gyroNoise, Accel: accelNoise, Vel: velNoise, Pos: posNoise, Mag: magNoise}); err != nil {
		log.Fatalw("run failed", "error", err)
	}
}

func run(log *zap.SugaredLogger, scenario, configPath, logPath string, dt float64, aidEvery int, seed int64, noise sim.Noise) error {
	cfg := ekf.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = ekf.LoadConfig(configPath); err != nil {
			return err
		}
	}

	var scn *sim.Scenario
	switch scenario {
	case "level":
		scn = sim.Level(50, 0.5, 3, -4, 120)
	case "turn":
		scn = sim.Turn(50)
	case "takeoff":
		scn = sim.Takeoff()
	default:
		return fmt.Errorf("unknown scenario %q", scenario)
	}

	errs := sim.SensorErrors{
		GyroBias:   [3]float64{3e-4, -2e-4, 4e-4},
		GyroScale:  [3]float64{2e-3, -1e-3, 1e-3},
		AccelBiasZ: 0.05,
	}
	st, err := sim.NewStepper(scn, dt, noise, errs, seed)
	if err != nil {
		return err
	}

	f, err := ekf.New(cfg, log)
	if err != nil {
		return err
	}
	x0 := st.Truth()
	f.SetAttitude(x0.Roll, x0.Pitch, x0.Psi)
	f.SetVelocity(x0.VelN, x0.VelE, x0.VelD)
	f.SetMagField(scn.MagField[0], scn.MagField[1], scn.MagField[2])

	var rec *sim.RunLogger
	if logPath != "" {
		rec, err = sim.NewRunLogger(logPath,
			"t", "roll", "pitch", "heading", "rollTrue", "pitchTrue", "headingTrue",
			"velN", "velE", "velD", "velNTrue", "velETrue", "velDTrue",
			"posN", "posE", "posD", "droll", "dpitch", "dheading")
		if err != nil {
			return err
		}
		defer rec.Close()
	}

	log.Infow("starting run", "scenario", scenario, "dt", dt, "duration", scn.EndTime()-scn.BeginTime())

	var maxAttErr, maxVelErr float64
	n := 0
	for !st.Done() {
		s, err := st.Step()
		if err != nil {
			return err
		}
		if err := f.Predict(s.DT, s.DAng, s.DVel); err != nil {
			return err
		}

		if n%aidEvery == aidEvery-1 {
			vn, ve, vd := st.Velocity()
			if err := f.FuseVelocity(vn, ve, vd); err != nil {
				log.Debugw("velocity fusion rejected", "error", err)
			}
			pn, pe, pd := st.Position()
			if err := f.FusePosition(pn, pe, pd); err != nil {
				log.Debugw("position fusion rejected", "error", err)
			}
			mx, my, mz := st.MagFlux()
			if err := f.FuseMagFlux(mx, my, mz); err != nil {
				log.Debugw("magnetometer fusion rejected", "error", err)
			}
		}
		n++

		truth := st.Truth()
		x := f.State()
		roll, pitch, heading := f.CalcRollPitchHeading()
		attErr := math.Max(math.Abs(roll-truth.Roll), math.Abs(pitch-truth.Pitch))
		velErr := math.Sqrt((x[ekf.VelN]-truth.VelN)*(x[ekf.VelN]-truth.VelN) +
			(x[ekf.VelE]-truth.VelE)*(x[ekf.VelE]-truth.VelE) +
			(x[ekf.VelD]-truth.VelD)*(x[ekf.VelD]-truth.VelD))
		if attErr > maxAttErr {
			maxAttErr = attErr
		}
		if velErr > maxVelErr {
			maxVelErr = velErr
		}

		if rec != nil {
			droll, dpitch, dheading := f.CalcRollPitchHeadingUncertainty()
			if err := rec.Log(st.Time(), roll, pitch, heading, truth.Roll, truth.Pitch, truth.Psi,
				x[ekf.VelN], x[ekf.VelE], x[ekf.VelD], truth.VelN, truth.VelE, truth.VelD,
				x[ekf.PosN], x[ekf.PosE], x[ekf.PosD], droll, dpitch, dheading); err != nil {
				return err
			}
		}
	}

	if !f.Valid() {
		log.Warnw("solution diverged")
	}
	for _, stream := range []string{"vel_n", "vel_e", "vel_d", "pos_n", "mag_x", "mag_y", "mag_z"} {
		if a := f.InnovationStats(stream); a != nil {
			cnt, mean, variance := a.Stats()
			log.Infow("innovation stream", "stream", stream, "n", cnt, "mean", mean, "variance", variance)
		}
	}
	log.Infow("run complete", "samples", n, "maxAttErr", maxAttErr, "maxVelErr", maxVelErr)
	return nil
}
