package sim

import (
	"math"
	"math/rand"

	"github.com/ThomasSFL/InertialNav/ekf"
)

// Noise holds 1-sigma noise levels for the synthesized sensors.  Zero values
// give perfect sensors.
type Noise struct {
	Gyro  float64 // rad per sample
	Accel float64 // m/s per sample
	Vel   float64 // m/s
	Pos   float64 // m
	TAS   float64 // m/s
	Mag   float64 // mGauss
	Flow  float64 // rad/s
	Drag  float64 // m/s²
}

// SensorErrors models constant instrument errors the filter should learn.
type SensorErrors struct {
	GyroBias   [3]float64 // rad/s
	GyroScale  [3]float64 // fractional, 0 means perfect
	AccelBiasZ float64    // m/s²
}

// IMUSample is one strapdown increment pair.
type IMUSample struct {
	DT   float64
	DAng [3]float64
	DVel [3]float64
}

// Stepper walks a scenario at a fixed IMU rate, integrating the truth
// position and synthesizing sensor outputs.  All randomness comes from the
// seeded source, so runs are reproducible.
type Stepper struct {
	scn *Scenario
	dt  float64

	noise Noise
	errs  SensorErrors
	rnd   *rand.Rand

	t    float64
	x    Truth
	posN float64
	posE float64
	posD float64
}

// NewStepper returns a stepper at the scenario begin time.  dt is the IMU
// sample interval.
func NewStepper(scn *Scenario, dt float64, noise Noise, errs SensorErrors, seed int64) (*Stepper, error) {
	if err := scn.check(); err != nil {
		return nil, err
	}
	x, err := scn.Interpolate(scn.BeginTime())
	if err != nil {
		return nil, err
	}
	return &Stepper{
		scn:   scn,
		dt:    dt,
		noise: noise,
		errs:  errs,
		rnd:   rand.New(rand.NewSource(seed)),
		t:     scn.BeginTime(),
		x:     x,
	}, nil
}

// Time returns the current truth time.
func (st *Stepper) Time() float64 { return st.t }

// Truth returns the exact current state.
func (st *Stepper) Truth() Truth { return st.x }

// TruthPosition returns the integrated NED truth position.
func (st *Stepper) TruthPosition() (n, e, d float64) {
	return st.posN, st.posE, st.posD
}

// Done reports whether the scenario has been consumed.
func (st *Stepper) Done() bool {
	return st.t+st.dt > st.scn.EndTime()
}

// Step advances one IMU interval and returns the increments an ideal
// strapdown unit would output for it, corrupted by the configured noise and
// sensor errors.  Position is integrated from the pre-step velocity to match
// the filter mechanization.
func (st *Stepper) Step() (IMUSample, error) {
	// accumulated rounding in t must not push the query past the last node
	tn := st.t + st.dt
	if end := st.scn.EndTime(); tn > end && tn-end < st.dt {
		tn = end
	}
	next, err := st.scn.Interpolate(tn)
	if err != nil {
		return IMUSample{}, err
	}

	// delta rotation: exact body increment taking this attitude to the next
	d0, d1, d2, d3 := ekf.QuatDiv(st.x.Q0, st.x.Q1, st.x.Q2, st.x.Q3, next.Q0, next.Q1, next.Q2, next.Q3)
	if d0 < 0 {
		d0, d1, d2, d3 = -d0, -d1, -d2, -d3
	}
	dAng := [3]float64{2 * d1 / d0, 2 * d2 / d0, 2 * d3 / d0}

	// delta velocity: the change in ground velocity less gravity, rotated
	// into the new body frame
	dcm := ekf.QuatToDCM(next.Q0, next.Q1, next.Q2, next.Q3)
	dvN := next.VelN - st.x.VelN
	dvE := next.VelE - st.x.VelE
	dvD := next.VelD - st.x.VelD - gravity*st.dt
	dVel := [3]float64{
		dcm[0][0]*dvN + dcm[1][0]*dvE + dcm[2][0]*dvD,
		dcm[0][1]*dvN + dcm[1][1]*dvE + dcm[2][1]*dvD,
		dcm[0][2]*dvN + dcm[1][2]*dvE + dcm[2][2]*dvD,
	}

	for i := 0; i < 3; i++ {
		dAng[i] = dAng[i]*(1+st.errs.GyroScale[i]) + st.errs.GyroBias[i]*st.dt + st.noise.Gyro*st.rnd.NormFloat64()
		dVel[i] += st.noise.Accel * st.rnd.NormFloat64()
	}
	dVel[2] += st.errs.AccelBiasZ * st.dt

	st.posN += st.x.VelN * st.dt
	st.posE += st.x.VelE * st.dt
	st.posD += st.x.VelD * st.dt
	st.t = tn
	st.x = next

	return IMUSample{DT: st.dt, DAng: dAng, DVel: dVel}, nil
}

// Velocity returns a noisy NED ground velocity measurement.
func (st *Stepper) Velocity() (vn, ve, vd float64) {
	return st.x.VelN + st.noise.Vel*st.rnd.NormFloat64(),
		st.x.VelE + st.noise.Vel*st.rnd.NormFloat64(),
		st.x.VelD + st.noise.Vel*st.rnd.NormFloat64()
}

// Position returns a noisy NED position measurement.
func (st *Stepper) Position() (pn, pe, pd float64) {
	return st.posN + st.noise.Pos*st.rnd.NormFloat64(),
		st.posE + st.noise.Pos*st.rnd.NormFloat64(),
		st.posD + st.noise.Pos*st.rnd.NormFloat64()
}

// TrueAirspeed returns a noisy airspeed measurement.
func (st *Stepper) TrueAirspeed() float64 {
	tas := math.Sqrt(st.x.AirX*st.x.AirX + st.x.AirY*st.x.AirY + st.x.AirZ*st.x.AirZ)
	return tas + st.noise.TAS*st.rnd.NormFloat64()
}

// MagFlux returns a noisy 3-axis body magnetometer measurement.
func (st *Stepper) MagFlux() (mx, my, mz float64) {
	return st.x.MagX + st.noise.Mag*st.rnd.NormFloat64(),
		st.x.MagY + st.noise.Mag*st.rnd.NormFloat64(),
		st.x.MagZ + st.noise.Mag*st.rnd.NormFloat64()
}

// Flow returns noisy optical-flow line-of-sight rates for terrain at NED
// down position terrainDown.  ok is false when the geometry gives the sensor
// nothing to see.
func (st *Stepper) Flow(terrainDown float64) (losX, losY float64, ok bool) {
	dcm := ekf.QuatToDCM(st.x.Q0, st.x.Q1, st.x.Q2, st.x.Q3)
	if dcm[2][2] < 0.1 {
		return 0, 0, false
	}
	rng := (terrainDown - st.posD) / dcm[2][2]
	if rng < 0.1 {
		return 0, 0, false
	}
	vbX := dcm[0][0]*st.x.VelN + dcm[1][0]*st.x.VelE + dcm[2][0]*st.x.VelD
	vbY := dcm[0][1]*st.x.VelN + dcm[1][1]*st.x.VelE + dcm[2][1]*st.x.VelD
	return vbY/rng + st.noise.Flow*st.rnd.NormFloat64(),
		-vbX/rng + st.noise.Flow*st.rnd.NormFloat64(),
		true
}

// DragAccel returns noisy lateral specific-force measurements for a vehicle
// with linear rotor drag coefficient kacc.
func (st *Stepper) DragAccel(kacc float64) (ax, ay float64) {
	return -kacc*st.x.AirX + st.noise.Drag*st.rnd.NormFloat64(),
		-kacc*st.x.AirY + st.noise.Drag*st.rnd.NormFloat64()
}
