// Package ekf implements a 24-state error-state extended Kalman filter for
// aided inertial navigation.  It integrates strapdown IMU delta-angle and
// delta-velocity samples and fuses velocity, position, airspeed, sideslip,
// magnetometer, optical-flow and body-drag measurements to estimate attitude,
// velocity, position, IMU error terms, wind and the ambient magnetic field.
//
// Attitude is carried as a unit quaternion outside the state vector; the three
// rotation-error states are a small-angle perturbation on top of it and are
// folded back into the quaternion and zeroed after every measurement update.
// Body frame is X nose, Y right wing, Z down; navigation frame is NED.
package ekf

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

const (
	Small = 1e-9
	Big   = 1e9
)

// Indices into the 24-element state vector.
const (
	RotErrX = iota // attitude rotation error, rad, body axes
	RotErrY
	RotErrZ
	VelN // velocity, m/s, NED
	VelE
	VelD
	PosN // position, m, NED
	PosE
	PosD
	DaxBias // delta-angle bias, rad, body axes
	DayBias
	DazBias
	DaxScale // delta-angle scale factor, dimensionless
	DayScale
	DazScale
	DvzBias // delta-velocity bias, m/s, Z body axis only
	MagN    // earth magnetic field, mGauss, NED
	MagE
	MagD
	MagX // body magnetic field, mGauss, body axes
	MagY
	MagZ
	WindN // wind velocity, m/s, NED horizontal
	WindE

	NStates = 24
)

// fusionStep tracks where in the innovate/correct/reset cycle the most recent
// scalar update got to.  Every update must finish at stepReset so the next
// Jacobian is linearized about a zero rotation error.
type fusionStep int

const (
	stepPredicted fusionStep = iota
	stepInnovated
	stepCorrected
	stepReset
)

// Filter is the 24-state navigation filter.  It is not safe for concurrent
// use; callers running prediction and fusion on separate goroutines must
// serialize access.
type Filter struct {
	cfg Config

	x [NStates]float64 // state vector, ordered per the index constants
	p *mat.Dense       // 24x24 state covariance

	// Attitude estimate quaternion, rotating body frame to NED.  The truth
	// attitude is qe composed with the rotation-error states.
	qe0, qe1, qe2, qe3 float64

	// Truth quaternion and its direction cosine fragments, updated on every
	// predict and error-state reset.  tij rotates body j into NED i.
	qt0, qt1, qt2, qt3 float64
	t11, t12, t13      float64
	t21, t22, t23      float64
	t31, t32, t33      float64

	step fusionStep

	// Gate, when non-nil, is consulted before each scalar correction with the
	// innovation and its variance; returning false rejects the update leaving
	// state and covariance untouched.  Innovation gating policy belongs to the
	// caller; the built-in sigma gate from Config is applied first.
	Gate func(innov, innovVar float64) bool

	innovStats map[string]*VarianceAccumulator

	log *zap.SugaredLogger
}

// New returns a Filter initialized at rest with a level attitude and the
// initial uncertainties from cfg.  A nil logger discards diagnostics.
func New(cfg Config, logger *zap.SugaredLogger) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	f := &Filter{
		cfg:        cfg,
		p:          mat.NewDense(NStates, NStates, nil),
		log:        logger,
		innovStats: make(map[string]*VarianceAccumulator),
	}
	f.ResetState()
	return f, nil
}

// ResetState reinitializes the state vector, attitude and covariance from the
// configured initial uncertainties.  Tuning and the logger are kept.
func (f *Filter) ResetState() {
	for i := range f.x {
		f.x[i] = 0
	}
	f.x[DaxScale] = 1
	f.x[DayScale] = 1
	f.x[DazScale] = 1

	f.qe0, f.qe1, f.qe2, f.qe3 = 1, 0, 0, 0
	f.syncTruth()

	sig := f.cfg.Init.diagonal()
	for i := 0; i < NStates; i++ {
		for j := 0; j < NStates; j++ {
			f.p.Set(i, j, 0)
		}
		f.p.Set(i, i, sig[i]*sig[i])
	}
	f.step = stepReset
}

// SetAttitude sets the attitude estimate from Tait-Bryan angles (rad) and
// zeroes the rotation-error states.
func (f *Filter) SetAttitude(phi, theta, psi float64) {
	f.qe0, f.qe1, f.qe2, f.qe3 = ToQuaternion(phi, theta, psi)
	f.x[RotErrX], f.x[RotErrY], f.x[RotErrZ] = 0, 0, 0
	f.syncTruth()
}

// SetVelocity sets the NED velocity states directly, e.g. from a first GPS fix.
func (f *Filter) SetVelocity(vn, ve, vd float64) {
	f.x[VelN], f.x[VelE], f.x[VelD] = vn, ve, vd
}

// SetMagField seeds the earth-frame magnetic field states, mGauss.
func (f *Filter) SetMagField(magN, magE, magD float64) {
	f.x[MagN], f.x[MagE], f.x[MagD] = magN, magE, magD
}

// State returns a copy of the 24-element state vector.
func (f *Filter) State() [NStates]float64 {
	return f.x
}

// Covariance returns a copy of the 24x24 covariance matrix.
func (f *Filter) Covariance() *mat.Dense {
	c := mat.NewDense(NStates, NStates, nil)
	c.Copy(f.p)
	return c
}

// Quaternion returns the current truth attitude quaternion (estimate composed
// with any unreset rotation error), unit norm, rotating body to NED.
func (f *Filter) Quaternion() (q0, q1, q2, q3 float64) {
	return f.qt0, f.qt1, f.qt2, f.qt3
}

// CalcRollPitchHeading returns the current attitude as Tait-Bryan angles, rad.
func (f *Filter) CalcRollPitchHeading() (roll, pitch, heading float64) {
	return FromQuaternion(f.qt0, f.qt1, f.qt2, f.qt3)
}

// CalcRollPitchHeadingUncertainty returns 1-sigma roll, pitch and heading
// uncertainties.  Roll and pitch map directly onto the body X and Y error
// states; heading is the body error rotated onto the NED down axis.
func (f *Filter) CalcRollPitchHeadingUncertainty() (droll, dpitch, dheading float64) {
	sx := math.Sqrt(math.Max(f.p.At(RotErrX, RotErrX), 0))
	sy := math.Sqrt(math.Max(f.p.At(RotErrY, RotErrY), 0))
	sz := math.Sqrt(math.Max(f.p.At(RotErrZ, RotErrZ), 0))
	droll = sx
	dpitch = sy
	dheading = math.Sqrt((f.t31*sx)*(f.t31*sx) + (f.t32*sy)*(f.t32*sy) + (f.t33*sz)*(f.t33*sz))
	return
}

// Valid applies sanity bounds to detect a diverged solution.
func (f *Filter) Valid() bool {
	if math.Abs(f.x[VelN]) > 200 || math.Abs(f.x[VelE]) > 200 || math.Abs(f.x[VelD]) > 100 {
		return false
	}
	if math.Abs(f.x[WindN]) > 60 || math.Abs(f.x[WindE]) > 60 {
		return false
	}
	for i := range f.x {
		if math.IsNaN(f.x[i]) || math.IsInf(f.x[i], 0) {
			return false
		}
	}
	qq := f.qt0*f.qt0 + f.qt1*f.qt1 + f.qt2*f.qt2 + f.qt3*f.qt3
	if math.Abs(qq-1) > 1e-3 {
		return false
	}
	return true
}

// InnovationStats returns the exponentially-weighted innovation statistics for
// a named measurement stream ("vel_n", "mag_x", "tas", ...), or nil if that
// stream has never been fused.
func (f *Filter) InnovationStats(stream string) *VarianceAccumulator {
	return f.innovStats[stream]
}

// syncTruth recomputes the truth quaternion from the attitude estimate and the
// rotation-error states, renormalizes, and refreshes the DCM fragments.
func (f *Filter) syncTruth() {
	e0, e1, e2, e3 := RotVecToQuat(f.x[RotErrX], f.x[RotErrY], f.x[RotErrZ])
	f.qt0, f.qt1, f.qt2, f.qt3 = QuatMult(f.qe0, f.qe1, f.qe2, f.qe3, e0, e1, e2, e3)
	f.normalizeTruth()
}

// normalizeTruth renormalizes the truth quaternion and refreshes the cached
// direction cosine fragments.
func (f *Filter) normalizeTruth() {
	n := math.Sqrt(f.qt0*f.qt0 + f.qt1*f.qt1 + f.qt2*f.qt2 + f.qt3*f.qt3)
	f.qt0 /= n
	f.qt1 /= n
	f.qt2 /= n
	f.qt3 /= n

	q0, q1, q2, q3 := f.qt0, f.qt1, f.qt2, f.qt3
	f.t11 = q0*q0 + q1*q1 - q2*q2 - q3*q3
	f.t12 = 2 * (q1*q2 - q0*q3)
	f.t13 = 2 * (q1*q3 + q0*q2)
	f.t21 = 2 * (q1*q2 + q0*q3)
	f.t22 = q0*q0 - q1*q1 + q2*q2 - q3*q3
	f.t23 = 2 * (q2*q3 - q0*q1)
	f.t31 = 2 * (q1*q3 - q0*q2)
	f.t32 = 2 * (q2*q3 + q0*q1)
	f.t33 = q0*q0 - q1*q1 - q2*q2 + q3*q3
}

// conditionCovariance restores symmetry lost to floating-point drift and
// clamps diagonal entries to a non-negative floor.
func (f *Filter) conditionCovariance() {
	for i := 0; i < NStates; i++ {
		for j := i + 1; j < NStates; j++ {
			v := 0.5 * (f.p.At(i, j) + f.p.At(j, i))
			f.p.Set(i, j, v)
			f.p.Set(j, i, v)
		}
		if d := f.p.At(i, i); d < 0 {
			f.log.Warnw("covariance diagonal clamped", "state", i, "variance", d)
			f.p.Set(i, i, 0)
		}
	}
}
