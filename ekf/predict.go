package ekf

import (
	"math"

	"github.com/pkg/errors"
)

// Predict advances the filter by one IMU sample: dt is the sample interval
// (s), dAng the raw delta-angle (rad) and dVel the raw delta-velocity (m/s),
// both in body axes.  Samples must be applied in increasing time order.
//
// Coning/sculling compensation and Coriolis/transport-rate terms are omitted;
// they are below the noise floor of the target sensor grade.
func (f *Filter) Predict(dt float64, dAng, dVel [3]float64) error {
	if dt <= 0 {
		return errors.Errorf("ekf: non-positive dt %v", dt)
	}
	for i := 0; i < 3; i++ {
		if math.IsNaN(dAng[i]) || math.IsInf(dAng[i], 0) ||
			math.IsNaN(dVel[i]) || math.IsInf(dVel[i], 0) {
			return errors.New("ekf: non-finite IMU sample")
		}
	}

	// Correct the raw deltas with the current bias and scale-factor states.
	dth := [3]float64{
		dAng[0]*f.x[DaxScale] - f.x[DaxBias],
		dAng[1]*f.x[DayScale] - f.x[DayBias],
		dAng[2]*f.x[DazScale] - f.x[DazBias],
	}
	dv := [3]float64{dVel[0], dVel[1], dVel[2] - f.x[DvzBias]}

	// Covariance first: the Jacobians are evaluated at the pre-update
	// attitude with the rotation error at its zero operating point.
	f.predictCovariance(dt, dAng, dth, dv)

	// Compose the delta rotation onto the truth quaternion.  The attitude
	// estimate is untouched; the rotation-error states pick up the change.
	d0, d1, d2, d3 := 1.0, 0.5*dth[0], 0.5*dth[1], 0.5*dth[2]
	f.qt0, f.qt1, f.qt2, f.qt3 = QuatMult(f.qt0, f.qt1, f.qt2, f.qt3, d0, d1, d2, d3)
	f.normalizeTruth()
	e0, e1, e2, e3 := QuatDiv(f.qe0, f.qe1, f.qe2, f.qe3, f.qt0, f.qt1, f.qt2, f.qt3)
	f.x[RotErrX], f.x[RotErrY], f.x[RotErrZ] = QuatToRotVec(e0, e1, e2, e3)

	// Position integrates the pre-update velocity.
	f.x[PosN] += f.x[VelN] * dt
	f.x[PosE] += f.x[VelE] * dt
	f.x[PosD] += f.x[VelD] * dt

	// Velocity integrates the corrected delta-velocity rotated through the
	// new truth attitude, plus gravity along down.
	f.x[VelN] += f.t11*dv[0] + f.t12*dv[1] + f.t13*dv[2]
	f.x[VelE] += f.t21*dv[0] + f.t22*dv[1] + f.t23*dv[2]
	f.x[VelD] += f.t31*dv[0] + f.t32*dv[1] + f.t33*dv[2] + f.cfg.Gravity*dt

	// Biases, scale factors, wind and both magnetic field triads are random
	// walks: deterministic dynamics identity, motion supplied by the
	// process noise in the covariance step.

	f.step = stepPredicted
	return nil
}
