package ekf

import "math"

// Measurement models.  Each fusion method folds any accumulated rotation
// error into the attitude quaternion first, so every Jacobian row below is
// evaluated at an exactly zero rotation-error operating point.  Multi-axis
// measurements are fused one scalar at a time, re-predicting after each
// correction; a rejected axis never discards the others.
//
// All fusions apply to the most recently predicted state.  Compensating a
// time-lagged measurement by predicting to its timestamp is the surrounding
// scheduler's job.

// windRelVel returns the NED wind-relative velocity.
func (f *Filter) windRelVel() [3]float64 {
	return [3]float64{
		f.x[VelN] - f.x[WindN],
		f.x[VelE] - f.x[WindE],
		f.x[VelD],
	}
}

// toBody rotates a NED vector into body axes through the transpose DCM.
func (f *Filter) toBody(v [3]float64) [3]float64 {
	return [3]float64{
		f.t11*v[0] + f.t21*v[1] + f.t31*v[2],
		f.t12*v[0] + f.t22*v[1] + f.t32*v[2],
		f.t13*v[0] + f.t23*v[1] + f.t33*v[2],
	}
}

// FuseVelocity fuses a NED velocity measurement (m/s), one axis at a time.
// H is a plain selector row per axis.
func (f *Filter) FuseVelocity(vn, ve, vd float64) error {
	f.resetErrorState()
	z := [3]float64{vn, ve, vd}
	r := [3]float64{f.cfg.R.VelN, f.cfg.R.VelE, f.cfg.R.VelD}
	names := [3]string{"vel_n", "vel_e", "vel_d"}

	var rejected []string
	var first error
	for i := 0; i < 3; i++ {
		h := &obsRow{}
		h.add(VelN+i, 1)
		if err := f.fuseScalar(names[i], h, z[i]-f.x[VelN+i], r[i]); err != nil {
			rejected = append(rejected, names[i])
			if first == nil {
				first = err
			}
		}
	}
	return axisError("velocity", rejected, first)
}

// FusePosition fuses a NED position measurement (m), one axis at a time.
func (f *Filter) FusePosition(pn, pe, pd float64) error {
	f.resetErrorState()
	z := [3]float64{pn, pe, pd}
	r := [3]float64{f.cfg.R.PosN, f.cfg.R.PosE, f.cfg.R.PosD}
	names := [3]string{"pos_n", "pos_e", "pos_d"}

	var rejected []string
	var first error
	for i := 0; i < 3; i++ {
		h := &obsRow{}
		h.add(PosN+i, 1)
		if err := f.fuseScalar(names[i], h, z[i]-f.x[PosN+i], r[i]); err != nil {
			rejected = append(rejected, names[i])
			if first == nil {
				first = err
			}
		}
	}
	return axisError("position", rejected, first)
}

// tasObs is the true-airspeed model: the magnitude of the wind-relative
// velocity.  ok is false when the relative wind is too slow to observe.
func (f *Filter) tasObs() (pred float64, h *obsRow, ok bool) {
	vr := f.windRelVel()
	pred = math.Sqrt(vr[0]*vr[0] + vr[1]*vr[1] + vr[2]*vr[2])
	if pred < 1 {
		return 0, nil, false
	}
	h = &obsRow{}
	h.add(VelN, vr[0]/pred)
	h.add(VelE, vr[1]/pred)
	h.add(VelD, vr[2]/pred)
	h.add(WindN, -vr[0]/pred)
	h.add(WindE, -vr[1]/pred)
	return pred, h, true
}

// FuseTrueAirspeed fuses a true airspeed measurement (m/s).
func (f *Filter) FuseTrueAirspeed(tas float64) error {
	f.resetErrorState()
	pred, h, ok := f.tasObs()
	if !ok {
		return ErrDegenerate
	}
	return f.fuseScalar("tas", h, tas-pred, f.cfg.R.TAS)
}

// sideslipObs is the sideslip model: the ratio of body-Y to body-X
// wind-relative velocity, small-angle.
func (f *Filter) sideslipObs() (pred float64, h *obsRow, ok bool) {
	vr := f.windRelVel()
	vb := f.toBody(vr)
	if math.Abs(vb[0]) < 1 {
		// no meaningful sideslip without forward relative wind
		return 0, nil, false
	}
	pred = vb[1] / vb[0]

	// ∂pred/∂vb, then chain through ∂vb/∂(rotErr, vel, wind).
	dx := -vb[1] / (vb[0] * vb[0])
	dy := 1 / vb[0]

	h = &obsRow{}
	// ∂vb/∂rotErr = [vb]×: ∂vb_x/∂a = (0, −vb_z, vb_y), ∂vb_y/∂a = (vb_z, 0, −vb_x)
	h.add(RotErrX, dy*vb[2])
	h.add(RotErrY, -dx*vb[2])
	h.add(RotErrZ, dx*vb[1]-dy*vb[0])
	// ∂vb/∂vel columns are rows of Tbnᵗ
	h.add(VelN, dx*f.t11+dy*f.t12)
	h.add(VelE, dx*f.t21+dy*f.t22)
	h.add(VelD, dx*f.t31+dy*f.t32)
	h.add(WindN, -(dx*f.t11 + dy*f.t12))
	h.add(WindE, -(dx*f.t21 + dy*f.t22))
	return pred, h, true
}

// FuseSideslip fuses a sideslip angle measurement (rad), normally 0 for a
// fixed-wing without a vane.
func (f *Filter) FuseSideslip(beta float64) error {
	f.resetErrorState()
	pred, h, ok := f.sideslipObs()
	if !ok {
		return ErrDegenerate
	}
	return f.fuseScalar("beta", h, beta-pred, f.cfg.R.Beta)
}
