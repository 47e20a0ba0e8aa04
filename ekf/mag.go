package ekf

import "math"

// magFluxObs is one axis of the magnetometer model: the earth-field states
// rotated into body axes plus the body-field (hard iron) state for that axis.
func (f *Filter) magFluxObs(axis int) (pred float64, h *obsRow) {
	mb := f.toBody([3]float64{f.x[MagN], f.x[MagE], f.x[MagD]})
	pred = mb[axis] + f.x[MagX+axis]

	h = &obsRow{}
	// ∂mb/∂rotErr = [mb]×
	switch axis {
	case 0:
		h.add(RotErrY, -mb[2])
		h.add(RotErrZ, mb[1])
	case 1:
		h.add(RotErrX, mb[2])
		h.add(RotErrZ, -mb[0])
	case 2:
		h.add(RotErrX, -mb[1])
		h.add(RotErrY, mb[0])
	}
	// ∂mb_i/∂magNED_j = Tbnᵗ[i][j]
	t := [3][3]float64{
		{f.t11, f.t12, f.t13},
		{f.t21, f.t22, f.t23},
		{f.t31, f.t32, f.t33},
	}
	for j := 0; j < 3; j++ {
		h.add(MagN+j, t[j][axis])
	}
	h.add(MagX+axis, 1)
	return pred, h
}

// FuseMagFlux fuses a 3-axis magnetometer measurement (mGauss, body axes).
// Each axis is an independent scalar update; fusing them jointly would need a
// 3x3 innovation inverse for no gain in accuracy.
func (f *Filter) FuseMagFlux(magX, magY, magZ float64) error {
	f.resetErrorState()
	z := [3]float64{magX, magY, magZ}
	names := [3]string{"mag_x", "mag_y", "mag_z"}

	var rejected []string
	var first error
	for i := 0; i < 3; i++ {
		pred, h := f.magFluxObs(i)
		if err := f.fuseScalar(names[i], h, z[i]-pred, f.cfg.R.Mag); err != nil {
			rejected = append(rejected, names[i])
			if first == nil {
				first = err
			}
		}
	}
	return axisError("magnetometer", rejected, first)
}

// magHeadingObs is the magnetic-heading model: the angular error between the
// measured body field rotated into the earth frame and the configured
// declination.  The Jacobian is taken with respect to the rotation-error
// states only.  ok is false when the field is vertical.
func (f *Filter) magHeadingObs(mb [3]float64) (pred float64, h *obsRow, ok bool) {
	mn := f.t11*mb[0] + f.t12*mb[1] + f.t13*mb[2]
	me := f.t21*mb[0] + f.t22*mb[1] + f.t23*mb[2]
	hh := mn*mn + me*me
	if hh < Small {
		return 0, nil, false
	}
	pred = math.Atan2(me, mn) - f.cfg.Declination

	// ∂(earth field)/∂rotErr = −Tbn·[mb]×, chained through ∂atan2(me,mn).
	dn := -me / hh
	de := mn / hh
	sk := [3][3]float64{
		{0, -mb[2], mb[1]},
		{mb[2], 0, -mb[0]},
		{-mb[1], mb[0], 0},
	}
	t := [2][3]float64{
		{f.t11, f.t12, f.t13},
		{f.t21, f.t22, f.t23},
	}
	h = &obsRow{}
	for j := 0; j < 3; j++ {
		var gn, ge float64
		for k := 0; k < 3; k++ {
			gn -= t[0][k] * sk[k][j]
			ge -= t[1][k] * sk[k][j]
		}
		h.add(RotErrX+j, dn*gn+de*ge)
	}
	return pred, h, true
}

// FuseMagHeading fuses a magnetic heading derived from a body-frame
// magnetometer measurement (mGauss): the measured field rotated into the
// earth frame should point along magnetic north.
func (f *Filter) FuseMagHeading(magX, magY, magZ float64) error {
	f.resetErrorState()
	pred, h, ok := f.magHeadingObs([3]float64{magX, magY, magZ})
	if !ok {
		return ErrDegenerate
	}
	return f.fuseScalar("mag_hdg", h, wrapPi(-pred), f.cfg.R.Decl)
}

// declinationObs constrains the angle of the earth-field states directly,
// with no body measurement.
func (f *Filter) declinationObs() (pred float64, h *obsRow, ok bool) {
	mn, me := f.x[MagN], f.x[MagE]
	hh := mn*mn + me*me
	if hh < Small {
		return 0, nil, false
	}
	pred = math.Atan2(me, mn)

	h = &obsRow{}
	h.add(MagN, -me/hh)
	h.add(MagE, mn/hh)
	return pred, h, true
}

// FuseDeclination fuses the configured declination against the angle of the
// earth-field states.  It keeps the earth-field estimate from rotating when
// no absolute position or velocity aiding is available, e.g.
// optical-flow-only flight.
func (f *Filter) FuseDeclination() error {
	f.resetErrorState()
	pred, h, ok := f.declinationObs()
	if !ok {
		return ErrDegenerate
	}
	return f.fuseScalar("decl", h, wrapPi(f.cfg.Declination-pred), f.cfg.R.Decl)
}
