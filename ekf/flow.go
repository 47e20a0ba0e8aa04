package ekf

import "math"

// flowObs is one axis of the optical-flow model: body-frame ground-relative
// velocity divided by the flat-earth range to ground along body Z.  ok is
// false when the tilt or range geometry is degenerate.
func (f *Filter) flowObs(axis int, terrainDown float64) (pred float64, h *obsRow, ok bool) {
	if f.t33 < 0.1 {
		// more than ~84° of tilt; range-to-ground geometry is meaningless
		return 0, nil, false
	}
	rng := (terrainDown - f.x[PosD]) / f.t33
	if rng < 0.1 {
		return 0, nil, false
	}
	vb := f.toBody([3]float64{f.x[VelN], f.x[VelE], f.x[VelD]})

	// LOS rate about X is crossflow from body-Y motion, about Y from body-X
	// motion with the opposite sense.
	var c float64
	var dcda [3]float64 // ∂c/∂rotErr via [vb]×
	var dcdv [3]float64 // ∂c/∂vel via Tbnᵗ
	if axis == 0 {
		c = vb[1]
		dcda = [3]float64{vb[2], 0, -vb[0]}
		dcdv = [3]float64{f.t12, f.t22, f.t32}
	} else {
		c = -vb[0]
		dcda = [3]float64{0, vb[2], -vb[1]}
		dcdv = [3]float64{-f.t11, -f.t21, -f.t31}
	}
	pred = c / rng

	h = &obsRow{}
	for j := 0; j < 3; j++ {
		h.add(RotErrX+j, dcda[j]/rng)
		h.add(VelN+j, dcdv[j]/rng)
	}
	// ∂range/∂posD = −1/t33
	h.add(PosD, c/(rng*rng*f.t33))
	return pred, h, true
}

// FuseOpticalFlow fuses optical-flow line-of-sight rates (rad/s) about the
// sensor X and Y axes.  terrainDown is the terrain vertical position in the
// NED frame (m, down positive).  The X and Y rows are separate scalar
// fusions; a joint two-row update would need a matrix inverse and couples
// their rejections.
func (f *Filter) FuseOpticalFlow(losX, losY, terrainDown float64) error {
	f.resetErrorState()
	z := [2]float64{losX, losY}
	names := [2]string{"flow_x", "flow_y"}

	var rejected []string
	var first error
	for i := 0; i < 2; i++ {
		pred, h, ok := f.flowObs(i, terrainDown)
		if !ok {
			return ErrDegenerate
		}
		if err := f.fuseScalar(names[i], h, z[i]-pred, f.cfg.R.LOS); err != nil {
			rejected = append(rejected, names[i])
			if first == nil {
				first = err
			}
		}
	}
	return axisError("optical flow", rejected, first)
}

// HeightAboveGround returns the flat-earth range to ground used by the
// optical-flow model, or NaN when the attitude is too far from level.
func (f *Filter) HeightAboveGround(terrainDown float64) float64 {
	if f.t33 < 0.1 {
		return math.NaN()
	}
	return (terrainDown - f.x[PosD]) / f.t33
}
