package ekf

// dragObs is one axis of the lateral-drag model: specific force along body X
// or Y predicted from a linear rotor-drag law, accel ≈ −Kacc·Vrel, with Kacc
// scaled by ambient air density.  The same linear model supplies both the
// predicted measurement and the Jacobian, so the innovation and the gain come
// from a single consistent linearization.
func (f *Filter) dragObs(axis int) (pred float64, h *obsRow) {
	kacc := f.cfg.DragCoef * f.cfg.AirDensity / 1.225
	vr := f.windRelVel()
	vb := f.toBody(vr)
	pred = -kacc * vb[axis]

	// ∂vb/∂rotErr = [vb]×, ∂vb/∂vel through Tbnᵗ, wind opposite.
	var dvda, dvdv [3]float64
	if axis == 0 {
		dvda = [3]float64{0, -vb[2], vb[1]}
		dvdv = [3]float64{f.t11, f.t21, f.t31}
	} else {
		dvda = [3]float64{vb[2], 0, -vb[0]}
		dvdv = [3]float64{f.t12, f.t22, f.t32}
	}

	h = &obsRow{}
	for j := 0; j < 3; j++ {
		h.add(RotErrX+j, -kacc*dvda[j])
		h.add(VelN+j, -kacc*dvdv[j])
	}
	h.add(WindN, kacc*dvdv[0])
	h.add(WindE, kacc*dvdv[1])
	return pred, h
}

// FuseDrag fuses lateral body-axis specific-force measurements (m/s², X and
// Y body axes).  Multirotor-specific.
func (f *Filter) FuseDrag(accX, accY float64) error {
	f.resetErrorState()
	z := [2]float64{accX, accY}
	names := [2]string{"drag_x", "drag_y"}

	var rejected []string
	var first error
	for i := 0; i < 2; i++ {
		pred, h := f.dragObs(i)
		if err := f.fuseScalar(names[i], h, z[i]-pred, f.cfg.R.Acc); err != nil {
			rejected = append(rejected, names[i])
			if first == nil {
				first = err
			}
		}
	}
	return axisError("drag", rejected, first)
}
