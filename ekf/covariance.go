package ekf

// The state-transition Jacobian F and noise-input Jacobian G are sparse: F is
// identity everywhere except the attitude-error, velocity and position rows,
// and G only couples the six IMU disturbance channels into those same rows.
// The covariance propagation below works on the non-identity entries alone,
// which cuts the floating point work of the 24x24 triple product by well over
// an order of magnitude and avoids churning the untouched blocks through
// full dense multiplies.

// fEntry is one non-identity entry of the state-transition Jacobian.
type fEntry struct {
	r, c int
	v    float64
}

// stateJacobian returns the non-identity entries of F = ∂(newState)/∂(state),
// evaluated at zero rotation error with the pre-update attitude.  dAng is the
// raw delta-angle (needed for the scale-factor terms), dth and dv the
// bias/scale corrected deltas.
func (f *Filter) stateJacobian(dt float64, dAng, dth, dv [3]float64) []fEntry {
	e := make([]fEntry, 0, 36)

	// rotErrNew ≈ rotErr + dth − ½·dth×rotErr: identity minus half the
	// delta-angle cross-product matrix.
	e = append(e,
		fEntry{RotErrX, RotErrY, 0.5 * dth[2]},
		fEntry{RotErrX, RotErrZ, -0.5 * dth[1]},
		fEntry{RotErrY, RotErrX, -0.5 * dth[2]},
		fEntry{RotErrY, RotErrZ, 0.5 * dth[0]},
		fEntry{RotErrZ, RotErrX, 0.5 * dth[1]},
		fEntry{RotErrZ, RotErrY, -0.5 * dth[0]},
	)
	// dth = dAng⊙scale − bias
	for i := 0; i < 3; i++ {
		e = append(e,
			fEntry{RotErrX + i, DaxBias + i, -1},
			fEntry{RotErrX + i, DaxScale + i, dAng[i]},
		)
	}

	// velNew = vel + Tbn·R(rotErr)·dv + g·dt: the attitude sensitivity is
	// −Tbn·[dv]×.
	sk := [3][3]float64{
		{0, -dv[2], dv[1]},
		{dv[2], 0, -dv[0]},
		{-dv[1], dv[0], 0},
	}
	t := [3][3]float64{
		{f.t11, f.t12, f.t13},
		{f.t21, f.t22, f.t23},
		{f.t31, f.t32, f.t33},
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var v float64
			for k := 0; k < 3; k++ {
				v -= t[i][k] * sk[k][j]
			}
			e = append(e, fEntry{VelN + i, RotErrX + j, v})
		}
		// dv_z = dVel_z − dvzBias
		e = append(e, fEntry{VelN + i, DvzBias, -t[i][2]})
		// posNew integrates the pre-update velocity
		e = append(e, fEntry{PosN + i, VelN + i, dt})
	}

	return e
}

// predictCovariance propagates P through one IMU cycle: P ← F·P·Fᵗ + Q, with
// Q = G·diag(imuVariance)·Gᵗ plus the random-walk growth of the
// slowly-varying states.  Writing F = I + D the product expands to
// P + D·P + (D·P)ᵗ + D·P·Dᵗ, touching only the sparse entries of D.
func (f *Filter) predictCovariance(dt float64, dAng, dth, dv [3]float64) {
	d := f.stateJacobian(dt, dAng, dth, dv)

	// M = D·P: rows limited to the attitude/velocity/position block.
	var m [PosD + 1][NStates]float64
	for _, e := range d {
		for c := 0; c < NStates; c++ {
			m[e.r][c] += e.v * f.p.At(e.c, c)
		}
	}

	// P += M + Mᵗ + D·Mᵗ
	for r := 0; r <= PosD; r++ {
		for c := 0; c < NStates; c++ {
			f.p.Set(r, c, f.p.At(r, c)+m[r][c])
			f.p.Set(c, r, f.p.At(c, r)+m[r][c])
		}
	}
	for _, e := range d {
		for c := 0; c <= PosD; c++ {
			f.p.Set(e.r, c, f.p.At(e.r, c)+e.v*m[c][e.c])
		}
	}

	f.addProcessNoise(dt)
	f.conditionCovariance()
}

// addProcessNoise injects Q.  The IMU disturbance terms follow the noise
// Jacobian G: delta-angle noise enters the rotation-error states through the
// scale factors, delta-velocity noise enters velocity through the body-to-NED
// rotation.  The random-walk states grow linearly in time.
func (f *Filter) addProcessNoise(dt float64) {
	// rotation error: G block is diag(scale), variance (scaleᵢ·σΘᵢ)²
	scale := [3]float64{f.x[DaxScale], f.x[DayScale], f.x[DazScale]}
	for i := 0; i < 3; i++ {
		s := scale[i] * f.cfg.IMU.DeltaAngle[i]
		f.p.Set(RotErrX+i, RotErrX+i, f.p.At(RotErrX+i, RotErrX+i)+s*s)
	}

	// velocity: G block is Tbn, Qvv = Tbn·diag(σV²)·Tbnᵗ
	t := [3][3]float64{
		{f.t11, f.t12, f.t13},
		{f.t21, f.t22, f.t23},
		{f.t31, f.t32, f.t33},
	}
	var sv [3]float64
	for k := 0; k < 3; k++ {
		sv[k] = f.cfg.IMU.DeltaVelocity[k] * f.cfg.IMU.DeltaVelocity[k]
	}
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			var q float64
			for k := 0; k < 3; k++ {
				q += t[i][k] * sv[k] * t[j][k]
			}
			f.p.Set(VelN+i, VelN+j, f.p.At(VelN+i, VelN+j)+q)
			if i != j {
				f.p.Set(VelN+j, VelN+i, f.p.At(VelN+j, VelN+i)+q)
			}
		}
	}

	// random walks, variance growth σ²·dt
	walk := func(idx int, sigma float64) {
		f.p.Set(idx, idx, f.p.At(idx, idx)+sigma*sigma*dt)
	}
	for i := 0; i < 3; i++ {
		walk(DaxBias+i, f.cfg.Process.GyroBias)
		walk(DaxScale+i, f.cfg.Process.GyroScale)
		walk(MagN+i, f.cfg.Process.MagEarth)
		walk(MagX+i, f.cfg.Process.MagBody)
	}
	walk(DvzBias, f.cfg.Process.AccelBiasZ)
	walk(WindN, f.cfg.Process.Wind)
	walk(WindE, f.cfg.Process.Wind)
}
