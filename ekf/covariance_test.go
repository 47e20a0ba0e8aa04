package ekf

import (
	"log"
	"math"
	"testing"
)

// testFilter returns a filter in a representative cruise condition: banked,
// pitched, heading northeast-ish, nonzero wind, field and IMU error states.
func testFilter(t *testing.T) *Filter {
	t.Helper()
	f, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	f.SetAttitude(0.15, -0.08, 0.9)
	f.SetVelocity(22, -3, 0.5)
	f.SetMagField(220, 45, 430)
	f.x[PosN], f.x[PosE], f.x[PosD] = 1200, -350, -120
	f.x[DaxBias], f.x[DayBias], f.x[DazBias] = 1e-5, -2e-5, 1.5e-5
	f.x[DaxScale], f.x[DayScale], f.x[DazScale] = 1.001, 0.999, 1.002
	f.x[DvzBias] = 0.02
	f.x[MagX], f.x[MagY], f.x[MagZ] = 12, -6, 9
	f.x[WindN], f.x[WindE] = 4, -2
	f.syncTruth()
	return f
}

func cloneFilter(src *Filter) *Filter {
	f, _ := New(src.cfg, nil)
	f.x = src.x
	f.qe0, f.qe1, f.qe2, f.qe3 = src.qe0, src.qe1, src.qe2, src.qe3
	f.p.Copy(src.p)
	f.syncTruth()
	return f
}

// TestStateJacobian checks the sparse transition Jacobian against a numerical
// derivative of Predict, column by column.
func TestStateJacobian(t *testing.T) {
	const eps = 1e-6
	dt := 0.01
	dAng := [3]float64{3e-4, -2e-4, 4e-4}
	dVel := [3]float64{0.005, -0.003, -0.096}

	base := testFilter(t)

	dth := [3]float64{
		dAng[0]*base.x[DaxScale] - base.x[DaxBias],
		dAng[1]*base.x[DayScale] - base.x[DayBias],
		dAng[2]*base.x[DazScale] - base.x[DazBias],
	}
	dv := [3]float64{dVel[0], dVel[1], dVel[2] - base.x[DvzBias]}

	var fexp [NStates][NStates]float64
	for i := 0; i < NStates; i++ {
		fexp[i][i] = 1
	}
	for _, e := range base.stateJacobian(dt, dAng, dth, dv) {
		fexp[e.r][e.c] += e.v
	}

	nom := cloneFilter(base)
	if err := nom.Predict(dt, dAng, dVel); err != nil {
		t.Fatal(err)
	}
	x0 := nom.State()

	for i := 0; i < NStates; i++ {
		pert := cloneFilter(base)
		pert.x[i] += eps
		pert.syncTruth()
		if err := pert.Predict(dt, dAng, dVel); err != nil {
			t.Fatal(err)
		}
		x1 := pert.State()

		for j := 0; j < NStates; j++ {
			// The within-sample path from a gyro bias error through the
			// delta rotation into the rotated delta-velocity is second
			// order in dt and absent from the model.
			if j >= VelN && j <= VelD && i >= DaxBias && i <= DazBias {
				continue
			}
			d := (x1[j] - x0[j]) / eps
			if math.Abs(d-fexp[j][i]) > 2e-3 {
				log.Printf("F[%2d][%2d]: numerical %9.6f, model %9.6f\n", j, i, d, fexp[j][i])
				t.Fail()
			}
		}
	}
}

// From a zero covariance, one propagation leaves exactly the injected process
// noise behind.
func TestProcessNoiseInjection(t *testing.T) {
	f := testFilter(t)
	for i := 0; i < NStates; i++ {
		for j := 0; j < NStates; j++ {
			f.p.Set(i, j, 0)
		}
	}

	dt := 0.01
	f.predictCovariance(dt, [3]float64{0, 0, 0}, [3]float64{0, 0, 0}, [3]float64{0, 0, 0})

	cfg := f.cfg
	scale := [3]float64{f.x[DaxScale], f.x[DayScale], f.x[DazScale]}
	for i := 0; i < 3; i++ {
		want := scale[i] * cfg.IMU.DeltaAngle[i] * scale[i] * cfg.IMU.DeltaAngle[i]
		if got := f.p.At(RotErrX+i, RotErrX+i); notSmall((got - want) / want) {
			log.Printf("rot err noise %d: %g, want %g\n", i, got, want)
			t.Fail()
		}
	}

	// Qvv = Tbn diag(sv²) Tbnᵗ; equal axis noise makes it isotropic.
	sv := cfg.IMU.DeltaVelocity[0] * cfg.IMU.DeltaVelocity[0]
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = sv
			}
			if got := f.p.At(VelN+i, VelN+j); math.Abs(got-want) > 1e-9*sv+1e-12 {
				log.Printf("vel noise [%d][%d]: %g, want %g\n", i, j, got, want)
				t.Fail()
			}
		}
	}

	walks := map[int]float64{
		DaxBias:  cfg.Process.GyroBias,
		DazScale: cfg.Process.GyroScale,
		DvzBias:  cfg.Process.AccelBiasZ,
		MagE:     cfg.Process.MagEarth,
		MagY:     cfg.Process.MagBody,
		WindN:    cfg.Process.Wind,
		WindE:    cfg.Process.Wind,
	}
	for idx, sigma := range walks {
		want := sigma * sigma * dt
		if got := f.p.At(idx, idx); notSmall((got - want) / want) {
			log.Printf("random walk state %d: %g, want %g\n", idx, got, want)
			t.Fail()
		}
	}

	// Position picks up no direct noise.
	if f.p.At(PosN, PosN) != 0 || f.p.At(PosD, PosD) != 0 {
		log.Println("position gained process noise")
		t.Fail()
	}
}

func TestCovariancePredictionSymmetry(t *testing.T) {
	f := testFilter(t)
	dt := 0.01
	dAng := [3]float64{0.01, -0.02, 0.005}
	dVel := [3]float64{0.05, 0.02, -0.098}

	for n := 0; n < 200; n++ {
		if err := f.Predict(dt, dAng, dVel); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < NStates; i++ {
		if f.p.At(i, i) < 0 {
			log.Printf("negative variance at %d: %g\n", i, f.p.At(i, i))
			t.Fail()
		}
		for j := i + 1; j < NStates; j++ {
			if f.p.At(i, j) != f.p.At(j, i) {
				log.Printf("asymmetry at [%d][%d]\n", i, j)
				t.Fail()
			}
		}
	}
}

// Covariance growth during dead reckoning couples attitude error into
// velocity error: the vel/rot block must become nonzero and the vel variances
// must grow beyond the injected noise alone.
func TestCovarianceGrowthCouplesAttitude(t *testing.T) {
	f := testFilter(t)
	v0 := f.p.At(VelN, VelN)

	dt := 0.01
	for n := 0; n < 500; n++ {
		if err := f.Predict(dt, [3]float64{0, 0, 0}, [3]float64{0, 0, -f.cfg.Gravity * dt}); err != nil {
			t.Fatal(err)
		}
	}

	if f.p.At(VelN, VelN) <= v0 {
		log.Printf("velocity variance did not grow: %g -> %g\n", v0, f.p.At(VelN, VelN))
		t.Fail()
	}
	var coupled bool
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(f.p.At(VelN+i, RotErrX+j)) > 1e-12 {
				coupled = true
			}
		}
	}
	if !coupled {
		log.Println("no velocity/attitude cross covariance after dead reckoning")
		t.Fail()
	}
	if f.p.At(PosN, PosN) <= f.cfg.Init.Pos*f.cfg.Init.Pos {
		log.Println("position variance did not grow during dead reckoning")
		t.Fail()
	}
}
