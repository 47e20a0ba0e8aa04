package ekf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gravity = -1
	_, err := New(cfg, nil)
	require.Error(t, err)

	f, err := New(DefaultConfig(), nil)
	require.NoError(t, err)
	assert.True(t, f.Valid())
}

func TestPredictRejectsBadInput(t *testing.T) {
	f, err := New(DefaultConfig(), nil)
	require.NoError(t, err)

	assert.Error(t, f.Predict(0, [3]float64{}, [3]float64{}))
	assert.Error(t, f.Predict(-0.01, [3]float64{}, [3]float64{}))
	assert.Error(t, f.Predict(0.01, [3]float64{math.NaN(), 0, 0}, [3]float64{}))
	assert.Error(t, f.Predict(0.01, [3]float64{}, [3]float64{0, math.Inf(1), 0}))

	// the filter stays usable after a rejected sample
	assert.NoError(t, f.Predict(0.01, [3]float64{}, [3]float64{0, 0, -0.098}))
	assert.True(t, f.Valid())
}

func TestResetState(t *testing.T) {
	f := testFilter(t)
	require.NoError(t, f.Predict(0.01, [3]float64{0.1, 0, 0}, [3]float64{0, 0, -0.098}))

	f.ResetState()
	x := f.State()
	for i, v := range x {
		switch i {
		case DaxScale, DayScale, DazScale:
			assert.Equal(t, 1.0, v, "scale state %d", i)
		default:
			assert.Equal(t, 0.0, v, "state %d", i)
		}
	}
	q0, q1, q2, q3 := f.Quaternion()
	assert.Equal(t, 1.0, q0)
	assert.Zero(t, q1)
	assert.Zero(t, q2)
	assert.Zero(t, q3)

	sig := f.cfg.Init.diagonal()
	for i := 0; i < NStates; i++ {
		assert.InDelta(t, sig[i]*sig[i], f.p.At(i, i), 1e-12, "variance %d", i)
	}
}

func TestAttitudeReporting(t *testing.T) {
	f, err := New(DefaultConfig(), nil)
	require.NoError(t, err)

	f.SetAttitude(0.3, -0.2, 1.1)
	roll, pitch, heading := f.CalcRollPitchHeading()
	assert.InDelta(t, 0.3, roll, 1e-9)
	assert.InDelta(t, -0.2, pitch, 1e-9)
	assert.InDelta(t, 1.1, heading, 1e-9)

	droll, dpitch, dheading := f.CalcRollPitchHeadingUncertainty()
	assert.InDelta(t, f.cfg.Init.RotErr, droll, 1e-9)
	assert.InDelta(t, f.cfg.Init.RotErr, dpitch, 1e-9)
	assert.Greater(t, dheading, 0.0)
}

func TestValidDetectsDivergence(t *testing.T) {
	f, err := New(DefaultConfig(), nil)
	require.NoError(t, err)
	require.True(t, f.Valid())

	f.x[VelN] = 500
	assert.False(t, f.Valid())

	f.ResetState()
	f.x[WindE] = math.NaN()
	assert.False(t, f.Valid())
}

// A stationary vehicle with perfect IMU samples and zero-velocity aiding
// must hold attitude, velocity and position.
func TestScenarioStationary(t *testing.T) {
	f, err := New(DefaultConfig(), nil)
	require.NoError(t, err)

	const dt = 0.01
	for n := 0; n < 500; n++ {
		require.NoError(t, f.Predict(dt, [3]float64{}, [3]float64{0, 0, -f.cfg.Gravity * dt}))
		if n%10 == 9 {
			require.NoError(t, f.FuseVelocity(0, 0, 0))
			require.NoError(t, f.FusePosition(0, 0, 0))
		}
	}

	x := f.State()
	assert.InDelta(t, 0, x[VelN], 0.05)
	assert.InDelta(t, 0, x[VelE], 0.05)
	assert.InDelta(t, 0, x[VelD], 0.05)
	assert.InDelta(t, 0, x[PosN], 0.5)
	assert.InDelta(t, 0, x[PosD], 0.5)

	roll, pitch, _ := f.CalcRollPitchHeading()
	assert.InDelta(t, 0, roll, 0.02)
	assert.InDelta(t, 0, pitch, 0.02)
	assert.True(t, f.Valid())

	// aiding must have tightened velocity knowledge below its initial value
	assert.Less(t, f.p.At(VelN, VelN), f.cfg.Init.Vel*f.cfg.Init.Vel)
}

// Steady velocity aiding pulls the velocity estimate onto the measurement and
// dead-reckons position from it.
func TestScenarioVelocityConvergence(t *testing.T) {
	f, err := New(DefaultConfig(), nil)
	require.NoError(t, err)

	const dt = 0.01
	for n := 0; n < 300; n++ {
		require.NoError(t, f.Predict(dt, [3]float64{}, [3]float64{0, 0, -f.cfg.Gravity * dt}))
		require.NoError(t, f.FuseVelocity(5, 0, 0))
	}

	x := f.State()
	assert.InDelta(t, 5, x[VelN], 0.05)
	assert.InDelta(t, 0, x[VelE], 0.05)
	assert.Greater(t, x[PosN], 10.0)
	require.NotNil(t, f.InnovationStats("vel_n"))
}

// With velocity pinned by aiding, an airspeed deficit must be explained by
// wind along track.
func TestScenarioWindEstimation(t *testing.T) {
	f, err := New(DefaultConfig(), nil)
	require.NoError(t, err)
	f.SetVelocity(20, 0, 0)

	const dt = 0.01
	for n := 0; n < 600; n++ {
		require.NoError(t, f.Predict(dt, [3]float64{}, [3]float64{0, 0, -f.cfg.Gravity * dt}))
		require.NoError(t, f.FuseVelocity(20, 0, 0))
		if n%5 == 4 {
			require.NoError(t, f.FuseTrueAirspeed(17))
		}
	}

	assert.InDelta(t, 3, f.State()[WindN], 0.5)
	assert.True(t, f.Valid())
}

// A heading offset between the filter and the measured field direction is
// pulled out by repeated magnetic heading fusion.
func TestScenarioMagHeadingCorrection(t *testing.T) {
	f, err := New(DefaultConfig(), nil)
	require.NoError(t, err)

	// truth is heading zero; the filter starts 0.05 rad off.  A horizontal
	// field keeps the whole correction in the heading axis.
	const headingErr = 0.05
	f.SetAttitude(0, 0, headingErr)
	mb := [3]float64{250, 0, 0} // body field measured at the true heading

	const dt = 0.01
	for n := 0; n < 200; n++ {
		require.NoError(t, f.Predict(dt, [3]float64{}, [3]float64{0, 0, -f.cfg.Gravity * dt}))
		require.NoError(t, f.FuseMagHeading(mb[0], mb[1], mb[2]))
	}

	_, _, heading := f.CalcRollPitchHeading()
	assert.Less(t, math.Abs(wrapPi(heading)), headingErr/5)
}

// Declination fusion keeps the horizontal earth-field angle pinned while the
// field states are otherwise unconstrained.
func TestScenarioDeclinationPinning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Declination = 0.2
	f, err := New(cfg, nil)
	require.NoError(t, err)
	f.SetMagField(400, 0, 300) // angle 0, disagrees with configured declination

	const dt = 0.01
	for n := 0; n < 200; n++ {
		require.NoError(t, f.Predict(dt, [3]float64{}, [3]float64{0, 0, -f.cfg.Gravity * dt}))
		require.NoError(t, f.FuseDeclination())
	}

	x := f.State()
	angle := math.Atan2(x[MagE], x[MagN])
	assert.InDelta(t, 0.2, angle, 0.02)
}
