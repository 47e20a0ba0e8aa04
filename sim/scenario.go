// Package sim synthesizes IMU samples and aiding measurements from a defined
// flight trajectory, for exercising the navigation filter against known
// truth.  A scenario is a piecewise-linear table of airspeed, attitude and
// wind over time; everything a sensor would see is derived from it.
package sim

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/ThomasSFL/InertialNav/ekf"
)

const pi = math.Pi

const gravity = 9.80665

// Scenario defines a flight by piecewise-linear interpolation between nodes.
// All angle arrays are rad, speeds m/s, times s.  Arrays must share a length
// and T must be strictly increasing.
type Scenario struct {
	T               []float64 // node times
	U1, U2, U3      []float64 // airspeed, body frame [fwd, right, down]
	Phi, Theta, Psi []float64 // attitude [roll, pitch, heading]
	V1, V2          []float64 // windspeed, NED horizontal

	MagField [3]float64 // earth magnetic field, mGauss, NED
	MagBias  [3]float64 // body-fixed field offset, mGauss
}

// Truth is the exact vehicle state at one instant.
type Truth struct {
	T                float64
	Q0, Q1, Q2, Q3   float64 // attitude quaternion, body to NED
	Roll, Pitch, Psi float64
	VelN, VelE, VelD float64 // ground velocity, NED
	AirX, AirY, AirZ float64 // airspeed, body frame
	WindN, WindE     float64
	MagX, MagY, MagZ float64 // field a body magnetometer would read
}

// BeginTime returns the first node time.
func (s *Scenario) BeginTime() float64 {
	return s.T[0]
}

// EndTime returns the last node time.
func (s *Scenario) EndTime() float64 {
	return s.T[len(s.T)-1]
}

func (s *Scenario) check() error {
	n := len(s.T)
	if n < 2 {
		return errors.New("sim: scenario needs at least two nodes")
	}
	for _, a := range [][]float64{s.U1, s.U2, s.U3, s.Phi, s.Theta, s.Psi, s.V1, s.V2} {
		if len(a) != n {
			return errors.New("sim: scenario arrays must share a length")
		}
	}
	for i := 1; i < n; i++ {
		if s.T[i] <= s.T[i-1] {
			return errors.New("sim: scenario times must be strictly increasing")
		}
	}
	return nil
}

// Interpolate returns the exact state at time t.
func (s *Scenario) Interpolate(t float64) (Truth, error) {
	if t < s.T[0] || t > s.T[len(s.T)-1] {
		return Truth{}, errors.Errorf("sim: time %v outside scenario [%v, %v]", t, s.T[0], s.T[len(s.T)-1])
	}
	ix := 0
	if t > s.T[0] {
		ix = sort.SearchFloat64s(s.T, t) - 1
	}
	if ix > len(s.T)-2 {
		ix = len(s.T) - 2
	}
	f := (s.T[ix+1] - t) / (s.T[ix+1] - s.T[ix])

	lerp := func(a []float64) float64 { return f*a[ix] + (1-f)*a[ix+1] }

	x := Truth{
		T:     t,
		Roll:  lerp(s.Phi),
		Pitch: lerp(s.Theta),
		Psi:   lerp(s.Psi),
		AirX:  lerp(s.U1),
		AirY:  lerp(s.U2),
		AirZ:  lerp(s.U3),
		WindN: lerp(s.V1),
		WindE: lerp(s.V2),
	}
	x.Q0, x.Q1, x.Q2, x.Q3 = ekf.ToQuaternion(x.Roll, x.Pitch, x.Psi)

	dcm := ekf.QuatToDCM(x.Q0, x.Q1, x.Q2, x.Q3)
	x.VelN = dcm[0][0]*x.AirX + dcm[0][1]*x.AirY + dcm[0][2]*x.AirZ + x.WindN
	x.VelE = dcm[1][0]*x.AirX + dcm[1][1]*x.AirY + dcm[1][2]*x.AirZ + x.WindE
	x.VelD = dcm[2][0]*x.AirX + dcm[2][1]*x.AirY + dcm[2][2]*x.AirZ

	// field seen by a body magnetometer: earth field into body axes, plus
	// the fixed body offset
	x.MagX = dcm[0][0]*s.MagField[0] + dcm[1][0]*s.MagField[1] + dcm[2][0]*s.MagField[2] + s.MagBias[0]
	x.MagY = dcm[0][1]*s.MagField[0] + dcm[1][1]*s.MagField[1] + dcm[2][1]*s.MagField[2] + s.MagBias[1]
	x.MagZ = dcm[0][2]*s.MagField[0] + dcm[1][2]*s.MagField[1] + dcm[2][2]*s.MagField[2] + s.MagBias[2]
	return x, nil
}

// Level returns a constant-condition scenario: straight and level at the
// given airspeed and heading for dur seconds, with a steady wind.
func Level(airspeed, heading, windN, windE, dur float64) *Scenario {
	return &Scenario{
		T:        []float64{0, dur},
		U1:       []float64{airspeed, airspeed},
		U2:       []float64{0, 0},
		U3:       []float64{0, 0},
		Phi:      []float64{0, 0},
		Theta:    []float64{0, 0},
		Psi:      []float64{heading, heading},
		V1:       []float64{windN, windN},
		V2:       []float64{windE, windE},
		MagField: [3]float64{225, 52, 412},
	}
}

// Turn returns a standard-rate 360° turn at the given airspeed with entry
// and exit.  Bank is whatever holds the 2-minute rate at the speed flown.
func Turn(airspeed float64) *Scenario {
	bank := math.Atan((2 * pi * airspeed) / (gravity * 120))
	mush := -airspeed * math.Sin(pi/90) / math.Cos(bank)
	return &Scenario{
		// start, roll-in, established, roll-out, wings level, end
		T:        []float64{0, 10, 15, 135, 140, 150},
		U1:       []float64{airspeed, airspeed, airspeed, airspeed, airspeed, airspeed},
		U2:       []float64{0, 0, 0, 0, 0, 0},
		U3:       []float64{0, 0, mush, mush, 0, 0},
		Phi:      []float64{0, 0, bank, bank, 0, 0},
		Theta:    []float64{0, 0, pi / 90, pi / 90, 0, 0},
		Psi:      []float64{0, 0, 0, 2 * pi, 2 * pi, 2 * pi},
		V1:       []float64{3, 3, 3, 3, 3, 3},
		V2:       []float64{-4, -4, -4, -4, -4, -4},
		MagField: [3]float64{225, 52, 412},
	}
}

// Takeoff returns a takeoff roll, climb-out and turn to crosswind.
func Takeoff() *Scenario {
	bank := math.Atan((2 * pi * 45) / (gravity * 120))
	return &Scenario{
		T:        []float64{0, 10, 30, 35, 55, 85, 90, 110, 115, 130},
		U1:       []float64{4, 4, 33, 40, 45, 45, 45, 45, 45, 55},
		U2:       []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		U3:       []float64{0, 0, 0, -1.5, -1.5, -1.5, -1, -1, -1, 0},
		Phi:      []float64{0, 0, 0, 0, 0, 0, -bank, -bank, 0, 0},
		Theta:    []float64{0, 0, 0, 0.2, 0.2, 0.2, 0.12, 0.12, 0.12, 0.03},
		Psi:      []float64{0, 0, 0, 0, 0, 0, 0, -pi / 2, -pi / 2, -pi / 2},
		V1:       []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		V2:       []float64{-4, -4, -4, -4, -4, -5, -5, -5, -6, -6},
		MagField: [3]float64{225, 52, 412},
	}
}
