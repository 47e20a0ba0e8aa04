package ekf

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Fusion rejection statuses.  A rejected scalar update leaves the state and
// covariance exactly as they were; the filter stays usable.
var (
	ErrInnovationVariance = errors.New("ekf: non-positive innovation variance")
	ErrNonFinite          = errors.New("ekf: non-finite fusion quantity")
	ErrGated              = errors.New("ekf: innovation failed consistency gate")
	ErrDegenerate         = errors.New("ekf: degenerate measurement geometry")
)

// obsRow is a sparse measurement Jacobian row: the partial derivatives of one
// predicted scalar with respect to the state vector, with only the non-zero
// entries stored.
type obsRow struct {
	idx  []int
	coef []float64
}

func (h *obsRow) add(i int, v float64) {
	h.idx = append(h.idx, i)
	h.coef = append(h.coef, v)
}

// fuseScalar applies a single scalar measurement update: innovation innov with
// measurement noise variance r and Jacobian row h.  The update either fully
// applies (state corrected, covariance shrunk, rotation error folded into the
// attitude and rezeroed) or fully no-ops with a status error.
func (f *Filter) fuseScalar(stream string, h *obsRow, innov, r float64) error {
	if math.IsNaN(innov) || math.IsInf(innov, 0) || math.IsNaN(r) || math.IsInf(r, 0) || r < 0 {
		return errors.Wrap(ErrNonFinite, stream)
	}

	// Innovate: S = H·P·Hᵗ + R and the gain column P·Hᵗ.
	var ph [NStates]float64
	for i := 0; i < NStates; i++ {
		for n, j := range h.idx {
			ph[i] += f.p.At(i, j) * h.coef[n]
		}
	}
	s := r
	for n, j := range h.idx {
		s += h.coef[n] * ph[j]
	}
	f.step = stepInnovated

	if math.IsNaN(s) || s <= 0 {
		f.log.Warnw("scalar update rejected", "stream", stream, "innovVar", s)
		return errors.Wrap(ErrInnovationVariance, stream)
	}

	f.trackInnovation(stream, innov)

	if f.cfg.GateSigmas > 0 && innov*innov > f.cfg.GateSigmas*f.cfg.GateSigmas*s {
		f.log.Infow("innovation gated", "stream", stream, "innov", innov, "sigma", math.Sqrt(s))
		return errors.Wrap(ErrGated, stream)
	}
	if f.Gate != nil && !f.Gate(innov, s) {
		return errors.Wrap(ErrGated, stream)
	}

	var k [NStates]float64
	for i := 0; i < NStates; i++ {
		k[i] = ph[i] / s
		if math.IsNaN(k[i]) || math.IsInf(k[i], 0) {
			return errors.Wrap(ErrNonFinite, stream)
		}
	}

	// Correct all 24 states, rotation-error entries included, and shrink the
	// covariance: P ← P − K·(H·P).
	for i := 0; i < NStates; i++ {
		f.x[i] += k[i] * innov
	}
	for i := 0; i < NStates; i++ {
		for j := 0; j < NStates; j++ {
			f.p.Set(i, j, f.p.At(i, j)-k[i]*ph[j])
		}
	}
	f.conditionCovariance()
	f.step = stepCorrected

	f.resetErrorState()
	return nil
}

// resetErrorState folds the rotation-error states into the attitude estimate
// quaternion, renormalizes, and forces the error entries back to exactly zero.
// The covariance rows stay as corrected; only the mean is reset.  This runs
// after every scalar update so the next Jacobian sees a zero operating point.
func (f *Filter) resetErrorState() {
	e0, e1, e2, e3 := RotVecToQuat(f.x[RotErrX], f.x[RotErrY], f.x[RotErrZ])
	f.qe0, f.qe1, f.qe2, f.qe3 = QuatMult(f.qe0, f.qe1, f.qe2, f.qe3, e0, e1, e2, e3)
	f.x[RotErrX], f.x[RotErrY], f.x[RotErrZ] = 0, 0, 0

	f.qt0, f.qt1, f.qt2, f.qt3 = f.qe0, f.qe1, f.qe2, f.qe3
	f.normalizeTruth()
	f.qe0, f.qe1, f.qe2, f.qe3 = f.qt0, f.qt1, f.qt2, f.qt3
	f.step = stepReset
}

// trackInnovation feeds the per-stream exponentially-weighted statistics.
func (f *Filter) trackInnovation(stream string, innov float64) {
	a, ok := f.innovStats[stream]
	if !ok {
		a = NewVarianceAccumulator(innov, innovDecay)
		f.innovStats[stream] = a
		return
	}
	a.Observe(innov)
}

// axisError combines per-axis rejections from a multi-axis fusion into one
// status error, nil when every axis applied.
func axisError(op string, rejected []string, first error) error {
	if len(rejected) == 0 {
		return nil
	}
	return errors.Wrapf(first, "%s: axes rejected: %s", op, strings.Join(rejected, ","))
}
