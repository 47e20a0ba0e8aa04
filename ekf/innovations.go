package ekf

// innovDecay is the exponential decay constant for innovation statistics,
// roughly a 50-observation memory.
const innovDecay = 1 - 1.0/50

// VarianceAccumulator tracks an exponentially weighted mean and variance of a
// scalar observation stream, along with the effective number of observations.
// The fusion engine feeds one per innovation stream; external gating policy
// can read them to judge multi-sensor consistency or retune measurement
// noise.
type VarianceAccumulator struct {
	decay   float64
	n, m, v float64
}

// NewVarianceAccumulator returns an accumulator initialized with a first
// observation init and decay constant decay in (0, 1).
func NewVarianceAccumulator(init, decay float64) *VarianceAccumulator {
	return &VarianceAccumulator{decay: decay, n: 1, m: init}
}

// Observe folds one observation into the statistics and returns the current
// effective count, mean and variance.
func (a *VarianceAccumulator) Observe(obs float64) (n, mean, variance float64) {
	d := obs - a.m
	dm := (1 - a.decay) * d

	a.n = 1 + a.decay*a.n
	a.m += dm
	a.v = a.decay * (a.v + dm*d)
	return a.n, a.m, a.v
}

// Stats returns the current effective count, mean and variance without
// observing anything.
func (a *VarianceAccumulator) Stats() (n, mean, variance float64) {
	return a.n, a.m, a.v
}
