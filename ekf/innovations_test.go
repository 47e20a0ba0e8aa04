package ekf

import (
	"log"
	"math"
	"math/rand"
	"testing"
)

func TestAccumulatorStatistics(t *testing.T) {
	const decay = 0.995
	rnd := rand.New(rand.NewSource(5))

	N := 1 / (1 - decay) // effective window; run long enough to converge
	a := NewVarianceAccumulator(0, decay)

	var n, m, v float64
	for i := 1; i < int(50*N); i++ {
		n, m, v = a.Observe(1 + rnd.NormFloat64())
	}

	if math.Abs(n-N) > 0.01 {
		log.Printf("effective observations %6f, want %6f\n", n, N)
		t.Fail()
	}
	if math.Abs(m-1) > 2/math.Sqrt(N) {
		log.Printf("mean %6f, want 1\n", m)
		t.Fail()
	}
	if math.Abs(v-1) > 4/math.Sqrt(N) {
		log.Printf("variance %6f, want 1\n", v)
		t.Fail()
	}
}

func TestAccumulatorConstantInput(t *testing.T) {
	a := NewVarianceAccumulator(2.5, innovDecay)
	var n, m, v float64
	for i := 0; i < 100; i++ {
		n, m, v = a.Observe(2.5)
	}
	if math.Abs(m-2.5) > 1e-12 || v > 1e-12 {
		log.Printf("constant input: mean %6f, var %6g\n", m, v)
		t.Fail()
	}
	if n <= 1 {
		log.Printf("effective observations did not grow: %6f\n", n)
		t.Fail()
	}
}

func TestAccumulatorStats(t *testing.T) {
	a := NewVarianceAccumulator(1, 0.9)
	a.Observe(3)
	n1, m1, v1 := a.Stats()
	n2, m2, v2 := a.Stats()
	if n1 != n2 || m1 != m2 || v1 != v2 {
		log.Println("Stats must not mutate the accumulator")
		t.Fail()
	}
	if m1 <= 1 || m1 >= 3 {
		log.Printf("mean %6f, want between the two observations\n", m1)
		t.Fail()
	}
}
