package ml

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Path is the most probable hidden state sequence of an observation sequence.
type Path struct {
	States  []int
	LogProb float64
}

// Prob returns the probability of the path jointly with the observations.
func (p *Path) Prob() float64 {
	return math.Exp(p.LogProb)
}

// Viterbi finds the most probable state path for seq under m.
//
// Each delta row is divided by its maximum and the logs of the maxima are summed
// into LogProb. Ties go to the lowest state index: candidates are scanned upward
// and only a strictly greater value replaces the current best. When every
// candidate is zero the best predecessor is state 0 and LogProb is -Inf.
func Viterbi(m *Model, seq Sequence) (*Path, error) {
	if err := m.checkSequence(seq); err != nil {
		return nil, err
	}
	size, states := len(seq), m.StateCount()
	delta := makeFloatArray(size, states)
	psi := make([][]int, size)
	cols := m.transposed()
	cand := make([]float64, states)
	logProb := 0.0

	//t=0
	floats.MulTo(delta[0], m.Initial, m.Emission[seq[0]])
	logProb += rescaleMax(delta[0])

	for t := 0; t < size-1; t++ {
		emit := m.Emission[seq[t+1]]
		psi[t+1] = make([]int, states)
		for j := 0; j < states; j++ {
			floats.MulTo(cand, delta[t], cols[j])
			best := argmax(cand)
			psi[t+1][j] = best
			delta[t+1][j] = cand[best] * emit[j]
		}
		logProb += rescaleMax(delta[t+1])
	}

	path := &Path{States: make([]int, size)}
	last := argmax(delta[size-1])
	path.States[size-1] = last
	if delta[size-1][last] == 0 {
		path.LogProb = math.Inf(-1)
	} else {
		path.LogProb = logProb + math.Log(delta[size-1][last])
	}

	//backtracking
	for t := size - 2; t >= 0; t-- {
		path.States[t] = psi[t+1][path.States[t+1]]
	}
	return path, nil
}

// rescaleMax divides x by its maximum and returns the log of that maximum.
// A row of zeros is left as is and contributes -Inf.
func rescaleMax(x []float64) float64 {
	mx := floats.Max(x)
	if mx <= 0 {
		return math.Inf(-1)
	}
	floats.Scale(1/mx, x)
	return math.Log(mx)
}

// argmax returns the first index holding the maximum of x.
func argmax(x []float64) int {
	j := 0
	v := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > v {
			v = x[i]
			j = i
		}
	}
	return j
}
