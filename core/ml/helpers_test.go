package ml

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

const tol = 1e-9

// twoStateModel is the 2-state, 2-symbol model whose recurrences are expanded by
// hand in the tests.
func twoStateModel() *Model {
	return &Model{
		Label:   "two",
		Initial: []float64{0.6, 0.4},
		Transition: [][]float64{
			{0.7, 0.3},
			{0.4, 0.6},
		},
		Emission: [][]float64{
			{0.5, 0.1},
			{0.5, 0.9},
		},
	}
}

// boxModel is the red/white ball example: 3 boxes, 2 colours.
func boxModel() *Model {
	return &Model{
		Label:   "box",
		Initial: []float64{0.2, 0.4, 0.4},
		Transition: [][]float64{
			{0.5, 0.2, 0.3},
			{0.3, 0.5, 0.2},
			{0.2, 0.3, 0.5},
		},
		Emission: [][]float64{
			{0.5, 0.4, 0.7},
			{0.5, 0.6, 0.3},
		},
	}
}

func randomDistribution(r *rand.Rand, n int) []float64 {
	p := make([]float64, n)
	sum := 0.0
	for i := range p {
		p[i] = 0.1 + r.Float64()
		sum += p[i]
	}
	for i := range p {
		p[i] /= sum
	}
	return p
}

func randomModel(r *rand.Rand, states, symbols int) *Model {
	m := NewModel("random", states, symbols)
	m.Initial = randomDistribution(r, states)
	for i := 0; i < states; i++ {
		m.Transition[i] = randomDistribution(r, states)
	}
	for j := 0; j < states; j++ {
		col := randomDistribution(r, symbols)
		for k := 0; k < symbols; k++ {
			m.Emission[k][j] = col[k]
		}
	}
	return m
}

func draw(r *rand.Rand, dist []float64) int {
	u := r.Float64()
	cum := 0.0
	for i, p := range dist {
		cum += p
		if u < cum {
			return i
		}
	}
	return len(dist) - 1
}

// sample generates a sequence of length n from m.
func sample(r *rand.Rand, m *Model, n int) Sequence {
	seq := make(Sequence, n)
	col := make([]float64, m.SymbolCount())
	emit := func(state int) int {
		for k := range col {
			col[k] = m.Emission[k][state]
		}
		return draw(r, col)
	}
	state := draw(r, m.Initial)
	for t := 0; t < n; t++ {
		if t > 0 {
			state = draw(r, m.Transition[state])
		}
		seq[t] = emit(state)
	}
	return seq
}

func requireModelInDelta(t *testing.T, expected, actual *Model, delta float64) {
	t.Helper()
	require.InDeltaSlice(t, expected.Initial, actual.Initial, delta, "initial")
	require.Len(t, actual.Transition, len(expected.Transition))
	for i := range expected.Transition {
		require.InDeltaSlice(t, expected.Transition[i], actual.Transition[i], delta, "transition row %d", i)
	}
	require.Len(t, actual.Emission, len(expected.Emission))
	for k := range expected.Emission {
		require.InDeltaSlice(t, expected.Emission[k], actual.Emission[k], delta, "emission row %d", k)
	}
}
