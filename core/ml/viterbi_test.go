package ml

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViterbiHandExpansion(t *testing.T) {
	path, err := Viterbi(twoStateModel(), Sequence{0, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0}, path.States)
	assert.InDelta(t, 0.03675, path.Prob(), 1e-12)
}

func TestViterbiBoxExample(t *testing.T) {
	path, err := Viterbi(boxModel(), Sequence{0, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2}, path.States)
	assert.InDelta(t, 0.0147, path.Prob(), 1e-12)
}

// pathLogProb is the log joint probability of states and seq under m.
func pathLogProb(m *Model, states []int, seq Sequence) float64 {
	lp := math.Log(m.Initial[states[0]] * m.Emission[seq[0]][states[0]])
	for t := 1; t < len(seq); t++ {
		lp += math.Log(m.Transition[states[t-1]][states[t]] * m.Emission[seq[t]][states[t]])
	}
	return lp
}

func TestViterbiMatchesBruteForce(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	for n := 0; n < 10; n++ {
		m := randomModel(r, 3, 3)
		seq := sample(r, m, 6)

		best := math.Inf(-1)
		states := make([]int, len(seq))
		var enumerate func(t int)
		enumerate = func(t int) {
			if t == len(seq) {
				if lp := pathLogProb(m, states, seq); lp > best {
					best = lp
				}
				return
			}
			for i := 0; i < m.StateCount(); i++ {
				states[t] = i
				enumerate(t + 1)
			}
		}
		enumerate(0)

		path, err := Viterbi(m, seq)
		require.NoError(t, err)
		assert.InDelta(t, best, path.LogProb, 1e-9, "case %d", n)
		assert.InDelta(t, path.LogProb, pathLogProb(m, path.States, seq), 1e-9, "case %d", n)
	}
}

func TestViterbiNeverExceedsForward(t *testing.T) {
	r := rand.New(rand.NewSource(9))
	m := randomModel(r, 4, 6)
	seq := sample(r, m, 3000)

	path, err := Viterbi(m, seq)
	require.NoError(t, err)
	fw, err := Forward(m, seq)
	require.NoError(t, err)

	assert.False(t, math.IsInf(path.LogProb, 0))
	assert.LessOrEqual(t, path.LogProb, fw.LogProb+1e-9)
	assert.Len(t, path.States, len(seq))
}

func TestViterbiTiesGoToLowestState(t *testing.T) {
	m := &Model{
		Initial:    []float64{0.5, 0.5},
		Transition: [][]float64{{0.5, 0.5}, {0.5, 0.5}},
		Emission:   [][]float64{{0.5, 0.5}, {0.5, 0.5}},
	}
	path, err := Viterbi(m, Sequence{0, 1, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 0}, path.States)
	assert.InDelta(t, math.Pow(0.25, 4), path.Prob(), 1e-15)
}

func TestViterbiImpossibleSequence(t *testing.T) {
	m := twoStateModel()
	m.Emission = [][]float64{
		{1, 1},
		{0, 0},
	}
	path, err := Viterbi(m, Sequence{0, 1})
	require.NoError(t, err)
	assert.True(t, math.IsInf(path.LogProb, -1))
	assert.Equal(t, []int{0, 0}, path.States)
	assert.Equal(t, 0.0, path.Prob())
}

func TestViterbiRejectsBadInput(t *testing.T) {
	_, err := Viterbi(twoStateModel(), nil)
	assert.ErrorIs(t, err, ErrEmptySequence)
	_, err = Viterbi(twoStateModel(), Sequence{3})
	assert.ErrorIs(t, err, ErrSymbolOutOfRange)
}
