package ml

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestPosteriorHandExpansion(t *testing.T) {
	m := twoStateModel()
	seq := Sequence{0, 1, 0}
	const p = 0.069616

	post, err := Infer(m, seq)
	require.NoError(t, err)
	require.Len(t, post.State, 3)
	require.Len(t, post.Transition, 2)
	assert.InDelta(t, p, post.Prob(), 1e-12)

	delta := [][]float64{
		{0.06096 / p, 0.008656 / p},
		{0.04294 / p, 0.026676 / p},
		{0.06007 / p, 0.009546 / p},
	}
	for tt := range delta {
		assert.InDeltaSlice(t, delta[tt], post.State[tt], tol, "delta[%d]", tt)
	}

	epsilon := [][][]float64{
		{{0.0399 / p, 0.02106 / p}, {0.00304 / p, 0.005616 / p}},
		{{0.03955 / p, 0.00339 / p}, {0.02052 / p, 0.006156 / p}},
	}
	for tt := range epsilon {
		for i := range epsilon[tt] {
			assert.InDeltaSlice(t, epsilon[tt][i], post.Transition[tt][i], tol, "epsilon[%d][%d]", tt, i)
		}
	}
}

func TestPosteriorsAreDistributions(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for n := 0; n < 10; n++ {
		m := randomModel(r, 2+r.Intn(4), 2+r.Intn(4))
		seq := sample(r, m, 2+r.Intn(60))

		post, err := Infer(m, seq)
		require.NoError(t, err)
		for tt, row := range post.State {
			assert.InDelta(t, 1, floats.Sum(row), tol, "delta[%d]", tt)
		}
		for tt, slice := range post.Transition {
			sum := 0.0
			for i := range slice {
				sum += floats.Sum(slice[i])
			}
			assert.InDelta(t, 1, sum, tol, "epsilon[%d]", tt)
			//marginalizing over j gives delta[t]
			for i := range slice {
				assert.InDelta(t, post.State[tt][i], floats.Sum(slice[i]), 1e-8)
			}
		}
	}
}

func TestPosteriorSingleObservation(t *testing.T) {
	post, err := Infer(twoStateModel(), Sequence{1})
	require.NoError(t, err)
	assert.Len(t, post.State, 1)
	assert.Empty(t, post.Transition)
	assert.InDeltaSlice(t, []float64{0.3 / 0.66, 0.36 / 0.66}, post.State[0], tol)
}

func TestPosteriorZeroLikelihood(t *testing.T) {
	m := twoStateModel()
	m.Emission = [][]float64{
		{1, 1},
		{0, 0},
	}
	_, err := Infer(m, Sequence{0, 1, 0})
	assert.ErrorIs(t, err, ErrZeroLikelihood)
}

func TestPosteriorLengthMismatch(t *testing.T) {
	m := twoStateModel()
	fw, err := Forward(m, Sequence{0, 1, 0})
	require.NoError(t, err)
	bw, err := Backward(m, Sequence{0, 1})
	require.NoError(t, err)

	_, err = StatePosterior(fw, bw)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, err = TransitionPosterior(m, Sequence{0, 1, 0}, fw, bw)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
