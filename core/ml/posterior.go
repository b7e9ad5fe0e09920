package ml

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Posterior holds the posteriors of one sequence given the whole sequence.
//
// State[t][i] is the probability of state i at time t (delta).
// Transition[t][i][j] is the probability of moving i->j between t and t+1 (epsilon).
type Posterior struct {
	State      [][]float64
	Transition [][][]float64
	LogProb    float64
}

// Prob returns the probability of the sequence the posteriors were computed for.
func (p *Posterior) Prob() float64 {
	return math.Exp(p.LogProb)
}

// StatePosterior derives delta from the forward and backward tables of one sequence.
// Every row is normalized, so the scale factors of both tables cancel out.
func StatePosterior(fw *ForwardTable, bw *BackwardTable) ([][]float64, error) {
	if fw.Len() != bw.Len() {
		return nil, errors.Wrapf(ErrDimensionMismatch, "forward length %d, backward length %d", fw.Len(), bw.Len())
	}
	size := fw.Len()
	if size == 0 {
		return nil, ErrEmptySequence
	}
	states := len(fw.Scaled[0])
	delta := makeFloatArray(size, states)
	for t := 0; t < size; t++ {
		floats.MulTo(delta[t], fw.Scaled[t], bw.Scaled[t])
		sum := floats.Sum(delta[t])
		if sum == 0 {
			return nil, errors.Wrapf(ErrZeroLikelihood, "state posterior at t=%d", t)
		}
		floats.Scale(1/sum, delta[t])
	}
	return delta, nil
}

// TransitionPosterior derives epsilon for seq under m from its forward and backward
// tables. Each time slice is normalized over all (i, j).
func TransitionPosterior(m *Model, seq Sequence, fw *ForwardTable, bw *BackwardTable) ([][][]float64, error) {
	if fw.Len() != len(seq) || bw.Len() != len(seq) {
		return nil, errors.Wrapf(ErrDimensionMismatch, "sequence length %d, forward %d, backward %d", len(seq), fw.Len(), bw.Len())
	}
	states := m.StateCount()
	size := len(seq)
	if size < 2 {
		return [][][]float64{}, nil
	}

	epsilon := make([][][]float64, size-1)
	w := make([]float64, states)
	for t := 0; t < size-1; t++ {
		//w[j] = b[seq[t+1]][j] * beta[t+1][j]
		floats.MulTo(w, m.Emission[seq[t+1]], bw.Scaled[t+1])
		slice := makeFloatArray(states, states)
		sum := 0.0
		for i := 0; i < states; i++ {
			a := fw.Scaled[t][i]
			floats.MulTo(slice[i], m.Transition[i], w)
			floats.Scale(a, slice[i])
			sum += floats.Sum(slice[i])
		}
		if sum == 0 {
			return nil, errors.Wrapf(ErrZeroLikelihood, "transition posterior at t=%d", t)
		}
		for i := 0; i < states; i++ {
			floats.Scale(1/sum, slice[i])
		}
		epsilon[t] = slice
	}
	return epsilon, nil
}

// Posteriors computes delta and epsilon for seq from its forward and backward tables.
func Posteriors(m *Model, seq Sequence, fw *ForwardTable, bw *BackwardTable) (*Posterior, error) {
	delta, err := StatePosterior(fw, bw)
	if err != nil {
		return nil, err
	}
	epsilon, err := TransitionPosterior(m, seq, fw, bw)
	if err != nil {
		return nil, err
	}
	return &Posterior{State: delta, Transition: epsilon, LogProb: fw.LogProb}, nil
}

// Infer runs forward, backward and posterior computation for seq under m.
func Infer(m *Model, seq Sequence) (*Posterior, error) {
	fw, err := Forward(m, seq)
	if err != nil {
		return nil, err
	}
	bw, err := Backward(m, seq)
	if err != nil {
		return nil, err
	}
	return Posteriors(m, seq, fw, bw)
}
