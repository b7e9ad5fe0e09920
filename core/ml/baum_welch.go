package ml

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Reestimate performs the M-step of one Baum-Welch iteration over a batch.
//
// posts[n] holds the posteriors of seqs[n] under m; a nil entry excludes that
// sequence. The returned model is new, m is left untouched. A transition row or
// emission column without posterior mass keeps the values of m.
func Reestimate(m *Model, seqs []Sequence, posts []*Posterior) (*Model, error) {
	if len(seqs) != len(posts) {
		return nil, errors.Wrapf(ErrDimensionMismatch, "%d sequences, %d posteriors", len(seqs), len(posts))
	}
	if err := m.checkShape(); err != nil {
		return nil, err
	}
	states, symbols := m.StateCount(), m.SymbolCount()

	initial := make([]float64, states)
	// expected transitions i->j, and expected visits of i before the last step
	transNum := makeFloatArray(states, states)
	transDen := make([]float64, states)
	// expected emissions of k from j, and expected visits of j
	emitNum := makeFloatArray(symbols, states)
	emitDen := make([]float64, states)

	used := 0
	for n, p := range posts {
		if p == nil {
			continue
		}
		seq := seqs[n]
		if len(p.State) != len(seq) || len(p.Transition) != len(seq)-1 {
			return nil, errors.Wrapf(ErrDimensionMismatch, "posterior %d does not match sequence length %d", n, len(seq))
		}
		if err := seq.Validate(symbols); err != nil {
			return nil, errors.WithMessagef(err, "sequence %d", n)
		}
		used++

		floats.Add(initial, p.State[0])
		for t, eps := range p.Transition {
			floats.Add(transDen, p.State[t])
			for i := 0; i < states; i++ {
				floats.Add(transNum[i], eps[i])
			}
		}
		for t, o := range seq {
			floats.Add(emitNum[o], p.State[t])
			floats.Add(emitDen, p.State[t])
		}
	}
	if used == 0 {
		return nil, ErrNoTrainableSequence
	}

	next := &Model{
		Label:      m.Label,
		Initial:    initial,
		Transition: transNum,
		Emission:   emitNum,
	}
	//arithmetic mean over the batch, not weighted by length
	floats.Scale(1/float64(used), next.Initial)

	for i := 0; i < states; i++ {
		if transDen[i] == 0 {
			copy(next.Transition[i], m.Transition[i])
			continue
		}
		floats.Scale(1/transDen[i], next.Transition[i])
	}

	for j := 0; j < states; j++ {
		for k := 0; k < symbols; k++ {
			if emitDen[j] == 0 {
				next.Emission[k][j] = m.Emission[k][j]
				continue
			}
			next.Emission[k][j] /= emitDen[j]
		}
	}
	return next, nil
}
