package ml

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// DefaultTolerance is the slack allowed when checking that distributions sum to 1.
const DefaultTolerance = 1e-9

// LoadTolerance is the slack allowed for model files, which may carry values
// rounded to five decimals.
const LoadTolerance = 1e-4

var (
	ErrInvalidModel        = errors.New("invalid model")
	ErrDimensionMismatch   = errors.New("dimension mismatch")
	ErrEmptySequence       = errors.New("empty sequence")
	ErrSymbolOutOfRange    = errors.New("symbol out of range")
	ErrZeroLikelihood      = errors.New("sequence has zero likelihood under model")
	ErrNoTrainableSequence = errors.New("no sequence with non-zero likelihood in batch")
	ErrNoModels            = errors.New("no models")
)

// Model holds the parameters of a discrete HMM.
//
// Transition is S×S, row i being the outgoing distribution of state i.
// Emission is K×S, column j being the symbol distribution of state j.
type Model struct {
	Label      string
	Initial    []float64
	Transition [][]float64
	Emission   [][]float64
}

// NewModel returns a model with uniform distributions.
func NewModel(label string, states, symbols int) *Model {
	m := &Model{
		Label:      label,
		Initial:    make([]float64, states),
		Transition: makeFloatArray(states, states),
		Emission:   makeFloatArray(symbols, states),
	}
	for i := 0; i < states; i++ {
		m.Initial[i] = 1 / float64(states)
		for j := 0; j < states; j++ {
			m.Transition[i][j] = 1 / float64(states)
		}
	}
	for k := 0; k < symbols; k++ {
		for j := 0; j < states; j++ {
			m.Emission[k][j] = 1 / float64(symbols)
		}
	}
	return m
}

func (m *Model) StateCount() int {
	return len(m.Initial)
}

func (m *Model) SymbolCount() int {
	return len(m.Emission)
}

// Clone returns a deep copy of m.
func (m *Model) Clone() *Model {
	c := &Model{
		Label:      m.Label,
		Initial:    append([]float64(nil), m.Initial...),
		Transition: makeFloatArray(len(m.Transition), m.StateCount()),
		Emission:   makeFloatArray(len(m.Emission), m.StateCount()),
	}
	for i := range m.Transition {
		copy(c.Transition[i], m.Transition[i])
	}
	for k := range m.Emission {
		copy(c.Emission[k], m.Emission[k])
	}
	return c
}

// checkShape verifies the dimensions of the model without looking at the values.
func (m *Model) checkShape() error {
	s := m.StateCount()
	if s == 0 {
		return errors.Wrap(ErrInvalidModel, "no states")
	}
	if m.SymbolCount() == 0 {
		return errors.Wrap(ErrInvalidModel, "no symbols")
	}
	if len(m.Transition) != s {
		return errors.Wrapf(ErrDimensionMismatch, "transition has %d rows, want %d", len(m.Transition), s)
	}
	for i, row := range m.Transition {
		if len(row) != s {
			return errors.Wrapf(ErrDimensionMismatch, "transition row %d has %d columns, want %d", i, len(row), s)
		}
	}
	for k, row := range m.Emission {
		if len(row) != s {
			return errors.Wrapf(ErrDimensionMismatch, "emission row %d has %d columns, want %d", k, len(row), s)
		}
	}
	return nil
}

// Validate checks the dimensions and that initial, every transition row and
// every emission column are probability distributions within tol.
func (m *Model) Validate(tol float64) error {
	if err := m.checkShape(); err != nil {
		return err
	}
	if err := checkDistribution(m.Initial, tol); err != nil {
		return errors.WithMessage(err, "initial")
	}
	for i, row := range m.Transition {
		if err := checkDistribution(row, tol); err != nil {
			return errors.WithMessagef(err, "transition row %d", i)
		}
	}
	col := make([]float64, m.SymbolCount())
	for j := 0; j < m.StateCount(); j++ {
		for k := range m.Emission {
			col[k] = m.Emission[k][j]
		}
		if err := checkDistribution(col, tol); err != nil {
			return errors.WithMessagef(err, "emission column %d", j)
		}
	}
	return nil
}

func checkDistribution(p []float64, tol float64) error {
	for i, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
			return errors.Wrapf(ErrInvalidModel, "entry %d = %v is not a probability", i, v)
		}
	}
	if sum := floats.Sum(p); math.Abs(sum-1) > tol {
		return errors.Wrapf(ErrInvalidModel, "sums to %v", sum)
	}
	return nil
}

// transposed returns the columns of the transition matrix, so that column j can be
// dotted against a forward row.
func (m *Model) transposed() [][]float64 {
	s := m.StateCount()
	t := makeFloatArray(s, s)
	for i := 0; i < s; i++ {
		for j := 0; j < s; j++ {
			t[j][i] = m.Transition[i][j]
		}
	}
	return t
}

// checkSequence verifies seq can be scored against m.
func (m *Model) checkSequence(seq Sequence) error {
	if err := m.checkShape(); err != nil {
		return err
	}
	return seq.Validate(m.SymbolCount())
}

// makeFloatArray makes a collection of r slices
// of length c, packed contiguously.
func makeFloatArray(r, c int) [][]float64 {
	bka := make([]float64, r*c)
	x := make([][]float64, r)
	for j := 0; j < r; j++ {
		x[j] = bka[j*c : (j+1)*c]
	}
	return x
}
