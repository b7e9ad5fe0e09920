package ml

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// ForwardTable holds the forward probabilities of one sequence under one model.
//
// Row t of Scaled is alpha[t] divided by the product of the scale factors up to t,
// so every non-degenerate row sums to 1.
type ForwardTable struct {
	Scaled  [][]float64
	Scale   []float64
	LogProb float64

	// logNorm[t] = sum of log(Scale[s]) for s <= t
	logNorm []float64
}

// Len returns the sequence length T.
func (f *ForwardTable) Len() int {
	return len(f.Scaled)
}

// Alpha returns the joint probability of seq[0..t] and state i at time t.
func (f *ForwardTable) Alpha(t, i int) float64 {
	v := f.Scaled[t][i]
	if v == 0 {
		return 0
	}
	return math.Exp(math.Log(v) + f.logNorm[t])
}

// Prob returns the total probability of the sequence. It underflows to 0 for long
// sequences, use LogProb there.
func (f *ForwardTable) Prob() float64 {
	return math.Exp(f.LogProb)
}

// Forward runs the forward algorithm for seq under m. A sequence that is impossible
// under m is not an error: LogProb is -Inf and the rows from the first impossible
// step on are zero.
func Forward(m *Model, seq Sequence) (*ForwardTable, error) {
	if err := m.checkSequence(seq); err != nil {
		return nil, err
	}
	size, states := len(seq), m.StateCount()
	f := &ForwardTable{
		Scaled:  makeFloatArray(size, states),
		Scale:   make([]float64, size),
		logNorm: make([]float64, size),
	}
	cols := m.transposed()

	//t=0
	for i := 0; i < states; i++ {
		f.Scaled[0][i] = m.Initial[i] * m.Emission[seq[0]][i]
	}
	f.rescale(0)

	for t := 0; t < size-1; t++ {
		emit := m.Emission[seq[t+1]]
		for j := 0; j < states; j++ {
			//sum over states at t of alpha[t][i] * a[i][j], then emit seq[t+1] from j
			f.Scaled[t+1][j] = floats.Dot(f.Scaled[t], cols[j]) * emit[j]
		}
		f.rescale(t + 1)
	}

	f.LogProb = f.logNorm[size-1]
	return f, nil
}

func (f *ForwardTable) rescale(t int) {
	prev := 0.0
	if t > 0 {
		prev = f.logNorm[t-1]
	}
	c := floats.Sum(f.Scaled[t])
	f.Scale[t] = c
	if c == 0 {
		f.logNorm[t] = math.Inf(-1)
		return
	}
	floats.Scale(1/c, f.Scaled[t])
	f.logNorm[t] = prev + math.Log(c)
}

// BackwardTable holds the backward probabilities of one sequence under one model.
//
// The last row is all ones; every earlier row is divided by its own sum. The scale
// factors are independent of the forward ones.
type BackwardTable struct {
	Scaled  [][]float64
	Scale   []float64
	LogProb float64

	// logNorm[t] = sum of log(Scale[s]) for t <= s < T-1
	logNorm []float64
}

func (b *BackwardTable) Len() int {
	return len(b.Scaled)
}

// Beta returns the probability of seq[t+1..] given state i at time t.
func (b *BackwardTable) Beta(t, i int) float64 {
	v := b.Scaled[t][i]
	if v == 0 {
		return 0
	}
	return math.Exp(math.Log(v) + b.logNorm[t])
}

// Prob returns the total probability of the sequence derived from beta[0].
func (b *BackwardTable) Prob() float64 {
	return math.Exp(b.LogProb)
}

// Backward runs the backward algorithm for seq under m.
func Backward(m *Model, seq Sequence) (*BackwardTable, error) {
	if err := m.checkSequence(seq); err != nil {
		return nil, err
	}
	size, states := len(seq), m.StateCount()
	b := &BackwardTable{
		Scaled:  makeFloatArray(size, states),
		Scale:   make([]float64, size),
		logNorm: make([]float64, size),
	}

	//t=T-1, beta is 1 for every state
	for i := 0; i < states; i++ {
		b.Scaled[size-1][i] = 1
	}
	b.Scale[size-1] = 1

	w := make([]float64, states)
	for t := size - 2; t >= 0; t-- {
		//w[j] = b[seq[t+1]][j] * beta[t+1][j]
		floats.MulTo(w, m.Emission[seq[t+1]], b.Scaled[t+1])
		for i := 0; i < states; i++ {
			b.Scaled[t][i] = floats.Dot(m.Transition[i], w)
		}
		b.rescale(t)
	}

	//fold the first observation in to get the sequence probability
	floats.MulTo(w, m.Initial, m.Emission[seq[0]])
	p0 := floats.Dot(w, b.Scaled[0])
	if p0 == 0 {
		b.LogProb = math.Inf(-1)
	} else {
		b.LogProb = math.Log(p0) + b.logNorm[0]
	}
	return b, nil
}

func (b *BackwardTable) rescale(t int) {
	next := b.logNorm[t+1]
	d := floats.Sum(b.Scaled[t])
	b.Scale[t] = d
	if d == 0 {
		b.logNorm[t] = math.Inf(-1)
		return
	}
	floats.Scale(1/d, b.Scaled[t])
	b.logNorm[t] = next + math.Log(d)
}
