package ml

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ScoreMethod selects how a sequence is scored against a model.
type ScoreMethod string

const (
	// ScoreForward scores with the total sequence probability.
	ScoreForward ScoreMethod = "forward"
	// ScoreViterbi scores with the probability of the best state path.
	ScoreViterbi ScoreMethod = "viterbi"
)

func ParseScoreMethod(s string) (ScoreMethod, error) {
	switch ScoreMethod(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScoreForward:
		return ScoreForward, nil
	case ScoreViterbi:
		return ScoreViterbi, nil
	}
	return "", errors.Errorf("unknown score method %q", s)
}

// Result is the outcome of classifying one sequence.
type Result struct {
	Index   int
	Label   string
	LogProb float64
}

// Prob returns the unnormalized score of the winning model.
func (r *Result) Prob() float64 {
	return math.Exp(r.LogProb)
}

// ClassifyEvent is published on the bus for every classified sequence.
type ClassifyEvent struct {
	Method  ScoreMethod
	Result  *Result
	Elapsed time.Duration
}

type Classifier struct {
	models  []*Model
	method  ScoreMethod
	workers int
}

type ClassifierOption func(*Classifier)

func WithMethod(method ScoreMethod) ClassifierOption {
	return func(c *Classifier) {
		c.method = method
	}
}

func WithWorkers(n int) ClassifierOption {
	return func(c *Classifier) {
		if n > 0 {
			c.workers = n
		}
	}
}

// NewClassifier returns a classifier over models. The order of models is the
// order in which ties are resolved.
func NewClassifier(models []*Model, opts ...ClassifierOption) (*Classifier, error) {
	if len(models) == 0 {
		return nil, ErrNoModels
	}
	symbols := models[0].SymbolCount()
	for i, m := range models {
		if err := m.checkShape(); err != nil {
			return nil, errors.WithMessagef(err, "model %d (%s)", i, m.Label)
		}
		if m.SymbolCount() != symbols {
			return nil, errors.Wrapf(ErrDimensionMismatch, "model %d (%s) has %d symbols, model 0 has %d",
				i, m.Label, m.SymbolCount(), symbols)
		}
	}
	c := &Classifier{models: models, method: ScoreForward, workers: 1}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Classifier) Models() []*Model {
	return c.models
}

func (c *Classifier) Method() ScoreMethod {
	return c.method
}

// Score returns the log score of seq under m.
func (c *Classifier) Score(m *Model, seq Sequence) (float64, error) {
	switch c.method {
	case ScoreViterbi:
		p, err := Viterbi(m, seq)
		if err != nil {
			return 0, err
		}
		return p.LogProb, nil
	default:
		f, err := Forward(m, seq)
		if err != nil {
			return 0, err
		}
		return f.LogProb, nil
	}
}

// Classify scores seq against every model and returns the best one. Only a
// strictly greater score replaces the current best, so the first model wins ties.
func (c *Classifier) Classify(seq Sequence) (*Result, error) {
	var best *Result
	for i, m := range c.models {
		score, err := c.Score(m, seq)
		if err != nil {
			return nil, errors.WithMessagef(err, "score against %s", m.Label)
		}
		if math.IsNaN(score) {
			return nil, errors.Wrapf(ErrInvalidModel, "model %d (%s) scores NaN", i, m.Label)
		}
		if best == nil || score > best.LogProb {
			best = &Result{Index: i, Label: m.Label, LogProb: score}
		}
	}
	return best, nil
}

// ClassifyAll classifies seqs concurrently; results keep the input order.
func (c *Classifier) ClassifyAll(ctx context.Context, seqs []Sequence) ([]*Result, error) {
	results := make([]*Result, len(seqs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for n := range seqs {
		n := n
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := c.Classify(seqs[n])
			if err != nil {
				return errors.WithMessagef(err, "sequence %d", n)
			}
			results[n] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
