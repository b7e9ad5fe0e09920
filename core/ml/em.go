package ml

import (
	"context"
	"math"
	"time"

	"dsphmm/common"
	"dsphmm/core/msgbus"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// decreaseSlack is how far the log-likelihood may drop between iterations before
// it is reported; smaller drops are rounding noise.
const decreaseSlack = 1e-10

// IterationReport describes one EM iteration. LogLikelihood is the batch
// log-likelihood under the model the iteration started from.
type IterationReport struct {
	Iteration     int
	LogLikelihood float64
	Trained       int
	Skipped       int
	Elapsed       time.Duration
}

type FitReport struct {
	RunID          string
	Iterations     int
	LogLikelihoods []float64
	Decreases      int
	Converged      bool
}

type TrainerConfig struct {
	// Iterations is the fixed number of EM iterations to run.
	Iterations int
	// Workers bounds the sequences processed concurrently in the E-step.
	Workers int
	// Tolerance stops early once the log-likelihood gain falls below it; 0 disables.
	Tolerance float64
	// RunID tags logs and bus messages; generated when empty.
	RunID string
}

// Trainer drives batch Baum-Welch re-estimation.
type Trainer struct {
	cfg TrainerConfig
	log common.Logger
	bus msgbus.MessageBus
}

// NewTrainer returns a trainer. A nil log uses the train module logger, a nil bus
// publishes nothing.
func NewTrainer(cfg TrainerConfig, log common.Logger, bus msgbus.MessageBus) *Trainer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if log == nil {
		log = common.GetLoggerWithRunID(common.MODULE_TRAIN, cfg.RunID)
	}
	return &Trainer{cfg: cfg, log: log, bus: bus}
}

func (tr *Trainer) RunID() string {
	return tr.cfg.RunID
}

// Step runs one EM iteration: posteriors of every sequence under m, then
// re-estimation. Sequences that are impossible under m are skipped.
func (tr *Trainer) Step(ctx context.Context, m *Model, seqs []Sequence) (*Model, *IterationReport, error) {
	start := time.Now()
	posts := make([]*Posterior, len(seqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tr.cfg.Workers)
	for n := range seqs {
		n := n
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := Infer(m, seqs[n])
			if errors.Is(err, ErrZeroLikelihood) {
				return nil
			}
			if err != nil {
				return errors.WithMessagef(err, "sequence %d", n)
			}
			if math.IsInf(p.LogProb, -1) {
				return nil
			}
			posts[n] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	report := &IterationReport{}
	for _, p := range posts {
		if p == nil {
			report.Skipped++
			continue
		}
		report.Trained++
		report.LogLikelihood += p.LogProb
	}

	next, err := Reestimate(m, seqs, posts)
	if err != nil {
		return nil, nil, err
	}
	report.Elapsed = time.Since(start)
	return next, report, nil
}

// Fit runs the configured number of iterations starting from m and returns the
// final model. m itself is never modified.
func (tr *Trainer) Fit(ctx context.Context, m *Model, seqs []Sequence) (*Model, *FitReport, error) {
	if len(seqs) == 0 {
		return nil, nil, errors.Wrap(ErrNoTrainableSequence, "empty training set")
	}
	if err := m.checkShape(); err != nil {
		return nil, nil, err
	}

	report := &FitReport{RunID: tr.cfg.RunID}
	tr.log.Infof("training %s: %d sequences, %d states, %d symbols, %d iterations",
		m.Label, len(seqs), m.StateCount(), m.SymbolCount(), tr.cfg.Iterations)

	cur := m
	for i := 0; i < tr.cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return cur, report, err
		}
		next, it, err := tr.Step(ctx, cur, seqs)
		if err != nil {
			return cur, report, errors.WithMessagef(err, "iteration %d", i+1)
		}
		it.Iteration = i + 1

		if it.Skipped > 0 {
			tr.log.Warnf("iteration %d: skipped %d sequences with zero likelihood", it.Iteration, it.Skipped)
		}
		var gain float64
		if i > 0 {
			prev := report.LogLikelihoods[i-1]
			gain = it.LogLikelihood - prev
			if it.LogLikelihood < prev-decreaseSlack {
				report.Decreases++
				tr.log.Warnf("iteration %d: log-likelihood decreased by %g", it.Iteration, -gain)
			}
		}
		report.LogLikelihoods = append(report.LogLikelihoods, it.LogLikelihood)
		report.Iterations = it.Iteration
		cur = next

		tr.log.Infof("iteration %d: log-likelihood %.6f (%s)", it.Iteration, it.LogLikelihood, it.Elapsed)
		tr.log.Debugf("model after iteration %d:\n%s", it.Iteration, cur)
		tr.publish(common.LocalTrainMsg_Iteration, it)

		if tr.cfg.Tolerance > 0 && i > 0 && math.Abs(gain) < tr.cfg.Tolerance {
			report.Converged = true
			tr.log.Infof("converged at iteration %d", it.Iteration)
			break
		}
	}

	tr.publish(common.LocalTrainMsg_Done, report)
	return cur, report, nil
}

func (tr *Trainer) publish(t common.LocalMsgType, payload interface{}) {
	if tr.bus == nil {
		return
	}
	tr.bus.Publish(tr.cfg.RunID, t, payload)
}
