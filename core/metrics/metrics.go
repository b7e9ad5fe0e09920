package metrics

import (
	"net/http"

	"dsphmm/common"
	"dsphmm/core/ml"
	"dsphmm/core/msgbus"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dsphmm"

// Metrics collects training and classification statistics from the message bus.
type Metrics struct {
	registry *prometheus.Registry

	trainIterations   prometheus.Counter
	trainLikelihood   prometheus.Gauge
	trainSkipped      prometheus.Counter
	iterationDuration prometheus.Histogram
	trainRuns         *prometheus.CounterVec

	classifyTotal    *prometheus.CounterVec
	classifyDuration *prometheus.HistogramVec
}

// New registers the collectors on reg, or on a fresh registry when reg is nil.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		trainIterations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "train_iterations_total",
			Help:      "Total EM iterations run",
		}),
		trainLikelihood: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "train_log_likelihood",
			Help:      "Batch log-likelihood of the latest EM iteration",
		}),
		trainSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "train_skipped_sequences_total",
			Help:      "Sequences skipped because of zero likelihood, summed over iterations",
		}),
		iterationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "train_iteration_duration_seconds",
			Help:      "Duration of one EM iteration",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~30s
		}),
		trainRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "train_runs_total",
			Help:      "Finished training runs by outcome",
		}, []string{"converged"}),
		classifyTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classify_total",
			Help:      "Classified sequences by method and winning model",
		}, []string{"method", "label"}),
		classifyDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classify_duration_seconds",
			Help:      "Time to score one sequence against every model",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 16), // 10us to ~300ms
		}, []string{"method"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteToTextfile dumps the registry for the node exporter textfile collector.
func (m *Metrics) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrapf(err, "write metrics to %s", path)
	}
	return nil
}

// Subscribe registers m for training and classification events on bus.
func (m *Metrics) Subscribe(bus msgbus.MessageBus) {
	bus.Register(common.LocalTrainMsg, m)
	bus.Register(common.LocalClassifyMsg, m)
}

func (m *Metrics) HandleMsgFromMsgBus(msg *msgbus.BusMessage) error {
	switch payload := msg.Msg.(type) {
	case *ml.IterationReport:
		m.trainIterations.Inc()
		m.trainLikelihood.Set(payload.LogLikelihood)
		m.trainSkipped.Add(float64(payload.Skipped))
		m.iterationDuration.Observe(payload.Elapsed.Seconds())
	case *ml.FitReport:
		converged := "false"
		if payload.Converged {
			converged = "true"
		}
		m.trainRuns.WithLabelValues(converged).Inc()
	case *ml.ClassifyEvent:
		method := string(payload.Method)
		m.classifyTotal.WithLabelValues(method, payload.Result.Label).Inc()
		m.classifyDuration.WithLabelValues(method).Observe(payload.Elapsed.Seconds())
	default:
		return errors.Errorf("unexpected %s payload %T", msg.MsgType, msg.Msg)
	}
	return nil
}
