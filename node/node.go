package node

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"dsphmm/common"
	"dsphmm/core/config"
	"dsphmm/core/metrics"
	"dsphmm/core/ml"
	"dsphmm/core/msgbus"
	"dsphmm/core/scoring"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const shutdownTimeout = 5 * time.Second

// HMMNode serves a fixed set of models: the scoring service over gRPC and
// metrics, health and model listing over HTTP.
type HMMNode struct {
	conf    *config.LocalConfig
	log     *common.HMMLogger
	models  []*ml.Model
	service *scoring.Service
	metrics *metrics.Metrics
	server  *common.GRPCServer
	msgBus  msgbus.MessageBus

	httpServer   *http.Server
	httpListener net.Listener

	stopOnce sync.Once
}

func (n *HMMNode) Init(c *config.LocalConfig, modelList string) error {
	n.conf = c

	if err := common.SetLogConfig(c.LogConfig()); err != nil {
		return errors.WithMessage(err, "set log config")
	}
	n.log = common.GetLogger(common.MODULE_SERVER)

	// the bus must exist before any module publishes on it
	n.msgBus = msgbus.InitMessageBus()
	n.metrics = metrics.New(nil)
	n.metrics.Subscribe(n.msgBus)

	models, err := ml.LoadModelList(modelList)
	if err != nil {
		return err
	}
	n.models = models
	method, err := ml.ParseScoreMethod(c.Classify.Method)
	if err != nil {
		return err
	}
	n.service, err = scoring.NewService(models, c.ObservationAlphabet(), method, n.log, n.msgBus)
	if err != nil {
		return errors.WithMessage(err, "scoring service")
	}

	serverConfig := c.ServerConfig()
	serverConfig.UnaryInterceptors = append(serverConfig.UnaryInterceptors, common.LoggingUnaryInterceptor(n.log))
	n.server, err = common.NewGRPCServer(c.Server.ListenAddr, serverConfig)
	if err != nil {
		return errors.WithMessage(err, "grpc server")
	}
	scoring.RegisterClassifierServer(n.server.Server(), n.service)

	n.httpListener, err = net.Listen("tcp", c.Server.MetricsAddr)
	if err != nil {
		n.server.Stop(0)
		return errors.Wrapf(err, "listen on %s", c.Server.MetricsAddr)
	}
	n.httpServer = &http.Server{
		Handler:           n.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	n.log.Infof("loaded %d models from %s, method %s", len(models), modelList, method)
	return nil
}

func (n *HMMNode) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/models", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(scoring.ModelsResponse{Labels: n.service.Labels()})
	})
	r.Method(http.MethodGet, "/metrics", n.metrics.Handler())
	return r
}

// GRPCAddr returns the address the scoring service listens on.
func (n *HMMNode) GRPCAddr() string {
	return n.server.Address()
}

// HTTPAddr returns the address of the metrics endpoint.
func (n *HMMNode) HTTPAddr() string {
	return n.httpListener.Addr().String()
}

// Start serves until ctx is done or one of the servers fails.
func (n *HMMNode) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n.log.Infof("GRPC Server listen on %s, tls %t", n.GRPCAddr(), n.server.TLSEnabled())
		if err := n.server.Start(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return errors.WithMessage(err, "grpc server exited with error")
		}
		return nil
	})
	g.Go(func() error {
		n.log.Infof("HTTP Server listen on %s", n.HTTPAddr())
		if err := n.httpServer.Serve(n.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server exited with error")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		n.Stop()
		return nil
	})
	return g.Wait()
}

// Stop shuts both servers down and drains the message bus. It is safe to call
// more than once.
func (n *HMMNode) Stop() {
	n.stopOnce.Do(func() {
		n.server.Stop(shutdownTimeout)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := n.httpServer.Shutdown(ctx); err != nil {
			n.log.Warnf("http shutdown: %s", err)
		}
		n.msgBus.UnRegister(common.LocalTrainMsg, n.metrics)
		n.msgBus.UnRegister(common.LocalClassifyMsg, n.metrics)
		n.log.Info("node stopped")
	})
}
