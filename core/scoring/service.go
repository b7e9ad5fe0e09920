package scoring

import (
	"context"
	"math"
	"time"

	"dsphmm/common"
	"dsphmm/core/ml"
	"dsphmm/core/msgbus"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "dsphmm.Classifier"

type ClassifyRequest struct {
	Sequence string `json:"sequence"`
	// Method is "forward" or "viterbi"; empty uses the server default.
	Method string `json:"method,omitempty"`
}

// ClassifyResponse carries the winning model. LogProb is null when the sequence is
// impossible under every model.
type ClassifyResponse struct {
	RequestID string   `json:"request_id"`
	Index     int      `json:"index"`
	Label     string   `json:"label"`
	Method    string   `json:"method"`
	LogProb   *float64 `json:"log_prob"`
	Prob      float64  `json:"prob"`
}

type DecodeRequest struct {
	// Model is the label of the model to decode with; empty picks the best model.
	Model    string `json:"model,omitempty"`
	Sequence string `json:"sequence"`
}

// DecodeResponse carries the state path. Symbols echoes the observations that
// were decoded, which stop at the first character outside the alphabet.
type DecodeResponse struct {
	RequestID string   `json:"request_id"`
	Label     string   `json:"label"`
	Symbols   string   `json:"symbols"`
	States    []int    `json:"states"`
	LogProb   *float64 `json:"log_prob"`
}

type ModelsRequest struct{}

type ModelsResponse struct {
	Labels []string `json:"labels"`
}

// ClassifierServer is the server API of the scoring service.
type ClassifierServer interface {
	Classify(context.Context, *ClassifyRequest) (*ClassifyResponse, error)
	Decode(context.Context, *DecodeRequest) (*DecodeResponse, error)
	Models(context.Context, *ModelsRequest) (*ModelsResponse, error)
}

// Service scores sequences against a fixed set of models. The models are never
// modified, so requests run concurrently without locking.
type Service struct {
	models        []*ml.Model
	byLabel       map[string]*ml.Model
	classifiers   map[ml.ScoreMethod]*ml.Classifier
	defaultMethod ml.ScoreMethod
	alphabet      *ml.Alphabet
	log           common.Logger
	bus           msgbus.MessageBus
}

// NewService builds the service. bus may be nil.
func NewService(models []*ml.Model, alphabet *ml.Alphabet, method ml.ScoreMethod, log common.Logger, bus msgbus.MessageBus) (*Service, error) {
	s := &Service{
		models:        models,
		byLabel:       make(map[string]*ml.Model, len(models)),
		classifiers:   make(map[ml.ScoreMethod]*ml.Classifier, 2),
		defaultMethod: method,
		alphabet:      alphabet,
		log:           log,
		bus:           bus,
	}
	for _, m := range []ml.ScoreMethod{ml.ScoreForward, ml.ScoreViterbi} {
		c, err := ml.NewClassifier(models, ml.WithMethod(m))
		if err != nil {
			return nil, err
		}
		s.classifiers[m] = c
	}
	if _, ok := s.classifiers[method]; !ok {
		return nil, errors.Errorf("unknown score method %q", method)
	}
	if alphabet.Size() != models[0].SymbolCount() {
		return nil, errors.Wrapf(ml.ErrDimensionMismatch, "alphabet %q has %d symbols, models have %d",
			alphabet, alphabet.Size(), models[0].SymbolCount())
	}
	for _, m := range models {
		if _, dup := s.byLabel[m.Label]; dup {
			return nil, errors.Errorf("duplicated model label %s", m.Label)
		}
		s.byLabel[m.Label] = m
	}
	return s, nil
}

// Labels returns the model labels in classification order.
func (s *Service) Labels() []string {
	labels := make([]string, len(s.models))
	for i, m := range s.models {
		labels[i] = m.Label
	}
	return labels
}

func (s *Service) decodeSequence(text string) (ml.Sequence, error) {
	seq, err := s.alphabet.Decode(text)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad sequence: %s", err)
	}
	return seq, nil
}

func logProbPtr(lp float64) *float64 {
	if math.IsInf(lp, -1) {
		return nil
	}
	return &lp
}

func (s *Service) Classify(ctx context.Context, req *ClassifyRequest) (*ClassifyResponse, error) {
	start := time.Now()
	method := s.defaultMethod
	if req.Method != "" {
		m, err := ml.ParseScoreMethod(req.Method)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		method = m
	}
	seq, err := s.decodeSequence(req.Sequence)
	if err != nil {
		return nil, err
	}

	res, err := s.classifiers[method].Classify(seq)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "classify: %s", err)
	}

	reqID := uuid.NewString()
	if s.bus != nil {
		s.bus.Publish(reqID, common.LocalClassifyMsg_Result, &ml.ClassifyEvent{
			Method:  method,
			Result:  res,
			Elapsed: time.Since(start),
		})
	}
	s.log.Debugf("request %s: %d symbols -> %s (%s %g)", reqID, len(seq), res.Label, method, res.LogProb)
	return &ClassifyResponse{
		RequestID: reqID,
		Index:     res.Index,
		Label:     res.Label,
		Method:    string(method),
		LogProb:   logProbPtr(res.LogProb),
		Prob:      res.Prob(),
	}, nil
}

func (s *Service) Decode(ctx context.Context, req *DecodeRequest) (*DecodeResponse, error) {
	seq, err := s.decodeSequence(req.Sequence)
	if err != nil {
		return nil, err
	}

	var model *ml.Model
	if req.Model == "" {
		res, err := s.classifiers[ml.ScoreViterbi].Classify(seq)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "classify: %s", err)
		}
		model = s.models[res.Index]
	} else {
		var ok bool
		if model, ok = s.byLabel[req.Model]; !ok {
			return nil, status.Errorf(codes.NotFound, "no model labelled %q", req.Model)
		}
	}

	path, err := ml.Viterbi(model, seq)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "viterbi: %s", err)
	}
	symbols, err := s.alphabet.Encode(seq)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %s", err)
	}
	return &DecodeResponse{
		RequestID: uuid.NewString(),
		Label:     model.Label,
		Symbols:   symbols,
		States:    path.States,
		LogProb:   logProbPtr(path.LogProb),
	}, nil
}

func (s *Service) Models(ctx context.Context, req *ModelsRequest) (*ModelsResponse, error) {
	return &ModelsResponse{Labels: s.Labels()}, nil
}

func RegisterClassifierServer(srv *grpc.Server, s ClassifierServer) {
	srv.RegisterService(&classifierServiceDesc, s)
}

var classifierServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClassifierServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Classify", Handler: classifyHandler},
		{MethodName: "Decode", Handler: decodeHandler},
		{MethodName: "Models", Handler: modelsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dsphmm/scoring",
}

func classifyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ClassifyRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifierServer).Classify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Classify"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClassifierServer).Classify(ctx, req.(*ClassifyRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func decodeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DecodeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifierServer).Decode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Decode"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClassifierServer).Decode(ctx, req.(*DecodeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func modelsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ModelsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifierServer).Models(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Models"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClassifierServer).Models(ctx, req.(*ModelsRequest))
	}
	return interceptor(ctx, in, info, handler)
}
