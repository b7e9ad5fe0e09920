package scoring

import (
	"context"
	"net"
	"testing"
	"time"

	"dsphmm/common"
	"dsphmm/core/ml"
	"dsphmm/core/msgbus"
	"dsphmm/test/mock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func peakedModel(label string, peak int) *ml.Model {
	m := ml.NewModel(label, 1, 3)
	for k := range m.Emission {
		m.Emission[k][0] = 0.1
	}
	m.Emission[peak][0] = 0.8
	return m
}

func testModels() []*ml.Model {
	return []*ml.Model{peakedModel("a", 0), peakedModel("b", 1), peakedModel("c", 2)}
}

type fixture struct {
	client *Client
	conn   *grpc.ClientConn
	bus    msgbus.MessageBus
	rec    *mock.Recorder
	log    *mock.MockLog
}

func startService(t *testing.T) *fixture {
	t.Helper()
	alphabet, err := ml.NewAlphabet("ABC")
	require.NoError(t, err)

	f := &fixture{bus: msgbus.NewMessageBus(), rec: &mock.Recorder{}, log: mock.GetMockLogger(common.MODULE_SERVER)}
	f.bus.Register(common.LocalClassifyMsg, f.rec)
	svc, err := NewService(testModels(), alphabet, ml.ScoreForward, f.log, f.bus)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	server, err := common.NewGRPCServerFromListener(lis, &common.GRPCServerConfig{
		HealthCheckEnabled: true,
		UnaryInterceptors:  []grpc.UnaryServerInterceptor{common.LoggingUnaryInterceptor(f.log)},
	})
	require.NoError(t, err)
	RegisterClassifierServer(server.Server(), svc)
	go func() {
		_ = server.Start()
	}()
	t.Cleanup(func() {
		server.Stop(time.Second)
	})

	cc := common.GRPCClientConfig{
		ExtraDialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	}
	f.conn, err = cc.Dial("passthrough:///bufnet")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = f.conn.Close()
	})
	f.client = NewClient(f.conn)
	return f
}

func TestClassifyOverGRPC(t *testing.T) {
	f := startService(t)
	ctx := context.Background()

	resp, err := f.client.Classify(ctx, &ClassifyRequest{Sequence: "CCBC"})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Index)
	assert.Equal(t, "c", resp.Label)
	assert.Equal(t, "forward", resp.Method)
	require.NotNil(t, resp.LogProb)
	assert.InDelta(t, 0.8*0.8*0.1*0.8, resp.Prob, 1e-12)
	assert.NotEmpty(t, resp.RequestID)

	resp, err = f.client.Classify(ctx, &ClassifyRequest{Sequence: "BBA", Method: "viterbi"})
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Label)
	assert.Equal(t, "viterbi", resp.Method)

	f.bus.Reset()
	msgs := f.rec.Messages()
	require.Len(t, msgs, 2)
	ev, ok := msgs[0].Msg.(*ml.ClassifyEvent)
	require.True(t, ok)
	assert.Equal(t, "c", ev.Result.Label)
	assert.Equal(t, ml.ScoreViterbi, msgs[1].Msg.(*ml.ClassifyEvent).Method)
}

func TestClassifyRejectsBadInput(t *testing.T) {
	f := startService(t)
	ctx := context.Background()

	_, err := f.client.Classify(ctx, &ClassifyRequest{Sequence: "xyz"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = f.client.Classify(ctx, &ClassifyRequest{Sequence: "ABC", Method: "posterior"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, 2, f.log.Count("WARN"))
}

func TestDecodeOverGRPC(t *testing.T) {
	f := startService(t)
	ctx := context.Background()

	resp, err := f.client.Decode(ctx, &DecodeRequest{Model: "a", Sequence: "ABCA"})
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Label)
	assert.Equal(t, "ABCA", resp.Symbols)
	assert.Equal(t, []int{0, 0, 0, 0}, resp.States)
	require.NotNil(t, resp.LogProb)

	resp, err = f.client.Decode(ctx, &DecodeRequest{Model: "a", Sequence: "BBxB"})
	require.NoError(t, err)
	assert.Equal(t, "BB", resp.Symbols)
	assert.Len(t, resp.States, 2)

	resp, err = f.client.Decode(ctx, &DecodeRequest{Sequence: "BBB"})
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Label)

	_, err = f.client.Decode(ctx, &DecodeRequest{Model: "zzz", Sequence: "A"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestModelsAndHealth(t *testing.T) {
	f := startService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := f.client.Models(ctx, &ModelsRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, resp.Labels)

	health, err := healthpb.NewHealthClient(f.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, health.Status)
}

func TestImpossibleSequenceHasNullLogProb(t *testing.T) {
	alphabet, err := ml.NewAlphabet("AB")
	require.NoError(t, err)
	m := ml.NewModel("only-a", 1, 2)
	m.Emission = [][]float64{{1}, {0}}

	svc, err := NewService([]*ml.Model{m}, alphabet, ml.ScoreForward, mock.GetMockLogger("test"), nil)
	require.NoError(t, err)
	resp, err := svc.Classify(context.Background(), &ClassifyRequest{Sequence: "AB"})
	require.NoError(t, err)
	assert.Nil(t, resp.LogProb)
	assert.Equal(t, 0.0, resp.Prob)
}

func TestNewServiceValidation(t *testing.T) {
	log := mock.GetMockLogger("test")
	_, err := NewService(nil, ml.DefaultAlphabet(), ml.ScoreForward, log, nil)
	assert.ErrorIs(t, err, ml.ErrNoModels)

	_, err = NewService(testModels(), ml.DefaultAlphabet(), ml.ScoreForward, log, nil)
	assert.ErrorIs(t, err, ml.ErrDimensionMismatch)

	abc, err := ml.NewAlphabet("ABC")
	require.NoError(t, err)
	_, err = NewService([]*ml.Model{peakedModel("a", 0), peakedModel("a", 1)}, abc, ml.ScoreForward, log, nil)
	assert.Error(t, err)

	_, err = NewService(testModels(), abc, ml.ScoreMethod("posterior"), log, nil)
	assert.Error(t, err)
}
