package common

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

const (
	GRPCDefaultMaxRecvMsgSize = 16 * 1024 * 1024
	GRPCDefaultMaxSendMsgSize = 16 * 1024 * 1024
)

var (
	// Default keepalive options
	DefaultKeepaliveOptions = KeepaliveOptions{
		ClientInterval:    time.Duration(1) * time.Minute,  // 1 min
		ClientTimeout:     time.Duration(20) * time.Second, // 20 sec - gRPC default
		ServerInterval:    time.Duration(2) * time.Hour,    // 2 hours - gRPC default
		ServerTimeout:     time.Duration(20) * time.Second, // 20 sec - gRPC default
		ServerMinInterval: time.Duration(1) * time.Minute,  // match ClientInterval
	}
	// default connection timeout
	DefaultConnectionTimeout = 5 * time.Second
)

// SecureOptions defines the TLS parameters of a server or client. Paths point to
// PEM files.
type SecureOptions struct {
	UseTLS   bool
	CertFile string
	KeyFile  string
	// RootCAFile verifies the server on the client side.
	RootCAFile string
	// ServerNameOverride is checked against the server certificate.
	ServerNameOverride string
}

func (so SecureOptions) serverTLSConfig() (*tls.Config, error) {
	if so.CertFile == "" || so.KeyFile == "" {
		return nil, errors.New("both cert and key files are required when TLS is enabled")
	}
	cert, err := tls.LoadX509KeyPair(so.CertFile, so.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "load server key pair")
	}
	return &tls.Config{
		Certificates:           []tls.Certificate{cert},
		MinVersion:             tls.VersionTLS12,
		SessionTicketsDisabled: true,
	}, nil
}

func (so SecureOptions) clientTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: so.ServerNameOverride,
	}
	if so.RootCAFile != "" {
		pem, err := os.ReadFile(so.RootCAFile)
		if err != nil {
			return nil, errors.Wrap(err, "read root CA")
		}
		tlsConfig.RootCAs = x509.NewCertPool()
		if !tlsConfig.RootCAs.AppendCertsFromPEM(pem) {
			return nil, errors.New("error adding root certificate")
		}
	}
	return tlsConfig, nil
}

// KeepaliveOptions is used to set the gRPC keepalive settings for both
// clients and servers
type KeepaliveOptions struct {
	// ClientInterval is the duration after which if the client does not see
	// any activity from the server it pings the server to see if it is alive
	ClientInterval time.Duration
	// ClientTimeout is the duration the client waits for a response
	// from the server after sending a ping before closing the connection
	ClientTimeout time.Duration
	// ServerInterval is the duration after which if the server does not see
	// any activity from the client it pings the client to see if it is alive
	ServerInterval time.Duration
	// ServerTimeout is the duration the server waits for a response
	// from the client after sending a ping before closing the connection
	ServerTimeout time.Duration
	// ServerMinInterval is the minimum permitted time between client pings.
	// If clients send pings more frequently, the server will disconnect them
	ServerMinInterval time.Duration
}

// ServerKeepaliveOptions returns gRPC keepalive options for a server.
func (ka KeepaliveOptions) ServerKeepaliveOptions() []grpc.ServerOption {
	var serverOpts []grpc.ServerOption
	kap := keepalive.ServerParameters{
		Time:    ka.ServerInterval,
		Timeout: ka.ServerTimeout,
	}
	serverOpts = append(serverOpts, grpc.KeepaliveParams(kap))
	kep := keepalive.EnforcementPolicy{
		MinTime: ka.ServerMinInterval,
		// allow keepalive w/o rpc
		PermitWithoutStream: true,
	}
	serverOpts = append(serverOpts, grpc.KeepaliveEnforcementPolicy(kep))
	return serverOpts
}

// ClientKeepaliveOptions returns gRPC keepalive dial options for clients.
func (ka KeepaliveOptions) ClientKeepaliveOptions() []grpc.DialOption {
	var dialOpts []grpc.DialOption
	kap := keepalive.ClientParameters{
		Time:                ka.ClientInterval,
		Timeout:             ka.ClientTimeout,
		PermitWithoutStream: true,
	}
	dialOpts = append(dialOpts, grpc.WithKeepaliveParams(kap))
	return dialOpts
}

type GRPCServerConfig struct {
	// ConnectionTimeout specifies the timeout for connection establishment
	// for all new connections
	ConnectionTimeout time.Duration
	// SecOpts defines the security parameters
	SecOpts SecureOptions
	// KaOpts defines the keepalive parameters
	KaOpts KeepaliveOptions
	// UnaryInterceptors are applied to unary RPCs in order.
	UnaryInterceptors []grpc.UnaryServerInterceptor
	// HealthCheckEnabled enables the gRPC Health Checking Protocol for the server
	HealthCheckEnabled bool
	// Maximum message size the server can receive
	MaxRecvMsgSize int
	// Maximum message size the server can send
	MaxSendMsgSize int
}

// GRPCClientConfig defines the parameters for dialing a scoring server.
type GRPCClientConfig struct {
	SecOpts SecureOptions
	KaOpts  KeepaliveOptions
	// Maximum message size the client can receive
	MaxRecvMsgSize int
	// Maximum message size the client can send
	MaxSendMsgSize int
	// ExtraDialOptions are appended last, e.g. a custom dialer in tests.
	ExtraDialOptions []grpc.DialOption
}

// DialOptions converts the GRPCClientConfig to the appropriate set of grpc.DialOptions.
func (cc GRPCClientConfig) DialOptions() ([]grpc.DialOption, error) {
	var dialOpts []grpc.DialOption
	if cc.KaOpts != (KeepaliveOptions{}) {
		dialOpts = append(dialOpts, cc.KaOpts.ClientKeepaliveOptions()...)
	}

	// set send/recv message size to package defaults
	maxRecvMsgSize := GRPCDefaultMaxRecvMsgSize
	if cc.MaxRecvMsgSize != 0 {
		maxRecvMsgSize = cc.MaxRecvMsgSize
	}
	maxSendMsgSize := GRPCDefaultMaxSendMsgSize
	if cc.MaxSendMsgSize != 0 {
		maxSendMsgSize = cc.MaxSendMsgSize
	}
	dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(
		grpc.MaxCallRecvMsgSize(maxRecvMsgSize),
		grpc.MaxCallSendMsgSize(maxSendMsgSize),
	))

	if cc.SecOpts.UseTLS {
		tlsConfig, err := cc.SecOpts.clientTLSConfig()
		if err != nil {
			return nil, err
		}
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	return append(dialOpts, cc.ExtraDialOptions...), nil
}

// Dial creates a client connection to address. The connection is established lazily.
func (cc GRPCClientConfig) Dial(address string) (*grpc.ClientConn, error) {
	dialOpts, err := cc.DialOptions()
	if err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient(address, dialOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create new connection")
	}
	return conn, nil
}

type GRPCServer struct {
	// Listen address for the server specified as hostname:port
	address string
	// Listener for handling network requests
	listener net.Listener
	// GRPC server
	server *grpc.Server
	// TLS enabled
	tls bool
	// Server for gRPC Health Check Protocol.
	healthServer *health.Server
}

func NewGRPCServer(address string, serverConfig *GRPCServerConfig) (*GRPCServer, error) {
	if address == "" {
		return nil, errors.New("missing address parameter")
	}
	// create our listener
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", address)
	}
	return NewGRPCServerFromListener(lis, serverConfig)
}

// NewGRPCServerFromListener creates a new implementation of a GRPCServer given
// an existing net.Listener instance
func NewGRPCServerFromListener(listener net.Listener, serverConfig *GRPCServerConfig) (*GRPCServer, error) {
	grpcServer := &GRPCServer{
		address:  listener.Addr().String(),
		listener: listener,
	}

	// set up our server options
	var serverOpts []grpc.ServerOption

	if serverConfig.SecOpts.UseTLS {
		tlsConfig, err := serverConfig.SecOpts.serverTLSConfig()
		if err != nil {
			return nil, err
		}
		grpcServer.tls = true
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	// set max send and recv msg sizes
	maxSendMsgSize := GRPCDefaultMaxSendMsgSize
	if serverConfig.MaxSendMsgSize != 0 {
		maxSendMsgSize = serverConfig.MaxSendMsgSize
	}
	maxRecvMsgSize := GRPCDefaultMaxRecvMsgSize
	if serverConfig.MaxRecvMsgSize != 0 {
		maxRecvMsgSize = serverConfig.MaxRecvMsgSize
	}
	serverOpts = append(serverOpts, grpc.MaxSendMsgSize(maxSendMsgSize))
	serverOpts = append(serverOpts, grpc.MaxRecvMsgSize(maxRecvMsgSize))
	// set the keepalive options
	kaOpts := serverConfig.KaOpts
	if kaOpts == (KeepaliveOptions{}) {
		kaOpts = DefaultKeepaliveOptions
	}
	serverOpts = append(serverOpts, kaOpts.ServerKeepaliveOptions()...)
	// set connection timeout
	connectionTimeout := serverConfig.ConnectionTimeout
	if connectionTimeout <= 0 {
		connectionTimeout = DefaultConnectionTimeout
	}
	serverOpts = append(serverOpts, grpc.ConnectionTimeout(connectionTimeout))
	if len(serverConfig.UnaryInterceptors) > 0 {
		serverOpts = append(serverOpts, grpc.ChainUnaryInterceptor(serverConfig.UnaryInterceptors...))
	}

	grpcServer.server = grpc.NewServer(serverOpts...)

	if serverConfig.HealthCheckEnabled {
		grpcServer.healthServer = health.NewServer()
		healthpb.RegisterHealthServer(grpcServer.server, grpcServer.healthServer)
	}

	return grpcServer, nil
}

// Address returns the listen address for this GRPCServer instance
func (gServer *GRPCServer) Address() string {
	return gServer.address
}

// Server returns the grpc.Server for the GRPCServer instance
func (gServer *GRPCServer) Server() *grpc.Server {
	return gServer.server
}

// TLSEnabled is a flag indicating whether or not TLS is enabled for the
// GRPCServer instance
func (gServer *GRPCServer) TLSEnabled() bool {
	return gServer.tls
}

// Start marks every registered service as serving and blocks in Serve.
func (gServer *GRPCServer) Start() error {
	// if health check is enabled, set the health status for all registered services
	if gServer.healthServer != nil {
		for name := range gServer.server.GetServiceInfo() {
			gServer.healthServer.SetServingStatus(
				name,
				healthpb.HealthCheckResponse_SERVING,
			)
		}

		gServer.healthServer.SetServingStatus(
			"",
			healthpb.HealthCheckResponse_SERVING,
		)
	}
	return gServer.server.Serve(gServer.listener)
}

// Stop flips the health status and stops the underlying grpc.Server, waiting up to
// timeout for pending RPCs.
func (gServer *GRPCServer) Stop(timeout time.Duration) {
	if gServer.healthServer != nil {
		gServer.healthServer.Shutdown()
	}
	done := make(chan struct{})
	go func() {
		gServer.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		gServer.server.Stop()
	}
}

// LoggingUnaryInterceptor logs every unary call with its duration and outcome.
func LoggingUnaryInterceptor(log Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			log.Warnf("%s failed in %s: %s", info.FullMethod, time.Since(start), err)
		} else {
			log.Debugf("%s served in %s", info.FullMethod, time.Since(start))
		}
		return resp, err
	}
}
