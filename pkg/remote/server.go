package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fortiblox/bytevm/pkg/executor"
	"github.com/fortiblox/bytevm/pkg/program"
	"github.com/fortiblox/bytevm/pkg/programstore"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// Default configuration values.
const (
	// DefaultMaxMessageSize fits a program at MaxCodeSize and a full output
	// buffer with room to spare.
	DefaultMaxMessageSize = 4 * 1024 * 1024

	// DefaultKeepaliveTime is the default interval for keepalive pings.
	DefaultKeepaliveTime = 30 * time.Second

	// DefaultKeepaliveTimeout is the default timeout for keepalive responses.
	DefaultKeepaliveTimeout = 10 * time.Second
)

// ErrAlreadyRunning is returned by Serve on a running server.
var ErrAlreadyRunning = errors.New("grpc server already running")

// Config holds gRPC server configuration.
type Config struct {
	// Addr is the listen address (host:port).
	Addr string

	// MaxMessageSize is the maximum message size in bytes.
	MaxMessageSize int

	// Keepalive configuration.
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration

	// LogRequests enables request logging.
	LogRequests bool
}

// DefaultConfig returns a default gRPC server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:             "127.0.0.1:8900",
		MaxMessageSize:   DefaultMaxMessageSize,
		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
	}
}

// Server serves bytevm.v1.Executor.
type Server struct {
	config Config
	exec   *executor.Executor
	grpc   *grpc.Server

	mu       sync.Mutex
	running  bool
	listener net.Listener
}

// NewServer creates a gRPC server backed by exec.
func NewServer(config Config, exec *executor.Executor) *Server {
	s := &Server{
		config: config,
		exec:   exec,
	}

	s.grpc = grpc.NewServer(
		grpc.MaxRecvMsgSize(config.MaxMessageSize),
		grpc.MaxSendMsgSize(config.MaxMessageSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    config.KeepaliveTime,
			Timeout: config.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.UnaryInterceptor(s.logInterceptor),
	)
	s.grpc.RegisterService(&serviceDesc, s)

	return s
}

// Start listens on the configured address and serves until ctx is done or
// Stop is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		ln.Close()
		return ErrAlreadyRunning
	}
	s.running = true
	s.listener = ln
	s.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.grpc.GracefulStop()
		case <-done:
		}
	}()

	log.WithField("addr", ln.Addr().String()).Info("gRPC server listening")
	return s.grpc.Serve(ln)
}

// Addr returns the bound address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.mu.Lock()
	running := s.running
	s.running = false
	s.mu.Unlock()

	if running {
		s.grpc.GracefulStop()
	}
}

// Execute implements ExecutorServer.
func (s *Server) Execute(ctx context.Context, in *ExecuteRequest) (*ExecuteResponse, error) {
	res, err := s.exec.Execute(ctx, executor.Request{
		Ref:           in.Program,
		Code:          in.Code,
		StackCapacity: in.StackCapacity,
		MaxSteps:      in.MaxSteps,
		Record:        in.Record,
	})
	if err != nil {
		return nil, toStatus(err)
	}

	return &ExecuteResponse{
		ProgramID: res.ProgramID.String(),
		Status:    string(res.Status),
		Output:    res.Output,
		Fault:     faultFrom(res.Fault),
		Steps:     res.Steps,
		Stack:     res.Stack,
		Duration:  res.Duration.Nanoseconds(),
		Seq:       res.Seq,
	}, nil
}

// GetProgram implements ExecutorServer.
func (s *Server) GetProgram(ctx context.Context, in *GetProgramRequest) (*GetProgramResponse, error) {
	store := s.exec.Store()
	if store == nil {
		return nil, toStatus(executor.ErrNoStore)
	}
	p, err := store.Resolve(in.Ref)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetProgramResponse{
		ProgramID: p.ID().String(),
		Code:      p.Code,
	}, nil
}

func (s *Server) logInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if s.config.LogRequests {
		log.WithFields(log.Fields{
			"method":  info.FullMethod,
			"code":    status.Code(err),
			"elapsed": time.Since(start),
		}).Debug("grpc request")
	}
	return resp, err
}

// toStatus maps executor and store errors to gRPC status errors.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, programstore.ErrProgramNotFound):
		code = codes.NotFound
	case errors.Is(err, executor.ErrNoProgram),
		errors.Is(err, executor.ErrAmbiguousProgram),
		errors.Is(err, executor.ErrStackCapacity),
		errors.Is(err, executor.ErrStepLimit),
		errors.Is(err, program.ErrTooLarge),
		errors.Is(err, program.ErrEmpty):
		code = codes.InvalidArgument
	case errors.Is(err, executor.ErrNoStore):
		code = codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
