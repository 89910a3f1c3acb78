package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// ErrNoAddr is returned by Dial without an address.
var ErrNoAddr = errors.New("remote address is required")

// ClientConfig holds gRPC client configuration.
type ClientConfig struct {
	// Addr is the server address (host:port).
	Addr string

	// Timeout bounds each call when the caller's context has no deadline.
	Timeout time.Duration

	// MaxMessageSize is the maximum message size in bytes.
	MaxMessageSize int

	// Keepalive configuration.
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration

	// Dialer overrides the network dialer.
	Dialer func(ctx context.Context, addr string) (net.Conn, error)
}

// DefaultClientConfig returns a client configuration for addr.
func DefaultClientConfig(addr string) ClientConfig {
	return ClientConfig{
		Addr:             addr,
		Timeout:          time.Minute,
		MaxMessageSize:   DefaultMaxMessageSize,
		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
	}
}

// Client calls a remote bytevm.v1.Executor.
type Client struct {
	config ClientConfig
	conn   *grpc.ClientConn
}

// Dial connects to a remote executor. The connection is established lazily
// on the first call.
func Dial(config ClientConfig) (*Client, error) {
	if config.Addr == "" {
		return nil, ErrNoAddr
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                config.KeepaliveTime,
			Timeout:             config.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(CodecName),
			grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
			grpc.MaxCallSendMsgSize(config.MaxMessageSize),
		),
	}
	if config.Dialer != nil {
		opts = append(opts, grpc.WithContextDialer(config.Dialer))
	}

	//nolint:staticcheck // Dial keeps passthrough resolution for custom dialers
	conn, err := grpc.Dial(config.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gRPC: %w", err)
	}

	return &Client{config: config, conn: conn}, nil
}

// Execute runs a program on the server. A VM fault is reported in the
// response, not as an error.
func (c *Client) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	resp := new(ExecuteResponse)
	if err := c.conn.Invoke(ctx, executeMethod, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetProgram fetches stored bytecode by name or ID.
func (c *Client) GetProgram(ctx context.Context, ref string) (*GetProgramResponse, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	resp := new(GetProgramResponse)
	if err := c.conn.Invoke(ctx, getProgramMethod, &GetProgramRequest{Ref: ref}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.config.Timeout)
}
