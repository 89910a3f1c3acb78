// Package remote exposes the executor over gRPC.
//
// The service is described by hand rather than generated from proto files.
// Messages are plain Go structs carried by a JSON codec registered under the
// "json" content subtype, so clients must call with
// grpc.CallContentSubtype(CodecName).
package remote

import (
	"context"
	"encoding/json"

	"github.com/fortiblox/bytevm/pkg/vm"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype used by the service.
const CodecName = "json"

// Full method names.
const (
	ServiceName      = "bytevm.v1.Executor"
	executeMethod    = "/" + ServiceName + "/Execute"
	getProgramMethod = "/" + ServiceName + "/GetProgram"
)

// jsonCodec implements encoding.Codec with encoding/json.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ExecuteRequest asks the server to run a program. Exactly one of Program
// and Code must be set.
type ExecuteRequest struct {
	Program       string `json:"program,omitempty"`
	Code          []byte `json:"code,omitempty"`
	StackCapacity int    `json:"stackCapacity,omitempty"`
	MaxSteps      uint64 `json:"maxSteps,omitempty"`
	Record        bool   `json:"record,omitempty"`
}

// Fault describes a VM fault on the wire.
type Fault struct {
	Kind    string `json:"kind"`
	IP      int    `json:"ip"`
	Message string `json:"message"`
	Opcode  string `json:"opcode,omitempty"`
	Byte    byte   `json:"byte,omitempty"`
	Target  int32  `json:"target,omitempty"`
}

// VMFault rebuilds the *vm.Fault. The underlying cause of an OutputFailed
// fault does not survive the trip and is reported through Message only.
func (f *Fault) VMFault() *vm.Fault {
	if f == nil {
		return nil
	}
	kind, _ := vm.ParseFaultKind(f.Kind)
	out := &vm.Fault{
		Kind:   kind,
		IP:     f.IP,
		Byte:   f.Byte,
		Target: f.Target,
	}
	if op, ok := vm.Lookup(f.Opcode); ok {
		out.Op = op
	}
	return out
}

func faultFrom(f *vm.Fault) *Fault {
	if f == nil {
		return nil
	}
	out := &Fault{
		Kind:    f.Kind.String(),
		IP:      f.IP,
		Message: f.Error(),
		Byte:    f.Byte,
		Target:  f.Target,
	}
	if f.Op.Valid() {
		out.Opcode = f.Op.String()
	}
	return out
}

// ExecuteResponse is the outcome of a remote run.
type ExecuteResponse struct {
	ProgramID string  `json:"programId"`
	Status    string  `json:"status"`
	Output    []byte  `json:"output,omitempty"`
	Fault     *Fault  `json:"fault,omitempty"`
	Steps     uint64  `json:"steps"`
	Stack     []int32 `json:"stack,omitempty"`
	Duration  int64   `json:"durationNs"`
	Seq       uint64  `json:"seq,omitempty"`
}

// GetProgramRequest names a stored program by name or base58 ID.
type GetProgramRequest struct {
	Ref string `json:"ref"`
}

// GetProgramResponse carries stored bytecode.
type GetProgramResponse struct {
	ProgramID string `json:"programId"`
	Code      []byte `json:"code"`
}

// ExecutorServer is the server API of the service.
type ExecutorServer interface {
	Execute(context.Context, *ExecuteRequest) (*ExecuteResponse, error)
	GetProgram(context.Context, *GetProgramRequest) (*GetProgramResponse, error)
}

func executeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ExecuteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExecutorServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ExecutorServer).Execute(ctx, req.(*ExecuteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getProgramHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetProgramRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExecutorServer).GetProgram(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getProgramMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ExecutorServer).GetProgram(ctx, req.(*GetProgramRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// serviceDesc describes bytevm.v1.Executor.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExecutorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
		{MethodName: "GetProgram", Handler: getProgramHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bytevm/v1/executor",
}
