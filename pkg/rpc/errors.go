package rpc

import (
	"fmt"
)

// JSON-RPC 2.0 standard error codes.
const (
	// ParseError indicates invalid JSON was received.
	ParseError = -32700

	// InvalidRequest indicates the JSON sent is not a valid Request object.
	InvalidRequest = -32600

	// MethodNotFound indicates the method does not exist.
	MethodNotFound = -32601

	// InvalidParams indicates invalid method parameters.
	InvalidParams = -32602

	// InternalError indicates an internal JSON-RPC error.
	InternalError = -32603
)

// bytevm error codes.
const (
	// ProgramNotFound indicates no stored program matches a name or ID.
	ProgramNotFound = -32001

	// RunNotFound indicates the journal has no record for a sequence number.
	RunNotFound = -32002

	// AssemblyFailed indicates assembler source was rejected.
	AssemblyFailed = -32003

	// ServiceUnavailable indicates the store or journal is not configured.
	ServiceUnavailable = -32004

	// NodeUnhealthy indicates the node is unhealthy.
	NodeUnhealthy = -32005

	// RequestCancelled indicates the client went away mid-run.
	RequestCancelled = -32006
)

// Common error messages.
var (
	ErrParseError     = NewRPCError(ParseError, "Parse error")
	ErrInvalidRequest = NewRPCError(InvalidRequest, "Invalid Request")
	ErrMethodNotFound = NewRPCError(MethodNotFound, "Method not found")
	ErrInvalidParams  = NewRPCError(InvalidParams, "Invalid params")
	ErrInternalError  = NewRPCError(InternalError, "Internal error")
	ErrNodeUnhealthy  = NewRPCError(NodeUnhealthy, "Node is unhealthy")
	ErrNoStore        = NewRPCError(ServiceUnavailable, "Program store not configured")
	ErrNoJournal      = NewRPCError(ServiceUnavailable, "Run journal not configured")
)

// NewRPCError creates a new RPC error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
	}
}

// NewRPCErrorWithData creates a new RPC error with additional data.
func NewRPCErrorWithData(code int, message string, data interface{}) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// InvalidParamsError creates an invalid params error with a custom message.
func InvalidParamsError(msg string) *RPCError {
	return NewRPCError(InvalidParams, msg)
}

// InvalidParamsErrorf creates an invalid params error with a formatted message.
func InvalidParamsErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InvalidParams, fmt.Sprintf(format, args...))
}

// InternalServerErrorf creates an internal server error with a formatted message.
func InternalServerErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InternalError, fmt.Sprintf(format, args...))
}

// ProgramNotFoundError creates an error for an unknown program reference.
func ProgramNotFoundError(ref string) *RPCError {
	return NewRPCErrorWithData(ProgramNotFound,
		fmt.Sprintf("Program not found: %s", ref),
		map[string]string{"program": ref})
}

// RunNotFoundError creates an error for an unknown run.
func RunNotFoundError(seq uint64) *RPCError {
	return NewRPCErrorWithData(RunNotFound,
		fmt.Sprintf("Run %d not found", seq),
		map[string]uint64{"seq": seq})
}

// AssemblyError creates an error for rejected source.
func AssemblyError(line int, msg string) *RPCError {
	return NewRPCErrorWithData(AssemblyFailed, msg, map[string]int{"line": line})
}
