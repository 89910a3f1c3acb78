package rpc

import (
	"encoding/json"
	"time"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Encoding names a binary-to-text encoding for bytecode.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
	EncodingHex        Encoding = "hex"
)

// EncodingConfig is the optional trailing parameter of methods that take or
// return bytecode.
type EncodingConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// ExecuteParams is the parameter object of execute.
type ExecuteParams struct {
	// Program is a stored name or program ID. Mutually exclusive with Code.
	Program string `json:"program,omitempty"`

	// Code is encoded bytecode.
	Code     string   `json:"code,omitempty"`
	Encoding Encoding `json:"encoding,omitempty"`

	StackCapacity int    `json:"stackCapacity,omitempty"`
	MaxSteps      uint64 `json:"maxSteps,omitempty"`
	Record        bool   `json:"record,omitempty"`
}

// FaultInfo describes a VM fault.
type FaultInfo struct {
	Kind    string `json:"kind"`
	IP      int    `json:"ip"`
	Message string `json:"message"`
	Opcode  string `json:"opcode,omitempty"`
	Byte    *int   `json:"byte,omitempty"`
	Target  *int32 `json:"target,omitempty"`
}

// ExecuteResult is the result of execute.
type ExecuteResult struct {
	ProgramID string     `json:"programId"`
	Status    string     `json:"status"`
	Output    string     `json:"output"`
	Text      *string    `json:"text,omitempty"`
	Fault     *FaultInfo `json:"fault,omitempty"`
	Steps     uint64     `json:"steps"`
	Stack     []int32    `json:"stack"`
	Duration  int64      `json:"durationUs"`
	Seq       uint64     `json:"seq,omitempty"`
}

// AssembleResult is the result of assemble.
type AssembleResult struct {
	ProgramID string         `json:"programId"`
	Code      string         `json:"code"`
	Encoding  Encoding       `json:"encoding"`
	Size      int            `json:"size"`
	Labels    map[string]int `json:"labels,omitempty"`
}

// DisassembleLine is one line of disassemble output.
type DisassembleLine struct {
	Addr int    `json:"addr"`
	Text string `json:"text"`
}

// DisassembleResult is the result of disassemble.
type DisassembleResult struct {
	ProgramID string            `json:"programId"`
	Listing   string            `json:"listing"`
	Source    string            `json:"source"`
	Lines     []DisassembleLine `json:"lines"`
}

// ProgramInfo describes a stored program.
type ProgramInfo struct {
	Name      string    `json:"name"`
	ProgramID string    `json:"programId"`
	Size      int       `json:"size"`
	Created   time.Time `json:"created"`
	Updated   time.Time `json:"updated"`
}

// ProgramCode is the result of getProgram.
type ProgramCode struct {
	ProgramID string   `json:"programId"`
	Code      string   `json:"code"`
	Encoding  Encoding `json:"encoding"`
	Size      int      `json:"size"`
}

// RunsParams is the optional parameter object of getRuns.
type RunsParams struct {
	Program string `json:"program,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Before  uint64 `json:"before,omitempty"`
}

// RunInfo describes a journaled run.
type RunInfo struct {
	Seq        uint64    `json:"seq"`
	ProgramID  string    `json:"programId"`
	Status     string    `json:"status"`
	Fault      string    `json:"fault,omitempty"`
	FaultIP    *int      `json:"faultIp,omitempty"`
	Message    string    `json:"message,omitempty"`
	Output     string    `json:"output"`
	Steps      uint64    `json:"steps"`
	StackDepth int       `json:"stackDepth"`
	Started    time.Time `json:"started"`
	Duration   int64     `json:"durationUs"`
}

// VersionInfo is the result of getVersion.
type VersionInfo struct {
	Version   string `json:"bytevm"`
	GitCommit string `json:"commit"`
	Opcodes   int    `json:"opcodes"`
}
