package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/fortiblox/bytevm/internal/types"
	"github.com/fortiblox/bytevm/internal/version"
	"github.com/fortiblox/bytevm/pkg/asm"
	"github.com/fortiblox/bytevm/pkg/executor"
	"github.com/fortiblox/bytevm/pkg/journal"
	"github.com/fortiblox/bytevm/pkg/program"
	"github.com/fortiblox/bytevm/pkg/programstore"
	"github.com/fortiblox/bytevm/pkg/vm"
)

// parseArgs splits positional params. A missing or null params field is an
// empty argument list.
func parseArgs(params json.RawMessage) ([]json.RawMessage, *RPCError) {
	if len(params) == 0 || string(params) == "null" {
		return nil, nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, InvalidParamsError("params must be an array")
	}
	return args, nil
}

// parseEncodingArg reads the optional encoding config at args[i].
func parseEncodingArg(args []json.RawMessage, i int) (Encoding, *RPCError) {
	var config EncodingConfig
	if len(args) > i {
		if err := json.Unmarshal(args[i], &config); err != nil {
			return "", InvalidParamsError("invalid config")
		}
	}
	enc, err := ParseEncoding(string(config.Encoding))
	if err != nil {
		return "", InvalidParamsError(err.Error())
	}
	return enc, nil
}

// Node Methods

// getHealth returns the node health status.
func (s *Server) getHealth(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

// getVersion returns the node version.
func (s *Server) getVersion(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	return VersionInfo{
		Version:   version.Version,
		GitCommit: version.GitCommit,
		Opcodes:   len(vm.Opcodes()),
	}, nil
}

// Execution Methods

// execute runs a stored or inline program.
func (s *Server) execute(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	// Parse params: [ExecuteParams]
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing execute parameter")
	}

	var p ExecuteParams
	if err := json.Unmarshal(args[0], &p); err != nil {
		return nil, InvalidParamsError("invalid execute parameter")
	}

	req := executor.Request{
		Ref:           p.Program,
		StackCapacity: p.StackCapacity,
		MaxSteps:      p.MaxSteps,
		Record:        p.Record,
	}
	if p.Code != "" {
		enc, err := ParseEncoding(string(p.Encoding))
		if err != nil {
			return nil, InvalidParamsError(err.Error())
		}
		code, err := DecodeCode(p.Code, enc)
		if err != nil {
			return nil, InvalidParamsErrorf("invalid code: %v", err)
		}
		if len(code) == 0 {
			return nil, InvalidParamsError("empty code")
		}
		req.Code = code
	}

	res, err := s.exec.Execute(ctx, req)
	if err != nil {
		return nil, s.executeError(p.Program, err)
	}
	return executeResult(res), nil
}

// executeError maps an executor error to an RPC error.
func (s *Server) executeError(ref string, err error) *RPCError {
	switch {
	case errors.Is(err, programstore.ErrProgramNotFound):
		return ProgramNotFoundError(ref)
	case errors.Is(err, executor.ErrNoStore):
		return ErrNoStore
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewRPCError(RequestCancelled, err.Error())
	case errors.Is(err, executor.ErrNoProgram),
		errors.Is(err, executor.ErrAmbiguousProgram),
		errors.Is(err, executor.ErrStackCapacity),
		errors.Is(err, executor.ErrStepLimit),
		errors.Is(err, program.ErrTooLarge),
		errors.Is(err, program.ErrEmpty):
		return InvalidParamsError(err.Error())
	default:
		return InternalServerErrorf("execution failed: %v", err)
	}
}

func executeResult(res *executor.Result) ExecuteResult {
	out := ExecuteResult{
		ProgramID: res.ProgramID.String(),
		Status:    string(res.Status),
		Output:    EncodeBase64(res.Output),
		Steps:     res.Steps,
		Stack:     res.Stack,
		Duration:  res.Duration.Microseconds(),
		Seq:       res.Seq,
	}
	if out.Stack == nil {
		out.Stack = []int32{}
	}
	if utf8.Valid(res.Output) {
		text := string(res.Output)
		out.Text = &text
	}
	if res.Fault != nil {
		out.Fault = faultInfo(res.Fault)
	}
	return out
}

func faultInfo(f *vm.Fault) *FaultInfo {
	info := &FaultInfo{
		Kind:    f.Kind.String(),
		IP:      f.IP,
		Message: f.Error(),
	}
	if f.Op.Valid() {
		info.Opcode = f.Op.String()
	}
	switch f.Kind {
	case vm.InvalidOpcode:
		b := int(f.Byte)
		info.Byte = &b
	case vm.InvalidJumpTarget:
		target := f.Target
		info.Target = &target
	}
	return info
}

// Tooling Methods

// assemble translates source text to bytecode.
func (s *Server) assemble(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	// Parse params: [source, config?]
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing source parameter")
	}

	var src string
	if err := json.Unmarshal(args[0], &src); err != nil {
		return nil, InvalidParamsError("invalid source")
	}
	enc, rpcErr := parseEncodingArg(args, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}

	res, err := asm.Assemble(src)
	if err != nil {
		var asmErr *asm.Error
		if errors.As(err, &asmErr) {
			return nil, AssemblyError(asmErr.Line, asmErr.Error())
		}
		return nil, AssemblyError(0, err.Error())
	}

	p, err := program.New(res.Code)
	if err != nil {
		return nil, InvalidParamsError(err.Error())
	}
	encoded, err := EncodeCode(p.Code, enc)
	if err != nil {
		return nil, InternalServerErrorf("%v", err)
	}
	return AssembleResult{
		ProgramID: p.ID().String(),
		Code:      encoded,
		Encoding:  enc,
		Size:      p.Size(),
		Labels:    res.Labels,
	}, nil
}

// disassemble renders bytecode as a listing and as reassemblable source.
func (s *Server) disassemble(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	// Parse params: [code, config?]
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing code parameter")
	}

	var encoded string
	if err := json.Unmarshal(args[0], &encoded); err != nil {
		return nil, InvalidParamsError("invalid code")
	}
	enc, rpcErr := parseEncodingArg(args, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	code, err := DecodeCode(encoded, enc)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid code: %v", err)
	}
	if len(code) > program.MaxCodeSize {
		return nil, InvalidParamsError(program.ErrTooLarge.Error())
	}

	var listing strings.Builder
	if err := asm.Format(&listing, code); err != nil {
		return nil, InternalServerErrorf("format failed: %v", err)
	}

	decoded := asm.Disassemble(code)
	lines := make([]DisassembleLine, len(decoded))
	for i, l := range decoded {
		lines[i] = DisassembleLine{Addr: l.Addr, Text: l.Text()}
	}

	return DisassembleResult{
		ProgramID: types.ComputeProgramID(code).String(),
		Listing:   listing.String(),
		Source:    asm.Source(code),
		Lines:     lines,
	}, nil
}

// Program Library Methods

// putProgram stores bytecode under a name.
func (s *Server) putProgram(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	store := s.exec.Store()
	if store == nil {
		return nil, ErrNoStore
	}

	// Parse params: [name, code, config?]
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 2 {
		return nil, InvalidParamsError("expected [name, code]")
	}

	var name, encoded string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return nil, InvalidParamsError("invalid name")
	}
	if err := json.Unmarshal(args[1], &encoded); err != nil {
		return nil, InvalidParamsError("invalid code")
	}
	enc, rpcErr := parseEncodingArg(args, 2)
	if rpcErr != nil {
		return nil, rpcErr
	}

	code, err := DecodeCode(encoded, enc)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid code: %v", err)
	}
	p, err := program.New(code)
	if err == nil {
		err = p.RequireNonEmpty()
	}
	if err != nil {
		return nil, InvalidParamsError(err.Error())
	}

	entry, err := store.Put(name, p)
	if err != nil {
		if errors.Is(err, programstore.ErrInvalidName) {
			return nil, InvalidParamsError(err.Error())
		}
		return nil, InternalServerErrorf("failed to store program: %v", err)
	}
	return programInfo(entry), nil
}

// getProgram returns the code of a stored program.
func (s *Server) getProgram(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	store := s.exec.Store()
	if store == nil {
		return nil, ErrNoStore
	}

	// Parse params: [ref, config?]
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing program parameter")
	}

	var ref string
	if err := json.Unmarshal(args[0], &ref); err != nil {
		return nil, InvalidParamsError("invalid program")
	}
	enc, rpcErr := parseEncodingArg(args, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}

	p, err := store.Resolve(ref)
	if err != nil {
		if errors.Is(err, programstore.ErrProgramNotFound) {
			return nil, ProgramNotFoundError(ref)
		}
		return nil, InternalServerErrorf("failed to get program: %v", err)
	}

	encoded, err := EncodeCode(p.Code, enc)
	if err != nil {
		return nil, InternalServerErrorf("%v", err)
	}
	return ProgramCode{
		ProgramID: p.ID().String(),
		Code:      encoded,
		Encoding:  enc,
		Size:      p.Size(),
	}, nil
}

// listPrograms returns all named programs.
func (s *Server) listPrograms(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	store := s.exec.Store()
	if store == nil {
		return nil, ErrNoStore
	}

	entries, err := store.List()
	if err != nil {
		return nil, InternalServerErrorf("failed to list programs: %v", err)
	}

	infos := make([]ProgramInfo, len(entries))
	for i := range entries {
		infos[i] = programInfo(&entries[i])
	}
	return infos, nil
}

// deleteProgram removes a name binding.
func (s *Server) deleteProgram(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	store := s.exec.Store()
	if store == nil {
		return nil, ErrNoStore
	}

	// Parse params: [name]
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing name parameter")
	}

	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return nil, InvalidParamsError("invalid name")
	}

	if err := store.Delete(name); err != nil {
		if errors.Is(err, programstore.ErrProgramNotFound) {
			return nil, ProgramNotFoundError(name)
		}
		return nil, InternalServerErrorf("failed to delete program: %v", err)
	}
	return true, nil
}

func programInfo(e *programstore.Entry) ProgramInfo {
	return ProgramInfo{
		Name:      e.Name,
		ProgramID: e.ID.String(),
		Size:      e.Size,
		Created:   e.Created,
		Updated:   e.Updated,
	}
}

// Journal Methods

// getRun returns one journaled run.
func (s *Server) getRun(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	j := s.exec.Journal()
	if j == nil {
		return nil, ErrNoJournal
	}

	// Parse params: [seq]
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing seq parameter")
	}

	var seq uint64
	if err := json.Unmarshal(args[0], &seq); err != nil {
		return nil, InvalidParamsError("invalid seq")
	}

	rec, err := j.Get(seq)
	if err != nil {
		if errors.Is(err, journal.ErrRecordNotFound) {
			return nil, RunNotFoundError(seq)
		}
		return nil, InternalServerErrorf("failed to get run: %v", err)
	}
	return runInfo(rec), nil
}

// getRuns lists journaled runs, newest first.
func (s *Server) getRuns(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	j := s.exec.Journal()
	if j == nil {
		return nil, ErrNoJournal
	}

	// Parse params: [config?]
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	var p RunsParams
	if len(args) > 0 {
		if err := json.Unmarshal(args[0], &p); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}
	if p.Limit < 0 || p.Limit > journal.MaxListLimit {
		return nil, InvalidParamsErrorf("limit must be between 0 and %d", journal.MaxListLimit)
	}

	opts := journal.ListOptions{Limit: p.Limit, Before: p.Before}
	if p.Program != "" {
		id, err := types.ProgramIDFromBase58(p.Program)
		if err != nil {
			return nil, InvalidParamsError("invalid program ID")
		}
		opts.Program = &id
	}

	recs, err := j.List(opts)
	if err != nil {
		return nil, InternalServerErrorf("failed to list runs: %v", err)
	}

	infos := make([]RunInfo, len(recs))
	for i, rec := range recs {
		infos[i] = runInfo(rec)
	}
	return infos, nil
}

func runInfo(rec *journal.Record) RunInfo {
	info := RunInfo{
		Seq:        rec.Seq,
		ProgramID:  rec.ProgramID.String(),
		Status:     string(rec.Status),
		Fault:      rec.Fault,
		Message:    rec.Message,
		Output:     EncodeBase64(rec.Output),
		Steps:      rec.Steps,
		StackDepth: rec.StackDepth,
		Started:    rec.Started,
		Duration:   rec.Duration.Microseconds(),
	}
	if rec.Status == journal.StatusFaulted {
		ip := rec.FaultIP
		info.FaultIP = &ip
	}
	return info
}
