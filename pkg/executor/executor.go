// Package executor runs bytevm programs on behalf of hosts.
//
// The executor resolves a program from the program store (or takes inline
// code), runs it on a fresh machine under configured limits, collects the
// output and optionally records the run in the journal. A VM fault is a
// normal outcome reported in the Result; Execute only returns an error when
// the run could not take place or could not be recorded.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fortiblox/bytevm/internal/types"
	"github.com/fortiblox/bytevm/pkg/journal"
	"github.com/fortiblox/bytevm/pkg/program"
	"github.com/fortiblox/bytevm/pkg/programstore"
	"github.com/fortiblox/bytevm/pkg/vm"
	log "github.com/sirupsen/logrus"
)

// Executor errors.
var (
	ErrNoProgram        = errors.New("request names no program")
	ErrAmbiguousProgram = errors.New("request has both a reference and inline code")
	ErrNoStore          = errors.New("no program store configured")
	ErrStackCapacity    = errors.New("stack capacity out of range")
	ErrStepLimit        = errors.New("step limit out of range")
	ErrOutputLimit      = errors.New("output limit exceeded")
)

// cancelCheckInterval is how many instructions run between context checks.
const cancelCheckInterval = 4096

// Config holds executor limits and defaults.
type Config struct {
	// StackCapacity is used when a request does not set one.
	StackCapacity int

	// MaxStackCapacity caps requested stack capacities.
	MaxStackCapacity int

	// MaxSteps is used when a request does not set one. Zero is unlimited.
	MaxSteps uint64

	// MaxStepsCeiling caps requested step budgets. Zero means no ceiling.
	MaxStepsCeiling uint64

	// MaxOutputSize bounds the bytes a run may emit.
	MaxOutputSize int

	// RecordAll journals every run, not only those that ask for it.
	RecordAll bool
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		StackCapacity:    vm.DefaultStackCapacity,
		MaxStackCapacity: 1 << 16,
		MaxSteps:         10_000_000,
		MaxStepsCeiling:  1_000_000_000,
		MaxOutputSize:    1 << 20,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.StackCapacity <= 0 {
		return fmt.Errorf("%w: default %d", ErrStackCapacity, c.StackCapacity)
	}
	if c.MaxStackCapacity < c.StackCapacity {
		return fmt.Errorf("%w: max %d below default %d", ErrStackCapacity, c.MaxStackCapacity, c.StackCapacity)
	}
	if c.MaxStepsCeiling > 0 && c.MaxSteps > c.MaxStepsCeiling {
		return fmt.Errorf("%w: default %d above ceiling %d", ErrStepLimit, c.MaxSteps, c.MaxStepsCeiling)
	}
	if c.MaxOutputSize <= 0 {
		return fmt.Errorf("max output size must be positive")
	}
	return nil
}

// Request describes one run. Exactly one of Ref and Code must be set.
type Request struct {
	// Ref is a stored program name or base58 program ID.
	Ref string

	// Code is inline bytecode.
	Code []byte

	// StackCapacity overrides the default stack size when non-zero.
	StackCapacity int

	// MaxSteps overrides the default step budget when non-zero.
	MaxSteps uint64

	// Record journals this run.
	Record bool

	// Output, if set, receives output as it is produced.
	Output io.Writer

	// Tracer observes each instruction.
	Tracer vm.Tracer
}

// Result is the outcome of a run.
type Result struct {
	ProgramID types.ProgramID
	Status    journal.Status
	Output    []byte

	// Fault is set when Status is faulted.
	Fault *vm.Fault

	Steps    uint64
	Stack    []int32
	Duration time.Duration

	// Seq is the journal sequence number, zero if the run was not recorded.
	Seq uint64
}

// Executor runs programs.
type Executor struct {
	config  Config
	store   programstore.Store
	journal journal.Journal
}

// New creates an executor. store and j may be nil: without a store only
// inline code can run, without a journal nothing is recorded.
func New(config Config, store programstore.Store, j journal.Journal) (*Executor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Executor{config: config, store: store, journal: j}, nil
}

// Config returns the executor configuration.
func (e *Executor) Config() Config {
	return e.config
}

// Store returns the program store, or nil.
func (e *Executor) Store() programstore.Store {
	return e.store
}

// Journal returns the run journal, or nil.
func (e *Executor) Journal() journal.Journal {
	return e.journal
}

// Resolve returns the program a request names.
func (e *Executor) Resolve(req *Request) (*program.Program, error) {
	switch {
	case req.Ref != "" && req.Code != nil:
		return nil, ErrAmbiguousProgram
	case req.Ref != "":
		if e.store == nil {
			return nil, ErrNoStore
		}
		return e.store.Resolve(req.Ref)
	case req.Code != nil:
		return program.New(req.Code)
	default:
		return nil, ErrNoProgram
	}
}

func (e *Executor) options(req *Request) (vm.Options, error) {
	opts := vm.Options{
		StackCapacity: e.config.StackCapacity,
		MaxSteps:      e.config.MaxSteps,
		Tracer:        req.Tracer,
	}
	if req.StackCapacity != 0 {
		if req.StackCapacity < 0 || req.StackCapacity > e.config.MaxStackCapacity {
			return opts, fmt.Errorf("%w: %d (max %d)", ErrStackCapacity, req.StackCapacity, e.config.MaxStackCapacity)
		}
		opts.StackCapacity = req.StackCapacity
	}
	if req.MaxSteps != 0 {
		if e.config.MaxStepsCeiling > 0 && req.MaxSteps > e.config.MaxStepsCeiling {
			return opts, fmt.Errorf("%w: %d (max %d)", ErrStepLimit, req.MaxSteps, e.config.MaxStepsCeiling)
		}
		opts.MaxSteps = req.MaxSteps
	}
	return opts, nil
}

// Execute runs the requested program to completion.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := e.Resolve(&req)
	if err != nil {
		return nil, err
	}
	opts, err := e.options(&req)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	out := &limitWriter{buf: &buf, limit: e.config.MaxOutputSize, tee: req.Output}
	m := vm.New(p.Code, vm.NewWriterSink(out), opts)

	started := time.Now()
	runErr := run(ctx, m)
	duration := time.Since(started)

	res := &Result{
		ProgramID: p.ID(),
		Output:    buf.Bytes(),
		Steps:     m.Steps(),
		Stack:     m.Stack(),
		Duration:  duration,
	}

	switch {
	case runErr == nil:
		res.Status = journal.StatusHalted
	case m.State() == vm.Faulted:
		res.Status = journal.StatusFaulted
		res.Fault = m.Fault()
	default:
		// Cancelled mid-run.
		res.Status = journal.StatusError
	}

	log.WithFields(log.Fields{
		"program": p.ID().Short(),
		"status":  res.Status,
		"steps":   res.Steps,
		"elapsed": duration,
	}).Debug("run finished")

	if e.journal != nil && (req.Record || e.config.RecordAll) {
		seq, err := e.journal.Append(recordFor(res, started, runErr))
		if err != nil {
			return res, fmt.Errorf("record run: %w", err)
		}
		res.Seq = seq
	}

	if res.Status == journal.StatusError {
		return res, runErr
	}
	return res, nil
}

// run steps m until it stops, checking ctx periodically.
func run(ctx context.Context, m *vm.Machine) error {
	done := ctx.Done()
	if done == nil {
		return m.Run()
	}
	for n := 0; m.State() == vm.Running; n++ {
		if n%cancelCheckInterval == 0 {
			select {
			case <-done:
				return ctx.Err()
			default:
			}
		}
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

func recordFor(res *Result, started time.Time, runErr error) *journal.Record {
	rec := &journal.Record{
		ProgramID:  res.ProgramID,
		Status:     res.Status,
		Output:     res.Output,
		Steps:      res.Steps,
		StackDepth: len(res.Stack),
		Started:    started.UTC(),
		Duration:   res.Duration,
	}
	if res.Fault != nil {
		rec.Fault = res.Fault.Kind.String()
		rec.FaultIP = res.Fault.IP
		rec.Message = res.Fault.Error()
	} else if runErr != nil {
		rec.Message = runErr.Error()
	}
	return rec
}

// limitWriter buffers output up to limit bytes and optionally mirrors it.
type limitWriter struct {
	buf   *bytes.Buffer
	limit int
	tee   io.Writer
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if w.buf.Len()+len(p) > w.limit {
		return 0, fmt.Errorf("%w: %d bytes", ErrOutputLimit, w.limit)
	}
	w.buf.Write(p)
	if w.tee != nil {
		if _, err := w.tee.Write(p); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}
