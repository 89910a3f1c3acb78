package executor

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/fortiblox/bytevm/pkg/journal"
	"github.com/fortiblox/bytevm/pkg/program"
	"github.com/fortiblox/bytevm/pkg/programstore"
	"github.com/fortiblox/bytevm/pkg/vm"
)

var countdown = []byte{1, 3, 3, 14, 1, 1, 6, 3, 1, 2, 12, 2, 16}

// infinite loops forever: PUSH 0, JMP
var infinite = []byte{1, 0, 10}

func newTestExecutor(t *testing.T, cfg Config) (*Executor, *programstore.MemoryStore, *journal.MemoryJournal) {
	t.Helper()
	store := programstore.NewMemoryStore()
	j := journal.NewMemoryJournal()
	e, err := New(cfg, store, j)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return e, store, j
}

func TestExecuteInline(t *testing.T) {
	e, _, j := newTestExecutor(t, DefaultConfig())

	res, err := e.Execute(context.Background(), Request{Code: countdown})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if res.Status != journal.StatusHalted {
		t.Errorf("Status = %s, want halted", res.Status)
	}
	if string(res.Output) != "3\n2\n1\n" {
		t.Errorf("Output = %q", res.Output)
	}
	if len(res.Stack) != 0 {
		t.Errorf("Stack = %v, want empty", res.Stack)
	}
	if res.Seq != 0 {
		t.Errorf("unrecorded run got Seq %d", res.Seq)
	}
	if n, _ := j.Count(); n != 0 {
		t.Errorf("journal has %d records, want 0", n)
	}
}

func TestExecuteByReference(t *testing.T) {
	e, store, j := newTestExecutor(t, DefaultConfig())
	p, _ := program.New(countdown)
	if _, err := store.Put("countdown", p); err != nil {
		t.Fatal(err)
	}

	for _, ref := range []string{"countdown", p.ID().String()} {
		res, err := e.Execute(context.Background(), Request{Ref: ref, Record: true})
		if err != nil {
			t.Fatalf("Execute(%s) failed: %v", ref, err)
		}
		if res.ProgramID != p.ID() {
			t.Errorf("ProgramID = %s, want %s", res.ProgramID, p.ID())
		}
		if res.Seq == 0 {
			t.Error("recorded run has no Seq")
		}
	}

	rec, err := j.Get(2)
	if err != nil {
		t.Fatalf("journal Get() failed: %v", err)
	}
	if rec.Status != journal.StatusHalted || string(rec.Output) != "3\n2\n1\n" || rec.Steps == 0 {
		t.Errorf("record = %+v", rec)
	}
}

func TestExecuteFault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecordAll = true
	e, _, j := newTestExecutor(t, cfg)

	// PUSH 7, PRINT, PUSH 1, PUSH 0, DIV
	res, err := e.Execute(context.Background(), Request{Code: []byte{1, 7, 14, 1, 1, 1, 0, 8}})
	if err != nil {
		t.Fatalf("Execute() returned error for a fault: %v", err)
	}
	if res.Status != journal.StatusFaulted || res.Fault == nil {
		t.Fatalf("Status = %s, Fault = %v", res.Status, res.Fault)
	}
	if res.Fault.Kind != vm.DivisionByZero || res.Fault.IP != 7 {
		t.Errorf("Fault = %v", res.Fault)
	}
	if string(res.Output) != "7\n" {
		t.Errorf("Output = %q, want output before the fault", res.Output)
	}

	rec, err := j.Get(res.Seq)
	if err != nil {
		t.Fatalf("journal Get() failed: %v", err)
	}
	if rec.Fault != "DivisionByZero" || rec.FaultIP != 7 || rec.Message == "" {
		t.Errorf("record = %+v", rec)
	}
}

func TestExecuteLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSteps = 1000
	cfg.MaxOutputSize = 8
	e, _, _ := newTestExecutor(t, cfg)
	ctx := context.Background()

	t.Run("default step budget", func(t *testing.T) {
		res, err := e.Execute(ctx, Request{Code: infinite})
		if err != nil {
			t.Fatalf("Execute() failed: %v", err)
		}
		if res.Fault == nil || res.Fault.Kind != vm.StepLimitExceeded || res.Steps != 1000 {
			t.Errorf("Fault = %v, Steps = %d", res.Fault, res.Steps)
		}
	})

	t.Run("requested step budget", func(t *testing.T) {
		res, err := e.Execute(ctx, Request{Code: infinite, MaxSteps: 10})
		if err != nil {
			t.Fatalf("Execute() failed: %v", err)
		}
		if res.Steps != 10 {
			t.Errorf("Steps = %d, want 10", res.Steps)
		}
	})

	t.Run("output limit", func(t *testing.T) {
		// PUSH 200, DUP, PRINT, JMP back to DUP
		loop := []byte{1, 200, 3, 14, 1, 2, 10}
		res, err := e.Execute(ctx, Request{Code: loop})
		if err != nil {
			t.Fatalf("Execute() failed: %v", err)
		}
		if res.Fault == nil || res.Fault.Kind != vm.OutputFailed {
			t.Fatalf("Fault = %v, want OutputFailed", res.Fault)
		}
		if !errors.Is(res.Fault, ErrOutputLimit) {
			t.Errorf("fault does not wrap ErrOutputLimit: %v", res.Fault)
		}
		if string(res.Output) != "200\n200\n" {
			t.Errorf("Output = %q", res.Output)
		}
	})

	t.Run("stack capacity", func(t *testing.T) {
		res, err := e.Execute(ctx, Request{Code: []byte{1, 1, 1, 2, 1, 3}, StackCapacity: 2})
		if err != nil {
			t.Fatalf("Execute() failed: %v", err)
		}
		if res.Fault == nil || res.Fault.Kind != vm.StackOverflow || res.Fault.IP != 4 {
			t.Errorf("Fault = %v, want StackOverflow at 4", res.Fault)
		}
	})
}

func TestExecuteRequestErrors(t *testing.T) {
	e, _, _ := newTestExecutor(t, DefaultConfig())
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		err  error
	}{
		{"no program", Request{}, ErrNoProgram},
		{"ambiguous", Request{Ref: "x", Code: countdown}, ErrAmbiguousProgram},
		{"unknown ref", Request{Ref: "missing"}, programstore.ErrProgramNotFound},
		{"huge stack", Request{Code: countdown, StackCapacity: 1 << 20}, ErrStackCapacity},
		{"negative stack", Request{Code: countdown, StackCapacity: -1}, ErrStackCapacity},
		{"huge budget", Request{Code: countdown, MaxSteps: 1 << 40}, ErrStepLimit},
		{"too large", Request{Code: make([]byte, program.MaxCodeSize+1)}, program.ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Execute(ctx, tt.req); !errors.Is(err, tt.err) {
				t.Errorf("Execute() = %v, want %v", err, tt.err)
			}
		})
	}

	noStore, err := New(DefaultConfig(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := noStore.Execute(ctx, Request{Ref: "x"}); !errors.Is(err, ErrNoStore) {
		t.Errorf("Execute() without store = %v, want ErrNoStore", err)
	}
}

func TestExecuteCancelled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSteps = 0
	cfg.RecordAll = true
	e, _, j := newTestExecutor(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Execute(ctx, Request{Code: infinite}); !errors.Is(err, context.Canceled) {
		t.Errorf("Execute(cancelled) = %v, want context.Canceled", err)
	}
	if n, _ := j.Count(); n != 0 {
		t.Errorf("cancelled-before-start run was recorded")
	}

	ctx, cancel = context.WithCancel(context.Background())
	var steps uint64
	req := Request{Code: infinite, Tracer: func(ev vm.TraceEvent) {
		steps++
		if steps == 10_000 {
			cancel()
		}
	}}
	res, err := e.Execute(ctx, req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() = %v, want context.Canceled", err)
	}
	if res == nil || res.Status != journal.StatusError {
		t.Fatalf("Result = %+v", res)
	}
	if n, _ := j.Count(); n != 1 {
		t.Errorf("journal Count() = %d, want 1", n)
	}
}

func TestExecuteTee(t *testing.T) {
	e, _, _ := newTestExecutor(t, DefaultConfig())
	var live bytes.Buffer
	res, err := e.Execute(context.Background(), Request{Code: countdown, Output: &live})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if live.String() != string(res.Output) {
		t.Errorf("tee = %q, result = %q", live.String(), res.Output)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StackCapacity = 0
	if _, err := New(cfg, nil, nil); !errors.Is(err, ErrStackCapacity) {
		t.Errorf("New(zero stack) = %v, want ErrStackCapacity", err)
	}
	cfg = DefaultConfig()
	cfg.MaxSteps = cfg.MaxStepsCeiling + 1
	if _, err := New(cfg, nil, nil); !errors.Is(err, ErrStepLimit) {
		t.Errorf("New(steps over ceiling) = %v, want ErrStepLimit", err)
	}
}
