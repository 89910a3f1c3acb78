// Package node provides the orchestrator for a bytevm execution node.
//
// The Node ties together all components:
// - Program store for the named program library
// - Journal for recording runs
// - Executor for running programs under configured limits
// - JSON-RPC and gRPC servers exposing the executor
// - Web dashboard over the program library and journal
//
// The node manages the lifecycle of these components and reports their
// health.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fortiblox/bytevm/pkg/config"
	"github.com/fortiblox/bytevm/pkg/dashboard"
	"github.com/fortiblox/bytevm/pkg/executor"
	"github.com/fortiblox/bytevm/pkg/journal"
	"github.com/fortiblox/bytevm/pkg/programstore"
	"github.com/fortiblox/bytevm/pkg/remote"
	"github.com/fortiblox/bytevm/pkg/rpc"
	log "github.com/sirupsen/logrus"
)

// Node errors.
var (
	ErrAlreadyRunning = errors.New("node is already running")
	ErrNotRunning     = errors.New("node is not running")
	ErrConfigInvalid  = errors.New("invalid node configuration")
	ErrInitFailed     = errors.New("node initialization failed")
)

// Node represents a bytevm execution node.
type Node struct {
	config *config.Config

	// Core components
	store      programstore.Store
	journal    journal.Journal
	exec       *executor.Executor
	rpcServer  *rpc.Server
	grpcServer *remote.Server
	dashboard  *dashboard.Dashboard

	// Bound listener addresses
	rpcAddr       net.Addr
	grpcAddr      net.Addr
	dashboardAddr net.Addr

	// State management
	mu          sync.Mutex
	running     atomic.Bool
	startedAt   atomic.Int64 // unix nanoseconds
	lastError   error
	lastErrorMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a node with the given configuration. A nil config selects
// config.DefaultConfig. The node is not started until Start is called.
func New(cfg *config.Config) (*Node, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	return &Node{config: cfg}, nil
}

// Start opens storage and starts the enabled servers. It returns once the
// servers are listening; they run until ctx is cancelled or Stop is called.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running.Load() {
		return ErrAlreadyRunning
	}

	if err := n.initialize(); err != nil {
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	n.ctx, n.cancel = context.WithCancel(ctx)
	n.startedAt.Store(time.Now().UnixNano())
	n.running.Store(true)

	if err := n.startServers(); err != nil {
		n.cancel()
		n.wg.Wait()
		n.closeStorage()
		n.running.Store(false)
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	log.WithFields(log.Fields{
		"rpc":       addrString(n.rpcAddr),
		"grpc":      addrString(n.grpcAddr),
		"dashboard": addrString(n.dashboardAddr),
	}).Info("node started")
	return nil
}

// initialize sets up storage backends and the executor.
func (n *Node) initialize() error {
	cfg := n.config
	n.rpcServer, n.grpcServer, n.dashboard = nil, nil, nil
	n.rpcAddr, n.grpcAddr, n.dashboardAddr = nil, nil, nil

	if !cfg.Store.InMemory || (cfg.Journal.Enabled && !cfg.Journal.InMemory) {
		if err := os.MkdirAll(cfg.Store.DataDir, 0755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}

	// Initialize program store
	if cfg.Store.InMemory {
		n.store = programstore.NewMemoryStore()
	} else {
		storeConfig := programstore.DefaultConfig(cfg.StorePath())
		storeConfig.NoSync = cfg.Store.NoSync
		store, err := programstore.Open(storeConfig)
		if err != nil {
			return fmt.Errorf("open program store: %w", err)
		}
		n.store = store
	}

	// Initialize journal
	if cfg.Journal.Enabled {
		if cfg.Journal.InMemory {
			n.journal = journal.NewMemoryJournal()
		} else {
			journalConfig := journal.DefaultBadgerConfig(cfg.JournalPath())
			journalConfig.SyncWrites = cfg.Journal.SyncWrites
			journalConfig.Logger = log.WithField("component", "journal")
			j, err := journal.OpenBadger(journalConfig)
			if err != nil {
				n.closeStorage()
				return fmt.Errorf("open journal: %w", err)
			}
			n.journal = j
		}
	}

	exec, err := executor.New(cfg.Executor(), n.store, n.journal)
	if err != nil {
		n.closeStorage()
		return fmt.Errorf("create executor: %w", err)
	}
	n.exec = exec

	if cfg.RPC.Enabled {
		n.rpcServer = rpc.New(cfg.RPCServer(), exec)
	}
	if cfg.GRPC.Enabled {
		n.grpcServer = remote.NewServer(cfg.GRPCServer(), exec)
	}
	if cfg.Dashboard.Enabled {
		d, err := dashboard.New(cfg.DashboardServer(), exec, n)
		if err != nil {
			n.closeStorage()
			return fmt.Errorf("create dashboard: %w", err)
		}
		n.dashboard = d
	}

	return nil
}

// startServers binds listeners synchronously so bind errors surface from
// Start, then serves in the background.
func (n *Node) startServers() error {
	if n.rpcServer != nil {
		ln, err := net.Listen("tcp", n.config.RPC.Addr)
		if err != nil {
			return fmt.Errorf("listen rpc %s: %w", n.config.RPC.Addr, err)
		}
		n.rpcAddr = ln.Addr()
		n.serve("RPC", func() error { return n.rpcServer.Serve(n.ctx, ln) })
	}

	if n.grpcServer != nil {
		ln, err := net.Listen("tcp", n.config.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("listen grpc %s: %w", n.config.GRPC.Addr, err)
		}
		n.grpcAddr = ln.Addr()
		n.serve("gRPC", func() error { return n.grpcServer.Serve(n.ctx, ln) })
	}

	if n.dashboard != nil {
		ln, err := net.Listen("tcp", n.config.Dashboard.Addr)
		if err != nil {
			return fmt.Errorf("listen dashboard %s: %w", n.config.Dashboard.Addr, err)
		}
		n.dashboardAddr = ln.Addr()
		n.serve("dashboard", func() error { return n.dashboard.Serve(n.ctx, ln) })
	}

	return nil
}

func (n *Node) serve(name string, fn func() error) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := fn(); err != nil {
			err = fmt.Errorf("%s server error: %w", name, err)
			n.setLastError(err)
			if n.rpcServer != nil {
				n.rpcServer.SetHealthy(false)
			}
			log.WithError(err).Error("server stopped")
		}
	}()
}

// Stop gracefully stops the node.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running.Load() {
		return ErrNotRunning
	}

	// Cancel context to stop all servers
	if n.cancel != nil {
		n.cancel()
	}
	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}
	if n.grpcServer != nil {
		n.grpcServer.Stop()
	}
	if n.dashboard != nil {
		n.dashboard.Stop()
	}

	// Wait for servers to finish
	n.wg.Wait()

	n.closeStorage()
	n.running.Store(false)

	log.Info("node stopped")
	return nil
}

// closeStorage closes the journal and store.
func (n *Node) closeStorage() {
	if n.journal != nil {
		if err := n.journal.Close(); err != nil && !errors.Is(err, journal.ErrClosed) {
			log.WithError(err).Warn("close journal")
		}
		n.journal = nil
	}
	if n.store != nil {
		if err := n.store.Close(); err != nil {
			log.WithError(err).Warn("close program store")
		}
		n.store = nil
	}
}

// Done is closed when the node's context ends.
func (n *Node) Done() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ctx == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return n.ctx.Done()
}

// Executor returns the node's executor, nil before Start.
func (n *Node) Executor() *executor.Executor {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.exec
}

// Status contains the current node status.
type Status struct {
	// IsRunning indicates if the node is running.
	IsRunning bool

	// Uptime is how long the node has been running.
	Uptime time.Duration

	// RPCAddr is the bound JSON-RPC address if enabled.
	RPCAddr string

	// GRPCAddr is the bound gRPC address if enabled.
	GRPCAddr string

	// DashboardAddr is the bound dashboard address if enabled.
	DashboardAddr string

	// StoreStats contains program store statistics.
	StoreStats *programstore.Stats

	// Runs is the number of journaled runs.
	Runs uint64

	// LastError is the most recent error encountered.
	LastError error
}

// Status returns the current node status.
func (n *Node) Status() *Status {
	n.mu.Lock()
	defer n.mu.Unlock()

	status := &Status{
		IsRunning: n.running.Load(),
		RPCAddr:   addrString(n.rpcAddr),
		GRPCAddr:  addrString(n.grpcAddr),
		LastError: n.getLastError(),

		DashboardAddr: addrString(n.dashboardAddr),
	}
	status.Uptime = n.Uptime()
	if n.store != nil {
		status.StoreStats, _ = n.store.Stats()
	}
	if n.journal != nil {
		status.Runs, _ = n.journal.Count()
	}
	return status
}

// IsRunning reports whether the node has been started and not stopped.
func (n *Node) IsRunning() bool {
	return n.running.Load()
}

// Uptime returns how long the node has been running, zero when stopped.
func (n *Node) Uptime() time.Duration {
	if !n.running.Load() {
		return 0
	}
	return time.Since(time.Unix(0, n.startedAt.Load()))
}

// LastError returns the most recent server error.
func (n *Node) LastError() error {
	return n.getLastError()
}

// setLastError safely sets the last error.
func (n *Node) setLastError(err error) {
	n.lastErrorMu.Lock()
	n.lastError = err
	n.lastErrorMu.Unlock()
}

// getLastError safely gets the last error.
func (n *Node) getLastError() error {
	n.lastErrorMu.RLock()
	defer n.lastErrorMu.RUnlock()
	return n.lastError
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
