// Package config handles bytevm.toml node configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fortiblox/bytevm/pkg/dashboard"
	"github.com/fortiblox/bytevm/pkg/executor"
	"github.com/fortiblox/bytevm/pkg/remote"
	"github.com/fortiblox/bytevm/pkg/rpc"
	log "github.com/sirupsen/logrus"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "bytevm.toml"

// ErrInvalid is returned for configurations that fail validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the bytevm.toml file.
type Config struct {
	VM        VM        `toml:"vm"`
	Store     Store     `toml:"store"`
	Journal   Journal   `toml:"journal"`
	RPC       RPC       `toml:"rpc"`
	GRPC      GRPC      `toml:"grpc"`
	Dashboard Dashboard `toml:"dashboard"`
	Log       Log       `toml:"log"`

	// Path is the file the configuration was loaded from (set at load time).
	Path string `toml:"-"`
}

// VM configures execution limits.
type VM struct {
	StackCapacity    int    `toml:"stack_capacity"`
	MaxStackCapacity int    `toml:"max_stack_capacity"`
	MaxSteps         uint64 `toml:"max_steps"`
	MaxStepsCeiling  uint64 `toml:"max_steps_ceiling"`
	MaxOutputSize    int    `toml:"max_output_size"`
	RecordAll        bool   `toml:"record_all"`
}

// Store configures the program library.
type Store struct {
	DataDir  string `toml:"data_dir"`
	NoSync   bool   `toml:"no_sync"`
	InMemory bool   `toml:"in_memory"`
}

// Journal configures the run journal.
type Journal struct {
	Enabled    bool `toml:"enabled"`
	InMemory   bool `toml:"in_memory"`
	SyncWrites bool `toml:"sync_writes"`
}

// RPC configures the JSON-RPC server.
type RPC struct {
	Enabled        bool     `toml:"enabled"`
	Addr           string   `toml:"addr"`
	CORS           bool     `toml:"cors"`
	AllowedOrigins []string `toml:"allowed_origins"`
	LogRequests    bool     `toml:"log_requests"`
	MaxRequestSize int64    `toml:"max_request_size"`
	ReadTimeout    Duration `toml:"read_timeout"`
	WriteTimeout   Duration `toml:"write_timeout"`
}

// GRPC configures the gRPC server.
type GRPC struct {
	Enabled        bool   `toml:"enabled"`
	Addr           string `toml:"addr"`
	MaxMessageSize int    `toml:"max_message_size"`
	LogRequests    bool   `toml:"log_requests"`
}

// Dashboard configures the web dashboard.
type Dashboard struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// Log configures logging.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	exec := executor.DefaultConfig()
	rpcCfg := rpc.DefaultConfig()
	grpcCfg := remote.DefaultConfig()

	return &Config{
		VM: VM{
			StackCapacity:    exec.StackCapacity,
			MaxStackCapacity: exec.MaxStackCapacity,
			MaxSteps:         exec.MaxSteps,
			MaxStepsCeiling:  exec.MaxStepsCeiling,
			MaxOutputSize:    exec.MaxOutputSize,
		},
		Store: Store{
			DataDir: "./data",
		},
		Journal: Journal{
			Enabled: true,
		},
		RPC: RPC{
			Enabled:        true,
			Addr:           rpcCfg.Addr,
			CORS:           rpcCfg.EnableCORS,
			MaxRequestSize: rpcCfg.MaxRequestSize,
			ReadTimeout:    Duration{rpcCfg.ReadTimeout},
			WriteTimeout:   Duration{rpcCfg.WriteTimeout},
		},
		GRPC: GRPC{
			Enabled:        false,
			Addr:           grpcCfg.Addr,
			MaxMessageSize: grpcCfg.MaxMessageSize,
		},
		Dashboard: Dashboard{
			Enabled: false,
			Addr:    dashboard.DefaultConfig().Addr,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.Executor().Validate(); err != nil {
		return fmt.Errorf("%w: vm: %v", ErrInvalid, err)
	}
	if c.Store.DataDir == "" && (!c.Store.InMemory || (c.Journal.Enabled && !c.Journal.InMemory)) {
		return fmt.Errorf("%w: store.data_dir is required", ErrInvalid)
	}
	if c.RPC.Enabled {
		if c.RPC.Addr == "" {
			return fmt.Errorf("%w: rpc.addr is required", ErrInvalid)
		}
		if c.RPC.MaxRequestSize <= 0 {
			return fmt.Errorf("%w: rpc.max_request_size must be positive", ErrInvalid)
		}
	}
	if c.GRPC.Enabled {
		if c.GRPC.Addr == "" {
			return fmt.Errorf("%w: grpc.addr is required", ErrInvalid)
		}
		if c.GRPC.MaxMessageSize <= 0 {
			return fmt.Errorf("%w: grpc.max_message_size must be positive", ErrInvalid)
		}
	}
	if c.Dashboard.Enabled && c.Dashboard.Addr == "" {
		return fmt.Errorf("%w: dashboard.addr is required", ErrInvalid)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format must be text or json, got %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// Load reads a configuration file, overlaying it on DefaultConfig. Unknown
// keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := DefaultConfig()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}

	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	// Relative data directories are anchored at the file's directory.
	if c.Store.DataDir != "" && !filepath.IsAbs(c.Store.DataDir) {
		c.Store.DataDir = filepath.Join(filepath.Dir(c.Path), c.Store.DataDir)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a bytevm.toml file, then loads
// it. Without a file it returns DefaultConfig.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return DefaultConfig(), nil
		}
		dir = parent
	}
}

// Write encodes c as TOML.
func (c *Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// Executor returns the executor limits.
func (c *Config) Executor() executor.Config {
	return executor.Config{
		StackCapacity:    c.VM.StackCapacity,
		MaxStackCapacity: c.VM.MaxStackCapacity,
		MaxSteps:         c.VM.MaxSteps,
		MaxStepsCeiling:  c.VM.MaxStepsCeiling,
		MaxOutputSize:    c.VM.MaxOutputSize,
		RecordAll:        c.VM.RecordAll,
	}
}

// RPCServer returns the JSON-RPC server configuration.
func (c *Config) RPCServer() rpc.Config {
	cfg := rpc.DefaultConfig()
	cfg.Addr = c.RPC.Addr
	cfg.EnableCORS = c.RPC.CORS
	cfg.AllowedOrigins = c.RPC.AllowedOrigins
	cfg.LogRequests = c.RPC.LogRequests
	cfg.MaxRequestSize = c.RPC.MaxRequestSize
	if c.RPC.ReadTimeout.Duration > 0 {
		cfg.ReadTimeout = c.RPC.ReadTimeout.Duration
	}
	if c.RPC.WriteTimeout.Duration > 0 {
		cfg.WriteTimeout = c.RPC.WriteTimeout.Duration
	}
	return cfg
}

// GRPCServer returns the gRPC server configuration.
func (c *Config) GRPCServer() remote.Config {
	cfg := remote.DefaultConfig()
	cfg.Addr = c.GRPC.Addr
	cfg.MaxMessageSize = c.GRPC.MaxMessageSize
	cfg.LogRequests = c.GRPC.LogRequests
	return cfg
}

// DashboardServer returns the dashboard configuration.
func (c *Config) DashboardServer() dashboard.Config {
	cfg := dashboard.DefaultConfig()
	cfg.Addr = c.Dashboard.Addr
	return cfg
}

// StorePath returns the program library database file.
func (c *Config) StorePath() string {
	return filepath.Join(c.Store.DataDir, "programs.db")
}

// JournalPath returns the run journal directory.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Store.DataDir, "journal")
}

// ApplyLogging configures the standard logrus logger.
func (c *Config) ApplyLogging() error {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	if c.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
