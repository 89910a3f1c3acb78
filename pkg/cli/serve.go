package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fortiblox/bytevm/pkg/node"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	rpcAddr        string
	grpcAddr       string
	grpc           bool
	noRPC          bool
	dashboardAddr  string
	dashboard      bool
	inMemory       bool
	statusInterval time.Duration
}

func newServeCommand(a *app) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON-RPC and gRPC servers.",
		Long: `Start a node serving the program library and executor over JSON-RPC
and, when enabled, gRPC and the web dashboard. The node runs until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.rpcAddr, "rpc-addr", "", "JSON-RPC listen address")
	flags.StringVar(&opts.grpcAddr, "grpc-addr", "", "gRPC listen address (implies --grpc)")
	flags.BoolVar(&opts.grpc, "grpc", false, "enable the gRPC server")
	flags.BoolVar(&opts.noRPC, "no-rpc", false, "disable the JSON-RPC server")
	flags.BoolVar(&opts.dashboard, "dashboard", false, "enable the web dashboard")
	flags.StringVar(&opts.dashboardAddr, "dashboard-addr", "", "web dashboard listen address (implies --dashboard)")
	flags.BoolVar(&opts.inMemory, "in-memory", false, "keep programs and runs in memory only")
	flags.DurationVar(&opts.statusInterval, "status-interval", time.Minute, "status log interval, 0 disables")

	return cmd
}

func (a *app) serve(cmd *cobra.Command, opts serveOptions) error {
	cfg := a.cfg
	if opts.rpcAddr != "" {
		cfg.RPC.Addr = opts.rpcAddr
	}
	if opts.noRPC {
		cfg.RPC.Enabled = false
	}
	if opts.grpcAddr != "" {
		cfg.GRPC.Addr = opts.grpcAddr
		cfg.GRPC.Enabled = true
	}
	if opts.grpc {
		cfg.GRPC.Enabled = true
	}
	if opts.dashboardAddr != "" {
		cfg.Dashboard.Addr = opts.dashboardAddr
		cfg.Dashboard.Enabled = true
	}
	if opts.dashboard {
		cfg.Dashboard.Enabled = true
	}
	if opts.inMemory {
		cfg.Store.InMemory = true
		cfg.Journal.InMemory = true
	}

	n, err := node.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		return err
	}

	if opts.statusInterval > 0 {
		go logStatus(ctx, n, opts.statusInterval)
	}

	<-n.Done()
	log.Info("shutting down")

	if err := n.Stop(); err != nil {
		return err
	}
	return n.Status().LastError
}

func logStatus(ctx context.Context, n *node.Node, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := n.Status()
			fields := log.Fields{
				"uptime": status.Uptime.Round(time.Second),
				"runs":   humanize.Comma(int64(status.Runs)),
			}
			if status.StoreStats != nil {
				fields["programs"] = status.StoreStats.Names
				fields["code"] = humanize.Bytes(status.StoreStats.CodeBytes)
			}
			log.WithFields(fields).Info("status")
		}
	}
}
