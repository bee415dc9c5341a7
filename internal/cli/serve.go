package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/psgate/psgate/internal/config"
	"github.com/psgate/psgate/internal/gateway"
	"github.com/psgate/psgate/internal/httpapi"
	"github.com/psgate/psgate/internal/metrics"
	"github.com/psgate/psgate/internal/rpc"
)

var flagStdio bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Runs the gateway. By default it listens on a unix socket under the
data directory; with --stdio it speaks framed JSON-RPC on stdin/stdout for
direct embedding by an AI client.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}

		logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
		if lvl, perr := log.ParseLevel(cfg.General.LogLevel); perr == nil {
			logger.SetLevel(lvl)
		}

		gw, err := gateway.Build(cfg, logger)
		if err != nil {
			return err
		}
		defer gw.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var g errgroup.Group

		// Background maintenance: rate-bucket eviction and learned-safe
		// hot reload.
		g.Go(func() error {
			gw.Limiter().Sweep(ctx)
			return nil
		})
		g.Go(func() error {
			return gw.Learning().ApprovedList().Watch(ctx)
		})

		if cfg.HTTP.Addr != "" {
			promReg := prometheus.NewRegistry()
			gw.Metrics().WithBridge(metrics.NewBridge(promReg))
			httpSrv := httpapi.New(cfg.HTTP.Addr, gw.Events(), promReg, logger)
			g.Go(func() error {
				return httpSrv.Start(ctx)
			})
		}

		if flagStdio {
			srv, err := rpc.NewServer(gw, "", logger)
			if err != nil {
				return err
			}
			logger.Info("serving on stdio")
			srv.ServeConn(os.Stdin, os.Stdout, "stdio")
			stop()
			return g.Wait()
		}

		sock := socketPath(cfg.General.DataDir)
		srv, err := rpc.NewServer(gw, sock, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return srv.Start(ctx)
		})
		<-ctx.Done()
		if err := srv.Stop(); err != nil {
			logger.Warn("rpc shutdown", "error", err)
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&flagStdio, "stdio", false, "serve JSON-RPC on stdin/stdout")
	rootCmd.AddCommand(serveCmd)
}
