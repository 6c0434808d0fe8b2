package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/daemon"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the controller daemon",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}

	log.Info("starting controller", "data_dir", cfg.DataDir, "proxy_addr", cfg.ProxyAddr, "base_domain", cfg.BaseDomain)
	return d.Run(ctx)
}
