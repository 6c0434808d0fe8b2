// Package cli implements the easycicd command line interface using Cobra.
// The serve command hosts the controller; every other command talks to it
// over the unix-socket control API.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/config"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/daemon"
	"github.com/S-Choi-1997/easyCICD-sub000/internal/log"
)

var (
	dataDir string
	verbose bool
	jsonOut bool

	// cfg is loaded once in the persistent pre-run.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "easycicd",
	Short: "Self-hosted continuous delivery controller",
	Long: `easycicd watches source repositories, compiles each commit in
ephemeral builder containers and performs zero-downtime blue/green
deployment of the artifacts behind a built-in reverse proxy.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(dataDir)
		if err != nil {
			return err
		}

		return log.Init(log.Options{
			Verbose:       verbose,
			JSONFormat:    jsonOut,
			Dir:           cfg.DataDir + "/debug",
			RetentionDays: cfg.LogRetentionDays,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.easycicd)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "JSON log output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// client returns a daemon API client for the configured socket.
func client() *daemon.Client {
	return daemon.NewClient(cfg.APISocket)
}
