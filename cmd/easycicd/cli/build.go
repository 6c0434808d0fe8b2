package cli

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/daemon"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Trigger and inspect builds",
}

var (
	buildCommit  string
	buildMessage string
	buildAuthor  string
)

var buildTriggerCmd = &cobra.Command{
	Use:   "trigger PROJECT",
	Short: "Enqueue a build (branch head unless --commit is given)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		buildID, err := client().TriggerBuild(cmd.Context(), args[0], daemon.TriggerBuildRequest{
			CommitHash:    buildCommit,
			CommitMessage: buildMessage,
			Author:        buildAuthor,
		})
		if err != nil {
			return err
		}
		fmt.Printf("queued build %d for %s\n", buildID, args[0])
		return nil
	},
}

var buildListCmd = &cobra.Command{
	Use:   "list PROJECT",
	Short: "List a project's builds",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		builds, err := client().ListBuilds(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\t#\tCOMMIT\tSTATUS\tSLOT\tDURATION")
		for _, b := range builds {
			commit := b.Commit.Hash
			if len(commit) > 8 {
				commit = commit[:8]
			}
			slot := "-"
			if b.DeployedSlot != nil {
				slot = string(*b.DeployedSlot)
			}
			duration := "-"
			if b.Duration > 0 {
				duration = b.Duration.String()
			}
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n", b.ID, b.BuildNumber, commit, b.Status, slot, duration)
		}
		return w.Flush()
	},
}

var logsDeploy bool

var logsCmd = &cobra.Command{
	Use:   "logs BUILD_ID",
	Short: "Print a build's log (or deploy log with --deploy)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		buildID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid build id %q", args[0])
		}
		return client().BuildLog(cmd.Context(), buildID, logsDeploy, os.Stdout)
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback BUILD_ID",
	Short: "Re-deploy a past successful build onto its original slot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		buildID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid build id %q", args[0])
		}
		if err := client().Rollback(cmd.Context(), buildID); err != nil {
			return err
		}
		fmt.Printf("rollback to build %d started\n", buildID)
		return nil
	},
}

func init() {
	buildTriggerCmd.Flags().StringVar(&buildCommit, "commit", "", "commit hash to build")
	buildTriggerCmd.Flags().StringVar(&buildMessage, "message", "", "commit message")
	buildTriggerCmd.Flags().StringVar(&buildAuthor, "author", "", "commit author")
	logsCmd.Flags().BoolVar(&logsDeploy, "deploy", false, "show the deploy log instead of the build log")

	buildCmd.AddCommand(buildTriggerCmd, buildListCmd)
	rootCmd.AddCommand(buildCmd, logsCmd, rollbackCmd)
}
