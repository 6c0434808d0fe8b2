package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runtimeCmd = &cobra.Command{
	Use:   "runtime",
	Short: "Start, stop or restart a project's active slot",
}

func runtimeOpCmd(op, short string) *cobra.Command {
	return &cobra.Command{
		Use:   op + " PROJECT",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().RuntimeOp(cmd.Context(), args[0], op); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", op, args[0])
			return nil
		},
	}
}

func init() {
	runtimeCmd.AddCommand(
		runtimeOpCmd("start", "Recreate the active slot from the last deployed build"),
		runtimeOpCmd("stop", "Stop and remove the active slot's container"),
		runtimeOpCmd("restart", "Stop then start the active slot"),
	)
	rootCmd.AddCommand(runtimeCmd)
}
