package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream controller events as tagged JSON lines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return client().Events(cmd.Context(), func(line []byte) {
			fmt.Println(string(line))
		})
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}
