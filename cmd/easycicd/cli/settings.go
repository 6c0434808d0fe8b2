package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage controller settings",
}

var settingsSetTokenCmd = &cobra.Command{
	Use:   "set-token TOKEN",
	Short: "Store the repository access token used for HTTPS clones",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().PutSetting(cmd.Context(), store.SettingRepoToken, args[0]); err != nil {
			return err
		}
		fmt.Println("token stored")
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsSetTokenCmd)
	rootCmd.AddCommand(settingsCmd)
}
