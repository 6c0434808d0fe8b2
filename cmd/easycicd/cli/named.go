package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
)

var namedCmd = &cobra.Command{
	Use:   "named",
	Short: "Manage standalone named containers",
}

var (
	namedImage    string
	namedCommand  string
	namedPort     int
	namedHTTP     bool
	namedDataPath string
	namedEnv      map[string]string
)

var namedCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create and start a named container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client().CreateNamed(cmd.Context(), store.NamedContainerSpec{
			Name:          args[0],
			Image:         namedImage,
			Command:       namedCommand,
			ContainerPort: namedPort,
			HTTP:          namedHTTP,
			DataPath:      namedDataPath,
			Env:           namedEnv,
		})
		if err != nil {
			return err
		}
		fmt.Printf("created container-%s", c.Name)
		if c.HostPort > 0 {
			fmt.Printf(" on host port %d", c.HostPort)
		}
		fmt.Println()
		if c.HTTP {
			fmt.Printf("routed at %s.%s\n", c.Name, cfg.BaseDomain)
		}
		return nil
	},
}

var namedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List named containers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		containers, err := client().ListNamed(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tIMAGE\tPORT\tHTTP\tRUNNING")
		for _, c := range containers {
			port := "-"
			if c.HostPort > 0 {
				port = fmt.Sprintf("%d->%d", c.HostPort, c.ContainerPort)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%v\n", c.Name, c.Image, port, c.HTTP, c.Handle != nil)
		}
		return w.Flush()
	},
}

var namedRmCmd = &cobra.Command{
	Use:   "rm NAME",
	Short: "Stop and remove a named container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return client().RemoveNamed(cmd.Context(), args[0])
	},
}

func namedOpCmd(op, short string) *cobra.Command {
	return &cobra.Command{
		Use:   op + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().NamedOp(cmd.Context(), args[0], op)
		},
	}
}

func init() {
	namedCreateCmd.Flags().StringVar(&namedImage, "image", "", "container image (required)")
	namedCreateCmd.Flags().StringVar(&namedCommand, "cmd", "", "override command")
	namedCreateCmd.Flags().IntVar(&namedPort, "port", 0, "container port to publish")
	namedCreateCmd.Flags().BoolVar(&namedHTTP, "http", false, "expose through the router at NAME.<base-domain>")
	namedCreateCmd.Flags().StringVar(&namedDataPath, "data-path", "", "mount a persistent data dir at this container path")
	namedCreateCmd.Flags().StringToStringVar(&namedEnv, "env", nil, "environment (KEY=VALUE)")
	_ = namedCreateCmd.MarkFlagRequired("image")

	namedCmd.AddCommand(namedCreateCmd, namedListCmd, namedRmCmd,
		namedOpCmd("start", "Start a stopped named container"),
		namedOpCmd("stop", "Stop a named container, keeping its record"),
	)
	rootCmd.AddCommand(namedCmd)
}
