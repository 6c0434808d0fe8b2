package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/store"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var (
	projRepo       string
	projBranch     string
	projPathFilter string
	projBuildImage string
	projBuildCmd   string
	projCacheClass string
	projWorkDir    string
	projBuildEnv   map[string]string
	projRunImage   string
	projRunCmd     string
	projRunPort    int
	projHealthPath string
	projRuntimeEnv map[string]string
)

var projectCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Register a project and allocate its slot ports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := client().CreateProject(cmd.Context(), store.ProjectSpec{
			Name:       args[0],
			RepoURL:    projRepo,
			Branch:     projBranch,
			PathFilter: projPathFilter,
			Build: store.BuildRecipe{
				Image:      projBuildImage,
				Command:    projBuildCmd,
				CacheClass: projCacheClass,
				WorkDir:    projWorkDir,
				Env:        projBuildEnv,
			},
			Runtime: store.RuntimeRecipe{
				Image:           projRunImage,
				Command:         projRunCmd,
				Port:            projRunPort,
				HealthCheckPath: projHealthPath,
				Env:             projRuntimeEnv,
			},
		})
		if err != nil {
			return err
		}
		fmt.Printf("created project %s (id %d, blue %d, green %d)\n", p.Name, p.ID, p.BluePort, p.GreenPort)
		fmt.Printf("routed at %s-app.%s\n", p.Name, cfg.BaseDomain)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		projects, err := client().ListProjects(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tACTIVE\tSTATUS\tPORTS\tLAST BUILD")
		for _, ps := range projects {
			p := ps.Project
			lastBuild := "-"
			if ps.LastBuild != nil {
				lastBuild = fmt.Sprintf("#%d %s", ps.LastBuild.BuildNumber, ps.LastBuild.Status)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d/%d\t%s\n",
				p.ID, p.Name, p.ActiveSlot, p.DeploymentStatus, p.BluePort, p.GreenPort, lastBuild)
		}
		return w.Flush()
	},
}

var projectRmCmd = &cobra.Command{
	Use:   "rm NAME",
	Short: "Destroy a project, its builds and containers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().DeleteProject(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("removed project %s\n", args[0])
		return nil
	},
}

func init() {
	projectCreateCmd.Flags().StringVar(&projRepo, "repo", "", "repository URL (required)")
	projectCreateCmd.Flags().StringVar(&projBranch, "branch", "main", "branch to build")
	projectCreateCmd.Flags().StringVar(&projPathFilter, "path-filter", "", "only build commits touching this path")
	projectCreateCmd.Flags().StringVar(&projBuildImage, "build-image", "", "builder image (required)")
	projectCreateCmd.Flags().StringVar(&projBuildCmd, "build-cmd", "", "build command (required)")
	projectCreateCmd.Flags().StringVar(&projCacheClass, "cache", "generic", "dependency cache class (npm, gradle, go, ...)")
	projectCreateCmd.Flags().StringVar(&projWorkDir, "workdir", "", "working directory inside the source tree")
	projectCreateCmd.Flags().StringToStringVar(&projBuildEnv, "build-env", nil, "build environment (KEY=VALUE)")
	projectCreateCmd.Flags().StringVar(&projRunImage, "run-image", "", "runtime image (required)")
	projectCreateCmd.Flags().StringVar(&projRunCmd, "run-cmd", "", "runtime command (required)")
	projectCreateCmd.Flags().IntVar(&projRunPort, "port", 0, "port the app listens on inside its container (required)")
	projectCreateCmd.Flags().StringVar(&projHealthPath, "health-path", "/health", "health check path")
	projectCreateCmd.Flags().StringToStringVar(&projRuntimeEnv, "run-env", nil, "runtime environment (KEY=VALUE)")
	for _, required := range []string{"repo", "build-image", "build-cmd", "run-image", "run-cmd", "port"} {
		_ = projectCreateCmd.MarkFlagRequired(required)
	}

	projectCmd.AddCommand(projectCreateCmd, projectListCmd, projectRmCmd)
	rootCmd.AddCommand(projectCmd)
}
