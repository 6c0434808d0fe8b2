package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/docker"
)

var execCmd = &cobra.Command{
	Use:   "exec PROJECT [COMMAND...]",
	Short: "Open a shell (or run a command) in the active slot's container",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runExec,
}

func init() {
	rootCmd.AddCommand(execCmd)
}

// runExec talks to the container runtime directly: the byte stream of an
// interactive session doesn't fit the JSON control API.
func runExec(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ps, err := client().GetProject(ctx, args[0])
	if err != nil {
		return err
	}
	p := ps.Project
	handle := p.SlotContainer(p.ActiveSlot)
	if handle == nil {
		return fmt.Errorf("project %s has no running container", p.Name)
	}

	command := args[1:]
	if len(command) == 0 {
		command = []string{"/bin/sh"}
	}

	driver, err := docker.New(docker.Options{Host: cfg.DockerHost, HostPaths: cfg.HostPaths})
	if err != nil {
		return err
	}
	defer driver.Close()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	session, err := driver.Exec(ctx, *handle, command, interactive)
	if err != nil {
		return err
	}
	defer session.Close()

	if interactive {
		oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("entering raw mode: %w", err)
		}
		defer term.Restore(int(os.Stdin.Fd()), oldState)

		resize := func() {
			if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
				_ = session.Resize(ctx, uint(h), uint(w))
			}
		}
		resize()

		winch := make(chan os.Signal, 1)
		signal.Notify(winch, syscall.SIGWINCH)
		defer signal.Stop(winch)
		go func() {
			for range winch {
				resize()
			}
		}()
	}

	if err := session.Stream(ctx, os.Stdin, os.Stdout, os.Stderr); err != nil {
		return err
	}

	code, err := session.ExitCode(ctx)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("command exited with code %d", code)
	}
	return nil
}
