package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// ExecSession is a single exec'd process inside a running container with
// its I/O attached. The session ends when the remote process exits or the
// context is canceled.
type ExecSession struct {
	cli    *Client
	execID string
	conn   io.Closer
	reader io.Reader
	writer io.Writer
	tty    bool
}

// Exec starts command inside the container and attaches to it.
func (c *Client) Exec(ctx context.Context, handle string, command []string, tty bool) (*ExecSession, error) {
	created, err := c.cli.ContainerExecCreate(ctx, handle, container.ExecOptions{
		Cmd:          command,
		Tty:          tty,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating exec: %w", classify(err, nil))
	}

	resp, err := c.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: tty})
	if err != nil {
		return nil, fmt.Errorf("attaching exec: %w", classify(err, nil))
	}

	return &ExecSession{
		cli:    c,
		execID: created.ID,
		conn:   resp.Conn,
		reader: resp.Reader,
		writer: resp.Conn,
		tty:    tty,
	}, nil
}

// Stream copies the session's output to stdout/stderr and stdin into the
// process, returning when the remote side ends. In TTY mode output is a
// single raw stream; otherwise it arrives multiplexed and is demuxed.
func (s *ExecSession) Stream(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) error {
	outputDone := make(chan error, 1)

	go func() {
		var err error
		if s.tty {
			_, err = io.Copy(stdout, s.reader)
		} else {
			_, err = stdcopy.StdCopy(stdout, stderr, s.reader)
		}
		outputDone <- err
	}()

	if stdin != nil {
		go func() {
			_, _ = io.Copy(s.writer, stdin)
			if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
				_ = cw.CloseWrite()
			}
		}()
	}

	select {
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	case err := <-outputDone:
		if err != nil && err != io.EOF {
			return err
		}
		return nil
	}
}

// Resize adjusts the remote TTY dimensions.
func (s *ExecSession) Resize(ctx context.Context, height, width uint) error {
	return s.cli.cli.ContainerExecResize(ctx, s.execID, container.ResizeOptions{
		Height: height,
		Width:  width,
	})
}

// ExitCode returns the exec'd process's exit code once it has finished.
func (s *ExecSession) ExitCode(ctx context.Context) (int, error) {
	info, err := s.cli.cli.ContainerExecInspect(ctx, s.execID)
	if err != nil {
		return -1, fmt.Errorf("inspecting exec: %w", classify(err, nil))
	}
	return info.ExitCode, nil
}

// Close tears down the attached connection.
func (s *ExecSession) Close() {
	_ = s.conn.Close()
}
