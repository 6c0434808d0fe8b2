package docker

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
)

// Chunk is one piece of container output tagged with its stream.
type Chunk struct {
	Data   []byte
	Stream string // "stdout" or "stderr"
}

// LogStream delivers a container's output chunks in the order the runtime
// wrote them. The channel closes when the container exits or the stream
// is closed.
type LogStream struct {
	C      <-chan Chunk
	cancel context.CancelFunc
}

// Close cancels the subscription. Safe to call more than once.
func (s *LogStream) Close() {
	s.cancel()
}

// NewLogStream wraps an existing chunk channel as a LogStream. Fake
// drivers in tests use this; cancel may be nil.
func NewLogStream(c <-chan Chunk, cancel context.CancelFunc) *LogStream {
	if cancel == nil {
		cancel = func() {}
	}
	return &LogStream{C: c, cancel: cancel}
}

// Logs attaches to a container's stdout/stderr and follows until exit or
// cancellation. The controller's containers run without a TTY, so the
// stream arrives multiplexed in the engine's frame format and is demuxed
// here, preserving the delivery order across both streams.
func (c *Client) Logs(ctx context.Context, handle string) (*LogStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	reader, err := c.cli.ContainerLogs(ctx, handle, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("attaching logs: %w", classify(err, nil))
	}

	ch := make(chan Chunk, 16)
	go func() {
		defer close(ch)
		defer drainClose(reader)
		demuxFrames(ctx, reader, ch)
	}()

	return &LogStream{C: ch, cancel: cancel}, nil
}

// demuxFrames parses the engine's 8-byte frame headers
// [stream, 0, 0, 0, len(4, big-endian)] and forwards payloads.
func demuxFrames(ctx context.Context, r io.Reader, ch chan<- Chunk) {
	var header [8]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return
		}

		streamName := "stdout"
		if header[0] == 2 {
			streamName = "stderr"
		}

		size := binary.BigEndian.Uint32(header[4:])
		if size == 0 {
			continue
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return
		}

		select {
		case ch <- Chunk{Data: payload, Stream: streamName}:
		case <-ctx.Done():
			return
		}
	}
}
