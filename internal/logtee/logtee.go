// Package logtee fans a container log stream out to pluggable sinks: the
// persistent log file and the event bus. The same pipeline serves build
// logs and named-container log viewing.
package logtee

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/S-Choi-1997/easyCICD-sub000/internal/docker"
)

// Sink receives one sanitized log line with its stream tag ("stdout" or
// "stderr"). Sinks must not block; slow consumers buffer or drop on their
// own side.
type Sink func(line, stream string)

// Tee consumes the log stream until it ends or ctx is canceled, feeding
// every line to all sinks. Invalid UTF-8 is replaced rather than dropped
// so partial encoding errors never stall the pipeline. Chunks that split
// a line are reassembled per stream; byte order within each stream is
// preserved.
func Tee(ctx context.Context, stream *docker.LogStream, sinks ...Sink) {
	defer stream.Close()

	partial := make(map[string]string, 2)

	emit := func(line, streamName string) {
		line = strings.ToValidUTF8(line, "�")
		for _, sink := range sinks {
			sink(line, streamName)
		}
	}

	for {
		select {
		case <-ctx.Done():
			// Detach: flush what we have and leave the container running.
			for streamName, rest := range partial {
				if rest != "" {
					emit(rest, streamName)
				}
			}
			return
		case chunk, ok := <-stream.C:
			if !ok {
				for streamName, rest := range partial {
					if rest != "" {
						emit(rest, streamName)
					}
				}
				return
			}

			data := partial[chunk.Stream] + string(chunk.Data)
			for {
				idx := strings.IndexByte(data, '\n')
				if idx < 0 {
					break
				}
				emit(strings.TrimSuffix(data[:idx], "\r"), chunk.Stream)
				data = data[idx+1:]
			}
			partial[chunk.Stream] = data
		}
	}
}

// FileSink appends lines to w, serializing concurrent writers.
func FileSink(w io.StringWriter) Sink {
	var mu sync.Mutex
	return func(line, _ string) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = w.WriteString(line + "\n")
	}
}
