package docker

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
)

func TestHostPathTranslator(t *testing.T) {
	tr := NewHostPathTranslator(map[string]string{
		"/data":        "/srv/easycicd/data",
		"/data/output": "/mnt/artifacts",
	})

	cases := map[string]string{
		"/data/workspaces/1":  "/srv/easycicd/data/workspaces/1",
		"/data/output/42":     "/mnt/artifacts/42",
		"/data":               "/srv/easycicd/data",
		"/elsewhere/checkout": "/elsewhere/checkout",
	}
	for in, want := range cases {
		if got := tr.ToHost(in); got != want {
			t.Errorf("ToHost(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHostPathTranslatorEmpty(t *testing.T) {
	tr := NewHostPathTranslator(nil)
	if got := tr.ToHost("/data/x"); got != "/data/x" {
		t.Errorf("ToHost = %q, want passthrough", got)
	}
}

func TestSpecApply(t *testing.T) {
	tr := NewHostPathTranslator(map[string]string{"/data": "/host/data"})
	spec := ContainerSpec{
		Name:  "project-1-blue",
		Image: "eclipse-temurin:21-jre",
		Cmd:   []string{"java", "-jar", "app.jar"},
		Env:   map[string]string{"PORT": "3000", "APP": "svc"},
		Labels: map[string]string{
			LabelProject: "1",
			LabelSlot:    "blue",
		},
		Ports:         map[int]int{10000: 3000},
		Mounts:        []Mount{{Source: "/data/output/7", Target: "/app", ReadOnly: true}},
		RestartPolicy: "unless-stopped",
	}

	cfg, hostCfg, err := spec.apply(tr)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if cfg.Labels[LabelManaged] != "true" {
		t.Error("managed label missing")
	}
	if cfg.Labels[LabelSlot] != "blue" {
		t.Error("slot label missing")
	}

	// Env rendered sorted.
	if len(cfg.Env) != 2 || cfg.Env[0] != "APP=svc" || cfg.Env[1] != "PORT=3000" {
		t.Errorf("env = %v", cfg.Env)
	}

	bindings, ok := hostCfg.PortBindings["3000/tcp"]
	if !ok || len(bindings) != 1 || bindings[0].HostPort != "10000" {
		t.Errorf("port bindings = %v", hostCfg.PortBindings)
	}

	if len(hostCfg.Mounts) != 1 {
		t.Fatalf("mounts = %v", hostCfg.Mounts)
	}
	if hostCfg.Mounts[0].Source != "/host/data/output/7" {
		t.Errorf("mount source = %q, want host-translated path", hostCfg.Mounts[0].Source)
	}
	if !hostCfg.Mounts[0].ReadOnly {
		t.Error("mount not read-only")
	}

	if string(hostCfg.RestartPolicy.Name) != "unless-stopped" {
		t.Errorf("restart policy = %q", hostCfg.RestartPolicy.Name)
	}
}

func TestSpecApplyRequiresImage(t *testing.T) {
	if _, _, err := (ContainerSpec{Name: "x"}).apply(NewHostPathTranslator(nil)); err == nil {
		t.Error("expected error for missing image")
	}
}

func TestMergeEnv(t *testing.T) {
	base := map[string]string{"A": "1", "B": "2"}
	merged := MergeEnv(base, map[string]string{"B": "3"}, map[string]string{"C": "4"})

	if merged["A"] != "1" || merged["B"] != "3" || merged["C"] != "4" {
		t.Errorf("merged = %v", merged)
	}
	if base["B"] != "2" {
		t.Error("MergeEnv mutated its input")
	}
}

func frame(stream byte, payload string) []byte {
	var header [8]byte
	header[0] = stream
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return append(header[:], payload...)
}

func TestDemuxFrames(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(frame(1, "out line\n"))
	buf.Write(frame(2, "err line\n"))
	buf.Write(frame(1, "more\n"))

	ch := make(chan Chunk, 8)
	demuxFrames(context.Background(), &buf, ch)
	close(ch)

	var chunks []Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if chunks[0].Stream != "stdout" || string(chunks[0].Data) != "out line\n" {
		t.Errorf("chunk 0 = %+v", chunks[0])
	}
	if chunks[1].Stream != "stderr" || string(chunks[1].Data) != "err line\n" {
		t.Errorf("chunk 1 = %+v", chunks[1])
	}
	if chunks[2].Stream != "stdout" {
		t.Errorf("chunk 2 = %+v", chunks[2])
	}
}

func TestDemuxFramesTruncated(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(frame(1, "complete\n"))
	buf.Write([]byte{1, 0, 0}) // torn header

	ch := make(chan Chunk, 8)
	demuxFrames(context.Background(), &buf, ch)
	close(ch)

	var n int
	for range ch {
		n++
	}
	if n != 1 {
		t.Errorf("got %d chunks from truncated stream, want 1", n)
	}
}
