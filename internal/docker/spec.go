package docker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
)

// ContainerSpec describes a container to create and start. Callers supply
// controller-local mount sources; the client translates them to host paths.
type ContainerSpec struct {
	Name       string
	Image      string
	Entrypoint []string
	Cmd        []string
	WorkDir    string
	Env        map[string]string
	Labels     map[string]string

	// Ports maps host port -> container port.
	Ports map[int]int

	Mounts []Mount

	// RestartPolicy is a Docker restart policy name ("no",
	// "unless-stopped", ...). Empty means "no".
	RestartPolicy string

	// AutoRemove asks the runtime to delete the container on exit.
	AutoRemove bool
}

// Mount is a bind mount with a controller-local source path.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

func (s ContainerSpec) apply(paths *HostPathTranslator) (*container.Config, *container.HostConfig, error) {
	if s.Image == "" {
		return nil, nil, fmt.Errorf("container spec for %s has no image", s.Name)
	}

	labels := make(map[string]string, len(s.Labels)+1)
	for k, v := range s.Labels {
		labels[k] = v
	}
	labels[LabelManaged] = "true"

	cfg := &container.Config{
		Image:      s.Image,
		Entrypoint: s.Entrypoint,
		Cmd:        s.Cmd,
		WorkingDir: s.WorkDir,
		Env:        envList(s.Env),
		Labels:     labels,
	}

	var exposed nat.PortSet
	var bindings nat.PortMap
	if len(s.Ports) > 0 {
		exposed = make(nat.PortSet, len(s.Ports))
		bindings = make(nat.PortMap, len(s.Ports))
		for hostPort, containerPort := range s.Ports {
			port := nat.Port(strconv.Itoa(containerPort) + "/tcp")
			exposed[port] = struct{}{}
			bindings[port] = []nat.PortBinding{{
				HostIP:   "0.0.0.0",
				HostPort: strconv.Itoa(hostPort),
			}}
		}
		cfg.ExposedPorts = exposed
	}

	mounts := make([]mount.Mount, len(s.Mounts))
	for i, m := range s.Mounts {
		mounts[i] = mount.Mount{
			Type:     mount.TypeBind,
			Source:   paths.ToHost(m.Source),
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		}
	}

	restart := container.RestartPolicy{}
	if s.RestartPolicy != "" && s.RestartPolicy != "no" {
		restart.Name = container.RestartPolicyMode(s.RestartPolicy)
	}

	hostCfg := &container.HostConfig{
		Mounts:        mounts,
		PortBindings:  bindings,
		RestartPolicy: restart,
		AutoRemove:    s.AutoRemove,
	}

	return cfg, hostCfg, nil
}

// envList renders an environment map as KEY=VALUE pairs in a stable order.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// MergeEnv layers overlays over base without mutating either. Later maps
// win.
func MergeEnv(base map[string]string, overlays ...map[string]string) map[string]string {
	merged := make(map[string]string, len(base))
	for k, v := range base {
		merged[k] = v
	}
	for _, o := range overlays {
		for k, v := range o {
			merged[k] = v
		}
	}
	return merged
}

// HostPathTranslator rewrites controller-local paths to the host's view
// using a configured prefix map. Callers never construct host paths
// themselves.
type HostPathTranslator struct {
	// prefixes is sorted longest-first so the most specific mapping wins.
	prefixes []prefixMapping
}

type prefixMapping struct {
	local string
	host  string
}

// NewHostPathTranslator builds a translator from a local-prefix -> host-
// prefix map. An empty map passes paths through unchanged.
func NewHostPathTranslator(m map[string]string) *HostPathTranslator {
	t := &HostPathTranslator{}
	for local, host := range m {
		t.prefixes = append(t.prefixes, prefixMapping{
			local: strings.TrimSuffix(local, "/"),
			host:  strings.TrimSuffix(host, "/"),
		})
	}
	sort.Slice(t.prefixes, func(i, j int) bool {
		return len(t.prefixes[i].local) > len(t.prefixes[j].local)
	})
	return t
}

// ToHost translates one controller-local path. Paths outside every mapped
// prefix pass through unchanged.
func (t *HostPathTranslator) ToHost(path string) string {
	for _, p := range t.prefixes {
		if path == p.local {
			return p.host
		}
		if strings.HasPrefix(path, p.local+"/") {
			return p.host + strings.TrimPrefix(path, p.local)
		}
	}
	return path
}
