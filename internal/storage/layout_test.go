package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLayoutPaths(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLayout(dir)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}

	if got := l.WorkspaceDir(7); got != filepath.Join(dir, "workspaces", "7") {
		t.Errorf("WorkspaceDir = %q", got)
	}
	if got := l.OutputDir(42); got != filepath.Join(dir, "output", "42") {
		t.Errorf("OutputDir = %q", got)
	}
	if got := l.BuildLogPath(7, 42); got != filepath.Join(dir, "logs", "7", "42.log") {
		t.Errorf("BuildLogPath = %q", got)
	}
	if got := l.DeployLogPath(7, 42); got != filepath.Join(dir, "logs", "7", "42_deploy.log") {
		t.Errorf("DeployLogPath = %q", got)
	}
	if got := l.CacheDir("npm"); got != filepath.Join(dir, "cache", "npm") {
		t.Errorf("CacheDir = %q", got)
	}
	if got := l.ContainerDataDir("redis"); got != filepath.Join(dir, "containers", "redis", "data") {
		t.Errorf("ContainerDataDir = %q", got)
	}
}

func TestEnsureBuildDirs(t *testing.T) {
	l, err := NewLayout(t.TempDir())
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	if err := l.EnsureBuildDirs(1, 2, "gradle"); err != nil {
		t.Fatalf("EnsureBuildDirs: %v", err)
	}
	for _, d := range []string{l.OutputDir(2), l.CacheDir("gradle")} {
		info, err := os.Stat(d)
		if err != nil || !info.IsDir() {
			t.Errorf("missing dir %s: %v", d, err)
		}
	}
}
