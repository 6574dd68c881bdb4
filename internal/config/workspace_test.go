package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWorkspace(t *testing.T, root, content string) {
	t.Helper()
	wsDir := filepath.Join(root, WorkspaceDirName)
	require.NoError(t, os.MkdirAll(wsDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(wsDir, WorkspaceConfigFile), []byte(content), 0644))
}

func TestDiscoverWorkspace_Found(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, "server:\n  name: test\n")

	result, err := DiscoverWorkspace(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, tmpDir, result)
}

func TestDiscoverWorkspace_WalkUp(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, "server:\n  name: test\n")

	nested := filepath.Join(tmpDir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	result, err := DiscoverWorkspace(nested)
	require.NoError(t, err)
	assert.Equal(t, tmpDir, result)
}

func TestDiscoverWorkspace_NotFound(t *testing.T) {
	result, err := DiscoverWorkspace(t.TempDir())
	require.NoError(t, err)
	// A parent of the temp dir could in theory hold a workspace; only assert when none does.
	if result != "" {
		t.Logf("found ancestor workspace %q", result)
	}
}

func TestLoadWithWorkspace_ExplicitDir(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, `
logger:
  log_file: "data/neetlink.log"
recorder:
  enable: true
  dir: "data/traces"
probe:
  timeout: "4s"
`)

	cfg, wsDir, err := LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: tmpDir})
	require.NoError(t, err)
	assert.Equal(t, tmpDir, wsDir)
	assert.True(t, cfg.Recorder.Enable)
	assert.Equal(t, filepath.Join(tmpDir, "data/traces"), cfg.Recorder.Dir)
	assert.Equal(t, filepath.Join(tmpDir, "data/neetlink.log"), cfg.Logger.LogFile)
	assert.Equal(t, "4s", cfg.Probe.Timeout)
	assert.Equal(t, "neetlink", cfg.Server.Name, "defaults survive partial YAML")
}

func TestLoadWithWorkspace_ExplicitOverridesWorkspace(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, "probe:\n  timeout: \"4s\"\n  user_agent: \"ws-agent\"\n")

	explicit := filepath.Join(t.TempDir(), "explicit.yaml")
	require.NoError(t, os.WriteFile(explicit, []byte("probe:\n  timeout: \"9s\"\n"), 0644))

	cfg, _, err := LoadWithWorkspace(explicit, WorkspaceOptions{ExplicitDir: tmpDir})
	require.NoError(t, err)
	assert.Equal(t, "9s", cfg.Probe.Timeout)
	assert.Equal(t, "ws-agent", cfg.Probe.UserAgent)
}

func TestLoadWithWorkspace_Disabled(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, "server:\n  name: from-workspace\n")

	cfg, wsDir, err := LoadWithWorkspace("", WorkspaceOptions{Disable: true, ExplicitDir: tmpDir})
	require.NoError(t, err)
	assert.Empty(t, wsDir)
	assert.Equal(t, "neetlink", cfg.Server.Name)
}

func TestLoadWithWorkspace_BadExplicitFile(t *testing.T) {
	_, _, err := LoadWithWorkspace("/does/not/exist.yaml", WorkspaceOptions{Disable: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading explicit config")
}

func TestResolveWorkspacePaths_AbsoluteUntouched(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "abs.log")
	cfg := DefaultConfig()
	cfg.Logger.LogFile = abs
	cfg.Recorder.Dir = ""

	resolved := resolveWorkspacePaths(cfg, "/ws")
	assert.Equal(t, abs, resolved.Logger.LogFile)
	assert.Empty(t, resolved.Recorder.Dir)
}

func TestInitWorkspace_Creates(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, InitWorkspace(root))

	assert.FileExists(t, filepath.Join(root, WorkspaceDirName, WorkspaceConfigFile))
	assert.FileExists(t, filepath.Join(root, WorkspaceDirName, ".gitignore"))
	assert.DirExists(t, filepath.Join(root, WorkspaceDirName, "data"))

	// The template is all comments, so it must load cleanly.
	_, wsDir, err := LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: root})
	require.NoError(t, err)
	assert.Equal(t, root, wsDir)
}

func TestInitWorkspace_AlreadyExists(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, InitWorkspace(root))

	err := InitWorkspace(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}
