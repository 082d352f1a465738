package setup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/msageha/herald/internal/model"
	atomicyaml "github.com/msageha/herald/internal/yaml"
)

func newProject(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.Mkdir(dir, 0755))
	return dir
}

func readConfig(t *testing.T, base string) model.Config {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(base, "config.yaml"))
	require.NoError(t, err)
	var cfg model.Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	return cfg
}

func TestRun_Layout(t *testing.T) {
	project := newProject(t, "myproject")
	require.NoError(t, Run(project, ""))
	base := filepath.Join(project, DirName)

	for _, d := range layout {
		info, err := os.Stat(filepath.Join(base, d))
		if assert.NoError(t, err, d) {
			assert.True(t, info.IsDir(), d)
		}
	}
	_, err := os.Stat(filepath.Join(base, "locks", "daemon.lock"))
	assert.True(t, os.IsNotExist(err), "setup must not leave a daemon.lock behind")
	_, err = os.Stat(filepath.Join(base, "config.yaml.bak"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_Config(t *testing.T) {
	project := newProject(t, "myproject")
	require.NoError(t, Run(project, ""))

	cfg := readConfig(t, filepath.Join(project, DirName))
	assert.Equal(t, "myproject", cfg.Project.Name)
	assert.Equal(t, "1.0.0", cfg.Herald.Version)
	assert.True(t, filepath.IsAbs(cfg.Herald.ProjectRoot))
	_, err := time.Parse(time.RFC3339, cfg.Herald.Created)
	assert.NoError(t, err)
	assert.Equal(t, 10000, cfg.Messages.DefaultDurationMs)
	assert.Equal(t, 20000, cfg.Messages.HighDurationMs)
	assert.Equal(t, []string{"banner"}, cfg.Delegate.Kinds)
	assert.True(t, cfg.Inbox.Enabled)
}

func TestRun_ProjectNameOverride(t *testing.T) {
	project := newProject(t, "dir")
	require.NoError(t, Run(project, "custom"))
	assert.Equal(t, "custom", readConfig(t, filepath.Join(project, DirName)).Project.Name)
}

func TestRun_StateSkeletons(t *testing.T) {
	project := newProject(t, "p")
	require.NoError(t, Run(project, ""))
	state := filepath.Join(project, DirName, "state")

	var snap model.QueueSnapshot
	require.NoError(t, atomicyaml.ReadFile(filepath.Join(state, "snapshot.yaml"), atomicyaml.FileTypeStateSnapshot, &snap))
	assert.Empty(t, snap.Records)
	assert.False(t, snap.Suspended)

	var metrics model.Metrics
	require.NoError(t, atomicyaml.ReadFile(filepath.Join(state, "metrics.yaml"), atomicyaml.FileTypeStateMetrics, &metrics))
	assert.Equal(t, atomicyaml.CurrentSchemaVersion, metrics.SchemaVersion)
	assert.Nil(t, metrics.UpdatedAt)
}

func TestRun_RejectsExistingDir(t *testing.T) {
	project := newProject(t, "p")
	existing := filepath.Join(project, DirName)
	require.NoError(t, os.Mkdir(existing, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(existing, "keep"), []byte("x"), 0644))

	err := Run(project, "")
	assert.ErrorIs(t, err, ErrExists)
	_, statErr := os.Stat(filepath.Join(existing, "keep"))
	assert.NoError(t, statErr, "existing directory must be left alone")
}

func TestRun_CleansUpOnFailure(t *testing.T) {
	project := newProject(t, "p")
	base := filepath.Join(project, DirName)
	// creating inbox/ twice fails the layout step
	orig := layout
	layout = []string{"inbox", "inbox"}
	t.Cleanup(func() { layout = orig })

	require.Error(t, Run(project, ""))
	_, err := os.Stat(base)
	assert.True(t, os.IsNotExist(err), "partial directory should be removed")
}

func TestCheckDelegates(t *testing.T) {
	tests := []struct {
		kinds   []string
		wantErr bool
	}{
		{[]string{"banner", "notify"}, false},
		{[]string{"tmux"}, false},
		{[]string{"log"}, true},
		{nil, true},
	}
	for _, tt := range tests {
		err := checkDelegates(tt.kinds)
		assert.Equal(t, tt.wantErr, err != nil, "%v: %v", tt.kinds, err)
	}
}
