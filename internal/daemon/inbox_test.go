package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/herald/internal/model"
)

const validInbox = `schema_version: 1
file_type: inbox_message
identifier: popup_blocked
scope:
  type: tab
  id: "7"
priority: high
properties:
  title: Pop-up blocked
`

func writeInbox(t *testing.T, root, name, content string) string {
	t.Helper()
	dir := filepath.Join(root, "inbox")
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, name)
	// write beside and rename so the watcher never sees a partial file
	tmp := filepath.Join(dir, "."+name+".tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0644))
	require.NoError(t, os.Rename(tmp, path))
	return path
}

func quarantined(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(root, "quarantine"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestInbox_ScanOnStart(t *testing.T) {
	root := shortTempDir(t)
	path := writeInbox(t, root, "001.yaml", validInbox)

	td := startTestDaemon(t, root, testConfig())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "consumed file should be removed")
	active := td.status(t).Snapshot.ActiveRecords()
	require.Len(t, active, 1)
	assert.Equal(t, model.Identifier("popup_blocked"), active[0].Identifier)
	assert.Equal(t, model.PriorityHigh, active[0].Priority)
	assert.Equal(t, "Pop-up blocked", active[0].Properties.Title())
	assert.Equal(t, 1, td.metrics.snapshot().InboxFiles)
}

func TestInbox_CorruptFileQuarantined(t *testing.T) {
	root := shortTempDir(t)
	path := writeInbox(t, root, "bad.yaml", "identifier: [unterminated\n")
	writeInbox(t, root, "wrong_type.yaml", "schema_version: 1\nfile_type: state_metrics\n")
	writeInbox(t, root, "invalid.yaml", "schema_version: 1\nfile_type: inbox_message\nidentifier: a\n")

	td := startTestDaemon(t, root, testConfig())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Len(t, quarantined(t, root), 3)
	assert.Empty(t, td.status(t).Snapshot.Records)
	c := td.metrics.snapshot()
	assert.Equal(t, 3, c.InboxFiles)
	assert.Equal(t, 3, c.Quarantine)
}

func TestInbox_TooLarge(t *testing.T) {
	root := shortTempDir(t)
	cfg := testConfig()
	cfg.Inbox.MaxFileSize = 16
	writeInbox(t, root, "big.yaml", validInbox)

	td := startTestDaemon(t, root, cfg)

	assert.Len(t, quarantined(t, root), 1)
	assert.Empty(t, td.status(t).Snapshot.Records)
}

func TestInbox_Watcher(t *testing.T) {
	root := shortTempDir(t)
	td := startTestDaemon(t, root, testConfig())

	path := writeInbox(t, root, "002.yaml", validInbox)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 5*time.Second, 20*time.Millisecond)
	assert.Len(t, td.status(t).Snapshot.ActiveRecords(), 1)
}

func TestInbox_Disabled(t *testing.T) {
	root := shortTempDir(t)
	cfg := testConfig()
	cfg.Inbox.Enabled = false
	path := writeInbox(t, root, "001.yaml", validInbox)

	td := startTestDaemon(t, root, cfg)

	_, err := os.Stat(path)
	assert.NoError(t, err, "disabled inbox leaves files alone")
	assert.Empty(t, td.status(t).Snapshot.Records)
}

func TestIsInboxFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/x/inbox/a.yaml", true},
		{"/x/inbox/a.yml", true},
		{"/x/inbox/.a.yaml.tmp", false},
		{"/x/inbox/.herald-tmp-123.yaml", false},
		{"/x/inbox/a.json", false},
		{"/x/inbox/a.yaml.bak", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, isInboxFile(tt.path))
		})
	}
}

func TestInbox_PartialWriteWaitsForQuietPeriod(t *testing.T) {
	root := shortTempDir(t)
	cfg := testConfig()
	cfg.Inbox.DebounceMs = 300
	td := startTestDaemon(t, root, cfg)

	path := filepath.Join(root, "inbox", "003.yaml")
	half := len(validInbox) / 2
	require.NoError(t, os.WriteFile(path, []byte(validInbox[:half]), 0644))
	time.Sleep(50 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(validInbox[half:])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 5*time.Second, 20*time.Millisecond)
	assert.Empty(t, quarantined(t, root), "file written in two chunks must not be quarantined")
	assert.Len(t, td.status(t).Snapshot.ActiveRecords(), 1)
	assert.Equal(t, 1, td.metrics.snapshot().InboxFiles)
}

func TestInbox_StopDropsPendingFiles(t *testing.T) {
	root := shortTempDir(t)
	cfg := testConfig()
	cfg.Inbox.DebounceMs = 10000
	td := startTestDaemon(t, root, cfg)

	path := writeInbox(t, root, "004.yaml", validInbox)
	td.inbox.HandleFileEvent(path)
	td.inbox.Stop()
	td.inbox.HandleFileEvent(path)

	td.inbox.mu.Lock()
	pending := len(td.inbox.timers)
	td.inbox.mu.Unlock()
	assert.Zero(t, pending)
	_, err := os.Stat(path)
	assert.NoError(t, err, "file left for the next start")
}
