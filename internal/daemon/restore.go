package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/msageha/herald/internal/messages"
	"github.com/msageha/herald/internal/model"
	yamlutil "github.com/msageha/herald/internal/yaml"
)

func (d *Daemon) snapshotPath() string {
	return filepath.Join(d.rootDir, "state", "snapshot.yaml")
}

// restoreSnapshot re-enqueues the records of the last snapshot. Scope
// flags are applied first so records of inactive scopes stay pending and
// records of destroyed scopes are dropped. Suspension is not carried over:
// its tokens belonged to clients of the previous process.
func (d *Daemon) restoreSnapshot() error {
	snap, ok, err := d.loadSnapshot()
	if err != nil || !ok {
		return err
	}

	records := make([]model.RecordSnapshot, 0, len(snap.Records))
	for _, r := range snap.Records {
		if r.Removed || model.IsRecordTerminal(r.State) {
			continue
		}
		records = append(records, r)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Sequence < records[j].Sequence
	})

	restored := 0
	err = d.onLoop(d.ctx, func() {
		// scope flags go in under suspension so nothing flashes up
		// before its scope is deactivated
		tok := d.dispatcher.Suspend()
		defer d.dispatcher.Resume(tok)

		for _, sc := range snap.Scopes {
			switch {
			case sc.Destroyed:
				d.dispatcher.DestroyScope(sc.Scope, model.DismissScopeDestroyed)
			case !sc.Active:
				d.dispatcher.SetScopeActive(sc.Scope, false)
			}
		}
		for _, r := range records {
			rec, err := d.dispatcher.EnqueueMessage(messages.Message{
				Identifier: r.Identifier,
				Scope:      r.Scope,
				Priority:   r.Priority,
				Properties: r.Properties,
				Duration:   r.Duration(),
			})
			if err != nil {
				d.log(model.LogLevelWarn, "skip snapshot record %s: %v", r.ID, err)
				continue
			}
			if rec != nil {
				restored++
			}
		}
	})
	if err != nil {
		return err
	}
	d.log(model.LogLevelInfo, "restored %d of %d records from snapshot taken_at=%s", restored, len(records), snap.TakenAt)
	return nil
}

// loadSnapshot reads the snapshot, falling back to its .bak copy when the
// file is corrupt. ok is false when there is nothing to restore.
func (d *Daemon) loadSnapshot() (model.QueueSnapshot, bool, error) {
	path := d.snapshotPath()
	var snap model.QueueSnapshot
	err := yamlutil.ReadFile(path, yamlutil.FileTypeStateSnapshot, &snap)
	if err == nil {
		return snap, true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return snap, false, nil
	}

	d.log(model.LogLevelWarn, "snapshot unreadable, recovering: %v", err)
	rec, rerr := yamlutil.RecoverCorruptedFile(d.rootDir, path, yamlutil.FileTypeStateSnapshot)
	if rerr != nil {
		return snap, false, fmt.Errorf("recover snapshot: %w", rerr)
	}
	d.log(model.LogLevelInfo, "snapshot quarantined to %s, recovered from %s", rec.QuarantinedTo, rec.Source)
	if rec.BackupErr != nil {
		d.log(model.LogLevelDebug, "snapshot backup unusable: %v", rec.BackupErr)
	}
	snap = model.QueueSnapshot{}
	if err := yamlutil.ReadFile(path, yamlutil.FileTypeStateSnapshot, &snap); err != nil {
		return snap, false, fmt.Errorf("read recovered snapshot: %w", err)
	}
	return snap, true, nil
}
