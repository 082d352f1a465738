package yaml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/msageha/herald/internal/model"
)

// QuarantineDir is the directory under the herald root holding corrupt files.
const QuarantineDir = "quarantine"

// Recovery sources.
const (
	RecoveredFromBackup   = "backup"
	RecoveredFromSkeleton = "skeleton"
)

// Recovery describes what RecoverCorruptedFile did.
type Recovery struct {
	QuarantinedTo string
	Source        string
	// BackupErr says why the backup could not be used.
	BackupErr error
}

// Quarantine moves filePath to <rootDir>/quarantine/<name>.<stamp>.corrupt
// and returns the new path. Files quarantined within the same second get a
// numeric suffix.
func Quarantine(rootDir, filePath string) (string, error) {
	dir := filepath.Join(rootDir, QuarantineDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	stem := fmt.Sprintf("%s.%s", filepath.Base(filePath), time.Now().Format("20060102T150405"))
	dest := filepath.Join(dir, stem+".corrupt")
	for n := 1; fileExists(dest); n++ {
		dest = filepath.Join(dir, fmt.Sprintf("%s-%d.corrupt", stem, n))
	}
	if err := os.Rename(filePath, dest); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return dest, nil
}

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// RestoreFromBackup replaces filePath with the content of filePath.bak if
// the backup is a valid fileType file. An empty fileType only requires
// valid YAML.
func RestoreFromBackup(filePath, fileType string) error {
	content, err := os.ReadFile(filePath + ".bak")
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no backup file: %s.bak", filePath)
	}
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := checkContent(content, fileType); err != nil {
		return fmt.Errorf("backup is also corrupted: %w", err)
	}
	return AtomicWriteRaw(filePath, content, WithoutBackup())
}

// GenerateSkeleton writes an empty, valid file of fileType.
func GenerateSkeleton(filePath, fileType string) error {
	if err := AtomicWrite(filePath, skeleton(fileType), WithoutBackup()); err != nil {
		return fmt.Errorf("write %s skeleton: %w", fileType, err)
	}
	return nil
}

// RecoverCorruptedFile quarantines filePath, then restores it from .bak
// or, failing that, from an empty skeleton of fileType.
func RecoverCorruptedFile(rootDir, filePath, fileType string) (Recovery, error) {
	var rec Recovery
	dest, err := Quarantine(rootDir, filePath)
	if err != nil {
		return rec, err
	}
	rec.QuarantinedTo = dest

	if rec.BackupErr = RestoreFromBackup(filePath, fileType); rec.BackupErr == nil {
		rec.Source = RecoveredFromBackup
		return rec, nil
	}
	if err := GenerateSkeleton(filePath, fileType); err != nil {
		return rec, err
	}
	rec.Source = RecoveredFromSkeleton
	return rec, nil
}

func skeleton(fileType string) any {
	switch fileType {
	case FileTypeStateSnapshot:
		return &model.QueueSnapshot{
			SchemaVersion: CurrentSchemaVersion,
			FileType:      FileTypeStateSnapshot,
			Records:       []model.RecordSnapshot{},
			Scopes:        []model.ScopeSnapshot{},
		}
	case FileTypeStateMetrics:
		return &model.Metrics{
			SchemaVersion: CurrentSchemaVersion,
			FileType:      FileTypeStateMetrics,
			QueueDepth:    model.QueueDepth{Scopes: map[string]int{}},
			Counters:      model.MetricsCounters{Dismissed: map[model.DismissReason]int{}},
		}
	default:
		return &SchemaHeader{SchemaVersion: CurrentSchemaVersion, FileType: fileType}
	}
}
