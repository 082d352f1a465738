// Package yaml reads and writes herald's versioned YAML files. Writers
// never expose a partial file: content lands in a temp file next to the
// target and is renamed over it.
package yaml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

const tempPattern = ".herald-tmp-*.yaml"

type writeOptions struct {
	backup   bool
	perm     os.FileMode
	fileType string
}

// WriteOption adjusts AtomicWrite.
type WriteOption func(*writeOptions)

// WithoutBackup skips the <path>.bak copy of the previous content.
func WithoutBackup() WriteOption {
	return func(o *writeOptions) { o.backup = false }
}

// ExpectFileType refuses content whose schema header is not fileType.
func ExpectFileType(fileType string) WriteOption {
	return func(o *writeOptions) { o.fileType = fileType }
}

// AtomicWrite marshals v and writes it with AtomicWriteRaw.
func AtomicWrite(path string, v any, opts ...WriteOption) error {
	content, err := yamlv3.Marshal(v)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return AtomicWriteRaw(path, content, opts...)
}

// AtomicWriteRaw replaces path with content. Content that does not parse
// is rejected before anything touches the disk. Unless WithoutBackup is
// given, the previous file is kept as <path>.bak.
func AtomicWriteRaw(path string, content []byte, opts ...WriteOption) error {
	o := writeOptions{backup: true, perm: 0644}
	for _, opt := range opts {
		opt(&o)
	}
	if err := checkContent(content, o.fileType); err != nil {
		return fmt.Errorf("refusing to write %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmpName, err := writeTemp(dir, content, o.perm)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if o.backup {
		if err := backupFile(path); err != nil {
			return fmt.Errorf("create backup: %w", err)
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	committed = true
	return nil
}

func checkContent(content []byte, fileType string) error {
	if fileType != "" {
		return ValidateSchemaHeaderFromBytes(content, fileType)
	}
	var v any
	if err := yamlv3.Unmarshal(content, &v); err != nil {
		return fmt.Errorf("invalid yaml: %w", err)
	}
	return nil
}

// writeTemp writes content to a synced temp file in dir and returns its name.
func writeTemp(dir string, content []byte, perm os.FileMode) (string, error) {
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	err = func() error {
		if _, err := tmp.Write(content); err != nil {
			return fmt.Errorf("write temp file: %w", err)
		}
		if err := tmp.Chmod(perm); err != nil {
			return fmt.Errorf("chmod temp file: %w", err)
		}
		return tmp.Sync()
	}()
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close temp file: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

// backupFile copies path to path.bak. A missing path is not an error.
func backupFile(path string) error {
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	tmpName, err := writeTemp(filepath.Dir(path), content, info.Mode().Perm())
	if err != nil {
		return err
	}
	if err := os.Rename(tmpName, path+".bak"); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
