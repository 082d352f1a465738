// Package setup lays out a new .herald directory.
package setup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/herald/internal/model"
	atomicyaml "github.com/msageha/herald/internal/yaml"
	"github.com/msageha/herald/templates"
)

// DirName is the herald directory created inside a project.
const DirName = ".herald"

// ErrExists is returned when the project already has a herald directory.
var ErrExists = errors.New("herald directory already exists")

var layout = []string{"inbox", "state", "locks", "logs", "quarantine"}

var stateFiles = []struct{ name, fileType string }{
	{"snapshot.yaml", atomicyaml.FileTypeStateSnapshot},
	{"metrics.yaml", atomicyaml.FileTypeStateMetrics},
}

// Run creates <projectDir>/.herald with its config and empty state. An
// empty projectName means the directory's base name. On failure nothing is
// left behind.
func Run(projectDir, projectName string) (err error) {
	root, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}
	base := filepath.Join(root, DirName)
	if _, statErr := os.Lstat(base); statErr == nil {
		return fmt.Errorf("%s: %w", base, ErrExists)
	}

	cfg, err := renderConfig(root, projectName, time.Now())
	if err != nil {
		return err
	}

	if err := os.Mkdir(base, 0755); err != nil {
		return fmt.Errorf("create %s: %w", base, err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(base)
		}
	}()

	for _, dir := range layout {
		if err := os.Mkdir(filepath.Join(base, dir), 0755); err != nil {
			return fmt.Errorf("create %s/: %w", dir, err)
		}
	}
	if err := atomicyaml.AtomicWrite(filepath.Join(base, "config.yaml"), cfg, atomicyaml.WithoutBackup()); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}
	for _, f := range stateFiles {
		if err := atomicyaml.GenerateSkeleton(filepath.Join(base, "state", f.name), f.fileType); err != nil {
			return fmt.Errorf("write state/%s: %w", f.name, err)
		}
	}
	return nil
}

// renderConfig fills the embedded template for the project at root.
func renderConfig(root, projectName string, now time.Time) (*model.Config, error) {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}
	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	cfg.Project.Name = projectName
	if cfg.Project.Name == "" {
		cfg.Project.Name = filepath.Base(root)
	}
	cfg.Herald.ProjectRoot = root
	cfg.Herald.Created = now.Format(time.RFC3339)

	if err := checkDelegates(cfg.Delegate.Kinds); err != nil {
		return nil, fmt.Errorf("config template: %w", err)
	}
	return &cfg, nil
}

func checkDelegates(kinds []string) error {
	if len(kinds) == 0 {
		return errors.New("delegate.kinds must not be empty")
	}
	for _, k := range kinds {
		switch k {
		case "banner", "notify", "tmux":
		default:
			return fmt.Errorf("delegate.kinds: unknown kind %q", k)
		}
	}
	return nil
}
