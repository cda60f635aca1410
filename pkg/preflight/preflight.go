// Package preflight provides validation checks that run before provisioning
// begins. The checks are designed to be stateless and idempotent, ensuring the
// staging tree and the destination are in a usable state before any copy
// mutates the project, without changing the system's state themselves.
package preflight

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/piperlabs/piper-provision/pkg/plog"
	"github.com/piperlabs/piper-provision/pkg/util"
)

// Validator runs the pre-flight plan. It carries no state; it exists so the
// engine can hold leaf workers behind a uniform shape.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Run executes the checks enabled in the plan. The first failing check aborts;
// by contract nothing has been mutated at that point.
func (v *Validator) Run(ctx context.Context, stagingDir, projectDir string, p *Plan) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if p.StagingAccessible {
		if err := CheckStagingAccessible(stagingDir); err != nil {
			return err
		}
	}

	for _, src := range p.RequiredSources {
		if err := CheckSourceExists(src); err != nil {
			return err
		}
	}

	if p.TargetWritable && !p.DryRun {
		if err := CheckTargetWritable(projectDir); err != nil {
			return err
		}
	}

	if p.FreeSpace {
		if err := CheckFreeSpace(stagingDir, projectDir); err != nil {
			return err
		}
	}

	plog.Debug("Preflight checks passed", "staging", stagingDir, "project", projectDir)
	return nil
}

// CheckStagingAccessible validates that the staging path exists and is a directory.
func CheckStagingAccessible(stagingDir string) error {
	info, err := os.Stat(stagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("staging directory %s does not exist", stagingDir)
		}
		return fmt.Errorf("cannot stat staging directory %s: %w", stagingDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("staging path %s is not a directory", stagingDir)
	}
	return nil
}

// CheckSourceExists validates that a required staging path (file or directory) exists.
func CheckSourceExists(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("required source path %s does not exist", path)
		}
		return fmt.Errorf("cannot stat required source path %s: %w", path, err)
	}
	return nil
}

// CheckTargetWritable ensures the project directory can be created and is writable
// by performing filesystem modifications.
func CheckTargetWritable(projectDir string) error {
	if err := os.MkdirAll(projectDir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create project directory %s: %w", projectDir, err)
	}

	// Perform a thorough write check by creating and deleting a temporary file.
	tempFile := filepath.Join(projectDir, ".piper-provision-writetest.tmp")
	f, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("project directory %s is not writable: %w", projectDir, err)
	}
	f.Close()
	_ = os.Remove(tempFile)
	return nil
}

// CheckFreeSpace compares the size of the staging tree against the free space
// on the filesystem holding the project directory. Destinations are replaced
// rather than updated in place, so the full staging size must fit. The project
// directory may not exist yet (dry runs create nothing), so the check stats
// the nearest existing ancestor.
func CheckFreeSpace(stagingDir, projectDir string) error {
	required, err := treeSize(stagingDir)
	if err != nil {
		return fmt.Errorf("failed to measure staging tree %s: %w", stagingDir, err)
	}

	statPath, err := nearestExistingDir(projectDir)
	if err != nil {
		return fmt.Errorf("failed to resolve an existing ancestor of %s: %w", projectDir, err)
	}

	free, err := freeSpace(statPath)
	if err != nil {
		return fmt.Errorf("failed to determine free space for %s: %w", statPath, err)
	}

	if free < uint64(required) {
		return fmt.Errorf("not enough free space on target filesystem: need %s, have %s",
			util.HumanBytes(required), util.HumanBytes(int64(free)))
	}
	plog.Debug("Free space check passed", "required", util.HumanBytes(required), "free", util.HumanBytes(int64(free)))
	return nil
}

// nearestExistingDir walks up from path until it finds a directory that
// exists. The filesystem root always exists, so the walk terminates.
func nearestExistingDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(abs); err == nil {
			return abs, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return abs, nil
		}
		abs = parent
	}
}

// treeSize sums the sizes of all regular files under root.
func treeSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}
