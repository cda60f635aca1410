// Package pathbackup preserves the previous assets directory before the
// mirror phase overwrites it. The backup is a plain recursive copy into a
// sibling directory.
//
// The backup directory is deliberately NOT cleared first: the copy lands on
// top of whatever a previous run left there. A file that disappeared from the
// assets folder two runs ago therefore lingers in the backup. That matches the
// behavior of the original setup flow and keeps backups strictly additive.
package pathbackup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/piperlabs/piper-provision/pkg/hints"
	"github.com/piperlabs/piper-provision/pkg/metrics"
	"github.com/piperlabs/piper-provision/pkg/plog"
	"github.com/piperlabs/piper-provision/pkg/pool"
	"github.com/piperlabs/piper-provision/pkg/util"
)

// ErrNothingToBackup is returned (as a hint) when the assets directory does
// not exist yet, which is the normal case on a first run.
var ErrNothingToBackup = errors.New("nothing to back up")

// PathBackupper copies an existing destination directory aside before it is replaced.
type PathBackupper struct {
	ioBufferPool *pool.FixedBufferPool
}

// NewPathBackupper creates a new PathBackupper with the given I/O buffer size.
func NewPathBackupper(bufferSizeKB int) *PathBackupper {
	if bufferSizeKB < 4 {
		bufferSizeKB = 4
	}
	return &PathBackupper{
		ioBufferPool: pool.NewFixedBuffer(int64(bufferSizeKB) * 1024),
	}
}

// Backup copies srcDir into backupDir, overwriting files already present
// there but never deleting anything. Returns a hint wrapping
// ErrNothingToBackup when srcDir does not exist.
func (b *PathBackupper) Backup(ctx context.Context, srcDir, backupDir string, dryRun bool, mtr metrics.Metrics) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	info, err := os.Stat(srcDir)
	if os.IsNotExist(err) {
		return hints.Wrap(ErrNothingToBackup)
	}
	if err != nil {
		return fmt.Errorf("cannot stat assets directory %s: %w", srcDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("assets path %s is not a directory", srcDir)
	}

	plog.Info("Backing up previous assets", "source", srcDir, "backup", backupDir)
	if dryRun {
		plog.Info("[DRY RUN] Would back up directory", "source", srcDir, "backup", backupDir)
		return nil
	}

	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		trgPath := filepath.Join(backupDir, rel)

		entryInfo, err := d.Info()
		if err != nil {
			return err
		}

		if d.IsDir() {
			if err := os.MkdirAll(trgPath, util.WithUserWritePermission(entryInfo.Mode().Perm())); err != nil {
				return fmt.Errorf("failed to create backup directory %s: %w", trgPath, err)
			}
			mtr.AddDirsCreated(1)
			return nil
		}
		if !d.Type().IsRegular() {
			plog.Warn("Skipping non-regular file during backup", "path", path)
			return nil
		}

		if err := b.copyFile(path, trgPath, entryInfo.Mode()); err != nil {
			return fmt.Errorf("failed to back up %s: %w", path, err)
		}
		mtr.AddFilesCopied(1)
		mtr.AddBytesCopied(entryInfo.Size())
		return nil
	})
}

func (b *PathBackupper) copyFile(srcPath, trgPath string, mode fs.FileMode) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(trgPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, util.WithUserWritePermission(mode.Perm()))
	if err != nil {
		return err
	}

	bufPtr := b.ioBufferPool.Get()
	_, err = io.CopyBuffer(dst, src, *bufPtr)
	b.ioBufferPool.Put(bufPtr)
	if err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
