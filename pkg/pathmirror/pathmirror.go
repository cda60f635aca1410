// Package pathmirror implements the destructive directory mirror at the heart
// of provisioning: each destination is deleted and then recreated as a full
// recursive copy of its staging source.
//
// --- ARCHITECTURAL OVERVIEW ---
//
// Each entry is processed in two steps:
//
//  1. Replace: the destination directory is removed wholesale. There is no
//     merging and no mod-time comparison; the staging tree is the single
//     source of truth and the destination must end up identical to it.
//
//  2. Copy (Producer-Consumer): a single producer goroutine walks the source
//     tree with filepath.WalkDir. Directories are created inline during the
//     walk (WalkDir visits a directory before its children, so workers never
//     race on missing parents). Files are sent to a channel consumed by an
//     errgroup worker pool that performs the reads and writes through a
//     shared buffer pool.
//
// A failed copy cancels the group and aborts the whole run; there is no
// rollback, matching the abort-on-first-error contract of the setup flow.
package pathmirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/piperlabs/piper-provision/pkg/metrics"
	"github.com/piperlabs/piper-provision/pkg/plog"
	"github.com/piperlabs/piper-provision/pkg/pool"
	"github.com/piperlabs/piper-provision/pkg/util"
)

// PathMirrorer orchestrates the mirror phase. It is stateless between runs;
// per-run state lives in mirrorTask.
type PathMirrorer struct {
	ioBufferPool   *pool.FixedBufferPool
	ioBufferSize   int64
	numCopyWorkers int
}

// NewPathMirrorer creates a new PathMirrorer with the given performance settings.
func NewPathMirrorer(bufferSizeKB, copyWorkers int) *PathMirrorer {
	if bufferSizeKB < 4 {
		bufferSizeKB = 4
	}
	if copyWorkers < 1 {
		copyWorkers = 1
	}
	size := int64(bufferSizeKB) * 1024
	return &PathMirrorer{
		ioBufferPool:   pool.NewFixedBuffer(size),
		ioBufferSize:   size,
		numCopyWorkers: copyWorkers,
	}
}

// Mirror replaces every destination in the plan with a fresh copy of its source.
// Entries are processed sequentially; files within an entry are copied
// concurrently. With FailFast the first failed entry aborts the run; without
// it the remaining entries are still processed and the failures are reported
// together at the end.
func (m *PathMirrorer) Mirror(ctx context.Context, p *Plan, mtr metrics.Metrics) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var errs []error
	for _, entry := range p.Entries {
		t := &mirrorTask{
			PathMirrorer: m,
			entry:        entry,
			retryCount:   p.RetryCount,
			retryWait:    p.RetryWait,
			dryRun:       p.DryRun,
			metrics:      mtr,
		}
		if err := t.execute(ctx); err != nil {
			err = fmt.Errorf("mirror of %s failed: %w", entry.Name, err)
			if p.FailFast || ctx.Err() != nil {
				return err
			}
			plog.Warn("Mirror entry failed, continuing", "name", entry.Name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// mirrorTask holds the mutable state for a single entry's mirror execution.
type mirrorTask struct {
	*PathMirrorer

	entry      Entry
	retryCount int
	retryWait  time.Duration
	dryRun     bool
	metrics    metrics.Metrics
}

// copyItem carries the walk results to a worker so it does not need to re-stat.
type copyItem struct {
	absSrcPath string
	absTrgPath string
	mode       fs.FileMode
	modTime    time.Time
}

func (t *mirrorTask) execute(ctx context.Context) error {
	plog.Info("Mirroring directory", "name", t.entry.Name, "source", t.entry.Source, "target", t.entry.Target)

	if t.dryRun {
		plog.Info("[DRY RUN] Would replace directory", "target", t.entry.Target)
		return nil
	}

	// Replace step: remove the previous copy entirely.
	if _, err := os.Stat(t.entry.Target); err == nil {
		if err := os.RemoveAll(t.entry.Target); err != nil {
			return fmt.Errorf("failed to remove previous copy at %s: %w", t.entry.Target, err)
		}
		t.metrics.AddDirsReplaced(1)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("cannot stat target %s: %w", t.entry.Target, err)
	}

	// The parent must exist before the walk creates the root of the copy.
	if err := os.MkdirAll(filepath.Dir(t.entry.Target), util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create parent of %s: %w", t.entry.Target, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	items := make(chan *copyItem, t.numCopyWorkers*2)

	// Producer: walk the source, create directories inline, send files to workers.
	g.Go(func() error {
		defer close(items)
		return filepath.WalkDir(t.entry.Source, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}

			rel, err := filepath.Rel(t.entry.Source, path)
			if err != nil {
				return err
			}
			trgPath := filepath.Join(t.entry.Target, rel)

			info, err := d.Info()
			if err != nil {
				return err
			}

			if d.IsDir() {
				// Keep the source's permissions but never lock ourselves out of
				// the destination on the next run.
				if err := os.MkdirAll(trgPath, util.WithUserWritePermission(info.Mode().Perm())); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", trgPath, err)
				}
				t.metrics.AddDirsCreated(1)
				return nil
			}

			if !d.Type().IsRegular() {
				plog.Warn("Skipping non-regular file in staging tree", "path", path, "mode", d.Type().String())
				return nil
			}

			select {
			case items <- &copyItem{absSrcPath: path, absTrgPath: trgPath, mode: info.Mode(), modTime: info.ModTime()}:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	// Consumers: copy files off the channel until it closes or the group fails.
	for i := 0; i < t.numCopyWorkers; i++ {
		g.Go(func() error {
			for item := range items {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if err := t.copyFileWithRetry(gctx, item); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// copyFileWithRetry copies one file, retrying transient failures with a fixed wait.
func (t *mirrorTask) copyFileWithRetry(ctx context.Context, item *copyItem) error {
	var lastErr error
	for attempt := 0; attempt <= t.retryCount; attempt++ {
		if attempt > 0 {
			t.metrics.AddRetries(1)
			plog.Warn("Retrying file copy", "path", item.absSrcPath, "attempt", attempt, "error", lastErr)
			select {
			case <-time.After(t.retryWait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = t.copyFile(item)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to copy %s after %d attempts: %w", item.absSrcPath, t.retryCount+1, lastErr)
}

func (t *mirrorTask) copyFile(item *copyItem) error {
	src, err := os.Open(item.absSrcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(item.absTrgPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, util.WithUserWritePermission(item.mode.Perm()))
	if err != nil {
		return err
	}

	bufPtr := t.ioBufferPool.Get()
	written, err := io.CopyBuffer(dst, src, *bufPtr)
	t.ioBufferPool.Put(bufPtr)
	if err != nil {
		dst.Close()
		// A half-written destination is useless; remove it so a retry starts clean.
		_ = os.Remove(item.absTrgPath)
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	// Preserve the source timestamp so repeated runs remain comparable.
	if err := os.Chtimes(item.absTrgPath, item.modTime, item.modTime); err != nil {
		plog.Warn("Failed to preserve modification time", "path", item.absTrgPath, "error", err)
	}

	t.metrics.AddFilesCopied(1)
	t.metrics.AddBytesCopied(written)
	return nil
}
