// Package engine orchestrates the provisioning pipeline. The Runner owns the
// leaf workers and executes plans produced by the planner; it holds no
// per-run state of its own.
//
// --- ARCHITECTURAL OVERVIEW: Run Contract ---
//
// A provisioning run has three phases with different failure semantics:
//
//  1. Preflight - "Zero Mutations"
//     Every required staging path is checked before anything is touched. A
//     single miss aborts the run and the destination is guaranteed untouched.
//
//  2. Backup + Mirror - "Abort, No Rollback"
//     Once copying starts, a failure aborts the run but already-replaced
//     destinations stay replaced. The staging tree remains the source of
//     truth; rerunning after a fix converges to the same final state.
//
//  3. Verification - "Warnings Only"
//     Artifact checks run after a successful mirror and report misses as
//     warnings without affecting the exit code. Strict mode opts into
//     treating them as failures.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/piperlabs/piper-provision/pkg/buildinfo"
	"github.com/piperlabs/piper-provision/pkg/hints"
	"github.com/piperlabs/piper-provision/pkg/lockfile"
	"github.com/piperlabs/piper-provision/pkg/manifest"
	"github.com/piperlabs/piper-provision/pkg/metrics"
	"github.com/piperlabs/piper-provision/pkg/pathbackup"
	"github.com/piperlabs/piper-provision/pkg/pathcompress"
	"github.com/piperlabs/piper-provision/pkg/pathmirror"
	"github.com/piperlabs/piper-provision/pkg/planner"
	"github.com/piperlabs/piper-provision/pkg/plog"
	"github.com/piperlabs/piper-provision/pkg/preflight"
	"github.com/piperlabs/piper-provision/pkg/util"
	"github.com/piperlabs/piper-provision/pkg/verify"
)

// Runner executes plans using its leaf workers.
type Runner struct {
	validator  *preflight.Validator
	backupper  *pathbackup.PathBackupper
	mirrorer   *pathmirror.PathMirrorer
	verifier   *verify.Verifier
	compressor *pathcompress.PathCompressor
}

// NewRunner creates a Runner from its leaf workers.
func NewRunner(
	validator *preflight.Validator,
	backupper *pathbackup.PathBackupper,
	mirrorer *pathmirror.PathMirrorer,
	verifier *verify.Verifier,
	compressor *pathcompress.PathCompressor,
) *Runner {
	return &Runner{
		validator:  validator,
		backupper:  backupper,
		mirrorer:   mirrorer,
		verifier:   verifier,
		compressor: compressor,
	}
}

// ExecuteProvision runs the full provisioning pipeline for the given plan.
func (r *Runner) ExecuteProvision(ctx context.Context, p *planner.ProvisionPlan) error {
	// Check for cancellation at the very beginning.
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// save the execution timestamp
	timestampUTC := time.Now().UTC()

	// Run Preflight Validation
	if err := r.validator.Run(ctx, p.StagingDir, p.ProjectDir, p.Preflight); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	// Acquire Lock on the Project Directory. Dry runs mutate nothing,
	// including the lock file.
	if !p.DryRun {
		releaseLock, err := r.acquireProjectLock(ctx, p.ProjectDir)
		if err != nil {
			return err // A real error occurred during lock acquisition.
		}
		if releaseLock == nil {
			return nil // Lock was already held, exit gracefully.
		}
		defer releaseLock()
	}

	plog.Info("Starting provisioning", "staging", p.StagingDir, "project", p.ProjectDir)

	mtr := &metrics.ProvisionMetrics{}

	// Back up the previous assets tree before the mirror replaces it.
	if !p.SkipBackup {
		if err := r.backupper.Backup(ctx, p.AssetsDir, p.AssetsBackupDir, p.DryRun, mtr); err != nil {
			if hints.Is(err, pathbackup.ErrNothingToBackup) {
				plog.Info("No previous assets to back up", "path", p.AssetsDir)
			} else if p.FailFast {
				return fmt.Errorf("error during backup: %w", err)
			} else {
				plog.Warn("Error during backup, continuing", "error", err)
			}
		}
	}

	// Replace every destination with a fresh copy of its staging source.
	if err := r.mirrorer.Mirror(ctx, p.Mirror, mtr); err != nil {
		return fmt.Errorf("error during mirror: %w", err)
	}

	// Record what this run did.
	if !p.DryRun {
		if err := r.writeManifest(p, mtr, timestampUTC); err != nil {
			if p.FailFast {
				return err
			}
			plog.Warn("Error writing manifest, continuing", "error", err)
		}
	}

	// Cosmetic verification. Misses warn; only strict mode fails the run.
	if !p.SkipVerify && !p.DryRun {
		report, err := r.verifier.Run(ctx, p.Verify)
		if err != nil {
			return fmt.Errorf("error during verification: %w", err)
		}
		if !report.AllOK() {
			plog.Warn("Verification finished with warnings", "misses", len(report.Warnings()))
			if p.Strict {
				return fmt.Errorf("verification found %d missing artifacts", len(report.Warnings()))
			}
		}
	}

	if p.Metrics {
		mtr.Log()
	}
	plog.Info("Provisioning completed")
	return nil
}

// ExecuteVerify runs the artifact checks on their own. The manifest left by
// the last provisioning run is read back for provenance; a missing or
// unreadable manifest only warns, the artifact checks stand on their own.
func (r *Runner) ExecuteVerify(ctx context.Context, p *planner.VerifyPlan) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if content, err := manifest.Read(p.ProjectDir); err != nil {
		if os.IsNotExist(err) {
			plog.Warn("No provisioning manifest found; was this project ever provisioned?", "path", p.ProjectDir)
		} else {
			plog.Warn("Could not read provisioning manifest", "error", err)
		}
	} else {
		plog.Info("Last provisioned",
			"at", content.TimestampUTC.Format(time.RFC3339),
			"staging", content.StagingDir,
			"entries", len(content.Entries),
			"files_copied", content.FilesCopied,
			"version", content.Version,
		)
	}

	report, err := r.verifier.Run(ctx, p.Verify)
	if err != nil {
		return fmt.Errorf("error during verification: %w", err)
	}

	if report.AllOK() {
		plog.Info("All artifacts verified", "checked", len(report.Findings))
		return nil
	}

	plog.Warn("Verification finished with warnings", "misses", len(report.Warnings()), "checked", len(report.Findings))
	if p.Strict {
		return fmt.Errorf("verification found %d missing artifacts", len(report.Warnings()))
	}
	return nil
}

// ExecuteSnapshot archives the staging tree into a single portable file.
func (r *Runner) ExecuteSnapshot(ctx context.Context, p *planner.SnapshotPlan) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.validator.Run(ctx, p.StagingDir, "", p.Preflight); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	if !p.DryRun {
		if err := os.MkdirAll(filepath.Dir(p.ArchivePath), util.UserWritableDirPerms); err != nil {
			return fmt.Errorf("failed to create snapshot output directory: %w", err)
		}
	}

	mtr := &metrics.ProvisionMetrics{}
	if err := r.compressor.Compress(ctx, p.StagingDir, p.ArchivePath, p.Format, p.DryRun, mtr); err != nil {
		return fmt.Errorf("error during snapshot: %w", err)
	}

	if p.Metrics {
		mtr.Log()
	}
	plog.Info("Snapshot completed", "archive", p.ArchivePath)
	return nil
}

// acquireProjectLock acquires a file lock within the project directory.
// It returns a release function that must be called to unlock the directory.
func (r *Runner) acquireProjectLock(ctx context.Context, projectDir string) (func(), error) {
	appID := fmt.Sprintf("piper-provision:%s", projectDir)

	plog.Debug("Attempting to acquire lock", "path", projectDir)
	lock, err := lockfile.Acquire(ctx, projectDir, appID)
	if err != nil {
		var lockErr *lockfile.ErrLockActive
		if errors.As(err, &lockErr) {
			plog.Warn("Provisioning is already running for this project, skipping run.", "details", lockErr.Error())
			return nil, nil // Return nil error to indicate a graceful exit.
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	plog.Debug("Lock acquired successfully.")

	return lock.Release, nil
}

func (r *Runner) writeManifest(p *planner.ProvisionPlan, mtr *metrics.ProvisionMetrics, timestampUTC time.Time) error {
	entries := make([]manifest.MirroredEntry, 0, len(p.Mirror.Entries))
	for _, e := range p.Mirror.Entries {
		entries = append(entries, manifest.MirroredEntry{
			Name:   e.Name,
			Source: e.Source,
			Target: e.Target,
		})
	}
	return manifest.Write(p.ProjectDir, &manifest.ManifestContent{
		Version:         buildinfo.Version,
		TimestampUTC:    timestampUTC,
		StagingDir:      p.StagingDir,
		Entries:         entries,
		FilesCopied:     mtr.FilesCopied.Load(),
		BytesCopied:     mtr.BytesCopied.Load(),
		DurationSeconds: time.Since(timestampUTC).Seconds(),
	})
}
