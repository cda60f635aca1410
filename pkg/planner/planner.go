// Package planner turns a validated configuration into the concrete plans the
// engine executes. All path resolution happens here; the leaf workers only
// ever see absolute paths.
package planner

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/piperlabs/piper-provision/pkg/config"
	"github.com/piperlabs/piper-provision/pkg/pathcompress"
	"github.com/piperlabs/piper-provision/pkg/pathmirror"
	"github.com/piperlabs/piper-provision/pkg/preflight"
	"github.com/piperlabs/piper-provision/pkg/verify"
)

// ProvisionPlan drives a full provisioning run: preflight, backup, mirror,
// manifest and verification.
type ProvisionPlan struct {
	DryRun     bool
	FailFast   bool
	Metrics    bool
	SkipBackup bool
	SkipVerify bool
	Strict     bool

	StagingDir      string
	ProjectDir      string
	AssetsSourceDir string
	AssetsDir       string
	AssetsBackupDir string
	SitePackagesDir string

	Preflight *preflight.Plan
	Mirror    *pathmirror.Plan
	Verify    *verify.Plan
}

// VerifyPlan drives a standalone verification run.
type VerifyPlan struct {
	Strict bool

	ProjectDir string

	Verify *verify.Plan
}

// SnapshotPlan drives the creation of one snapshot archive of the staging tree.
type SnapshotPlan struct {
	DryRun  bool
	Metrics bool

	StagingDir  string
	ArchivePath string
	Format      pathcompress.Format

	Preflight *preflight.Plan
}

// GenerateProvisionPlan resolves all paths and builds the plan for a
// provisioning run.
func GenerateProvisionPlan(cfg config.Config) (*ProvisionPlan, error) {

	// Global Flags
	dryRun := cfg.Runtime.DryRun
	failFast := cfg.Engine.FailFast
	metrics := cfg.Engine.Metrics

	stagingDir, err := cfg.StagingDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve staging directory: %w", err)
	}

	assetsSourceDir := filepath.Join(stagingDir, cfg.Paths.Assets)
	sitePackagesDir := cfg.SitePackagesDir()

	// The assets tree plus every mirror source must exist before anything is
	// touched. A single missing path aborts with zero mutations.
	requiredSources := []string{assetsSourceDir}

	// The assets tree lands in the project; the mirror entries land in site-packages.
	entries := []pathmirror.Entry{
		{Name: cfg.Paths.Assets, Source: assetsSourceDir, Target: cfg.AssetsDir()},
	}
	for _, m := range cfg.Mirror {
		source := filepath.Join(stagingDir, filepath.FromSlash(m.Source))
		requiredSources = append(requiredSources, source)
		entries = append(entries, pathmirror.Entry{
			Name:   m.Target,
			Source: source,
			Target: filepath.Join(sitePackagesDir, filepath.FromSlash(m.Target)),
		})
	}

	return &ProvisionPlan{
		DryRun:     dryRun,
		FailFast:   failFast,
		Metrics:    metrics,
		SkipBackup: cfg.Runtime.SkipBackup,
		SkipVerify: cfg.Runtime.SkipVerify,
		Strict:     cfg.Runtime.Strict,

		StagingDir:      stagingDir,
		ProjectDir:      cfg.ProjectDir,
		AssetsSourceDir: assetsSourceDir,
		AssetsDir:       cfg.AssetsDir(),
		AssetsBackupDir: cfg.AssetsBackupDir(),
		SitePackagesDir: sitePackagesDir,

		Preflight: &preflight.Plan{
			StagingAccessible: true,
			RequiredSources:   requiredSources,
			TargetWritable:    true,
			FreeSpace:         true,
			// Global Flags
			DryRun: dryRun,
		},
		Mirror: &pathmirror.Plan{
			Entries:    entries,
			RetryCount: cfg.Engine.Performance.RetryCount,
			RetryWait:  time.Duration(cfg.Engine.Performance.RetryWaitSeconds) * time.Second,
			// Global Flags
			DryRun:   dryRun,
			FailFast: failFast,
		},
		Verify: generateVerifyLeafPlan(cfg),
	}, nil
}

// GenerateVerifyPlan builds the plan for a standalone verify run.
func GenerateVerifyPlan(cfg config.Config) (*VerifyPlan, error) {
	return &VerifyPlan{
		Strict:     cfg.Runtime.Strict,
		ProjectDir: cfg.ProjectDir,
		Verify:     generateVerifyLeafPlan(cfg),
	}, nil
}

// GenerateSnapshotPlan builds the plan for one snapshot archive. The archive
// name is derived from the given timestamp so the caller controls naming.
func GenerateSnapshotPlan(cfg config.Config, timestampUTC time.Time) (*SnapshotPlan, error) {

	// Global Flags
	dryRun := cfg.Runtime.DryRun

	stagingDir, err := cfg.StagingDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve staging directory: %w", err)
	}

	format, err := pathcompress.ParseFormat(cfg.Snapshot.Format)
	if err != nil {
		return nil, err
	}

	outputDir := cfg.Snapshot.OutputDir
	if !filepath.IsAbs(outputDir) {
		outputDir = filepath.Join(cfg.ProjectDir, outputDir)
	}

	return &SnapshotPlan{
		DryRun:      dryRun,
		Metrics:     cfg.Engine.Metrics,
		StagingDir:  stagingDir,
		ArchivePath: filepath.Join(outputDir, pathcompress.ArchiveName(cfg.Snapshot.Prefix, timestampUTC, format)),
		Format:      format,
		Preflight: &preflight.Plan{
			StagingAccessible: true,
			// Global Flags
			DryRun: dryRun,
		},
	}, nil
}

func generateVerifyLeafPlan(cfg config.Config) *verify.Plan {
	fromSlashAll := func(rels []string) []string {
		out := make([]string, 0, len(rels))
		for _, rel := range rels {
			out = append(out, filepath.FromSlash(rel))
		}
		return out
	}
	return &verify.Plan{
		AssetsDir:       cfg.AssetsDir(),
		SitePackagesDir: cfg.SitePackagesDir(),
		ModelFiles:      fromSlashAll(cfg.Verify.ModelFiles),
		VoiceFiles:      fromSlashAll(cfg.Verify.VoiceFiles),
		EntryFiles:      fromSlashAll(cfg.Verify.EntryFiles),
		PackageDirs:     fromSlashAll(cfg.Verify.PackageDirs),
	}
}
