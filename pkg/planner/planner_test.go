package planner

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/piperlabs/piper-provision/pkg/config"
	"github.com/piperlabs/piper-provision/pkg/pathcompress"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.NewDefault()
	cfg.ProjectDir = filepath.Join(t.TempDir(), "project")
	cfg.Paths.Staging = filepath.Join(t.TempDir(), "staging")
	return cfg
}

func TestGenerateProvisionPlanResolvesPaths(t *testing.T) {
	cfg := testConfig(t)
	plan, err := GenerateProvisionPlan(cfg)
	if err != nil {
		t.Fatalf("GenerateProvisionPlan failed: %v", err)
	}

	staging, _ := cfg.StagingDir()
	if plan.StagingDir != staging {
		t.Errorf("staging dir = %q, want %q", plan.StagingDir, staging)
	}
	if plan.AssetsSourceDir != filepath.Join(staging, "assets") {
		t.Errorf("assets source = %q", plan.AssetsSourceDir)
	}
	if plan.AssetsDir != filepath.Join(cfg.ProjectDir, "assets") {
		t.Errorf("assets dir = %q", plan.AssetsDir)
	}
	if plan.AssetsBackupDir != filepath.Join(cfg.ProjectDir, "assets.backup") {
		t.Errorf("assets backup dir = %q", plan.AssetsBackupDir)
	}

	// One assets entry plus the five site-packages entries.
	if len(plan.Mirror.Entries) != 6 {
		t.Fatalf("expected 6 mirror entries, got %d", len(plan.Mirror.Entries))
	}
	if plan.Mirror.Entries[0].Target != plan.AssetsDir {
		t.Errorf("first entry must be the assets tree, got %+v", plan.Mirror.Entries[0])
	}
	want := filepath.Join(plan.SitePackagesDir, "pipecat", "services", "deepgram")
	if plan.Mirror.Entries[1].Target != want {
		t.Errorf("deepgram entry target = %q, want %q", plan.Mirror.Entries[1].Target, want)
	}

	// Every mirror source must be a required preflight source.
	if len(plan.Preflight.RequiredSources) != 6 {
		t.Errorf("expected 6 required sources, got %d", len(plan.Preflight.RequiredSources))
	}
	if !plan.Preflight.StagingAccessible || !plan.Preflight.TargetWritable || !plan.Preflight.FreeSpace {
		t.Error("provision preflight must enable all checks")
	}
}

func TestGenerateProvisionPlanCarriesGlobalFlags(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runtime.DryRun = true
	cfg.Runtime.SkipBackup = true
	cfg.Engine.Performance.RetryWaitSeconds = 3

	plan, err := GenerateProvisionPlan(cfg)
	if err != nil {
		t.Fatalf("GenerateProvisionPlan failed: %v", err)
	}
	if !plan.DryRun || !plan.Mirror.DryRun || !plan.Preflight.DryRun {
		t.Error("dry-run flag must propagate to all sub-plans")
	}
	if !plan.SkipBackup {
		t.Error("skip-backup flag lost")
	}
	if plan.Mirror.RetryWait != 3*time.Second {
		t.Errorf("retry wait = %v, want 3s", plan.Mirror.RetryWait)
	}
}

func TestGenerateSnapshotPlan(t *testing.T) {
	cfg := testConfig(t)
	cfg.Snapshot.Format = "tar.zst"
	ts := time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC)

	plan, err := GenerateSnapshotPlan(cfg, ts)
	if err != nil {
		t.Fatalf("GenerateSnapshotPlan failed: %v", err)
	}
	if plan.Format != pathcompress.TarZst {
		t.Errorf("format = %v", plan.Format)
	}
	want := filepath.Join(cfg.ProjectDir, "pipecat_offline_2026-08-23_09-00-00.tar.zst")
	if plan.ArchivePath != want {
		t.Errorf("archive path = %q, want %q", plan.ArchivePath, want)
	}
}

func TestGenerateSnapshotPlanRejectsBadFormat(t *testing.T) {
	cfg := testConfig(t)
	cfg.Snapshot.Format = "rar"
	if _, err := GenerateSnapshotPlan(cfg, time.Now()); err == nil {
		t.Fatal("expected an error for an unsupported format")
	}
}

func TestGenerateVerifyPlan(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runtime.Strict = true

	plan, err := GenerateVerifyPlan(cfg)
	if err != nil {
		t.Fatalf("GenerateVerifyPlan failed: %v", err)
	}
	if !plan.Strict {
		t.Error("strict flag lost")
	}
	if plan.Verify.AssetsDir != cfg.AssetsDir() {
		t.Errorf("assets dir = %q", plan.Verify.AssetsDir)
	}
	if len(plan.Verify.EntryFiles) != 2 || len(plan.Verify.PackageDirs) != 3 {
		t.Errorf("verify artifact lists wrong: %+v", plan.Verify)
	}
}
