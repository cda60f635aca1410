package cmd

import (
	"context"
	"time"

	"github.com/piperlabs/piper-provision/pkg/buildinfo"
	"github.com/piperlabs/piper-provision/pkg/flagparse"
	"github.com/piperlabs/piper-provision/pkg/planner"
	"github.com/piperlabs/piper-provision/pkg/plog"
)

// RunSnapshot handles the logic for the 'snapshot' command.
func RunSnapshot(ctx context.Context, flagMap map[string]interface{}) error {
	runConfig, err := loadRunConfig(flagparse.Snapshot, flagMap)
	if err != nil {
		return err
	}

	runner := newRunner(runConfig)

	snapshotPlan, err := planner.GenerateSnapshotPlan(runConfig, time.Now().UTC())
	if err != nil {
		return err
	}

	startTime := time.Now()
	err = runner.ExecuteSnapshot(ctx, snapshotPlan)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err
	}
	plog.Info(buildinfo.Name+" snapshot finished.", "duration", duration, "archive", snapshotPlan.ArchivePath)
	return nil
}
