package cmd

import (
	"context"
	"time"

	"github.com/piperlabs/piper-provision/pkg/buildinfo"
	"github.com/piperlabs/piper-provision/pkg/flagparse"
	"github.com/piperlabs/piper-provision/pkg/planner"
	"github.com/piperlabs/piper-provision/pkg/plog"
)

// RunVerify handles the logic for the standalone 'verify' command.
func RunVerify(ctx context.Context, flagMap map[string]interface{}) error {
	runConfig, err := loadRunConfig(flagparse.Verify, flagMap)
	if err != nil {
		return err
	}

	runner := newRunner(runConfig)

	verifyPlan, err := planner.GenerateVerifyPlan(runConfig)
	if err != nil {
		return err
	}

	startTime := time.Now()
	err = runner.ExecuteVerify(ctx, verifyPlan)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err
	}
	plog.Info(buildinfo.Name+" verification finished.", "duration", duration)
	return nil
}
