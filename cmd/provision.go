// Package cmd wires parsed command-line flags to the engine. Each command
// follows the same shape: load the config from the project directory, merge
// the explicitly set flags over it, validate, build a runner and execute the
// generated plan.
package cmd

import (
	"context"
	"time"

	"github.com/piperlabs/piper-provision/pkg/buildinfo"
	"github.com/piperlabs/piper-provision/pkg/config"
	"github.com/piperlabs/piper-provision/pkg/engine"
	"github.com/piperlabs/piper-provision/pkg/flagparse"
	"github.com/piperlabs/piper-provision/pkg/pathbackup"
	"github.com/piperlabs/piper-provision/pkg/pathcompress"
	"github.com/piperlabs/piper-provision/pkg/pathmirror"
	"github.com/piperlabs/piper-provision/pkg/planner"
	"github.com/piperlabs/piper-provision/pkg/plog"
	"github.com/piperlabs/piper-provision/pkg/preflight"
	"github.com/piperlabs/piper-provision/pkg/verify"
)

// projectDirFromFlags returns the -project flag value, or the current
// directory when the flag was not given. The original setup flow always ran
// from the project root, so that stays the default.
func projectDirFromFlags(flagMap map[string]interface{}) string {
	if projectDir, ok := flagMap["project"].(string); ok && projectDir != "" {
		return projectDir
	}
	return "."
}

// loadRunConfig loads the config from the project directory, merges the set
// flags over it, validates the result and applies the global log settings.
func loadRunConfig(command flagparse.Command, flagMap map[string]interface{}) (config.Config, error) {
	loadedConfig, err := config.Load(projectDirFromFlags(flagMap))
	if err != nil {
		return config.Config{}, err
	}

	// Merge the flag values over the loaded config to get the final run config.
	runConfig := config.MergeConfigWithFlags(command, loadedConfig, flagMap)

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(); err != nil {
		return config.Config{}, err
	}

	// Set the global log level based on the final configuration.
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	plog.SetQuiet(runConfig.Runtime.Quiet)

	return runConfig, nil
}

// newRunner creates the engine runner and feeds it with our leaf workers.
func newRunner(runConfig config.Config) *engine.Runner {
	return engine.NewRunner(
		preflight.NewValidator(),
		pathbackup.NewPathBackupper(
			runConfig.Engine.Performance.BufferSizeKB,
		),
		pathmirror.NewPathMirrorer(
			runConfig.Engine.Performance.BufferSizeKB,
			runConfig.Engine.Performance.CopyWorkers,
		),
		verify.NewVerifier(),
		pathcompress.NewPathCompressor(
			runConfig.Engine.Performance.BufferSizeKB,
		),
	)
}

// RunProvision handles the logic for the main provision execution.
func RunProvision(ctx context.Context, flagMap map[string]interface{}) error {
	runConfig, err := loadRunConfig(flagparse.Provision, flagMap)
	if err != nil {
		return err
	}

	// Log the Summary
	runConfig.LogSummary()

	// The bot needs these keys at runtime; provisioning does not. Warn early
	// so the user finds out now instead of at first launch.
	missingKeys, err := runConfig.LoadDotenv()
	if err != nil {
		plog.Warn("Could not read dotenv file", "error", err)
	}
	for _, key := range missingKeys {
		plog.Warn("Required API key is not set", "key", key)
	}

	runner := newRunner(runConfig)

	// Get the Plan
	provisionPlan, err := planner.GenerateProvisionPlan(runConfig)
	if err != nil {
		return err
	}

	// Execute the plan
	startTime := time.Now()
	err = runner.ExecuteProvision(ctx, provisionPlan)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err // The error will be logged with full details by main()
	}
	plog.Info(buildinfo.Name+" finished successfully.", "duration", duration)
	return nil
}
