package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/piperlabs/piper-provision/pkg/buildinfo"
	"github.com/piperlabs/piper-provision/pkg/config"
	"github.com/piperlabs/piper-provision/pkg/flagparse"
	"github.com/piperlabs/piper-provision/pkg/plog"
)

// RunInit handles the logic for the 'init' command. It writes the effective
// configuration into the project directory so later runs pick it up.
func RunInit(ctx context.Context, flagMap map[string]interface{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	projectDir := projectDirFromFlags(flagMap)
	absProjectDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("could not determine absolute project path for %s: %w", projectDir, err)
	}

	// Check for force flag to bypass confirmation.
	force := false
	if f, ok := flagMap["force"]; ok {
		force = f.(bool)
	}

	configPath := filepath.Join(absProjectDir, config.ConfigFileName)
	if _, err := os.Stat(configPath); err == nil && !force {
		fmt.Printf("WARNING: Configuration file already exists at %s.\n", configPath)
		if !PromptForConfirmation("Overwrite it with the merged configuration?", false) {
			plog.Info(buildinfo.Name + " init operation canceled.")
			return nil
		}
	}

	// Try to load an existing config to preserve settings; Load falls back to
	// defaults when the file simply does not exist.
	baseConfig, err := config.Load(absProjectDir)
	if err != nil {
		plog.Warn("Could not load existing configuration, starting with defaults.", "reason", err)
		baseConfig = config.NewDefault()
		baseConfig.ProjectDir = absProjectDir
	}

	runConfig := config.MergeConfigWithFlags(flagparse.Init, baseConfig, flagMap)

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(); err != nil {
		return err
	}

	if runConfig.Runtime.DryRun {
		plog.Info("[DRY RUN] Would write configuration file", "path", configPath)
		return nil
	}

	startTime := time.Now()
	if err := os.MkdirAll(absProjectDir, 0755); err != nil {
		return fmt.Errorf("failed to create project directory %s: %w", absProjectDir, err)
	}
	if err := config.Generate(runConfig); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" project successfully initialized.", "duration", duration)
	return nil
}

// PromptForConfirmation prompts the user for a yes/no response.
func PromptForConfirmation(prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Printf("%s %s: ", prompt, suffix)

	var response string
	_, _ = fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
