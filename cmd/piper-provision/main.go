package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/piperlabs/piper-provision/cmd"
	"github.com/piperlabs/piper-provision/pkg/buildinfo"
	"github.com/piperlabs/piper-provision/pkg/flagparse"
	"github.com/piperlabs/piper-provision/pkg/plog"
)

// run encapsulates the main application logic and returns an error if something
// goes wrong, allowing the main function to handle exit codes.
func run(ctx context.Context) error {
	command, flagMap, err := flagparse.Parse(os.Args[1:])
	if err != nil {
		return err
	}

	switch command {
	case flagparse.None:
		return nil // Help was printed.
	case flagparse.Version:
		cmd.RunVersion()
		return nil
	case flagparse.Provision:
		plog.Info("Starting "+buildinfo.Name, "version", buildinfo.Version, "pid", os.Getpid())
		return cmd.RunProvision(ctx, flagMap)
	case flagparse.Verify:
		return cmd.RunVerify(ctx, flagMap)
	case flagparse.Snapshot:
		return cmd.RunSnapshot(ctx, flagMap)
	case flagparse.Init:
		return cmd.RunInit(ctx, flagMap)
	case flagparse.Serve:
		return cmd.RunServe(ctx, flagMap)
	case flagparse.Watch:
		return cmd.RunWatch(ctx, flagMap)
	default:
		return fmt.Errorf("internal error: unknown command %s", command)
	}
}

func main() {
	// Set up a context that is canceled when an interrupt signal is received.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Listen for interrupt signals (like Ctrl+C) in a separate goroutine.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := run(ctx); err != nil {
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		os.Exit(1)
	}
}
