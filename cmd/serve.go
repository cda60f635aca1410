package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/piperlabs/piper-provision/pkg/flagparse"
	"github.com/piperlabs/piper-provision/pkg/plantstream"
	"github.com/piperlabs/piper-provision/pkg/plog"
)

// RunServe handles the logic for the 'serve' command: a mock plant-metrics
// stream so the demo bot can be developed without sensor hardware.
func RunServe(ctx context.Context, flagMap map[string]interface{}) error {
	runConfig, err := loadRunConfig(flagparse.Serve, flagMap)
	if err != nil {
		return err
	}

	server := plantstream.NewServer(plantstream.GeneratorConfig{
		Interval:         time.Duration(runConfig.Plant.SampleIntervalMS) * time.Millisecond,
		StartTemperature: runConfig.Plant.StartTemperatureC,
		StartHumidity:    runConfig.Plant.StartHumidityPct,
		StartCO2:         runConfig.Plant.StartCO2PPM,
	})

	err = server.Run(ctx, runConfig.Plant.ListenAddr)
	if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		plog.Info("Mock metrics server stopped.")
		return nil
	}
	return err
}
