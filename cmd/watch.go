package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/piperlabs/piper-provision/pkg/flagparse"
	"github.com/piperlabs/piper-provision/pkg/plantmetrics"
	"github.com/piperlabs/piper-provision/pkg/plantstream"
	"github.com/piperlabs/piper-provision/pkg/plog"
)

// RunWatch handles the logic for the 'watch' command: follow a plant-metrics
// stream and log a derived summary at a fixed interval.
func RunWatch(ctx context.Context, flagMap map[string]interface{}) error {
	runConfig, err := loadRunConfig(flagparse.Watch, flagMap)
	if err != nil {
		return err
	}

	store := plantmetrics.NewStore(runConfig.Plant.MaxSamples, runConfig.Plant.AmbientCO2BaselinePPM)
	store.SetTrendWindow(time.Duration(runConfig.Plant.WindowMinutes) * time.Minute)
	client := plantstream.NewClient(
		runConfig.Plant.StreamURL,
		time.Duration(runConfig.Plant.ReconnectDelaySeconds)*time.Second,
		store.Update,
	)

	plog.Info("Watching plant metrics stream", "url", runConfig.Plant.StreamURL)

	clientDone := make(chan error, 1)
	go func() { clientDone <- client.Run(ctx) }()

	ticker := time.NewTicker(time.Duration(runConfig.Plant.SummaryIntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			logSummary(store)
		case err := <-clientDone:
			if errors.Is(err, context.Canceled) {
				plog.Info("Watch stopped.")
				return nil
			}
			return err
		}
	}
}

func logSummary(store *plantmetrics.Store) {
	summary := store.Summarize()
	if summary.Latest == nil {
		plog.Warn("No samples received yet")
		return
	}
	plog.Info("Plant summary",
		"temperature_c", fmt.Sprintf("%.2f", summary.Latest.TemperatureC),
		"humidity_pct", fmt.Sprintf("%.2f", summary.Latest.HumidityPct),
		"co2_ppm", fmt.Sprintf("%.1f", summary.Latest.CO2PPM),
		"vpd_kpa", fmt.Sprintf("%.3f", summary.VPDkPa),
		"temperature", summary.TemperatureStatus,
		"humidity", summary.HumidityStatus,
		"co2", summary.CO2Status,
		"stress_risk", summary.StressRisk,
		"co2_trend_ppm_per_min", fmt.Sprintf("%.2f", summary.CO2TrendPPMPerMin),
		"age_s", fmt.Sprintf("%.1f", summary.SecondsSinceUpdate),
	)
	plog.Info("Plant voice",
		"feel", summary.CurrentFeel,
		"sleep", summary.SleepAssessment,
		"productivity", summary.Productivity,
	)
}
