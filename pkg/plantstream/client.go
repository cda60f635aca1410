// Package plantstream moves plant sensor readings over HTTP as NDJSON, one
// JSON object per line. The Client consumes such a stream and feeds a
// plantmetrics.Store; the Server produces a synthetic stream for development
// without hardware.
package plantstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/piperlabs/piper-provision/pkg/plantmetrics"
	"github.com/piperlabs/piper-provision/pkg/plog"
)

// wireSample mirrors the NDJSON line format. Pointer fields distinguish a
// missing key from a zero value; lines with missing readings are skipped.
type wireSample struct {
	Timestamp    string   `json:"timestamp"`
	CO2PPM       *float64 `json:"co2_ppm"`
	TemperatureC *float64 `json:"temperature_c"`
	HumidityPct  *float64 `json:"humidity_pct"`
}

// Client consumes an NDJSON metrics stream and reconnects on any failure.
type Client struct {
	url            string
	httpClient     *http.Client
	reconnectDelay time.Duration
	onSample       func(plantmetrics.Sample)
}

// NewClient creates a stream client. onSample is called for every valid
// sample, from the client's goroutine.
func NewClient(url string, reconnectDelay time.Duration, onSample func(plantmetrics.Sample)) *Client {
	return &Client{
		url:            url,
		httpClient:     &http.Client{}, // no timeout, the stream is long-lived
		reconnectDelay: reconnectDelay,
		onSample:       onSample,
	}
}

// Run consumes the stream until the context is canceled. Connection failures
// and stream ends are not fatal; the client waits and reconnects.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := c.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			plog.Warn("Stream connection lost, reconnecting", "url", c.url, "delay", c.reconnectDelay, "error", err)
		}

		select {
		case <-time.After(c.reconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) consumeOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, c.url)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ws wireSample
		if err := json.Unmarshal(line, &ws); err != nil {
			plog.Debug("Skipping invalid JSON line", "line", string(line))
			continue
		}
		sample, ok := ws.toSample()
		if !ok {
			plog.Debug("Skipping sample with missing fields", "line", string(line))
			continue
		}
		c.onSample(sample)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream from %s ended", c.url)
}

func (ws *wireSample) toSample() (plantmetrics.Sample, bool) {
	if ws.CO2PPM == nil || ws.TemperatureC == nil || ws.HumidityPct == nil {
		return plantmetrics.Sample{}, false
	}

	ts := time.Now().UTC()
	if ws.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, ws.Timestamp); err == nil {
			ts = parsed
		}
	}
	return plantmetrics.Sample{
		Timestamp:    ts,
		CO2PPM:       *ws.CO2PPM,
		TemperatureC: *ws.TemperatureC,
		HumidityPct:  *ws.HumidityPct,
	}, true
}
