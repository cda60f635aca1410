package plantstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/piperlabs/piper-provision/pkg/plantmetrics"
)

func TestClientConsumesStreamAndSkipsBadLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"timestamp":"2026-08-23T12:00:00Z","co2_ppm":600,"temperature_c":22.5,"humidity_pct":45}`)
		fmt.Fprintln(w, `not json at all`)
		fmt.Fprintln(w, `{"co2_ppm":610,"temperature_c":22.6}`) // humidity missing
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"co2_ppm":620,"temperature_c":22.7,"humidity_pct":46}`)
	}))
	defer srv.Close()

	samples := make(chan plantmetrics.Sample, 8)
	client := NewClient(srv.URL, 50*time.Millisecond, func(s plantmetrics.Sample) {
		samples <- s
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	var got []plantmetrics.Sample
	for len(got) < 2 {
		select {
		case s := <-samples:
			got = append(got, s)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for samples")
		}
	}
	cancel()
	<-done

	if got[0].CO2PPM != 600 || got[1].CO2PPM != 620 {
		t.Errorf("unexpected samples: %+v", got)
	}
	want := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	if !got[0].Timestamp.Equal(want) {
		t.Errorf("timestamp not parsed: %v", got[0].Timestamp)
	}
	if got[1].Timestamp.IsZero() {
		t.Error("missing timestamp should default to now, not zero")
	}
}

func TestClientReconnectsAfterStreamEnds(t *testing.T) {
	var connections atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connections.Add(1)
		fmt.Fprintln(w, `{"co2_ppm":600,"temperature_c":22,"humidity_pct":45}`)
		// Handler returns, ending the stream; the client should come back.
	}))
	defer srv.Close()

	samples := make(chan plantmetrics.Sample, 8)
	client := NewClient(srv.URL, 10*time.Millisecond, func(s plantmetrics.Sample) {
		samples <- s
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-samples:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for reconnect")
		}
	}
	cancel()
	<-done

	if connections.Load() < 2 {
		t.Errorf("expected at least 2 connections, got %d", connections.Load())
	}
}

func TestClientRetriesOnBadStatus(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, `{"co2_ppm":600,"temperature_c":22,"humidity_pct":45}`)
	}))
	defer srv.Close()

	samples := make(chan plantmetrics.Sample, 1)
	client := NewClient(srv.URL, 10*time.Millisecond, func(s plantmetrics.Sample) {
		select {
		case samples <- s:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	select {
	case <-samples:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sample after retry")
	}
	cancel()
	<-done

	if hits.Load() < 2 {
		t.Errorf("expected the client to retry after a 503, got %d hits", hits.Load())
	}
}

func TestClientRunStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Millisecond, func(plantmetrics.Sample) {})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
