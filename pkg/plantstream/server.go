package plantstream

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/piperlabs/piper-provision/pkg/plantmetrics"
	"github.com/piperlabs/piper-provision/pkg/plog"
)

// GeneratorConfig seeds the synthetic sensor walk.
type GeneratorConfig struct {
	Interval         time.Duration
	StartTemperature float64
	StartHumidity    float64
	StartCO2         float64
}

// Server serves a synthetic plant metrics stream for development. Samples are
// produced by a single generator goroutine and fanned out to every connected
// consumer, over plain NDJSON or a websocket.
type Server struct {
	cfg GeneratorConfig

	mu          sync.Mutex
	subscribers map[chan []byte]struct{}

	upgrader websocket.Upgrader
}

// NewServer creates a mock stream server.
func NewServer(cfg GeneratorConfig) *Server {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Server{
		cfg:         cfg,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Handler returns the HTTP routes of the mock server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics/plant_stream", getOnly(s.handleStream))
	mux.HandleFunc("/metrics/plant_ws", getOnly(s.handleWebsocket))
	mux.HandleFunc("/healthz", getOnly(s.handleHealth))
	return mux
}

// getOnly rejects non-GET requests with 405, matching the method-restricted
// mux patterns this server relies on under newer Go toolchains.
func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// Run generates samples and serves them on addr until the context is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.generate(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		plog.Info("Mock metrics server listening", "addr", addr)
		errChan <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

// generate runs the random walk and broadcasts one NDJSON line per tick.
func (s *Server) generate(ctx context.Context) {
	temp := s.cfg.StartTemperature
	hum := s.cfg.StartHumidity
	co2 := s.cfg.StartCO2
	elapsed := 0.0

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Mild random walk with a small sinusoid so the stream looks alive.
		elapsed += s.cfg.Interval.Seconds()
		temp += rand.Float64()*0.1 - 0.05 + 0.02*math.Sin(elapsed/15.0)
		hum += rand.Float64()*0.4 - 0.2 + 0.3*math.Sin(elapsed/10.0)
		co2 += rand.Float64()*10 - 5 + 2.0*math.Sin(elapsed/20.0)

		sample := plantmetrics.Sample{
			Timestamp:    time.Now().UTC(),
			CO2PPM:       math.Max(350.0, co2),
			TemperatureC: temp,
			HumidityPct:  math.Max(0.0, hum),
		}
		line, err := json.Marshal(sample)
		if err != nil {
			continue
		}
		s.broadcast(append(line, '\n'))
	}
}

func (s *Server) broadcast(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			// Slow consumer; drop the sample rather than block the generator.
		}
	}
}

func (s *Server) subscribe() chan []byte {
	ch := make(chan []byte, 16)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan []byte) {
	s.mu.Lock()
	delete(s.subscribers, ch)
	s.mu.Unlock()
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case line := <-ch:
			if _, err := w.Write(line); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		plog.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case line := <-ch:
			if err := conn.WriteMessage(websocket.TextMessage, line); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
