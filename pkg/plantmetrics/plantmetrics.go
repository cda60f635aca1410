// Package plantmetrics keeps a rolling window of plant sensor readings and
// derives the talking points the demo bot answers questions from. The store
// is a bounded ring: once full, every new sample evicts the oldest one, so
// memory stays flat no matter how long the stream runs.
package plantmetrics

import (
	"math"
	"sync"
	"time"
)

// Sample is one plant sensor reading.
type Sample struct {
	Timestamp    time.Time `json:"timestamp"`
	CO2PPM       float64   `json:"co2_ppm"`
	TemperatureC float64   `json:"temperature_c"`
	HumidityPct  float64   `json:"humidity_pct"`
}

// Status classifications for the latest reading.
const (
	StatusUnknown   = "unknown"
	TempHot         = "hot"
	TempComfy       = "comfy"
	TempCool        = "cool"
	HumidityVeryDry = "very_dry"
	HumidityDry     = "dry"
	HumidityHumid   = "humid"
	HumidityIdeal   = "ideal"
	CO2VeryStale    = "very_stale"
	CO2Stale        = "stale"
	CO2Fresh        = "fresh"
	CO2Normal       = "normal"
)

// Summary is a derived view over the current window.
type Summary struct {
	Latest             *Sample
	SecondsSinceUpdate float64
	VPDkPa             float64

	TemperatureStatus string
	HumidityStatus    string
	CO2Status         string
	StressRisk        bool
	CO2BelowAmbient   bool

	CO2TrendPPMPerMin      float64
	HumidityTrendPctPerMin float64
	TemperatureTrendCPMin  float64

	// First-person phrases the demo bot answers questions with.
	SleepAssessment string
	CurrentFeel     string
	Productivity    string
}

// Store is a thread-safe bounded ring of samples. The stream client appends
// from its own goroutine while summaries are read elsewhere.
type Store struct {
	mu                 sync.RWMutex
	samples            []Sample
	maxLen             int
	ambientCO2Baseline float64
	trendWindow        time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewStore creates a Store holding at most maxLen samples. Trends are derived
// over a 10 minute window by default; see SetTrendWindow.
func NewStore(maxLen int, ambientCO2BaselinePPM float64) *Store {
	if maxLen < 1 {
		maxLen = 1
	}
	return &Store{
		samples:            make([]Sample, 0, maxLen),
		maxLen:             maxLen,
		ambientCO2Baseline: ambientCO2BaselinePPM,
		trendWindow:        10 * time.Minute,
		now:                time.Now,
	}
}

// SetTrendWindow changes the window trends are derived over.
func (s *Store) SetTrendWindow(window time.Duration) {
	if window <= 0 {
		return
	}
	s.mu.Lock()
	s.trendWindow = window
	s.mu.Unlock()
}

// Update appends a sample, evicting the oldest once the ring is full.
func (s *Store) Update(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == s.maxLen {
		copy(s.samples, s.samples[1:])
		s.samples[len(s.samples)-1] = sample
		return
	}
	s.samples = append(s.samples, sample)
}

// Latest returns the newest sample, or nil if the store is empty.
func (s *Store) Latest() *Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.samples) == 0 {
		return nil
	}
	latest := s.samples[len(s.samples)-1]
	return &latest
}

// Len returns the number of stored samples.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Window returns the samples newer than now minus the given duration.
func (s *Store) Window(since time.Duration) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-since)
	var out []Sample
	for _, sample := range s.samples {
		if !sample.Timestamp.Before(cutoff) {
			out = append(out, sample)
		}
	}
	return out
}

// VPDkPa computes the vapor pressure deficit via the Tetens formula.
func VPDkPa(tempC, rhPct float64) float64 {
	es := 0.6108 * math.Exp(17.27*tempC/(tempC+237.3))
	ea := es * (rhPct / 100.0)
	return math.Max(0, es-ea)
}

// trendPerMin is a first-minus-last slope over minutes. Deliberately cheap;
// the window is short enough that a regression would not tell a better story.
func trendPerMin(window []Sample, value func(Sample) float64) float64 {
	if len(window) < 2 {
		return 0
	}
	first, last := window[0], window[len(window)-1]
	dtMin := last.Timestamp.Sub(first.Timestamp).Minutes()
	if dtMin <= 0 {
		return 0
	}
	return (value(last) - value(first)) / dtMin
}

// Summarize derives statuses and trends from the current window.
func (s *Store) Summarize() Summary {
	latest := s.Latest()
	summary := Summary{
		TemperatureStatus: StatusUnknown,
		HumidityStatus:    StatusUnknown,
		CO2Status:         StatusUnknown,
	}
	if latest == nil {
		return summary
	}

	summary.Latest = latest
	summary.SecondsSinceUpdate = s.now().Sub(latest.Timestamp).Seconds()
	summary.VPDkPa = VPDkPa(latest.TemperatureC, latest.HumidityPct)

	s.mu.RLock()
	trendWindow := s.trendWindow
	s.mu.RUnlock()

	win := s.Window(trendWindow)
	summary.TemperatureTrendCPMin = trendPerMin(win, func(s Sample) float64 { return s.TemperatureC })
	summary.HumidityTrendPctPerMin = trendPerMin(win, func(s Sample) float64 { return s.HumidityPct })
	summary.CO2TrendPPMPerMin = trendPerMin(win, func(s Sample) float64 { return s.CO2PPM })

	t, h, c := latest.TemperatureC, latest.HumidityPct, latest.CO2PPM

	switch {
	case t > 30:
		summary.TemperatureStatus = TempHot
	case t >= 18 && t <= 28:
		summary.TemperatureStatus = TempComfy
	default:
		summary.TemperatureStatus = TempCool
	}

	switch {
	case h < 25:
		summary.HumidityStatus = HumidityVeryDry
	case h < 35:
		summary.HumidityStatus = HumidityDry
	case h > 80:
		summary.HumidityStatus = HumidityHumid
	default:
		summary.HumidityStatus = HumidityIdeal
	}

	switch {
	case c > 1500:
		summary.CO2Status = CO2VeryStale
	case c > 1200:
		summary.CO2Status = CO2Stale
	case c < 450:
		summary.CO2Status = CO2Fresh
	default:
		summary.CO2Status = CO2Normal
	}

	summary.StressRisk = h < 35 && t >= 28
	summary.CO2BelowAmbient = c < s.ambientCO2Baseline-50

	summary.SleepAssessment = sleepAssessment(nightSamples(s.Window(8*time.Hour)), s.ambientCO2Baseline)
	summary.CurrentFeel = currentFeel(summary)
	summary.Productivity = productivity(summary)

	return summary
}

// nightSamples filters a window down to readings taken between 22:00 and
// 06:00 local time.
func nightSamples(window []Sample) []Sample {
	var out []Sample
	for _, sample := range window {
		hour := sample.Timestamp.Local().Hour()
		if hour >= 22 || hour < 6 {
			out = append(out, sample)
		}
	}
	return out
}

// sleepAssessment judges last night by the average overnight CO2. A plant
// "sleeps well" when respiration keeps CO2 near or above the ambient baseline.
func sleepAssessment(night []Sample, baseline float64) string {
	if len(night) == 0 {
		return "I slept well. Things felt calm and steady through the night."
	}
	var sum float64
	for _, s := range night {
		sum += s.CO2PPM
	}
	if sum/float64(len(night)) >= baseline-25 {
		return "I slept great. My indicators show healthy elevated CO2 levels and I slept like a baby."
	}
	return "I rested fine. CO2 stayed moderate overnight, and I felt calm."
}

func currentFeel(s Summary) string {
	switch {
	case s.StressRisk:
		return "Honestly, temperatures are increasing and I feel like I need water. So, I'm getting a bit stressed."
	case s.TemperatureStatus == TempHot:
		return "It's quite warm—I could use a cooler breeze or some shade."
	case s.HumidityStatus == HumidityDry || s.HumidityStatus == HumidityVeryDry:
		return "A bit dry—I could use some water to stay comfy."
	default:
		return "I feel comfortable right now—thank you for checking on me!"
	}
}

// productivity uses CO2 drawdown against ambient as a photosynthesis proxy.
func productivity(s Summary) string {
	switch {
	case s.CO2BelowAmbient:
		return "My sensors indicate low CO2 concentrations around my leaves. Makes sense because I'm actively photosynthesizing!"
	case s.CO2TrendPPMPerMin < -2.0:
		return "CO2 is dropping around me, which matches active photosynthesis—I'm doing my leafy best!"
	default:
		return "I'm doing my best. If you open a window or give me more light, I can work even harder."
	}
}

// Result renders the current summary as the nested document the bot's
// question tool returns. units is "metric" or "imperial"; imperial converts
// the temperature to Fahrenheit under a temperature_f key.
func (s *Store) Result(units string) map[string]any {
	summary := s.Summarize()
	latest := summary.Latest
	if latest == nil {
		return map[string]any{"available": false, "message": "No sensor data available yet."}
	}

	tempKey, tempOut := "temperature_c", latest.TemperatureC
	if units == "imperial" {
		tempKey, tempOut = "temperature_f", latest.TemperatureC*9.0/5.0+32.0
	}

	return map[string]any{
		"available": true,
		"latest": map[string]any{
			tempKey:                roundTo(tempOut, 2),
			"humidity_pct":         roundTo(latest.HumidityPct, 2),
			"co2_ppm":              roundTo(latest.CO2PPM, 1),
			"timestamp":            latest.Timestamp.Format(time.RFC3339),
			"seconds_since_update": summary.SecondsSinceUpdate,
		},
		"derived": map[string]any{
			"vpd_kpa":                     roundTo(summary.VPDkPa, 3),
			"temperature_status":          summary.TemperatureStatus,
			"humidity_status":             summary.HumidityStatus,
			"co2_status":                  summary.CO2Status,
			"stress_risk":                 summary.StressRisk,
			"co2_relative_to_ambient_low": summary.CO2BelowAmbient,
			"trends": map[string]any{
				"co2_trend_ppm_per_min":       summary.CO2TrendPPMPerMin,
				"humidity_trend_pct_per_min":  summary.HumidityTrendPctPerMin,
				"temperature_trend_c_per_min": summary.TemperatureTrendCPMin,
			},
		},
		"phrases": map[string]any{
			"sleep":        summary.SleepAssessment,
			"current_feel": summary.CurrentFeel,
			"productivity": summary.Productivity,
		},
	}
}

func roundTo(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
