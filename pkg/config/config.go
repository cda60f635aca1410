package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/piperlabs/piper-provision/pkg/buildinfo"
	"github.com/piperlabs/piper-provision/pkg/flagparse"
	"github.com/piperlabs/piper-provision/pkg/plog"
	"github.com/piperlabs/piper-provision/pkg/util"
)

// ConfigFileName is the name of the configuration file, written into the project directory.
const ConfigFileName = "piper-provision.config.json"

// PathsConfig describes where the staged files live and where they land.
// Staging is absolute (tilde allowed); the rest are relative to the project directory.
type PathsConfig struct {
	Staging      string `json:"staging"`
	Assets       string `json:"assets"`
	AssetsBackup string `json:"assetsBackup"`
	SitePackages string `json:"sitePackages"`
}

// MirrorEntryConfig maps one staging subdirectory onto its destination inside
// the virtual environment's site-packages tree. Each entry is fully replaced
// on every run (delete, then recursive copy).
type MirrorEntryConfig struct {
	Source string `json:"source"` // relative to the staging directory
	Target string `json:"target"` // relative to the site-packages directory
}

// VerifyConfig lists the artifacts the post-copy verification phase checks.
// Misses are reported as warnings and never change the exit code.
type VerifyConfig struct {
	// ModelFiles are checked for presence and their sizes are reported. Relative to the assets dir.
	ModelFiles []string `json:"modelFiles"`
	// VoiceFiles are checked like model files; WAV files are additionally probed
	// for a decodable header. Relative to the assets dir.
	VoiceFiles []string `json:"voiceFiles"`
	// EntryFiles are the service entry points expected inside site-packages.
	EntryFiles []string `json:"entryFiles"`
	// PackageDirs are the installed package and metadata directories expected inside site-packages.
	PackageDirs []string `json:"packageDirs"`
}

type EnginePerformanceConfig struct {
	CopyWorkers      int `json:"copyWorkers"`
	BufferSizeKB     int `json:"bufferSizeKB"`
	RetryCount       int `json:"retryCount"`
	RetryWaitSeconds int `json:"retryWaitSeconds"`
}

type EngineConfig struct {
	Metrics     bool                    `json:"metrics"`
	FailFast    bool                    `json:"failFast"`
	Performance EnginePerformanceConfig `json:"performance"`
}

// EnvConfig controls the .env preflight. RequiredKeys that are unset after
// loading the dotenv file produce warnings; the bot needs them at runtime but
// provisioning does not.
type EnvConfig struct {
	DotenvFile   string   `json:"dotenvFile"`
	RequiredKeys []string `json:"requiredKeys"`
}

// SnapshotConfig controls the 'snapshot' command.
type SnapshotConfig struct {
	Format    string `json:"format"` // "tar.gz" or "tar.zst"
	OutputDir string `json:"outputDir"`
	Prefix    string `json:"prefix"`
}

// PlantConfig configures the mock metrics server and the watch client.
type PlantConfig struct {
	StreamURL              string  `json:"streamURL"`
	ListenAddr             string  `json:"listenAddr"`
	SampleIntervalMS       int     `json:"sampleIntervalMS"`
	ReconnectDelaySeconds  int     `json:"reconnectDelaySeconds"`
	SummaryIntervalSeconds int     `json:"summaryIntervalSeconds"`
	WindowMinutes          int     `json:"windowMinutes"`
	MaxSamples             int     `json:"maxSamples"`
	AmbientCO2BaselinePPM  float64 `json:"ambientCO2BaselinePPM"`
	StartTemperatureC      float64 `json:"startTemperatureC"`
	StartHumidityPct       float64 `json:"startHumidityPct"`
	StartCO2PPM            float64 `json:"startCO2PPM"`
}

type RuntimeConfig struct {
	DryRun     bool
	Quiet      bool
	SkipBackup bool
	SkipVerify bool
	Strict     bool
}

type Config struct {
	Version    string              `json:"version"`
	ProjectDir string              `json:"-"` // Never added to config file
	Runtime    RuntimeConfig       `json:"-"` // Never added to config file
	LogLevel   string              `json:"logLevel"`
	Paths      PathsConfig         `json:"paths"`
	Mirror     []MirrorEntryConfig `json:"mirror"`
	Verify     VerifyConfig        `json:"verify"`
	Engine     EngineConfig        `json:"engine"`
	Env        EnvConfig           `json:"env"`
	Snapshot   SnapshotConfig      `json:"snapshot"`
	Plant      PlantConfig         `json:"plant"`
}

// NewDefault creates and returns a Config struct matching the quickstart's
// vendored layout: a Desktop staging folder holding an assets tree and the
// site-packages subset that cannot be fetched from the network.
func NewDefault() Config {
	return Config{
		Version:  buildinfo.Version,
		LogLevel: "info",
		Paths: PathsConfig{
			Staging:      "~/Desktop/pipecat_offline",
			Assets:       "assets",
			AssetsBackup: "assets.backup",
			SitePackages: filepath.Join(".venv", "lib", "python3.12", "site-packages"),
		},
		Mirror: []MirrorEntryConfig{
			{Source: "site-packages/pipecat/services/deepgram", Target: "pipecat/services/deepgram"},
			{Source: "site-packages/pipecat/services/cartesia", Target: "pipecat/services/cartesia"},
			{Source: "site-packages/deepgram", Target: "deepgram"},
			{Source: "site-packages/cartesia", Target: "cartesia"},
			{Source: "site-packages/cartesia-2.0.5.dist-info", Target: "cartesia-2.0.5.dist-info"},
		},
		Verify: VerifyConfig{
			ModelFiles: []string{"models/silero_vad.onnx"},
			VoiceFiles: []string{"voices/en_default.wav"},
			EntryFiles: []string{
				"pipecat/services/deepgram/stt.py",
				"pipecat/services/cartesia/tts.py",
			},
			PackageDirs: []string{
				"deepgram",
				"cartesia",
				"cartesia-2.0.5.dist-info",
			},
		},
		Engine: EngineConfig{
			Metrics:  false,
			FailFast: true, // the setup script aborts on the first copy error
			Performance: EnginePerformanceConfig{
				CopyWorkers:      4,
				BufferSizeKB:     256,
				RetryCount:       2,
				RetryWaitSeconds: 1,
			},
		},
		Env: EnvConfig{
			DotenvFile:   ".env",
			RequiredKeys: []string{"DEEPGRAM_API_KEY", "CARTESIA_API_KEY", "OPENAI_API_KEY"},
		},
		Snapshot: SnapshotConfig{
			Format:    "tar.gz",
			OutputDir: ".",
			Prefix:    "pipecat_offline_",
		},
		Plant: PlantConfig{
			StreamURL:              "http://127.0.0.1:7870/metrics/plant_stream",
			ListenAddr:             "127.0.0.1:7870",
			SampleIntervalMS:       1000,
			ReconnectDelaySeconds:  2,
			SummaryIntervalSeconds: 30,
			WindowMinutes:          10,
			MaxSamples:             720,
			AmbientCO2BaselinePPM:  600,
			StartTemperatureC:      21.5,
			StartHumidityPct:       45,
			StartCO2PPM:            600,
		},
	}
}

// Load attempts to load a configuration from the project directory.
// If the file doesn't exist, it returns the default config without an error.
// If the file exists but fails to parse, it returns an error and a zero-value config.
func Load(projectDir string) (Config, error) {
	absProjectDir, err := filepath.Abs(projectDir)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for project directory %s: %w", projectDir, err)
	}

	configPath := filepath.Join(absProjectDir, ConfigFileName)

	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := NewDefault()
			cfg.ProjectDir = absProjectDir
			return cfg, nil // Config file doesn't exist, which is a normal case.
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", configPath, err)
	}
	defer file.Close()

	plog.Info("Loading configuration", "path", configPath)
	// Start with default values, then overwrite with the file's content.
	// This makes the config loading resilient to missing fields in the JSON file.
	cfg := NewDefault()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}

	cfg.ProjectDir = absProjectDir
	if cfg.Version != buildinfo.Version {
		cfg.Version = buildinfo.Version
	}
	return cfg, nil
}

// Generate creates or overwrites the config file in the config's project directory.
func Generate(configToGenerate Config) error {
	configPath := filepath.Join(configToGenerate.ProjectDir, ConfigFileName)
	jsonData, err := json.MarshalIndent(configToGenerate, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}

	if err := os.WriteFile(configPath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", configPath)
	return nil
}

// Validate checks the configuration for logical errors and inconsistencies.
func (c *Config) Validate() error {
	if c.ProjectDir == "" {
		return fmt.Errorf("project directory cannot be empty")
	}
	if c.Paths.Staging == "" {
		return fmt.Errorf("staging path cannot be empty")
	}
	if c.Paths.Assets == "" {
		return fmt.Errorf("assets path cannot be empty")
	}
	if c.Paths.SitePackages == "" {
		return fmt.Errorf("site-packages path cannot be empty")
	}
	if filepath.IsAbs(c.Paths.Assets) || filepath.IsAbs(c.Paths.SitePackages) || filepath.IsAbs(c.Paths.AssetsBackup) {
		return fmt.Errorf("assets, assetsBackup and sitePackages must be relative to the project directory")
	}

	seen := make(map[string]struct{}, len(c.Mirror))
	for i, entry := range c.Mirror {
		if entry.Source == "" || entry.Target == "" {
			return fmt.Errorf("mirror entry %d has an empty source or target", i)
		}
		if filepath.IsAbs(entry.Source) || filepath.IsAbs(entry.Target) {
			return fmt.Errorf("mirror entry %q must use relative paths", entry.Source)
		}
		if _, dup := seen[entry.Target]; dup {
			return fmt.Errorf("mirror entries share the target %q", entry.Target)
		}
		seen[entry.Target] = struct{}{}
	}

	if c.Engine.Performance.CopyWorkers < 1 {
		return fmt.Errorf("copyWorkers must be at least 1, got %d", c.Engine.Performance.CopyWorkers)
	}
	if c.Engine.Performance.BufferSizeKB < 4 {
		return fmt.Errorf("bufferSizeKB must be at least 4, got %d", c.Engine.Performance.BufferSizeKB)
	}
	if c.Engine.Performance.RetryCount < 0 {
		return fmt.Errorf("retryCount cannot be negative")
	}

	switch c.Snapshot.Format {
	case "tar.gz", "tar.zst":
	default:
		return fmt.Errorf("invalid snapshot format: %q. Must be 'tar.gz' or 'tar.zst'", c.Snapshot.Format)
	}

	if c.Plant.SampleIntervalMS <= 0 {
		return fmt.Errorf("sampleIntervalMS must be positive")
	}
	if c.Plant.MaxSamples <= 0 {
		return fmt.Errorf("maxSamples must be positive")
	}
	if c.Plant.SummaryIntervalSeconds <= 0 {
		return fmt.Errorf("summaryIntervalSeconds must be positive")
	}
	if c.Plant.ReconnectDelaySeconds <= 0 {
		return fmt.Errorf("reconnectDelaySeconds must be positive")
	}
	if c.Plant.WindowMinutes <= 0 {
		return fmt.Errorf("windowMinutes must be positive")
	}
	return nil
}

// StagingDir returns the tilde-expanded, absolute staging directory.
func (c *Config) StagingDir() (string, error) {
	expanded, err := util.ExpandPath(c.Paths.Staging)
	if err != nil {
		return "", err
	}
	return filepath.Abs(expanded)
}

// AssetsDir returns the absolute destination assets directory.
func (c *Config) AssetsDir() string {
	return filepath.Join(c.ProjectDir, c.Paths.Assets)
}

// AssetsBackupDir returns the absolute assets backup directory.
func (c *Config) AssetsBackupDir() string {
	return filepath.Join(c.ProjectDir, c.Paths.AssetsBackup)
}

// SitePackagesDir returns the absolute site-packages destination directory.
func (c *Config) SitePackagesDir() string {
	return filepath.Join(c.ProjectDir, c.Paths.SitePackages)
}

// LoadDotenv loads the configured dotenv file into the process environment and
// returns the required keys that are still unset afterwards. A missing dotenv
// file is not an error; the keys may come from the ambient environment.
func (c *Config) LoadDotenv() ([]string, error) {
	dotenvPath := filepath.Join(c.ProjectDir, c.Env.DotenvFile)
	if err := godotenv.Load(dotenvPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", dotenvPath, err)
		}
		plog.Debug("No dotenv file found", "path", dotenvPath)
	}

	var missing []string
	for _, key := range c.Env.RequiredKeys {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	return missing, nil
}

// LogSummary prints a user-friendly summary of the configuration.
func (c *Config) LogSummary() {
	plog.Info("Configuration",
		"log_level", c.LogLevel,
		"staging", c.Paths.Staging,
		"project", c.ProjectDir,
		"site_packages", c.Paths.SitePackages,
		"mirror_entries", len(c.Mirror),
		"dry_run", c.Runtime.DryRun,
		"skip_backup", c.Runtime.SkipBackup,
		"skip_verify", c.Runtime.SkipVerify,
		"copy_workers", c.Engine.Performance.CopyWorkers,
		"buffer_size_kb", c.Engine.Performance.BufferSizeKB,
		"metrics", c.Engine.Metrics,
	)
}

// MergeConfigWithFlags returns a new Config where explicitly set command-line
// flags override the base configuration. It iterates over the setFlags map,
// which contains only the flags provided by the user.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "log-level":
			merged.LogLevel = value.(string)
		case "dry-run":
			merged.Runtime.DryRun = value.(bool)
		case "quiet":
			merged.Runtime.Quiet = value.(bool)
		case "metrics":
			merged.Engine.Metrics = value.(bool)
		case "staging":
			merged.Paths.Staging = value.(string)
		case "project":
			// ProjectDir is resolved by the caller before Load; nothing to do here.
		case "site-packages":
			merged.Paths.SitePackages = value.(string)
		case "fail-fast":
			merged.Engine.FailFast = value.(bool)
		case "copy-workers":
			merged.Engine.Performance.CopyWorkers = value.(int)
		case "buffer-size-kb":
			merged.Engine.Performance.BufferSizeKB = value.(int)
		case "retry-count":
			merged.Engine.Performance.RetryCount = value.(int)
		case "retry-wait":
			merged.Engine.Performance.RetryWaitSeconds = value.(int)
		case "skip-backup":
			merged.Runtime.SkipBackup = value.(bool)
		case "skip-verify":
			merged.Runtime.SkipVerify = value.(bool)
		case "strict":
			merged.Runtime.Strict = value.(bool)
		case "output":
			merged.Snapshot.OutputDir = value.(string)
		case "format":
			merged.Snapshot.Format = value.(string)
		case "force":
			// Handled by the init command directly.
		case "listen":
			merged.Plant.ListenAddr = value.(string)
		case "interval-ms":
			merged.Plant.SampleIntervalMS = value.(int)
		case "url":
			merged.Plant.StreamURL = value.(string)
		case "summary-interval":
			merged.Plant.SummaryIntervalSeconds = value.(int)
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name, "command", command)
		}
	}
	return merged
}
