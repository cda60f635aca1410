package flagparse

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/piperlabs/piper-provision/pkg/buildinfo"
)

// cliFlags holds pointers to all possible command-line flags.
// Fields are pointers so we can distinguish between "not registered for this command" (nil)
// and "registered but not set by user" (non-nil pointer to zero value).
type cliFlags struct {
	// Global
	LogLevel *string
	DryRun   *bool
	Quiet    *bool
	Metrics  *bool

	// Shared: Provision / Verify / Snapshot / Init
	Staging      *string
	Project      *string
	SitePackages *string

	// Provision specific
	FailFast     *bool
	CopyWorkers  *int
	BufferSizeKB *int
	RetryCount   *int
	RetryWait    *int
	SkipBackup   *bool
	SkipVerify   *bool

	// Verify specific
	Strict *bool

	// Snapshot specific
	Output *string
	Format *string

	// Init specific
	Force *bool

	// Serve specific
	Listen     *string
	IntervalMS *int

	// Watch specific
	URL             *string
	SummaryInterval *int
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'info', 'warn', 'error'.")
	f.DryRun = fs.Bool("dry-run", false, "Show what would be done without making any changes.")
	f.Quiet = fs.Bool("quiet", false, "Suppress informational output.")
	f.Metrics = fs.Bool("metrics", false, "Enable detailed performance and file-counting metrics.")
}

func registerProvisionFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Staging = fs.String("staging", "", "Staging directory containing the vendored assets and packages.")
	f.Project = fs.String("project", "", "Project directory to provision (default: current directory).")
	f.SitePackages = fs.String("site-packages", "", "Virtual environment site-packages directory, relative to the project.")
	f.FailFast = fs.Bool("fail-fast", false, "Stop immediately on the first copy error (default behavior; kept for symmetry).")
	f.CopyWorkers = fs.Int("copy-workers", 0, "Number of worker goroutines for file copies.")
	f.BufferSizeKB = fs.Int("buffer-size-kb", 0, "Size of the I/O buffer in kilobytes for file copies.")
	f.RetryCount = fs.Int("retry-count", 0, "Number of retries for failed file copies.")
	f.RetryWait = fs.Int("retry-wait", 0, "Seconds to wait between retries.")
	f.SkipBackup = fs.Bool("skip-backup", false, "Do not back up an existing assets directory before overwriting it.")
	f.SkipVerify = fs.Bool("skip-verify", false, "Skip the post-copy verification phase.")
}

func registerVerifyFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Project = fs.String("project", "", "Project directory to verify (default: current directory).")
	f.SitePackages = fs.String("site-packages", "", "Virtual environment site-packages directory, relative to the project.")
	f.Strict = fs.Bool("strict", false, "Exit non-zero when any artifact is missing (misses are warnings by default).")
}

func registerSnapshotFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Staging = fs.String("staging", "", "Staging directory to bundle.")
	f.Output = fs.String("output", "", "Output directory for the snapshot archive (default: current directory).")
	f.Format = fs.String("format", "", "Archive format: 'tar.gz' or 'tar.zst'.")
	f.BufferSizeKB = fs.Int("buffer-size-kb", 0, "Size of the I/O buffer in kilobytes for compression.")
}

func registerInitFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Project = fs.String("project", "", "Project directory to write the config into (default: current directory).")
	f.Staging = fs.String("staging", "", "Staging directory to record in the config.")
	f.SitePackages = fs.String("site-packages", "", "Virtual environment site-packages directory, relative to the project.")
	f.Force = fs.Bool("force", false, "Overwrite an existing configuration file.")
}

func registerServeFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Listen = fs.String("listen", "", "Address to listen on for the mock metrics stream.")
	f.IntervalMS = fs.Int("interval-ms", 0, "Milliseconds between generated samples.")
}

func registerWatchFlags(fs *flag.FlagSet, f *cliFlags) {
	f.URL = fs.String("url", "", "NDJSON metrics stream URL to watch.")
	f.SummaryInterval = fs.Int("summary-interval", 0, "Seconds between logged summaries.")
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the command and flag map.
// When no command word is given, Provision is assumed so the tool can run bare, like the
// original one-shot setup script.
func Parse(args []string) (Command, map[string]interface{}, error) {
	if len(args) == 0 {
		return Provision, map[string]interface{}{}, nil
	}

	cmdStr := strings.ToLower(args[0])

	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	// A leading flag means "provision with flags", matching the script's no-command surface.
	cmdArgs := args[1:]
	command, err := ParseCommand(cmdStr)
	if err != nil {
		if strings.HasPrefix(cmdStr, "-") {
			command = Provision
			cmdArgs = args
		} else {
			return None, nil, err
		}
	}

	f := &cliFlags{}
	fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
	registerGlobalFlags(fs, f)

	var desc string
	switch command {
	case Provision:
		registerProvisionFlags(fs, f)
		desc = "Copy the staged models and service packages into the project's virtual environment."
	case Verify:
		registerVerifyFlags(fs, f)
		desc = "Re-check the provisioned artifacts and report what is present."
	case Snapshot:
		registerSnapshotFlags(fs, f)
		desc = "Bundle the staging directory into a compressed archive for offline transfer."
	case Init:
		registerInitFlags(fs, f)
		desc = "Generate a default configuration file."
	case Serve:
		registerServeFlags(fs, f)
		desc = "Serve a mock plant-metrics NDJSON stream for local demos."
	case Watch:
		registerWatchFlags(fs, f)
		desc = "Follow a plant-metrics NDJSON stream and log periodic summaries."
	case Version:
		return command, nil, nil
	default:
		return None, nil, fmt.Errorf("unknown command: %s", args[0])
	}

	fs.Usage = func() {
		printSubcommandUsage(command, desc, fs)
	}

	if err := fs.Parse(cmdArgs); err != nil {
		return command, nil, err
	}

	return command, flagsToMap(fs, f), nil
}

func flagsToMap(fs *flag.FlagSet, f *cliFlags) map[string]interface{} {
	// Create a map of the flags that were explicitly set by the user, along with their values.
	// This map is used to selectively override the base configuration.
	usedFlags := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { usedFlags[fl.Name] = true })

	flagMap := make(map[string]interface{})

	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)
	addIfUsed(flagMap, usedFlags, "dry-run", f.DryRun)
	addIfUsed(flagMap, usedFlags, "quiet", f.Quiet)
	addIfUsed(flagMap, usedFlags, "metrics", f.Metrics)

	addIfUsed(flagMap, usedFlags, "staging", f.Staging)
	addIfUsed(flagMap, usedFlags, "project", f.Project)
	addIfUsed(flagMap, usedFlags, "site-packages", f.SitePackages)

	addIfUsed(flagMap, usedFlags, "fail-fast", f.FailFast)
	addIfUsed(flagMap, usedFlags, "copy-workers", f.CopyWorkers)
	addIfUsed(flagMap, usedFlags, "buffer-size-kb", f.BufferSizeKB)
	addIfUsed(flagMap, usedFlags, "retry-count", f.RetryCount)
	addIfUsed(flagMap, usedFlags, "retry-wait", f.RetryWait)
	addIfUsed(flagMap, usedFlags, "skip-backup", f.SkipBackup)
	addIfUsed(flagMap, usedFlags, "skip-verify", f.SkipVerify)

	addIfUsed(flagMap, usedFlags, "strict", f.Strict)

	addIfUsed(flagMap, usedFlags, "output", f.Output)
	addIfUsed(flagMap, usedFlags, "format", f.Format)

	addIfUsed(flagMap, usedFlags, "force", f.Force)

	addIfUsed(flagMap, usedFlags, "listen", f.Listen)
	addIfUsed(flagMap, usedFlags, "interval-ms", f.IntervalMS)

	addIfUsed(flagMap, usedFlags, "url", f.URL)
	addIfUsed(flagMap, usedFlags, "summary-interval", f.SummaryInterval)

	return flagMap
}

// addIfUsed adds the value of ptr to flagMap if ptr is not nil and the flag was set.
func addIfUsed[T any](flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

// printTopLevelUsage prints the main help message.
func printTopLevelUsage(fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Provisions a voice-bot quickstart from a local staging folder.\n\n")
	fmt.Fprintf(fs.Output(), "Usage: %s [command] [flags]\n\n", execName)
	fmt.Fprintf(fs.Output(), "Commands:\n")
	fmt.Fprintf(fs.Output(), "  provision   Copy staged models and packages into the virtual environment (default)\n")
	fmt.Fprintf(fs.Output(), "  verify      Re-check the provisioned artifacts\n")
	fmt.Fprintf(fs.Output(), "  snapshot    Bundle the staging directory into a compressed archive\n")
	fmt.Fprintf(fs.Output(), "  init        Generate a default configuration file\n")
	fmt.Fprintf(fs.Output(), "  serve       Serve a mock plant-metrics NDJSON stream\n")
	fmt.Fprintf(fs.Output(), "  watch       Follow a plant-metrics stream and log summaries\n")
	fmt.Fprintf(fs.Output(), "  version     Print the application version\n")
	fmt.Fprintf(fs.Output(), "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

// printSubcommandUsage prints the help message for a specific subcommand.
func printSubcommandUsage(command Command, desc string, fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s)\n\n", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}
