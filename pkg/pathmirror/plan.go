package pathmirror

import "time"

// Entry maps one absolute source directory onto its absolute destination.
// The destination is fully replaced: removed if present, then copied fresh,
// so no stale files from a prior version survive.
type Entry struct {
	// Name is a short label for logging ("assets", "pipecat/services/deepgram", ...).
	Name   string
	Source string
	Target string
}

// Plan describes a mirror operation over a set of entries.
type Plan struct {
	Entries []Entry

	RetryCount int
	RetryWait  time.Duration

	// Global Flags
	DryRun   bool
	FailFast bool
}
