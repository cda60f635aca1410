package preflight

// Plan describes which pre-flight checks to run before a provisioning
// operation mutates anything. All checks are read-only except the target
// write test, which creates and removes a probe file.
type Plan struct {
	StagingAccessible bool
	// RequiredSources are absolute staging paths that must exist. Any miss
	// aborts the run before the first copy.
	RequiredSources []string
	TargetWritable  bool
	// FreeSpace compares the staging tree size against the free space on the
	// target filesystem.
	FreeSpace bool

	// Global Flags
	DryRun bool
}
