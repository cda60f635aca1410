package verify

// Plan lists the artifacts a provisioned tree is expected to contain.
// All paths are relative to AssetsDir or SitePackagesDir respectively.
type Plan struct {
	AssetsDir       string
	SitePackagesDir string

	// ModelFiles are checked for existence and reported with their size.
	ModelFiles []string
	// VoiceFiles are checked for existence; .wav files additionally get a
	// header probe to confirm they are decodable audio.
	VoiceFiles []string
	// EntryFiles are the service source files the bot imports at startup.
	EntryFiles []string
	// PackageDirs are the mirrored site-packages directories.
	PackageDirs []string
}
