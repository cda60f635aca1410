// Package manifest records what a provisioning run actually did. The manifest
// lives in the project directory next to the virtual environment and lets a
// later verify run (or a human) see when and from where the tree was last
// provisioned.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/piperlabs/piper-provision/pkg/util"
)

// ManifestFileName is the name of the provisioning manifest file.
const ManifestFileName = ".piper-provision.manifest.json"

// MirroredEntry records a single source-to-destination mirror.
type MirroredEntry struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// ManifestContent holds the contents of the manifest file.
type ManifestContent struct {
	Version         string          `json:"version"`
	TimestampUTC    time.Time       `json:"timestampUTC"`
	StagingDir      string          `json:"stagingDir"`
	Entries         []MirroredEntry `json:"entries"`
	FilesCopied     int64           `json:"filesCopied"`
	BytesCopied     int64           `json:"bytesCopied"`
	DurationSeconds float64         `json:"durationSeconds"`
}

// Write creates and writes the manifest file into a given directory.
func Write(dirPath string, content *ManifestContent) error {
	manifestPath := filepath.Join(dirPath, ManifestFileName)
	jsonData, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal manifest data: %w", err)
	}

	if err := os.WriteFile(manifestPath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("could not write manifest file %s: %w", manifestPath, err)
	}

	return nil
}

// Read opens and parses the manifest file in a given directory.
// It returns the parsed manifest or an error if the file cannot be read or parsed.
func Read(dirPath string) (ManifestContent, error) {
	manifestPath := filepath.Join(dirPath, ManifestFileName)
	manifestFile, err := os.Open(manifestPath)
	if err != nil {
		// Note: os.IsNotExist errors are handled by the caller.
		return ManifestContent{}, err // Return the original error so os.IsNotExist works.
	}
	defer manifestFile.Close()

	var content ManifestContent
	decoder := json.NewDecoder(manifestFile)
	if err := decoder.Decode(&content); err != nil {
		return ManifestContent{}, fmt.Errorf("could not parse manifest %s: %w. It may be corrupt", manifestPath, err)
	}

	return content, nil
}
