package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	want := &ManifestContent{
		Version:      "1.2.3",
		TimestampUTC: time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC),
		StagingDir:   "/home/user/Desktop/pipecat_offline",
		Entries: []MirroredEntry{
			{Name: "deepgram", Source: "/staging/deepgram", Target: "/proj/.venv/lib/python3.12/site-packages/deepgram"},
		},
		FilesCopied:     42,
		BytesCopied:     1024 * 1024,
		DurationSeconds: 3.5,
	}

	if err := Write(dir, want); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := Read(dir)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.Version != want.Version || !got.TimestampUTC.Equal(want.TimestampUTC) {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if len(got.Entries) != 1 || got.Entries[0].Name != "deepgram" {
		t.Errorf("entries not preserved: %+v", got.Entries)
	}
	if got.FilesCopied != 42 || got.BytesCopied != 1024*1024 {
		t.Errorf("counters not preserved: %+v", got)
	}
}

func TestReadMissingManifest(t *testing.T) {
	_, err := Read(t.TempDir())
	if !os.IsNotExist(err) {
		t.Fatalf("expected os.IsNotExist error, got %v", err)
	}
}

func TestReadCorruptManifest(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(dir); err == nil {
		t.Fatal("expected an error for a corrupt manifest")
	}
}
