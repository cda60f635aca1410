package pathcompress

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/piperlabs/piper-provision/pkg/metrics"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// readArchive extracts all regular file entries from an archive into a map.
func readArchive(t *testing.T, archivePath string, format Format) map[string]string {
	t.Helper()
	f, err := os.Open(archivePath)
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	defer f.Close()

	var r io.Reader
	switch format {
	case TarGz:
		gz, err := pgzip.NewReader(f)
		if err != nil {
			t.Fatalf("failed to create gzip reader: %v", err)
		}
		defer gz.Close()
		r = gz
	case TarZst:
		zr, err := zstd.NewReader(f)
		if err != nil {
			t.Fatalf("failed to create zstd reader: %v", err)
		}
		defer zr.Close()
		r = zr
	}

	entries := make(map[string]string)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("failed to read tar entry: %v", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("failed to read entry %s: %v", hdr.Name, err)
		}
		entries[hdr.Name] = string(data)
	}
	return entries
}

func TestCompressRoundTrip(t *testing.T) {
	for _, format := range []Format{TarGz, TarZst} {
		t.Run(format.String(), func(t *testing.T) {
			src := t.TempDir()
			out := t.TempDir()
			writeFile(t, filepath.Join(src, "deepgram", "client.py"), "import deepgram")
			writeFile(t, filepath.Join(src, "assets", "models", "silero_vad.onnx"), "onnx-weights")

			archive := filepath.Join(out, ArchiveName("pipecat_offline_", time.Now(), format))
			c := NewPathCompressor(64)
			mtr := &metrics.ProvisionMetrics{}
			if err := c.Compress(context.Background(), src, archive, format, false, mtr); err != nil {
				t.Fatalf("Compress failed: %v", err)
			}

			entries := readArchive(t, archive, format)
			if got := entries["deepgram/client.py"]; got != "import deepgram" {
				t.Errorf("unexpected entry content: %q", got)
			}
			if got := entries["assets/models/silero_vad.onnx"]; got != "onnx-weights" {
				t.Errorf("unexpected entry content: %q", got)
			}
			if mtr.FilesCopied.Load() != 2 {
				t.Errorf("expected 2 archived files, got %d", mtr.FilesCopied.Load())
			}
		})
	}
}

func TestCompressDryRun(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "a")
	archive := filepath.Join(t.TempDir(), "snap.tar.gz")

	c := NewPathCompressor(64)
	if err := c.Compress(context.Background(), src, archive, TarGz, true, &metrics.NoopMetrics{}); err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if _, err := os.Stat(archive); !os.IsNotExist(err) {
		t.Error("dry run must not create the archive")
	}
}

func TestCompressMissingSourceLeavesNoPartialArchive(t *testing.T) {
	out := t.TempDir()
	archive := filepath.Join(out, "snap.tar.gz")

	c := NewPathCompressor(64)
	err := c.Compress(context.Background(), filepath.Join(t.TempDir(), "missing"), archive, TarGz, false, &metrics.NoopMetrics{})
	if err == nil {
		t.Fatal("expected an error for a missing source")
	}

	files, readErr := os.ReadDir(out)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(files) != 0 {
		t.Errorf("expected no leftover files, found %d", len(files))
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("tar.zst"); err != nil || f != TarZst {
		t.Errorf("ParseFormat(tar.zst) = %v, %v", f, err)
	}
	if _, err := ParseFormat("zip"); err == nil {
		t.Error("expected an error for unsupported format")
	}
}

func TestArchiveName(t *testing.T) {
	ts := time.Date(2026, 8, 23, 14, 30, 5, 0, time.UTC)
	got := ArchiveName("pipecat_offline_", ts, TarGz)
	want := "pipecat_offline_2026-08-23_14-30-05.tar.gz"
	if got != want {
		t.Errorf("ArchiveName = %q, want %q", got, want)
	}
}
