package pathmirror

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

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

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

func TestMirrorCopiesTree(t *testing.T) {
	src := t.TempDir()
	dstRoot := t.TempDir()
	dst := filepath.Join(dstRoot, "deepgram")

	writeFile(t, filepath.Join(src, "stt.py"), "class DeepgramSTTService: ...")
	writeFile(t, filepath.Join(src, "audio", "frames.py"), "FRAME = 1")
	if err := os.MkdirAll(filepath.Join(src, "empty"), 0755); err != nil {
		t.Fatal(err)
	}

	m := NewPathMirrorer(64, 2)
	mtr := &metrics.ProvisionMetrics{}
	plan := &Plan{Entries: []Entry{{Name: "deepgram", Source: src, Target: dst}}}

	if err := m.Mirror(context.Background(), plan, mtr); err != nil {
		t.Fatalf("Mirror failed: %v", err)
	}

	if got := readFile(t, filepath.Join(dst, "stt.py")); got != "class DeepgramSTTService: ..." {
		t.Errorf("unexpected file content: %q", got)
	}
	if got := readFile(t, filepath.Join(dst, "audio", "frames.py")); got != "FRAME = 1" {
		t.Errorf("unexpected nested file content: %q", got)
	}
	if info, err := os.Stat(filepath.Join(dst, "empty")); err != nil || !info.IsDir() {
		t.Errorf("empty directory was not mirrored: %v", err)
	}

	if mtr.FilesCopied.Load() != 2 {
		t.Errorf("expected 2 files copied, got %d", mtr.FilesCopied.Load())
	}
}

func TestMirrorRemovesStaleFiles(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "pkg")

	writeFile(t, filepath.Join(src, "current.py"), "new")
	writeFile(t, filepath.Join(dst, "stale.py"), "old version leftovers")
	writeFile(t, filepath.Join(dst, "current.py"), "outdated")

	m := NewPathMirrorer(64, 2)
	mtr := &metrics.ProvisionMetrics{}
	plan := &Plan{Entries: []Entry{{Name: "pkg", Source: src, Target: dst}}}

	if err := m.Mirror(context.Background(), plan, mtr); err != nil {
		t.Fatalf("Mirror failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dst, "stale.py")); !os.IsNotExist(err) {
		t.Error("stale file should have been removed by the replace step")
	}
	if got := readFile(t, filepath.Join(dst, "current.py")); got != "new" {
		t.Errorf("expected refreshed content, got %q", got)
	}
	if mtr.DirsReplaced.Load() != 1 {
		t.Errorf("expected 1 replaced dir, got %d", mtr.DirsReplaced.Load())
	}
}

func TestMirrorIsIdempotent(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "cartesia")
	writeFile(t, filepath.Join(src, "tts.py"), "voice = 'british-reading-lady'")

	m := NewPathMirrorer(64, 2)
	plan := &Plan{Entries: []Entry{{Name: "cartesia", Source: src, Target: dst}}}

	for i := 0; i < 2; i++ {
		if err := m.Mirror(context.Background(), plan, &metrics.NoopMetrics{}); err != nil {
			t.Fatalf("run %d failed: %v", i+1, err)
		}
	}

	if got := readFile(t, filepath.Join(dst, "tts.py")); got != "voice = 'british-reading-lady'" {
		t.Errorf("unexpected content after second run: %q", got)
	}
}

func TestMirrorMissingSourceFails(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out")
	m := NewPathMirrorer(64, 2)
	plan := &Plan{Entries: []Entry{{Name: "gone", Source: filepath.Join(t.TempDir(), "missing"), Target: dst}}}

	if err := m.Mirror(context.Background(), plan, &metrics.NoopMetrics{}); err == nil {
		t.Fatal("expected an error for a missing source")
	}
}

func TestMirrorFailFastStopsAtFirstFailure(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "ok.py"), "ok")
	goodDst := filepath.Join(t.TempDir(), "good")

	m := NewPathMirrorer(64, 1)
	plan := &Plan{
		Entries: []Entry{
			{Name: "gone", Source: filepath.Join(t.TempDir(), "missing"), Target: filepath.Join(t.TempDir(), "gone")},
			{Name: "good", Source: src, Target: goodDst},
		},
		FailFast: true,
	}
	if err := m.Mirror(context.Background(), plan, &metrics.NoopMetrics{}); err == nil {
		t.Fatal("expected an error for the failing entry")
	}
	if _, err := os.Stat(goodDst); !os.IsNotExist(err) {
		t.Error("fail-fast must not process entries after the first failure")
	}
}

func TestMirrorWithoutFailFastProcessesRemainingEntries(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "ok.py"), "ok")
	goodDst := filepath.Join(t.TempDir(), "good")

	m := NewPathMirrorer(64, 1)
	plan := &Plan{
		Entries: []Entry{
			{Name: "gone", Source: filepath.Join(t.TempDir(), "missing"), Target: filepath.Join(t.TempDir(), "gone")},
			{Name: "good", Source: src, Target: goodDst},
		},
		FailFast: false,
	}
	err := m.Mirror(context.Background(), plan, &metrics.NoopMetrics{})
	if err == nil || !strings.Contains(err.Error(), "gone") {
		t.Fatalf("expected an error naming the failed entry, got %v", err)
	}
	// The later entry was still mirrored.
	if got := readFile(t, filepath.Join(goodDst, "ok.py")); got != "ok" {
		t.Errorf("remaining entry was not processed: %q", got)
	}
}

func TestMirrorDryRunMakesNoChanges(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")
	writeFile(t, filepath.Join(src, "a.txt"), "a")

	m := NewPathMirrorer(64, 1)
	plan := &Plan{
		Entries: []Entry{{Name: "out", Source: src, Target: dst}},
		DryRun:  true,
	}
	if err := m.Mirror(context.Background(), plan, &metrics.NoopMetrics{}); err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("dry run must not create the destination")
	}
}

func TestMirrorHonorsCancellation(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewPathMirrorer(64, 1)
	plan := &Plan{Entries: []Entry{{Name: "x", Source: src, Target: filepath.Join(t.TempDir(), "x")}}}
	if err := m.Mirror(ctx, plan, &metrics.NoopMetrics{}); err == nil {
		t.Fatal("expected an error for a canceled context")
	}
}

func TestMirrorPreservesModTime(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")
	file := filepath.Join(src, "model.onnx")
	writeFile(t, file, "weights")

	past := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
	if err := os.Chtimes(file, past, past); err != nil {
		t.Fatal(err)
	}

	m := NewPathMirrorer(64, 1)
	plan := &Plan{Entries: []Entry{{Name: "out", Source: src, Target: dst}}}
	if err := m.Mirror(context.Background(), plan, &metrics.NoopMetrics{}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(filepath.Join(dst, "model.onnx"))
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(past) {
		t.Errorf("expected preserved mod time %v, got %v", past, info.ModTime())
	}
}
