// Package verify performs the post-provisioning artifact checks. The checks
// are cosmetic: a missing artifact produces a warning in the report but never
// an error, because the provisioning itself already succeeded and the user
// may well know why an optional asset is absent. Each artifact is checked
// independently; one miss never hides another.
package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"

	"github.com/piperlabs/piper-provision/pkg/plog"
	"github.com/piperlabs/piper-provision/pkg/util"
)

// Finding is the result of a single artifact check.
type Finding struct {
	Path   string
	OK     bool
	Detail string // human readable: size, duration, or the failure reason
}

// Report collects the findings of a verification run.
type Report struct {
	Findings []Finding
}

// Warnings returns the findings that did not pass.
func (r *Report) Warnings() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if !f.OK {
			out = append(out, f)
		}
	}
	return out
}

// AllOK reports whether every artifact passed.
func (r *Report) AllOK() bool {
	return len(r.Warnings()) == 0
}

// Verifier checks a provisioned tree against a Plan.
type Verifier struct{}

// NewVerifier creates a new Verifier.
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Run checks every artifact in the plan and logs a warning per miss.
// It only returns an error when the context is canceled; artifact misses
// are reported through the Report, never through the error.
func (v *Verifier) Run(ctx context.Context, p *Plan) (*Report, error) {
	report := &Report{}

	for _, rel := range p.ModelFiles {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		report.add(v.checkFile(filepath.Join(p.AssetsDir, rel)))
	}
	for _, rel := range p.VoiceFiles {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f := v.checkFile(filepath.Join(p.AssetsDir, rel))
		if f.OK && strings.EqualFold(filepath.Ext(rel), ".wav") {
			f = v.probeWav(f.Path)
		}
		report.add(f)
	}
	for _, rel := range p.EntryFiles {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		report.add(v.checkFile(filepath.Join(p.SitePackagesDir, rel)))
	}
	for _, rel := range p.PackageDirs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		report.add(v.checkDir(filepath.Join(p.SitePackagesDir, rel)))
	}

	return report, nil
}

func (r *Report) add(f Finding) {
	if f.OK {
		plog.Info("Verified", "path", f.Path, "detail", f.Detail)
	} else {
		plog.Warn("Verification miss", "path", f.Path, "detail", f.Detail)
	}
	r.Findings = append(r.Findings, f)
}

func (v *Verifier) checkFile(path string) Finding {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return Finding{Path: path, Detail: "file not found"}
	}
	if err != nil {
		return Finding{Path: path, Detail: err.Error()}
	}
	if info.IsDir() {
		return Finding{Path: path, Detail: "expected a file, found a directory"}
	}
	return Finding{Path: path, OK: true, Detail: util.HumanBytes(info.Size())}
}

func (v *Verifier) checkDir(path string) Finding {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return Finding{Path: path, Detail: "directory not found"}
	}
	if err != nil {
		return Finding{Path: path, Detail: err.Error()}
	}
	if !info.IsDir() {
		return Finding{Path: path, Detail: "expected a directory, found a file"}
	}
	return Finding{Path: path, OK: true, Detail: "directory present"}
}

// probeWav confirms a voice file is actually decodable audio, not just a file
// with the right name. The probe reads only the header.
func (v *Verifier) probeWav(path string) Finding {
	f, err := os.Open(path)
	if err != nil {
		return Finding{Path: path, Detail: fmt.Sprintf("cannot open wav: %v", err)}
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Finding{Path: path, Detail: "not a valid wav file"}
	}

	dur, err := dec.Duration()
	if err != nil {
		return Finding{Path: path, OK: true, Detail: fmt.Sprintf("wav %d Hz", dec.SampleRate)}
	}
	return Finding{Path: path, OK: true, Detail: fmt.Sprintf("wav %d Hz, %s", dec.SampleRate, dur.Round(10*time.Millisecond))}
}
