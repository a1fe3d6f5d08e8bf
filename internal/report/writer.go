// Package report writes run artifacts and compares reports between runs.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/raysh454/probekit/internal/logging"
	"github.com/raysh454/probekit/internal/model"
)

// Paths lists the artifacts one Write produced.
type Paths struct {
	JSON     string
	Markdown string
	HTML     string
}

// Options tunes a Writer.
type Options struct {
	HTML bool
	TopN int
}

// Writer writes reports into one output directory.
type Writer struct {
	dir    string
	opts   Options
	logger logging.Logger
	now    func() time.Time
}

func NewWriter(dir string, opts Options, logger logging.Logger) *Writer {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Writer{
		dir:    dir,
		opts:   opts,
		logger: logger.With(logging.Field{Key: "component", Value: "report"}),
		now:    time.Now,
	}
}

// ScreenshotDir is where L3 probes should save their captures.
func ScreenshotDir(outDir string) string {
	return filepath.Join(outDir, "screenshots")
}

// Write stores rep as report-<stamp>.json and .md (and .html when enabled).
// Artifact paths inside the output directory are made relative to it. Any
// failure is a harness error.
func (w *Writer) Write(rep model.Report) (Paths, error) {
	lock, err := lockDir(w.dir)
	if err != nil {
		return Paths{}, model.Wrap(model.KindHarnessError, "output dir", err)
	}
	defer lock.unlock()

	ts := rep.Timestamp
	if ts.IsZero() {
		ts = w.now()
	}
	stamp := stampFor(w.dir, ts)
	base := filepath.Join(w.dir, "report-"+stamp)
	paths := Paths{JSON: base + ".json", Markdown: base + ".md"}

	rep = w.relativize(rep)
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return Paths{}, model.Wrap(model.KindHarnessError, "encode report", err)
	}
	if err := atomicWrite(paths.JSON, append(data, '\n')); err != nil {
		return Paths{}, model.Wrap(model.KindHarnessError, "write json report", err)
	}

	md := Markdown(rep, w.opts.TopN)
	if err := atomicWrite(paths.Markdown, []byte(md)); err != nil {
		return Paths{}, model.Wrap(model.KindHarnessError, "write markdown report", err)
	}

	if w.opts.HTML {
		page, err := HTML(md)
		if err != nil {
			return Paths{}, model.Wrap(model.KindHarnessError, "render html report", err)
		}
		paths.HTML = base + ".html"
		if err := atomicWrite(paths.HTML, page); err != nil {
			return Paths{}, model.Wrap(model.KindHarnessError, "write html report", err)
		}
	}

	w.logger.Info("report written",
		logging.Field{Key: "json", Value: paths.JSON},
		logging.Field{Key: "markdown", Value: paths.Markdown},
		logging.Field{Key: "verdict", Value: string(rep.Verdict)})
	return paths, nil
}

// relativize returns a copy of rep whose artifact paths under the output
// directory are relative to it.
func (w *Writer) relativize(rep model.Report) model.Report {
	abs, err := filepath.Abs(w.dir)
	if err != nil {
		return rep
	}
	rel := func(p string) string {
		ap, err := filepath.Abs(p)
		if err != nil {
			return p
		}
		r, err := filepath.Rel(abs, ap)
		if err != nil || strings.HasPrefix(r, "..") {
			return p
		}
		return filepath.ToSlash(r)
	}
	var fix func(o model.Outcome) model.Outcome
	fix = func(o model.Outcome) model.Outcome {
		if len(o.Artifacts) > 0 {
			arts := make([]string, len(o.Artifacts))
			for i, a := range o.Artifacts {
				arts[i] = rel(a)
			}
			o.Artifacts = arts
		}
		if len(o.Steps) > 0 {
			steps := make([]model.StepResult, len(o.Steps))
			for i, s := range o.Steps {
				if s.Outcome != nil {
					inner := fix(*s.Outcome)
					s.Outcome = &inner
				}
				steps[i] = s
			}
			o.Steps = steps
		}
		return o
	}
	outs := make([]model.Outcome, len(rep.Outcomes))
	for i, o := range rep.Outcomes {
		outs[i] = fix(o)
	}
	rep.Outcomes = outs
	return rep
}

// Load reads a JSON report written by Write.
func Load(path string) (model.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Report{}, fmt.Errorf("read report: %w", err)
	}
	var rep model.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return model.Report{}, fmt.Errorf("parse report %s: %w", path, err)
	}
	return rep, nil
}
