package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/raysh454/probekit/internal/model"
)

// DefaultTopN is how many failures the summary lists.
const DefaultTopN = 10

func pct(r float64) string {
	return fmt.Sprintf("%.1f%%", r*100)
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// Markdown renders the human summary of rep: header, per-layer table,
// verdict and the first topN failures.
func Markdown(rep model.Report, topN int) string {
	if topN <= 0 {
		topN = DefaultTopN
	}
	var b strings.Builder

	b.WriteString("# Readiness report\n\n")
	fmt.Fprintf(&b, "- **Target:** %s\n", rep.Target.BaseURL)
	fmt.Fprintf(&b, "- **Environment:** %s\n", rep.Target.Env)
	fmt.Fprintf(&b, "- **Timestamp:** %s\n", rep.Timestamp.UTC().Format(time.RFC3339))
	if rep.RunID != "" {
		fmt.Fprintf(&b, "- **Run:** %s\n", rep.RunID)
	}
	fmt.Fprintf(&b, "- **Duration:** %s\n\n", (time.Duration(rep.DurationMS) * time.Millisecond).String())

	approved := 0
	for _, l := range rep.Layers {
		if l.Approved {
			approved++
		}
	}
	fmt.Fprintf(&b, "## Verdict: %s\n\n", strings.ToUpper(string(rep.Verdict)))
	fmt.Fprintf(&b, "Score %s (test rate), approach rate %s (%d/%d layers approved).\n\n",
		pct(rep.TestRate), pct(rep.ApproachRate), approved, len(rep.Layers))

	b.WriteString("## Layers\n\n")
	b.WriteString("| Layer | Probes | Passed | Total | Rate | Protection | Functionality | Approved |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|\n")
	for _, l := range rep.Layers {
		fmt.Fprintf(&b, "| %s | %s | %d | %d | %s | %d/%d | %d/%d | %s |\n",
			l.Layer, l.Layer.Describe(), l.Passed, l.Total, pct(l.Rate),
			l.Protection.Passed, l.Protection.Total,
			l.Functionality.Passed, l.Functionality.Total,
			yesNo(l.Approved))
	}
	b.WriteString("\n")

	if rep.Seed != nil {
		fmt.Fprintf(&b, "## Seed\n\ncreated %d, existing %d, failed %d\n\n",
			rep.Seed.Created, rep.Seed.Existing, rep.Seed.Failed)
		for _, e := range rep.Seed.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		if len(rep.Seed.Errors) > 0 {
			b.WriteString("\n")
		}
	}

	failures := rep.Failures()
	if len(failures) == 0 {
		b.WriteString("## Failures\n\nNone.\n")
		return b.String()
	}
	shown := failures
	if len(shown) > topN {
		shown = shown[:topN]
	}
	fmt.Fprintf(&b, "## Failures (%d of %d)\n\n", len(shown), len(failures))
	b.WriteString("| Layer | Outcome | Error | Summary | Artifact |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, o := range shown {
		artifact := ""
		if len(o.Artifacts) > 0 {
			artifact = fmt.Sprintf("[%s](%s)", cell(o.Artifacts[0]), o.Artifacts[0])
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			o.Layer, cell(o.Name), o.ErrorKind, cell(o.Summary()), artifact)
	}
	return b.String()
}

// HTML renders a Markdown summary as a standalone HTML page.
func HTML(md string) ([]byte, error) {
	conv := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := conv.Convert([]byte(md), &body); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	var out bytes.Buffer
	out.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Readiness report</title>\n")
	out.WriteString("<style>body{font-family:sans-serif;max-width:60em;margin:2em auto}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.3em .6em}</style>\n")
	out.WriteString("</head><body>\n")
	out.Write(body.Bytes())
	out.WriteString("</body></html>\n")
	return out.Bytes(), nil
}
