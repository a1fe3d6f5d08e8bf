package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/raysh454/probekit/internal/model"
)

// Comparison is the difference between two reports of the same target.
type Comparison struct {
	OldVerdict model.Verdict
	NewVerdict model.Verdict
	OldScore   float64
	NewScore   float64

	// Fixed failed before and pass now; Broken is the reverse.
	Fixed  []string
	Broken []string
	// Added and Removed are outcomes present in only one report.
	Added   []string
	Removed []string

	// Diff holds the outcome lines of both reports as a line diff.
	Diff []diffmatchpatch.Diff
}

// outcomeLine is the one-line form outcomes are diffed in.
func outcomeLine(o model.Outcome) string {
	state := "pass"
	switch {
	case o.Challenged():
		state = "challenged"
	case !o.Success:
		state = "FAIL " + string(o.ErrorKind)
	}
	return fmt.Sprintf("%s %s %s\n", o.Layer, o.Name, state)
}

func outcomeID(o model.Outcome) string {
	return string(o.Layer) + " " + o.Name
}

func passing(o model.Outcome) bool {
	return o.Success || o.Challenged()
}

// Compare diffs two reports outcome by outcome.
func Compare(old, cur model.Report) Comparison {
	c := Comparison{
		OldVerdict: old.Verdict,
		NewVerdict: cur.Verdict,
		OldScore:   old.Score,
		NewScore:   cur.Score,
	}

	before := map[string]model.Outcome{}
	var oldText strings.Builder
	for _, o := range old.Outcomes {
		before[outcomeID(o)] = o
		oldText.WriteString(outcomeLine(o))
	}
	seen := map[string]bool{}
	var newText strings.Builder
	for _, o := range cur.Outcomes {
		id := outcomeID(o)
		seen[id] = true
		newText.WriteString(outcomeLine(o))
		prev, ok := before[id]
		switch {
		case !ok:
			c.Added = append(c.Added, id)
		case !passing(prev) && passing(o):
			c.Fixed = append(c.Fixed, id)
		case passing(prev) && !passing(o):
			c.Broken = append(c.Broken, id)
		}
	}
	for _, o := range old.Outcomes {
		if id := outcomeID(o); !seen[id] {
			c.Removed = append(c.Removed, id)
		}
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldText.String(), newText.String())
	c.Diff = dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	return c
}

// Changed reports whether any outcome changed state or presence.
func (c Comparison) Changed() bool {
	return len(c.Fixed)+len(c.Broken)+len(c.Added)+len(c.Removed) > 0
}

// Render writes c as text. Removed lines are prefixed "-", added "+";
// colour is applied unless color.NoColor is set.
func (c Comparison) Render(w io.Writer) {
	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	fmt.Fprintf(w, "verdict: %s -> %s\n", c.OldVerdict, c.NewVerdict)
	fmt.Fprintf(w, "score:   %s -> %s (%+.1f pts)\n", pct(c.OldScore), pct(c.NewScore), (c.NewScore-c.OldScore)*100)
	list := func(title string, ids []string) {
		if len(ids) == 0 {
			return
		}
		fmt.Fprintf(w, "%s (%d):\n", title, len(ids))
		for _, id := range ids {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}
	list("fixed", c.Fixed)
	list("broken", c.Broken)
	list("added", c.Added)
	list("removed", c.Removed)

	if !c.Changed() {
		fmt.Fprintln(w, "no outcome changes")
		return
	}
	fmt.Fprintln(w, "\noutcome diff:")
	for _, d := range c.Diff {
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			line = strings.TrimSuffix(line, "\n")
			switch d.Type {
			case diffmatchpatch.DiffDelete:
				fmt.Fprintln(w, red("- "+line))
			case diffmatchpatch.DiffInsert:
				fmt.Fprintln(w, green("+ "+line))
			}
		}
	}
}
