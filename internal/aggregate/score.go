package aggregate

import (
	"time"

	"github.com/raysh454/probekit/internal/model"
)

// Scoring thresholds.
const (
	ApproveRate = 0.70

	ReadyRate           = 0.85
	ReadyApproach       = 0.75
	MostlyReadyRate     = 0.70
	MostlyReadyApproach = 0.50
	NeedsWorkRate       = 0.50
	NeedsWorkApproach   = 0.25
)

func rate(passed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(passed) / float64(total)
}

// Verdict classifies a run from its overall test rate and approach rate.
func Verdict(testRate, approachRate float64) model.Verdict {
	switch {
	case testRate >= ReadyRate && approachRate >= ReadyApproach:
		return model.VerdictReady
	case testRate >= MostlyReadyRate && approachRate >= MostlyReadyApproach:
		return model.VerdictMostlyReady
	case testRate >= NeedsWorkRate && approachRate >= NeedsWorkApproach:
		return model.VerdictNeedsWork
	}
	return model.VerdictNotReady
}

// Score derives the overall rates and verdict from per-layer totals only.
// Every entry of layers counts towards the approach-rate denominator.
func Score(layers []model.LayerSummary) (testRate, approachRate float64, verdict model.Verdict) {
	var passed, total, approved int
	for _, l := range layers {
		passed += l.Passed
		total += l.Total
		if rate(l.Passed, l.Total) >= ApproveRate {
			approved++
		}
	}
	testRate = rate(passed, total)
	approachRate = rate(approved, len(layers))
	return testRate, approachRate, Verdict(testRate, approachRate)
}

// countOutcome folds o into ls. Auth challenges pass protection checks and
// are left out of functionality tallies.
func countOutcome(ls *model.LayerSummary, o model.Outcome) {
	if o.SubLayer == model.SubLayerProtection {
		ls.Protection.Total++
		if o.Success || o.Challenged() {
			ls.Protection.Passed++
		}
		return
	}
	if o.Challenged() {
		return
	}
	ls.Functionality.Total++
	if o.Success {
		ls.Functionality.Passed++
	}
}

// Summarize rolls outcomes up per layer. selected fixes the layers the run
// covered; a selected layer without outcomes scores zero.
func Summarize(selected []model.Layer, outcomes []model.Outcome) []model.LayerSummary {
	idx := map[model.Layer]int{}
	var out []model.LayerSummary
	add := func(l model.Layer) {
		if _, ok := idx[l]; !ok {
			idx[l] = len(out)
			out = append(out, model.LayerSummary{Layer: l})
		}
	}
	for _, l := range selected {
		add(l)
	}
	for _, o := range outcomes {
		add(o.Layer)
		countOutcome(&out[idx[o.Layer]], o)
	}
	for i := range out {
		ls := &out[i]
		ls.Protection.Rate = rate(ls.Protection.Passed, ls.Protection.Total)
		ls.Functionality.Rate = rate(ls.Functionality.Passed, ls.Functionality.Total)
		ls.Total = ls.Protection.Total + ls.Functionality.Total
		ls.Passed = ls.Protection.Passed + ls.Functionality.Passed
		ls.Rate = rate(ls.Passed, ls.Total)
		ls.Approved = ls.Rate >= ApproveRate
	}
	return out
}

// Run describes the run a Report is built for.
type Run struct {
	ID       string
	Target   model.Target
	Layers   []model.Layer
	Seed     *model.SeedSummary
	Started  time.Time
	Finished time.Time
}

// BuildReport scores outcomes into a Report. Outcomes keep their order.
func BuildReport(run Run, outcomes []model.Outcome) model.Report {
	layers := Summarize(run.Layers, outcomes)
	testRate, approachRate, verdict := Score(layers)
	return model.Report{
		RunID:        run.ID,
		Timestamp:    run.Started.UTC(),
		Target:       run.Target,
		Layers:       layers,
		TestRate:     testRate,
		ApproachRate: approachRate,
		Score:        testRate,
		Verdict:      verdict,
		Seed:         run.Seed,
		DurationMS:   run.Finished.Sub(run.Started).Milliseconds(),
		Outcomes:     append([]model.Outcome{}, outcomes...),
	}
}
