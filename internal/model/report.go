package model

import "time"

// Verdict classifies how ready the target is.
type Verdict string

const (
	VerdictReady       Verdict = "ready"
	VerdictMostlyReady Verdict = "mostly-ready"
	VerdictNeedsWork   Verdict = "needs-work"
	VerdictNotReady    Verdict = "not-ready"
)

// Acceptable reports whether the verdict maps to a zero exit code.
func (v Verdict) Acceptable() bool {
	return v == VerdictReady || v == VerdictMostlyReady
}

// Tally counts outcomes.
type Tally struct {
	Total  int     `json:"total"`
	Passed int     `json:"passed"`
	Rate   float64 `json:"rate"`
}

// LayerSummary is the per-layer rollup of a Report.
type LayerSummary struct {
	Layer         Layer   `json:"layer"`
	Total         int     `json:"total"`
	Passed        int     `json:"passed"`
	Rate          float64 `json:"rate"`
	Approved      bool    `json:"approved"`
	Protection    Tally   `json:"protection"`
	Functionality Tally   `json:"functionality"`
}

// SeedSummary describes what the data seeder did before probing.
type SeedSummary struct {
	Created  int      `json:"created"`
	Existing int      `json:"existing"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// Report is the aggregate of one run.
type Report struct {
	RunID        string         `json:"run_id"`
	Timestamp    time.Time      `json:"timestamp"`
	Target       Target         `json:"target"`
	Layers       []LayerSummary `json:"layers"`
	TestRate     float64        `json:"test_rate"`
	ApproachRate float64        `json:"approach_rate"`
	Score        float64        `json:"score"`
	Verdict      Verdict        `json:"verdict"`
	Seed         *SeedSummary   `json:"seed,omitempty"`
	DurationMS   int64          `json:"duration_ms"`
	Outcomes     []Outcome      `json:"outcomes"`
}

// Failures returns failing outcomes in recorded order. Auth-challenge
// classifications of protection checks are not failures.
func (r *Report) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Success {
			continue
		}
		if o.Challenged() {
			continue
		}
		out = append(out, o)
	}
	return out
}

// Layer returns the summary for l, if present.
func (r *Report) Layer(l Layer) (LayerSummary, bool) {
	for _, ls := range r.Layers {
		if ls.Layer == l {
			return ls, true
		}
	}
	return LayerSummary{}, false
}
