package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Layer tags the probing strategy an Outcome came from.
type Layer string

const (
	LayerHTTP     Layer = "L1"
	LayerAPI      Layer = "L2"
	LayerBrowser  Layer = "L3"
	LayerScenario Layer = "L4"
)

// AllLayers lists the layers in execution order.
var AllLayers = []Layer{LayerHTTP, LayerAPI, LayerBrowser, LayerScenario}

// Valid reports whether l is one of L1..L4.
func (l Layer) Valid() bool {
	switch l {
	case LayerHTTP, LayerAPI, LayerBrowser, LayerScenario:
		return true
	}
	return false
}

// Describe returns a human label for reports.
func (l Layer) Describe() string {
	switch l {
	case LayerHTTP:
		return "public HTTP"
	case LayerAPI:
		return "authenticated API"
	case LayerBrowser:
		return "browser forms"
	case LayerScenario:
		return "user journeys"
	}
	return string(l)
}

// ParseLayers parses a comma separated list such as "l1,l3". Empty input
// selects every layer. The result is deduplicated and in execution order.
func ParseLayers(s string) ([]Layer, error) {
	if strings.TrimSpace(s) == "" {
		return append([]Layer(nil), AllLayers...), nil
	}
	seen := map[Layer]bool{}
	for _, part := range strings.Split(s, ",") {
		l := Layer(strings.ToUpper(strings.TrimSpace(part)))
		if l == "" {
			continue
		}
		if !l.Valid() {
			return nil, fmt.Errorf("unknown layer %q (want l1,l2,l3,l4)", part)
		}
		seen[l] = true
	}
	out := make([]Layer, 0, len(seen))
	for _, l := range AllLayers {
		if seen[l] {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no layers selected")
	}
	return out, nil
}

// SubLayer splits a layer into protection checks and functionality checks.
type SubLayer string

const (
	SubLayerFunctionality SubLayer = "functionality"
	SubLayerProtection    SubLayer = "protection"
)

// StepStatus is the state of one scenario step.
type StepStatus string

const (
	StepPassed StepStatus = "passed"
	StepFailed StepStatus = "failed"
	StepNotRun StepStatus = "not-run"
)

// StepResult records one step of a scenario.
type StepResult struct {
	Name        string     `json:"name"`
	Kind        string     `json:"kind"`
	Status      StepStatus `json:"status"`
	Independent bool       `json:"independent,omitempty"`
	ErrorKind   ErrorKind  `json:"error_kind,omitempty"`
	Error       string     `json:"error,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
	Outcome     *Outcome   `json:"outcome,omitempty"`
}

// Outcome is one probe result. Once recorded in a Report it is not modified.
type Outcome struct {
	Layer    Layer    `json:"layer"`
	SubLayer SubLayer `json:"sub_layer,omitempty"`
	Name     string   `json:"name"`
	Target   string   `json:"target"`
	Success  bool     `json:"success"`

	// StatusCode is set for HTTP-level probes.
	StatusCode int `json:"status_code,omitempty"`
	// DOMState summarises the browser-side observation for L3 probes.
	DOMState string `json:"dom_state,omitempty"`

	LatencyMS int64     `json:"latency_ms"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`

	// Artifacts are files emitted while producing this outcome (screenshots).
	Artifacts []string `json:"artifacts,omitempty"`
	// Strategy records which selector strategies located form fields.
	Strategy map[string]string `json:"strategy,omitempty"`
	// Observed holds captured values such as reference ids or the final URL.
	Observed map[string]string `json:"observed,omitempty"`
	// Details holds free-form diagnostic lines (touch-target issues, retries).
	Details []string `json:"details,omitempty"`
	// Steps is set on compound scenario outcomes.
	Steps []StepResult `json:"steps,omitempty"`

	Attempts   int       `json:"attempts,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Key identifies an Outcome within a run.
func (o Outcome) Key() string {
	return string(o.Layer) + "|" + o.Name + "|" + o.Target
}

// Fail marks the outcome failed with kind and message.
func (o *Outcome) Fail(kind ErrorKind, msg string) {
	o.Success = false
	o.ErrorKind = kind
	o.Error = msg
}

// FailErr marks the outcome failed from err, classifying it with KindOf.
func (o *Outcome) FailErr(err error) {
	o.Fail(KindOf(err), err.Error())
}

// Pass marks the outcome successful and clears any error.
func (o *Outcome) Pass() {
	o.Success = true
	o.ErrorKind = KindNone
	o.Error = ""
}

// Observe stores a captured value.
func (o *Outcome) Observe(key, value string) {
	if o.Observed == nil {
		o.Observed = map[string]string{}
	}
	o.Observed[key] = value
}

// Challenged reports whether the outcome is an auth-challenge classification.
func (o Outcome) Challenged() bool {
	return o.ErrorKind == KindAuthChallenged
}

// Validate checks the per-outcome invariants of a report.
func (o Outcome) Validate() error {
	if !o.Layer.Valid() {
		return fmt.Errorf("outcome %q: invalid layer %q", o.Name, o.Layer)
	}
	if o.Name == "" {
		return fmt.Errorf("outcome with empty name in layer %s", o.Layer)
	}
	if o.Success && (o.ErrorKind != KindNone || o.Error != "") {
		return fmt.Errorf("outcome %q: successful outcome carries error %q", o.Name, o.ErrorKind)
	}
	if !o.Success && o.ErrorKind != KindNone && !o.ErrorKind.Valid() {
		return fmt.Errorf("outcome %q: unknown error kind %q", o.Name, o.ErrorKind)
	}
	return nil
}

// Summary returns a one-line excerpt of the failure for human reports.
func (o Outcome) Summary() string {
	msg := strings.TrimSpace(o.Error)
	if i := strings.IndexAny(msg, "\r\n"); i >= 0 {
		msg = msg[:i]
	}
	const max = 120
	if utf8.RuneCountInString(msg) > max {
		msg = string([]rune(msg)[:max-3]) + "..."
	}
	return msg
}

// ObservedKeys returns the observed keys sorted, for stable rendering.
func (o Outcome) ObservedKeys() []string {
	keys := make([]string, 0, len(o.Observed))
	for k := range o.Observed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
