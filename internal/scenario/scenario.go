package scenario

import (
	"fmt"
	"regexp"
	"time"

	"github.com/raysh454/probekit/internal/browser"
	"github.com/raysh454/probekit/internal/model"
	"github.com/raysh454/probekit/internal/prober"
)

// StepKind is the closed set of scenario steps.
type StepKind string

const (
	KindAPIProbe      StepKind = "api-probe"
	KindFormProbe     StepKind = "form-probe"
	KindExpectDBState StepKind = "expect-db-state"
	KindSleep         StepKind = "sleep"
	KindAssertOutcome StepKind = "assert-outcome"
)

// DBState is a predicate over an admin API listing.
type DBState struct {
	Path   string             `yaml:"path"`
	Checks []prober.JSONCheck `yaml:"checks"`
	// Role defaults to admin.
	Role model.Role `yaml:"role,omitempty"`
}

// Assertion checks the result of an earlier step.
type Assertion struct {
	Step      string           `yaml:"step"`
	Status    model.StepStatus `yaml:"status,omitempty"`
	ErrorKind model.ErrorKind  `yaml:"error_kind,omitempty"`
	// Observed names a captured value that must match Matches.
	Observed string `yaml:"observed,omitempty"`
	Matches  string `yaml:"matches,omitempty"`
}

// Step is one step of a Scenario. Exactly the payload of its Kind is set.
type Step struct {
	Name string   `yaml:"name"`
	Kind StepKind `yaml:"kind"`
	// Independent steps may fail without aborting the scenario and do not
	// count towards its result.
	Independent bool `yaml:"independent,omitempty"`

	// Role picks the session for api-probe steps. Empty sends the request
	// anonymously.
	Role model.Role `yaml:"role,omitempty"`
	// ExpectChallenge inverts an api-probe: it passes only on auth-challenged.
	ExpectChallenge bool                 `yaml:"expect_challenge,omitempty"`
	Endpoint        *prober.EndpointSpec `yaml:"endpoint,omitempty"`

	Form *browser.FormSpec `yaml:"form,omitempty"`

	DB *DBState `yaml:"db,omitempty"`

	Duration time.Duration `yaml:"duration,omitempty"`

	Assert *Assertion `yaml:"assert,omitempty"`
}

// Scenario is an ordered user journey.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	// BrowserRole is the principal whose cookies the scenario's browser
	// context starts with. Empty starts anonymous.
	BrowserRole model.Role `yaml:"browser_role,omitempty"`
	Steps       []Step     `yaml:"steps"`
}

// OutcomeName is the name of the compound outcome of sc.
func (sc Scenario) OutcomeName() string {
	return "scenario:" + sc.Name
}

// NeedsBrowser reports whether any step drives a browser.
func (sc Scenario) NeedsBrowser() bool {
	for _, st := range sc.Steps {
		if st.Kind == KindFormProbe {
			return true
		}
	}
	return false
}

// Validate checks step payloads and assertion references.
func (sc Scenario) Validate() error {
	if sc.Name == "" {
		return fmt.Errorf("scenario without name")
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("scenario %s has no steps", sc.Name)
	}
	seen := map[string]bool{}
	for i, st := range sc.Steps {
		if st.Name == "" {
			return fmt.Errorf("scenario %s: step %d has no name", sc.Name, i+1)
		}
		if seen[st.Name] {
			return fmt.Errorf("scenario %s: duplicate step %q", sc.Name, st.Name)
		}
		if err := st.validate(seen); err != nil {
			return fmt.Errorf("scenario %s: step %s: %w", sc.Name, st.Name, err)
		}
		seen[st.Name] = true
	}
	return nil
}

func (st Step) validate(earlier map[string]bool) error {
	switch st.Kind {
	case KindAPIProbe:
		if st.Endpoint == nil {
			return fmt.Errorf("api-probe needs an endpoint")
		}
		return st.endpoint().Validate()
	case KindFormProbe:
		if st.Form == nil {
			return fmt.Errorf("form-probe needs a form")
		}
		return st.form().Validate()
	case KindExpectDBState:
		if st.DB == nil || st.DB.Path == "" {
			return fmt.Errorf("expect-db-state needs db.path")
		}
		if len(st.DB.Checks) == 0 {
			return fmt.Errorf("expect-db-state needs at least one check")
		}
	case KindSleep:
		if st.Duration <= 0 {
			return fmt.Errorf("sleep needs a positive duration")
		}
	case KindAssertOutcome:
		if st.Assert == nil || st.Assert.Step == "" {
			return fmt.Errorf("assert-outcome needs assert.step")
		}
		if !earlier[st.Assert.Step] {
			return fmt.Errorf("assert-outcome refers to %q which does not run before it", st.Assert.Step)
		}
		if st.Assert.Matches != "" {
			if _, err := regexp.Compile(st.Assert.Matches); err != nil {
				return fmt.Errorf("assert matches: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown step kind %q", st.Kind)
	}
	return nil
}

// endpoint returns the step's endpoint named after the step when unnamed.
func (st Step) endpoint() prober.EndpointSpec {
	spec := *st.Endpoint
	if spec.Name == "" {
		spec.Name = st.Name
	}
	if st.ExpectChallenge {
		spec.AuthRequired = true
	}
	return spec
}

func (st Step) form() browser.FormSpec {
	spec := *st.Form
	if spec.Name == "" {
		spec.Name = st.Name
	}
	return spec
}
