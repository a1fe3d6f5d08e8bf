// Package aggregate collects the outcomes of a run and scores them.
package aggregate

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/raysh454/probekit/internal/model"
)

var ErrDuplicateOutcome = errors.New("outcome already recorded")

// Recorder is the run's append-only outcome accumulator. It is safe for
// concurrent use; outcomes keep the order in which Record accepted them.
type Recorder struct {
	mu       sync.Mutex
	outcomes []model.Outcome
	keys     map[string]struct{}
	hooks    []func(model.Outcome)
}

func NewRecorder() *Recorder {
	return &Recorder{keys: map[string]struct{}{}}
}

// OnRecord registers fn to be called with every accepted outcome. Hooks run
// in registration order, after the outcome is stored.
func (r *Recorder) OnRecord(fn func(model.Outcome)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Record validates o and appends it. A second outcome with the same
// (layer, name, target) is rejected with ErrDuplicateOutcome.
func (r *Recorder) Record(o model.Outcome) error {
	if err := o.Validate(); err != nil {
		return model.Wrap(model.KindHarnessError, "record", err)
	}
	key := o.Key()

	r.mu.Lock()
	if _, dup := r.keys[key]; dup {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateOutcome, key)
	}
	r.keys[key] = struct{}{}
	r.outcomes = append(r.outcomes, o)
	hooks := slices.Clone(r.hooks)
	r.mu.Unlock()

	for _, fn := range hooks {
		fn(o)
	}
	return nil
}

// Outcomes returns a copy of the recorded outcomes in order.
func (r *Recorder) Outcomes() []model.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Outcome(nil), r.outcomes...)
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes)
}
