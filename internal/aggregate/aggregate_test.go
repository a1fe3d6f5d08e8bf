package aggregate

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/probekit/internal/model"
)

const target = "http://sut.test"

func pass(l model.Layer, name string) model.Outcome {
	return model.Outcome{Layer: l, Name: name, Target: target, Success: true}
}

func fail(l model.Layer, name string, kind model.ErrorKind) model.Outcome {
	return model.Outcome{Layer: l, Name: name, Target: target, ErrorKind: kind, Error: string(kind)}
}

func TestRecorder_RejectsDuplicates(t *testing.T) {
	r := NewRecorder()
	require.NoError(t, r.Record(pass(model.LayerHTTP, "health")))
	err := r.Record(fail(model.LayerHTTP, "health", model.KindTimeout))
	assert.True(t, errors.Is(err, ErrDuplicateOutcome))

	require.NoError(t, r.Record(pass(model.LayerAPI, "health")), "same name in another layer is distinct")
	assert.Equal(t, 2, r.Len())
}

func TestRecorder_RejectsInvalid(t *testing.T) {
	r := NewRecorder()
	bad := pass(model.LayerHTTP, "x")
	bad.ErrorKind = model.KindTimeout
	assert.Error(t, r.Record(bad))
	assert.Error(t, r.Record(model.Outcome{Layer: "L9", Name: "x"}))
	assert.Zero(t, r.Len())
}

func TestRecorder_HooksAndOrder(t *testing.T) {
	r := NewRecorder()
	var seen []string
	r.OnRecord(func(o model.Outcome) { seen = append(seen, o.Name) })
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Record(pass(model.LayerHTTP, fmt.Sprintf("p%d", i))))
	}
	assert.Equal(t, []string{"p0", "p1", "p2", "p3", "p4"}, seen)

	outs := r.Outcomes()
	outs[0].Name = "mutated"
	assert.Equal(t, "p0", r.Outcomes()[0].Name)
}

func TestRecorder_Concurrent(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Record(pass(model.LayerHTTP, fmt.Sprintf("p%d", i%25)))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 25, r.Len())
}

func TestVerdict_Thresholds(t *testing.T) {
	cases := []struct {
		test, approach float64
		want           model.Verdict
	}{
		{1, 1, model.VerdictReady},
		{0.85, 0.75, model.VerdictReady},
		{0.849, 1, model.VerdictMostlyReady},
		{0.85, 0.74, model.VerdictMostlyReady},
		{0.70, 0.50, model.VerdictMostlyReady},
		{0.69, 1, model.VerdictNeedsWork},
		{0.70, 0.49, model.VerdictNeedsWork},
		{0.50, 0.25, model.VerdictNeedsWork},
		{0.49, 1, model.VerdictNotReady},
		{1, 0.24, model.VerdictNotReady},
		{0, 0, model.VerdictNotReady},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Verdict(c.test, c.approach), "test=%v approach=%v", c.test, c.approach)
	}
}

func TestScore_PureFunctionOfTotals(t *testing.T) {
	layers := []model.LayerSummary{
		{Layer: model.LayerHTTP, Total: 10, Passed: 10},
		{Layer: model.LayerAPI, Total: 10, Passed: 7},
		{Layer: model.LayerBrowser, Total: 10, Passed: 6},
		{Layer: model.LayerScenario, Total: 10, Passed: 9},
	}
	testRate, approach, verdict := Score(layers)
	assert.InDelta(t, 0.80, testRate, 1e-9)
	assert.InDelta(t, 0.75, approach, 1e-9)
	assert.Equal(t, model.VerdictMostlyReady, verdict)

	// the approved flag stored in a summary does not influence the score
	layers[2].Approved = true
	_, approach2, _ := Score(layers)
	assert.Equal(t, approach, approach2)

	testRate, approach, verdict = Score(nil)
	assert.Zero(t, testRate)
	assert.Zero(t, approach)
	assert.Equal(t, model.VerdictNotReady, verdict)
}

func TestSummarize_ProtectionAndChallenges(t *testing.T) {
	prot := fail(model.LayerAPI, "protect:users", model.KindAuthChallenged)
	prot.SubLayer = model.SubLayerProtection
	leak := fail(model.LayerAPI, "protect:settings", model.KindStatusMismatch)
	leak.SubLayer = model.SubLayerProtection
	challenged := fail(model.LayerAPI, "admin:settings", model.KindAuthChallenged)
	challenged.SubLayer = model.SubLayerFunctionality
	ok := pass(model.LayerAPI, "profile")
	broken := fail(model.LayerAPI, "cart", model.KindSchemaError)

	layers := Summarize([]model.Layer{model.LayerAPI}, []model.Outcome{prot, leak, challenged, ok, broken})
	require.Len(t, layers, 1)
	l := layers[0]
	assert.Equal(t, model.Tally{Total: 2, Passed: 1, Rate: 0.5}, l.Protection)
	assert.Equal(t, model.Tally{Total: 2, Passed: 1, Rate: 0.5}, l.Functionality)
	assert.Equal(t, 4, l.Total)
	assert.Equal(t, 2, l.Passed)
	assert.False(t, l.Approved)
}

func TestSummarize_SelectedLayersWithoutOutcomes(t *testing.T) {
	layers := Summarize([]model.Layer{model.LayerHTTP, model.LayerBrowser}, []model.Outcome{pass(model.LayerHTTP, "health")})
	require.Len(t, layers, 2)
	assert.True(t, layers[0].Approved)
	assert.Equal(t, model.LayerBrowser, layers[1].Layer)
	assert.Zero(t, layers[1].Rate)
	assert.False(t, layers[1].Approved)
}

func TestBuildReport(t *testing.T) {
	tgt, err := model.NewTarget(target, model.EnvLocal)
	require.NoError(t, err)
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	outs := []model.Outcome{
		pass(model.LayerHTTP, "a"),
		pass(model.LayerHTTP, "b"),
		fail(model.LayerHTTP, "c", model.KindTimeout),
		pass(model.LayerAPI, "d"),
	}
	rep := BuildReport(Run{
		ID: "run-1", Target: tgt,
		Layers:  []model.Layer{model.LayerHTTP, model.LayerAPI},
		Started: start, Finished: start.Add(1500 * time.Millisecond),
	}, outs)

	assert.Equal(t, "run-1", rep.RunID)
	assert.Equal(t, int64(1500), rep.DurationMS)
	assert.InDelta(t, 0.75, rep.TestRate, 1e-9)
	assert.Equal(t, rep.TestRate, rep.Score)
	assert.InDelta(t, 0.5, rep.ApproachRate, 1e-9)
	assert.Equal(t, model.VerdictMostlyReady, rep.Verdict)
	assert.Equal(t, []string{"a", "b", "c", "d"}, names(rep.Outcomes))
	require.Len(t, rep.Failures(), 1)
	for _, o := range rep.Outcomes {
		assert.NoError(t, o.Validate())
	}
}

func names(outs []model.Outcome) []string {
	var n []string
	for _, o := range outs {
		n = append(n, o.Name)
	}
	return n
}
