package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/probekit/internal/aggregate"
	"github.com/raysh454/probekit/internal/browser"
	"github.com/raysh454/probekit/internal/model"
)

func TestAdminPagesRedirectedToLoginLowerBrowserScore(t *testing.T) {
	const base = "http://sut.test"
	outcomes := []model.Outcome{{
		Layer: model.LayerBrowser, Name: "donation", Target: base + "/donate",
		SubLayer: model.SubLayerFunctionality, Success: true,
	}}
	for _, page := range browser.AdminListPages() {
		ok, kind, msg := browser.Classify(page, browser.PageState{
			FormURL:     base + page.Page,
			URL:         base + "/login?next=" + page.Page,
			Interactive: 4,
			LoginPath:   "/login",
		})
		require.False(t, ok, page.Name)
		outcomes = append(outcomes, model.Outcome{
			Layer: model.LayerBrowser, Name: page.Name, Target: base + page.Page,
			SubLayer: model.SubLayerFunctionality, ErrorKind: kind, Error: msg,
		})
	}

	layers := aggregate.Summarize([]model.Layer{model.LayerBrowser}, outcomes)
	require.Len(t, layers, 1)
	l3 := layers[0]
	assert.Equal(t, 5, l3.Total)
	assert.Equal(t, 1, l3.Passed)
	assert.InDelta(t, 0.2, l3.Rate, 1e-9)
	assert.False(t, l3.Approved)

	rep := model.Report{Outcomes: outcomes}
	assert.Len(t, rep.Failures(), len(browser.AdminListPages()))
}
