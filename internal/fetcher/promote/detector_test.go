package promote

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

func TestHeuristic_ShouldPromote(t *testing.T) {
	t.Parallel()

	article := "<html><body><article>" + strings.Repeat("<p>Plain server rendered prose.</p>", 40) + "</article></body></html>"
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{name: "empty body", status: 200, body: "  ", want: true},
		{name: "next marker", status: 200, body: `<div id="__next"></div>`, want: true},
		{name: "noscript notice", status: 200, body: `<noscript>Please Enable JavaScript to continue</noscript>` + article, want: true},
		{name: "script dense", status: 200, body: `<html><script>var a=1;</script><p>t</p></html>`, want: true},
		{name: "script shell over threshold", status: 200, body: `<html><body><script src="/bundle.js"></script>` + strings.Repeat(" ", 3000) + `<p>Loading</p></body></html>`, want: true},
		{name: "plain article", status: 200, body: article, want: false},
		{name: "not found", status: 404, body: "not found", want: false},
		{name: "server error empty", status: 500, body: "", want: false},
	}
	h := NewHeuristic(1000)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := h.ShouldPromote(crawler.FetchResponse{StatusCode: tt.status, Body: []byte(tt.body)})
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNewHeuristicDefaultThreshold(t *testing.T) {
	t.Parallel()

	require.Equal(t, defaultThreshold, NewHeuristic(0).BodyLengthThreshold)
	require.Equal(t, defaultThreshold, NewHeuristic(-5).BodyLengthThreshold)
	require.Equal(t, 10, NewHeuristic(10).BodyLengthThreshold)
}

func TestScriptDensityUnclosedTag(t *testing.T) {
	t.Parallel()

	require.True(t, scriptDensityHigh(`<p>x</p><script>never closed`))
	require.True(t, scriptDensityHigh(`<p>x</p><script`))
	require.False(t, scriptDensityHigh(""))
	require.False(t, scriptDensityHigh("<p>no scripts here at all</p>"))
}
