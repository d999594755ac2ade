package headless

import (
	"net/http"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func documentEvent(status int64, url string) *network.EventResponseReceived {
	return &network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: status, URL: url},
	}
}

func TestDocumentTrackerKeepsMainDocument(t *testing.T) {
	t.Parallel()

	doc := &documentTracker{}
	first := documentEvent(204, "https://example.com/rendered")
	first.Response.Headers = network.Headers{"X-Request-ID": "abc", "Set-Cookie": []any{"a=1", "b=2"}}
	doc.listen(first)
	doc.listen(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 404, URL: "https://example.com/app.js"},
	})
	doc.listen(documentEvent(500, "https://ads.example.net/frame"))
	doc.listen("not an event")

	status, headers, url := doc.result("https://req", "https://final")
	require.Equal(t, 204, status)
	require.Equal(t, "abc", headers.Get("X-Request-ID"))
	require.Equal(t, []string{"a=1", "b=2"}, headers.Values("Set-Cookie"))
	require.Equal(t, "https://example.com/rendered", url)
}

func TestDocumentTrackerFollowsRedirects(t *testing.T) {
	t.Parallel()

	doc := &documentTracker{}
	doc.listen(documentEvent(301, "https://example.com/old"))
	doc.listen(documentEvent(302, "https://example.com/older"))
	doc.listen(documentEvent(200, "https://example.com/new"))
	doc.listen(documentEvent(500, "https://example.com/frame"))

	status, _, url := doc.result("https://req", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://example.com/new", url)
}

func TestDocumentTrackerFallbacks(t *testing.T) {
	t.Parallel()

	status, headers, url := (&documentTracker{}).result("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.Empty(t, headers)
	require.Equal(t, "https://final", url)

	_, _, url = (&documentTracker{}).result("https://req", "")
	require.Equal(t, "https://req", url)

	doc := &documentTracker{}
	doc.listen(documentEvent(0, ""))
	status, _, url = doc.result("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://final", url)
}

func TestCDPHeaders(t *testing.T) {
	t.Parallel()

	out := cdpHeaders(http.Header{"X-Test": {"a", "b"}, "X-One": {"1"}, "X-Empty": {}})
	require.Equal(t, []string{"a", "b"}, out["X-Test"])
	require.Equal(t, "1", out["X-One"])
	require.NotContains(t, out, "X-Empty")
}
