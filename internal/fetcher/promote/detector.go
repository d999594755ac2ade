package promote

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

const (
	defaultThreshold    = 2048
	minVisibleText      = 200
	scriptCoveragePct   = 25
	scriptTagOpen       = "<script"
	scriptTagClose      = "</script>"
	visibleTextExcluded = "script, style, noscript, template"
)

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("enable javascript"),
}

// Heuristic flags HTTP responses that probably need a browser to render.
type Heuristic struct {
	// BodyLengthThreshold marks bodies small enough to be a script shell.
	BodyLengthThreshold int
}

// NewHeuristic creates a detector. A non-positive threshold selects the default.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// ShouldPromote reports whether resp should be re-fetched headlessly.
// Only successful responses are candidates; error pages are final.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode != 200 {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, bytes.ToLower(marker)) {
			return true
		}
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(string(lower)) {
		return true
	}
	return visibleTextLength(body) < minVisibleText && bytes.Contains(lower, []byte(scriptTagOpen))
}

// visibleTextLength counts non-space characters outside scripts and styles.
func visibleTextLength(body []byte) int {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0
	}
	doc.Find(visibleTextExcluded).Remove()
	return len(strings.Join(strings.Fields(doc.Find("body").Text()), ""))
}

// scriptDensityHigh reports whether script elements cover a large share of
// an already lower-cased document.
func scriptDensityHigh(lower string) bool {
	total := len(lower)
	if total == 0 {
		return false
	}
	covered, pos := 0, 0
	for {
		rel := strings.Index(lower[pos:], scriptTagOpen)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			covered += total - start
			break
		}
		contentStart := start + tagEnd + 1
		next := total
		if end := strings.Index(lower[contentStart:], scriptTagClose); end != -1 {
			next = contentStart + end + len(scriptTagClose)
		}
		covered += next - start
		pos = next
	}
	return covered*100/total >= scriptCoveragePct
}
