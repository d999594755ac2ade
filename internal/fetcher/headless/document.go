package headless

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/chromedp/cdproto/network"
)

// documentTracker remembers the main document response of a tab. Redirect hops
// are replaced by the response they lead to; later documents such as iframes
// are ignored.
type documentTracker struct {
	mu   sync.Mutex
	resp *network.Response
}

func (d *documentTracker) listen(ev any) {
	evt, ok := ev.(*network.EventResponseReceived)
	if !ok || evt.Type != network.ResourceTypeDocument || evt.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resp == nil || (d.resp.Status >= 300 && d.resp.Status < 400) {
		d.resp = evt.Response
	}
}

// result returns status, headers and URL for the page. Without a captured
// response the page is assumed to have loaded with 200 from finalURL, or
// requestURL when the browser reported no location.
func (d *documentTracker) result(requestURL, finalURL string) (int, http.Header, string) {
	d.mu.Lock()
	resp := d.resp
	d.mu.Unlock()

	if resp == nil {
		if finalURL == "" {
			finalURL = requestURL
		}
		return http.StatusOK, http.Header{}, finalURL
	}
	url := resp.URL
	if url == "" {
		url = finalURL
	}
	if url == "" {
		url = requestURL
	}
	status := int(resp.Status)
	if status == 0 {
		status = http.StatusOK
	}
	return status, httpHeaders(resp.Headers), url
}

// httpHeaders converts CDP headers, whose values arrive as strings or lists.
func httpHeaders(src network.Headers) http.Header {
	out := make(http.Header, len(src))
	for key, value := range src {
		switch v := value.(type) {
		case string:
			out.Add(key, v)
		case []string:
			for _, entry := range v {
				out.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				out.Add(key, fmt.Sprint(entry))
			}
		default:
			out.Add(key, fmt.Sprint(v))
		}
	}
	return out
}

func cdpHeaders(h http.Header) network.Headers {
	out := make(network.Headers, len(h))
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
