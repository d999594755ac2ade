package sitemap

import (
	"net/url"
	"slices"
	"strings"
)

// Blocklist drops sitemap URLs whose host matches an exact entry or a
// "*.suffix" / ".suffix" wildcard. A nil Blocklist blocks nothing.
type Blocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewBlocklist compiles patterns. It returns nil when no pattern is usable.
func NewBlocklist(patterns []string) *Blocklist {
	b := &Blocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			b.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			b.addSuffix(strings.TrimPrefix(value, "."))
		default:
			b.exact[value] = struct{}{}
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

func (b *Blocklist) addSuffix(suffix string) {
	if suffix != "" && !slices.Contains(b.suffixes, suffix) {
		b.suffixes = append(b.suffixes, suffix)
	}
}

// Blocked reports whether host is covered by the list.
func (b *Blocklist) Blocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Filter returns urls minus blocked hosts, preserving order and duplicates.
// Unparseable URLs are kept so the crawl counts them as failures.
func (b *Blocklist) Filter(urls []string) (kept []string, blocked int) {
	if b == nil {
		return urls, 0
	}
	kept = make([]string, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err == nil && b.Blocked(u.Hostname()) {
			blocked++
			continue
		}
		kept = append(kept, raw)
	}
	return kept, blocked
}
