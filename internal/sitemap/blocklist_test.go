package sitemap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlocklist(t *testing.T) {
	t.Parallel()

	t.Run("exact match", func(t *testing.T) {
		t.Parallel()
		bl := NewBlocklist([]string{"Example.org"})
		require.NotNil(t, bl)
		require.True(t, bl.Blocked("example.org"))
		require.False(t, bl.Blocked("sub.example.org"), "exact entries do not cover subdomains")
	})

	t.Run("wildcard suffix", func(t *testing.T) {
		t.Parallel()
		bl := NewBlocklist([]string{"*.ru", ".internal"})
		cases := map[string]bool{
			"example.ru":    true,
			"sub.domain.ru": true,
			"ru":            true,
			"api.internal":  true,
			"example.com":   false,
			"":              false,
		}
		for host, want := range cases {
			require.Equal(t, want, bl.Blocked(host), "host %q", host)
		}
	})

	t.Run("empty patterns", func(t *testing.T) {
		t.Parallel()
		require.Nil(t, NewBlocklist([]string{" ", "*.", ""}))
		var bl *Blocklist
		require.False(t, bl.Blocked("anything"))
	})
}

// TestBlocklistFilter ensures blocked hosts are removed while order is kept.
func TestBlocklistFilter(t *testing.T) {
	t.Parallel()

	bl := NewBlocklist([]string{"*.cdn.example.com"})
	urls := []string{
		"https://example.com/a",
		"https://img.cdn.example.com/x.png",
		"https://example.com/a",
		"://bad",
	}
	kept, blocked := bl.Filter(urls)
	require.Equal(t, 1, blocked)
	require.Equal(t, []string{"https://example.com/a", "https://example.com/a", "://bad"}, kept)

	var none *Blocklist
	kept, blocked = none.Filter(urls)
	require.Zero(t, blocked)
	require.Equal(t, urls, kept)
}
