package utils

import (
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// MatchDomains reports whether the host of urlStr matches one of the glob
// patterns, e.g. "*.google.com" or "www.bing.com". An empty pattern list
// matches everything.
func MatchDomains(patterns []string, urlStr string) bool {
	if len(patterns) == 0 {
		return true
	}
	host := HostOf(urlStr)
	if host == "" {
		return false
	}
	for _, pattern := range patterns {
		g, err := glob.Compile(strings.ToLower(pattern), '.')
		if err != nil {
			continue
		}
		if g.Match(host) {
			return true
		}
		// "*.example.com" also covers the bare domain
		if strings.HasPrefix(pattern, "*.") && host == strings.ToLower(pattern[2:]) {
			return true
		}
	}
	return false
}

// HostOf returns the lower-cased host of urlStr without its port.
func HostOf(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
