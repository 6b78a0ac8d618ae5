package pathutil

import (
	"regexp"
	"strings"
)

// PathPattern represents a regex pattern and its corresponding normalized template.
type PathPattern struct {
	Pattern  *regexp.Regexp
	Template string
}

// staticAdminPaths are the admin cache routes whose last segment is a word,
// not a tenant id.
var staticAdminPaths = map[string]struct{}{
	"/admin/cache/count":          {},
	"/admin/cache/invalidate":     {},
	"/admin/cache/invalidate-all": {},
}

// pathPatterns defines the list of patterns for dynamic routes.
// Patterns are evaluated in order from most specific to least specific.
var pathPatterns = []*PathPattern{
	{Pattern: regexp.MustCompile(`^/admin/cache/[^/]+/peek$`), Template: "/admin/cache/:tenant/peek"},
	{Pattern: regexp.MustCompile(`^/admin/cache/[^/]+/invalidate$`), Template: "/admin/cache/:tenant/invalidate"},
	{Pattern: regexp.MustCompile(`^/admin/cache/[^/]+$`), Template: "/admin/cache/:tenant"},
	{Pattern: regexp.MustCompile(`^/devices/\d+$`), Template: "/devices/:id"},
}

// NormalizePath normalizes dynamic URL paths to prevent metrics label cardinality explosion.
//
// Examples:
//
//	NormalizePath("/admin/cache/acme")            // "/admin/cache/:tenant"
//	NormalizePath("/admin/cache/acme/peek")       // "/admin/cache/:tenant/peek"
//	NormalizePath("/admin/cache/count")           // "/admin/cache/count" (unchanged)
//	NormalizePath("/notify?dry=1")                // "/notify"
//	NormalizePath("/unknown/path/123")            // "/unknown/path/123" (no match, return original)
func NormalizePath(path string) string {
	// Strip query parameters if present
	if idx := strings.IndexByte(path, '?'); idx != -1 {
		path = path[:idx]
	}

	// Strip trailing slash if present (except for root path)
	if len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}

	if _, ok := staticAdminPaths[path]; ok {
		return path
	}

	for _, p := range pathPatterns {
		if p.Pattern.MatchString(path) {
			return p.Template
		}
	}
	return path
}

// GetExpectedCardinality returns the expected number of unique path labels
// after normalization: the templates plus the static routes
// (/notify, /devices, /health, /ready, /live, /metrics and the admin words).
func GetExpectedCardinality() int {
	return len(pathPatterns) + len(staticAdminPaths) + 6
}
