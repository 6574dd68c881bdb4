package solution

import (
	"net/url"
	"strings"
)

// DefaultProblemPrefix marks URLs that point at a problem page.
const DefaultProblemPrefix = "https://leetcode.com/problems/"

// IsProblemPage reports whether rawURL starts with prefix.
func IsProblemPage(rawURL, prefix string) bool {
	if prefix == "" {
		prefix = DefaultProblemPrefix
	}
	return strings.HasPrefix(rawURL, prefix)
}

// SlugFromPath returns the second path segment, or "" when there is none.
// "/problems/two-sum/description/" yields "two-sum".
func SlugFromPath(path string) string {
	segments := strings.Split(path, "/")
	if len(segments) < 3 {
		return ""
	}
	return segments[2]
}

// SlugFromURL parses rawURL and applies SlugFromPath to its path.
func SlugFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return SlugFromPath(u.Path)
}

// SlugFromMenuURL returns the segment before the last one of the URL path.
// The last segment may be empty, so both "/problems/two-sum/" and
// "/problems/two-sum/description" yield "two-sum".
func SlugFromMenuURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(u.Path, "/")
	if len(segments) < 2 {
		return ""
	}
	return segments[len(segments)-2]
}
