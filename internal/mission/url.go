package mission

import (
	"net/url"
	"strings"
)

var redditHostPrefixes = []string{"www.", "old.", "new.", "sh."}

// NormalizeURL reduces a Reddit URL to host+path so the same post reached
// through different hosts, queries or trailing slashes compares equal.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.TrimSpace(raw), "/")
	}
	host := strings.ToLower(u.Host)
	for _, p := range redditHostPrefixes {
		host = strings.TrimPrefix(host, p)
	}
	return host + strings.TrimRight(u.EscapedPath(), "/")
}

func SamePage(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return NormalizeURL(a) == NormalizeURL(b)
}

// PostIDFromPermalink extracts the t3_ id from /r/<sub>/comments/<id>/... links.
func PostIDFromPermalink(permalink string) string {
	u, err := url.Parse(permalink)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p == "comments" && i+1 < len(parts) && parts[i+1] != "" {
			return "t3_" + parts[i+1]
		}
	}
	return ""
}
