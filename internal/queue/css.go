package queue

import (
	"net/url"
	"regexp"
	"strings"
)

var cssURL = regexp.MustCompile(`url\(\s*(['"]?)([^'")]+)['"]?\s*\)`)

// RewriteCSSURLs resolves relative url(...) references in css against base,
// the stylesheet's own absolute URL. data:, http: and https: references are
// left untouched.
func RewriteCSSURLs(css string, base *url.URL) string {
	if base == nil {
		return css
	}
	return cssURL.ReplaceAllStringFunc(css, func(match string) string {
		m := cssURL.FindStringSubmatch(match)
		ref := strings.TrimSpace(m[2])
		lower := strings.ToLower(ref)
		for _, prefix := range []string{"data:", "http:", "https:"} {
			if strings.HasPrefix(lower, prefix) {
				return match
			}
		}
		u, err := url.Parse(ref)
		if err != nil {
			return match
		}
		return "url('" + base.ResolveReference(u).String() + "')"
	})
}
