package queue

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SourceName returns the virtual source locator of a declared resource:
// RS_VM/VM_<file>, where file is the last segment of the resolved locator
// with query and fragment dropped and unsafe characters replaced.
func SourceName(locator string, base *url.URL) string {
	file := ""
	if u, err := url.Parse(locator); err == nil {
		if base != nil {
			u = base.ResolveReference(u)
		}
		if !strings.HasSuffix(u.Path, "/") {
			file = path.Base(u.Path)
		}
	}
	if file == "" || file == "." {
		file = "resource.js"
	}
	return "RS_VM/VM_" + unsafeFileChars.ReplaceAllString(file, "_")
}

// Resolve returns the absolute URL of locator relative to base.
func Resolve(locator string, base *url.URL) *url.URL {
	u, err := url.Parse(locator)
	if err != nil {
		return nil
	}
	if base != nil {
		return base.ResolveReference(u)
	}
	return u
}
