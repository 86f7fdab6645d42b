package page

import (
	"path"
	"strings"
)

// Script is a snapshot of a script element's attributes and inline text.
type Script struct {
	Src            string
	Text           string
	Type           string
	Async          bool
	Defer          bool
	CrossOrigin    string
	Integrity      string
	Nonce          string
	ReferrerPolicy string

	// Attrs holds every attribute, names lowercased.
	Attrs map[string]string
}

// NewScript builds a script from element attributes and inline text.
func NewScript(attrs map[string]string, text string) *Script {
	s := &Script{Text: text, Attrs: make(map[string]string, len(attrs))}
	for k, v := range attrs {
		s.Attrs[strings.ToLower(k)] = v
	}
	s.Src = s.Attrs["src"]
	s.Type = s.Attrs["type"]
	_, s.Async = s.Attrs["async"]
	_, s.Defer = s.Attrs["defer"]
	s.CrossOrigin = s.Attrs["crossorigin"]
	s.Integrity = s.Attrs["integrity"]
	s.Nonce = s.Attrs["nonce"]
	s.ReferrerPolicy = s.Attrs["referrerpolicy"]
	return s
}

// External builds a script element with a src.
func External(src string) *Script {
	return NewScript(map[string]string{"src": src}, "")
}

// Inline builds a script element with inline code.
func Inline(code string) *Script {
	return NewScript(nil, code)
}

// Has reports whether the attribute is present.
func (s *Script) Has(attr string) bool {
	_, ok := s.Attrs[strings.ToLower(attr)]
	return ok
}

// IsExternal reports whether the script loads from a src.
func (s *Script) IsExternal() bool {
	return s.Src != ""
}

// FileName returns the last path segment of src, without query or fragment.
func (s *Script) FileName() string {
	return FileName(s.Src)
}

// Label is a short human-readable name for logs.
func (s *Script) Label() string {
	if s.IsExternal() {
		return s.Src
	}
	text := strings.TrimSpace(s.Text)
	if len(text) > 32 {
		text = text[:32] + "…"
	}
	return "inline: " + text
}

// Clone returns a deep copy.
func (s *Script) Clone() *Script {
	cp := *s
	cp.Attrs = make(map[string]string, len(s.Attrs))
	for k, v := range s.Attrs {
		cp.Attrs[k] = v
	}
	return &cp
}

// FileName returns the last path segment of a locator, without query or
// fragment.
func FileName(locator string) string {
	if i := strings.IndexAny(locator, "?#"); i >= 0 {
		locator = locator[:i]
	}
	if locator == "" {
		return ""
	}
	return path.Base(locator)
}

// Marker is a declarative <resource-share> element.
type Marker struct {
	Kind    string
	Locator string
	Attrs   map[string]string
}
