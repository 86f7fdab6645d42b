package resource

import (
	"fmt"
	"strings"
)

// Kind is the type of a shared resource.
type Kind string

const (
	// KindScript is a JavaScript resource.
	KindScript Kind = "script"
	// KindStyle is a CSS resource.
	KindStyle Kind = "style"
)

// Kinds lists the supported kinds in declaration order.
var Kinds = []Kind{KindScript, KindStyle}

// ParseKind validates a kind string. Matching is case-insensitive.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindScript:
		return KindScript, nil
	case KindStyle:
		return KindStyle, nil
	default:
		return "", fmt.Errorf("unknown resource kind %q", s)
	}
}

// MIMEType returns the content type used when the resource is stored as a blob.
func (k Kind) MIMEType() string {
	if k == KindStyle {
		return "text/css"
	}
	return "text/javascript"
}

// Key identifies a cache entry.
type Key struct {
	Kind    Kind
	Locator string
}

// String renders the key as "kind:locator".
func (k Key) String() string {
	return string(k.Kind) + ":" + k.Locator
}

// Handle is an out-of-band reference to content held in a BlobStore.
type Handle string

// HandlePrefix marks locators that point into a BlobStore.
const HandlePrefix = "blob:"

// IsHandle reports whether a locator is an out-of-band handle.
func IsHandle(locator string) bool {
	return strings.HasPrefix(locator, HandlePrefix)
}

// Content is either inline text or a handle. The zero value is empty inline text.
type Content struct {
	Text   string
	Handle Handle
}

// Inline wraps text as inline content.
func Inline(text string) Content {
	return Content{Text: text}
}

// ByHandle wraps a handle as content.
func ByHandle(h Handle) Content {
	return Content{Handle: h}
}

// IsHandle reports whether the content is held out of band.
func (c Content) IsHandle() bool {
	return c.Handle != ""
}

// Size returns the inline size in bytes, or 0 for handle content.
func (c Content) Size() int {
	return len(c.Text)
}

// Resolve returns the text of the content, looking handles up in blobs.
func (c Content) Resolve(blobs *BlobStore) (string, error) {
	if !c.IsHandle() {
		return c.Text, nil
	}
	if blobs == nil {
		return "", fmt.Errorf("resolve %s: no blob store", c.Handle)
	}
	text, ok := blobs.Lookup(c.Handle)
	if !ok {
		return "", fmt.Errorf("resolve %s: handle revoked or unknown", c.Handle)
	}
	return text, nil
}
