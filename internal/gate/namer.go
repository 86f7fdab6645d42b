package gate

import (
	"fmt"
	"math/rand/v2"
	"path"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const randAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// SourceNamer produces virtual source locators for inline scripts so
// debuggers can tell them apart:
//
//	RS_VM/VM_<page>_inline_<n>_<RAND6>.js
type SourceNamer struct {
	page string
	rand func() string

	mu sync.Mutex
	n  int
}

// NewSourceNamer creates a namer for a page. rnd supplies the random suffix;
// nil uses six characters from [0-9A-Z].
func NewSourceNamer(pageName string, rnd func() string) *SourceNamer {
	if rnd == nil {
		rnd = rand6
	}
	return &SourceNamer{page: SanitizePageName(pageName), rand: rnd}
}

// Next returns the next locator. The counter starts at 0.
func (s *SourceNamer) Next() string {
	s.mu.Lock()
	n := s.n
	s.n++
	s.mu.Unlock()
	return fmt.Sprintf("RS_VM/VM_%s_inline_%d_%s.js", s.page, n, s.rand())
}

// SanitizePageName turns the last segment of a page path into an
// identifier: extension stripped, accents folded to ASCII, anything outside
// [a-zA-Z0-9_-] replaced by '_'. Empty names become "index".
func SanitizePageName(name string) string {
	name = path.Base(strings.TrimSuffix(name, "/"))
	if name == "." || name == "/" || name == "" {
		return "index"
	}
	if dot := strings.LastIndex(name, "."); dot > 0 {
		name = name[:dot]
	}

	var b strings.Builder
	for _, r := range norm.NFKD.String(name) {
		switch {
		case unicode.Is(unicode.Mn, r):
			// combining mark left over from decomposition
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-'):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "page"
	}
	return b.String()
}

func rand6() string {
	buf := make([]byte, 6)
	for i := range buf {
		buf[i] = randAlphabet[rand.IntN(len(randAlphabet))]
	}
	return string(buf)
}
