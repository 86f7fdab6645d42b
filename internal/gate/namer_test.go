package gate

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizePageName(t *testing.T) {
	tests := map[string]string{
		"index.html":          "index",
		"/app/pages/list.php": "list",
		"":                    "index",
		"/":                   "index",
		"my page?.html":       "my_page_",
		"café.html":           "cafe",
		"archive.tar.gz":      "archive_tar",
		".hidden":             "_hidden",
		"数据.html":             "__",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizePageName(in), in)
	}
}

func TestSourceNamer_CountsFromZero(t *testing.T) {
	n := NewSourceNamer("index.html", func() string { return "XYZ789" })
	assert.Equal(t, "RS_VM/VM_index_inline_0_XYZ789.js", n.Next())
	assert.Equal(t, "RS_VM/VM_index_inline_1_XYZ789.js", n.Next())
}

func TestSourceNamer_RandomSuffix(t *testing.T) {
	n := NewSourceNamer("a.html", nil)
	assert.Regexp(t, regexp.MustCompile(`^RS_VM/VM_a_inline_0_[0-9A-Z]{6}\.js$`), n.Next())
}
