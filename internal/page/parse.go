package page

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MarkerTag is the element name of declarative resource markers.
const MarkerTag = "resource-share"

// Parse reads an HTML document into a Page. Script elements and
// resource-share markers are collected in document order.
func Parse(r io.Reader, pageURL string, opts ...Option) (*Page, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url %q: %w", pageURL, err)
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}

	p := New(u, opts...)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.DataAtom == atom.Script:
				p.scripts = append(p.scripts, NewScript(attrMap(n), textOf(n)))
			case n.Data == MarkerTag:
				attrs := attrMap(n)
				loc := attrs["src"]
				if loc == "" {
					loc = attrs["href"]
				}
				p.markers = append(p.markers, Marker{Kind: attrs["type"], Locator: loc, Attrs: attrs})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return p, nil
}

// scriptsIn returns the script elements of an HTML fragment.
func scriptsIn(markup string) ([]*Script, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return nil, err
	}
	var out []*Script
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Script {
			out = append(out, NewScript(attrMap(n), textOf(n)))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return out, nil
}

func attrMap(n *html.Node) map[string]string {
	m := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		m[strings.ToLower(a.Key)] = a.Val
	}
	return m
}

func textOf(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}
