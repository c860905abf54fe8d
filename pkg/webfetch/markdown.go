package webfetch

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLToMarkdown renders the readable parts of an HTML document: headings,
// paragraphs, list items, links and table rows. Scripts and styles are
// dropped.
func HTMLToMarkdown(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}
	w := &mdWriter{}
	w.walk(doc)
	return w.String(), nil
}

type mdWriter struct {
	b    strings.Builder
	line strings.Builder
}

func (w *mdWriter) String() string {
	w.flush()
	return strings.TrimSpace(w.b.String())
}

func (w *mdWriter) flush() {
	text := strings.Join(strings.Fields(w.line.String()), " ")
	w.line.Reset()
	if text == "" {
		return
	}
	w.b.WriteString(text)
	w.b.WriteString("\n")
}

func (w *mdWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.line.WriteString(n.Data)
		w.line.WriteString(" ")
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Head, atom.Svg:
			return
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			w.flush()
			level := int(n.Data[1] - '0')
			w.line.WriteString(strings.Repeat("#", level) + " ")
			w.children(n)
			w.flush()
			return
		case atom.Li:
			w.flush()
			w.line.WriteString("- ")
			w.children(n)
			w.flush()
			return
		case atom.A:
			href := attr(n, "href")
			if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
				w.children(n)
				return
			}
			w.line.WriteString("[" + textContent(n) + "](" + href + ") ")
			return
		case atom.Br:
			w.flush()
			return
		case atom.Td, atom.Th:
			w.children(n)
			w.line.WriteString(" | ")
			return
		case atom.P, atom.Div, atom.Tr, atom.Table, atom.Ul, atom.Ol, atom.Pre, atom.Section, atom.Article:
			w.flush()
			w.children(n)
			w.flush()
			return
		}
	}
	w.children(n)
}

func (w *mdWriter) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
