package telegram

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// keptTags are the elements Telegram's HTML parse mode accepts. Everything
// else is either unwrapped to its children or dropped.
var keptTags = map[string]bool{
	"b": true, "strong": true,
	"i": true, "em": true,
	"u": true,
	"s": true, "strike": true, "del": true,
	"code": true, "pre": true,
	"a":          true,
	"blockquote": true,
}

// unwrappedTags keep their children but lose the element itself. Block
// elements contribute spacing; list items contribute bullets.
var unwrappedTags = map[string]bool{
	"p": true, "div": true, "span": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "li": true,
}

var excessNewlines = regexp.MustCompile(`\n{3,}`)

// MarkdownToHTML renders Markdown into the HTML subset Telegram accepts.
// Raw HTML embedded in the source passes through the same sanitiser as
// the rendered output, so unsupported tags never reach the API.
func MarkdownToHTML(md string) string {
	gm := goldmark.New(
		goldmark.WithExtensions(extension.Strikethrough),
		goldmark.WithRendererOptions(htmlrenderer.WithUnsafe()),
	)

	var buf bytes.Buffer
	if err := gm.Convert([]byte(md), &buf); err != nil {
		return escapeHTML(md)
	}
	return SanitizeHTML(buf.String())
}

// SanitizeHTML reduces arbitrary HTML to the Telegram subset: kept tags
// survive, structural tags are unwrapped with spacing and bullets, and
// everything else is removed along with its content.
func SanitizeHTML(in string) string {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(in), body)
	if err != nil {
		return escapeHTML(in)
	}

	var b strings.Builder
	for _, n := range nodes {
		renderNode(&b, n)
	}
	out := excessNewlines.ReplaceAllString(b.String(), "\n\n")
	return strings.TrimSpace(out)
}

func renderNode(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(escapeHTML(n.Data))
	case html.ElementNode:
		renderElement(b, n)
	}
}

func renderElement(b *strings.Builder, n *html.Node) {
	tag := strings.ToLower(n.Data)

	if keptTags[tag] {
		b.WriteByte('<')
		b.WriteString(tag)
		if tag == "a" {
			if href := attr(n, "href"); href != "" {
				b.WriteString(` href="`)
				b.WriteString(escapeHTML(href))
				b.WriteByte('"')
			}
		}
		b.WriteByte('>')
		renderChildren(b, n)
		b.WriteString("</")
		b.WriteString(tag)
		b.WriteByte('>')
		return
	}

	if unwrappedTags[tag] {
		switch tag {
		case "ol":
			i := 1
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && strings.ToLower(c.Data) == "li" {
					b.WriteString(strconv.Itoa(i))
					b.WriteString(". ")
					renderChildren(b, c)
					b.WriteByte('\n')
					i++
					continue
				}
				renderNode(b, c)
			}
			b.WriteByte('\n')
		case "ul":
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && strings.ToLower(c.Data) == "li" {
					b.WriteString("• ")
					renderChildren(b, c)
					b.WriteByte('\n')
					continue
				}
				renderNode(b, c)
			}
			b.WriteByte('\n')
		case "li":
			// Orphan list item outside ul/ol.
			b.WriteString("• ")
			renderChildren(b, n)
			b.WriteByte('\n')
		case "span":
			renderChildren(b, n)
		default:
			renderChildren(b, n)
			b.WriteString("\n\n")
		}
		return
	}

	// Unsupported element: dropped with its content.
}

func renderChildren(b *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNode(b, c)
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
