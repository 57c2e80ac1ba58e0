package browser

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// NormalizeHeading returns the visible text of a heading with markup
// removed and whitespace collapsed. Plain text passes through with only
// whitespace and entity normalization.
func NormalizeHeading(raw string) string {
	if !strings.Contains(raw, "<") {
		return strings.Join(strings.Fields(html.UnescapeString(raw)), " ")
	}
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return strings.Join(strings.Fields(raw), " ")
	}
	var b strings.Builder
	collectText(doc, &b)
	return strings.Join(strings.Fields(b.String()), " ")
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode && isSkippedElement(strings.ToLower(n.Data)) {
		return
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

// CleanDOM reduces a page dump to its semantic structure: scripts, styles
// and comments are dropped and only targeting attributes are kept. Output
// longer than maxLength is cut and reported as truncated.
func CleanDOM(rawHTML string, maxLength int) (string, bool, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", false, fmt.Errorf("failed to parse HTML: %w", err)
	}
	var b strings.Builder
	length := 0
	truncated := cleanNode(doc, &b, &length, maxLength, 0)
	return b.String(), truncated, nil
}

func cleanNode(n *html.Node, b *strings.Builder, length *int, maxLength, depth int) bool {
	if *length >= maxLength {
		return true
	}
	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return false
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text == "" {
			return false
		}
		if *length+len(text) > maxLength {
			b.WriteString(text[:maxLength-*length])
			b.WriteString("...")
			*length = maxLength
			return true
		}
		b.WriteString(text)
		*length += len(text)
		return false
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if isSkippedElement(tag) {
			return false
		}
		if depth > 0 && isBlockElement(tag) {
			b.WriteString("\n")
			b.WriteString(strings.Repeat("  ", depth))
		}
		b.WriteString("<" + tag)
		for _, attr := range n.Attr {
			if keepAttribute(tag, attr.Key) {
				fmt.Fprintf(b, ` %s="%s"`, attr.Key, html.EscapeString(attr.Val))
			}
		}
		b.WriteString(">")
		*length += len(tag) + 2
		if cleanChildren(n, b, length, maxLength, depth+1) {
			return true
		}
		if !isVoidElement(tag) {
			b.WriteString("</" + tag + ">")
			*length += len(tag) + 3
		}
		return false
	}
	return cleanChildren(n, b, length, maxLength, depth)
}

func cleanChildren(n *html.Node, b *strings.Builder, length *int, maxLength, depth int) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if cleanNode(c, b, length, maxLength, depth) {
			return true
		}
	}
	return false
}

var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true,
	"embed": true, "object": true, "svg": true, "template": true,
}

var blockElements = map[string]bool{
	"div": true, "p": true, "section": true, "main": true, "header": true,
	"footer": true, "nav": true, "form": true, "blockquote": true,
	"h1": true, "h2": true, "h3": true, "ul": true, "ol": true, "li": true,
}

var voidElements = map[string]bool{
	"br": true, "hr": true, "img": true, "input": true, "link": true,
	"meta": true, "source": true, "wbr": true,
}

func isSkippedElement(tag string) bool { return skippedElements[tag] }
func isBlockElement(tag string) bool   { return blockElements[tag] }
func isVoidElement(tag string) bool    { return voidElements[tag] }

// keepAttribute reports whether an attribute helps when writing selectors.
func keepAttribute(tag, key string) bool {
	key = strings.ToLower(key)
	switch key {
	case "id", "class", "role", "aria-label", "aria-modal":
		return true
	}
	if strings.HasPrefix(key, "data-") {
		return true
	}
	switch tag {
	case "input", "textarea":
		return key == "name" || key == "type" || key == "placeholder"
	case "button":
		return key == "type"
	}
	return false
}
