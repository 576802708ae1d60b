package issuer

import (
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
)

// skippedElements are stripped before text extraction; chrome and scripts
// drown the card details in boilerplate otherwise.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"nav":      true,
	"footer":   true,
	"header":   true,
}

func parseHTML(src string) (*html.Node, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, eris.Wrap(err, "issuer: parse html")
	}
	return doc, nil
}

// pageTitle returns the <title> text, with any " - Bank Name" suffix removed.
func pageTitle(doc *html.Node) string {
	node := findElement(doc, "title")
	if node == nil {
		return ""
	}
	title := strings.TrimSpace(nodeText(node))
	if i := strings.Index(title, " - "); i > 0 {
		title = strings.TrimSpace(title[:i])
	}
	return title
}

// extractText renders a node to plain text. Skipped elements are dropped,
// each remaining text run becomes one trimmed line and blank lines collapse.
func extractText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				sb.WriteString(t)
				sb.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimRight(sb.String(), "\n")
}

// nodeText concatenates all text under n without line structure.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// findElement returns the first element with the given tag name.
func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// findBySelector resolves a minimal selector: "tag", ".class" or "#id".
func findBySelector(n *html.Node, selector string) *html.Node {
	switch {
	case strings.HasPrefix(selector, "."):
		return findByAttr(n, "class", selector[1:], true)
	case strings.HasPrefix(selector, "#"):
		return findByAttr(n, "id", selector[1:], false)
	default:
		return findElement(n, selector)
	}
}

func findByAttr(n *html.Node, key, value string, tokenized bool) *html.Node {
	if n.Type == html.ElementNode {
		for _, attr := range n.Attr {
			if attr.Key != key {
				continue
			}
			if !tokenized && attr.Val == value {
				return n
			}
			if tokenized {
				for _, tok := range strings.Fields(attr.Val) {
					if tok == value {
						return n
					}
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByAttr(c, key, value, tokenized); found != nil {
			return found
		}
	}
	return nil
}

// collectLinks returns every href attribute under n.
func collectLinks(n *html.Node) []string {
	var hrefs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" && attr.Val != "" {
					hrefs = append(hrefs, attr.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return hrefs
}

// contentRoot returns the first matching content container, or <body>, or
// the document itself when the page has no body.
func contentRoot(doc *html.Node, selectors []string) *html.Node {
	for _, sel := range selectors {
		if n := findBySelector(doc, sel); n != nil {
			return n
		}
	}
	if body := findElement(doc, "body"); body != nil {
		return body
	}
	return doc
}
