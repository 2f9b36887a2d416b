package fetcher

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Link is a candidate related document found on a page.
type Link struct {
	URL  string
	Text string
}

var skippedHrefPrefixes = []string{"#", "mailto:", "javascript:"}

// DiscoverLinks returns up to limit anchors whose visible text contains one
// of keywords (case-insensitive), resolved against base and deduplicated in
// first-seen order. base itself is never returned.
func DiscoverLinks(doc *html.Node, base string, keywords []string, limit int) []Link {
	baseURL, err := url.Parse(base)
	if err != nil || limit <= 0 {
		return nil
	}
	seen := map[string]bool{base: true}
	var links []Link

	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if link, ok := candidate(n, baseURL, keywords); ok && !seen[link.URL] {
				seen[link.URL] = true
				links = append(links, link)
				if len(links) == limit {
					return false
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(doc)
	return links
}

func candidate(a *html.Node, base *url.URL, keywords []string) (Link, bool) {
	href := strings.TrimSpace(attr(a, "href"))
	if href == "" {
		return Link{}, false
	}
	for _, p := range skippedHrefPrefixes {
		if strings.HasPrefix(strings.ToLower(href), p) {
			return Link{}, false
		}
	}
	text := strings.ToLower(innerText(a))
	if !containsAny(text, keywords) {
		return Link{}, false
	}

	full := href
	if !strings.HasPrefix(href, "http") {
		ref, err := url.Parse(href)
		if err != nil {
			// malformed href, nothing to follow
			return Link{}, false
		}
		full = base.ResolveReference(ref).String()
	}
	return Link{URL: full, Text: text}, true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func innerText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(s, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
