package util

import (
	"strings"

	"golang.org/x/net/html"
)

// ParseLinks returns, in document order, the href of every <a> element whose
// path ends with suffix (case-insensitive). Query strings and fragments are
// ignored when matching but kept in the result.
func ParseLinks(n *html.Node, suffix string) []string {
	suffix = strings.ToLower(suffix)
	var out []string
	var walk func(*html.Node)

	walk = func(nd *html.Node) {
		if nd.Type == html.ElementNode && nd.Data == "a" {
			for _, a := range nd.Attr {
				if a.Key != "href" {
					continue
				}
				if hrefPathHasSuffix(a.Val, suffix) {
					out = append(out, strings.TrimSpace(a.Val))
				}
				break
			}
		}
		for c := nd.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return out
}

func hrefPathHasSuffix(href, suffix string) bool {
	p := strings.TrimSpace(href)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == "/" {
		return false
	}
	return strings.HasSuffix(strings.ToLower(p), suffix)
}
