package inject

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// CSSPath renders a selector that re-locates the selection's first node in
// the live page. Elements with an id resolve to "#id"; everything else is
// addressed structurally via nth-of-type from the nearest id-bearing
// ancestor (or the root).
func CSSPath(sel *goquery.Selection) string {
	if sel == nil || len(sel.Nodes) == 0 {
		return ""
	}

	var parts []string
	for node := sel.Nodes[0]; node != nil && node.Type == html.ElementNode; node = node.Parent {
		if id := attrValue(node, "id"); id != "" {
			parts = append(parts, "#"+id)
			break
		}
		parts = append(parts, fmt.Sprintf("%s:nth-of-type(%d)", node.Data, typeIndex(node)))
	}

	// Walked leaf-to-root; reverse into document order.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

func attrValue(node *html.Node, name string) string {
	for _, a := range node.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// typeIndex is the 1-based position of node among element siblings sharing
// its tag name.
func typeIndex(node *html.Node) int {
	index := 1
	for sibling := node.PrevSibling; sibling != nil; sibling = sibling.PrevSibling {
		if sibling.Type == html.ElementNode && sibling.Data == node.Data {
			index++
		}
	}
	return index
}
