// Structural cleanup of post bodies for the reader output: Blogger's
// wrapper divs are stripped down to the handful of elements Tufte CSS
// styles, and images end up inside figure elements.
package main

import (
	"strings"

	"github.com/JohannesKaufmann/dom"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// allowedDivClasses is the closed set of presentation classes a div may
// keep in reader output. Everything else is layout scaffolding from the
// Blogger theme and gets unwrapped.
var allowedDivClasses = map[string]bool{
	"sidenote":   true,
	"marginnote": true,
	"epigraph":   true,
	"fullwidth":  true,
}

// separatorClass marks Blogger's image-wrapper divs.
const separatorClass = "separator"

// transformBody applies the reader cleanup rules to the extracted post
// body, in order: image-wrapper divs become figures, remaining divs are
// reduced to allowed classes or unwrapped, and bare images are wrapped in
// figures. The order matters: a div renamed to figure in the first step is
// exempt from the second, and its image is already wrapped by the time the
// third runs.
func transformBody(container *html.Node) {
	separatorsToFigures(container)
	unwrapDivs(container)
	wrapBareImages(container)
}

func classList(n *html.Node) []string {
	return strings.Fields(dom.GetAttributeOr(n, "class", ""))
}

func hasClass(n *html.Node, name string) bool {
	for _, c := range classList(n) {
		if c == name {
			return true
		}
	}
	return false
}

func isElement(n *html.Node, name string) bool {
	return n.Type == html.ElementNode && n.Data == name
}

func hasDescendant(n *html.Node, name string) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isElement(c, name) || hasDescendant(c, name) {
			return true
		}
	}
	return false
}

func insideFigure(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if isElement(p, "figure") {
			return true
		}
	}
	return false
}

// dropAttrs removes the named attributes, keeping everything else.
func dropAttrs(n *html.Node, names ...string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		drop := false
		for _, name := range names {
			if a.Key == name {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// separatorsToFigures renames every separator div that wraps an image to a
// figure. The class and style attributes die with the rename; Blogger puts
// clear/text-align rules there that fight the reader stylesheet.
func separatorsToFigures(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		separatorsToFigures(c)
	}
	if isElement(n, "div") && hasClass(n, separatorClass) && hasDescendant(n, "img") {
		n.Data = "figure"
		n.DataAtom = atom.Figure
		dropAttrs(n, "class", "style")
	}
}

// unwrapDivs reduces every div under n to its allowed classes, or removes
// it and splices its children into its place. Children are handled before
// their parent, so arbitrarily nested wrapper stacks collapse cleanly.
func unwrapDivs(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		unwrapDivs(c)
		if isElement(c, "div") {
			var kept []string
			for _, class := range classList(c) {
				if allowedDivClasses[class] {
					kept = append(kept, class)
				}
			}
			if len(kept) > 0 {
				setAttr(c, "class", strings.Join(kept, " "))
			} else {
				for cc := c.FirstChild; cc != nil; {
					cnext := cc.NextSibling
					c.RemoveChild(cc)
					n.InsertBefore(cc, c)
					cc = cnext
				}
				n.RemoveChild(c)
			}
		}
		c = next
	}
}

// wrapBareImages puts every image that is not already inside a figure into
// one. When the image's immediate parent is a link, the whole link moves
// into the figure so the image stays clickable.
func wrapBareImages(container *html.Node) {
	var imgs []*html.Node
	var collect func(n *html.Node)
	collect = func(n *html.Node) {
		if isElement(n, "img") {
			imgs = append(imgs, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(container)

	for _, img := range imgs {
		if insideFigure(img) {
			continue
		}
		target := img
		if img.Parent != nil && isElement(img.Parent, "a") {
			target = img.Parent
		}
		parent := target.Parent
		if parent == nil {
			continue
		}
		fig := &html.Node{Type: html.ElementNode, Data: "figure", DataAtom: atom.Figure}
		parent.InsertBefore(fig, target)
		parent.RemoveChild(target)
		fig.AppendChild(target)
	}
}
