// Asset localization for archived posts: downloads every stylesheet and
// image a post references and rewrites the document to use the local
// copies, so each archived page is fully readable offline.
package main

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// pathBasename returns the final segment of a URL path, empty when the
// path is empty or ends in a slash.
func pathBasename(u *url.URL) string {
	p := u.Path
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// localizable reports whether a reference is worth downloading at all:
// data: URIs are already self-contained and empty values carry nothing.
func localizable(ref string) bool {
	return ref != "" && !strings.HasPrefix(ref, "data:")
}

// assetRewriter carries the per-post localization state. downloads is keyed
// by resolved absolute URL and guarantees each distinct resource is fetched
// at most once per post, no matter how many contexts reference it.
// rewrites is keyed by the original reference string exactly as it appears
// in the document and is the single source of truth for the final
// substitution pass.
type assetRewriter struct {
	pageURL   *url.URL
	postDir   string
	timeout   time.Duration
	userAgent string

	downloads map[string]string // resolved URL -> local relative path
	rewrites  map[string]string // original reference -> local relative path
}

// localize downloads one referenced asset into subdir and records the
// mapping. The first context to discover a reference wins; later
// discoveries of the same original or of another reference resolving to
// the same URL reuse the existing local path without a new download.
// fallbackName substitutes for an empty path basename; when it is empty
// too, the reference is skipped. Failures are logged and leave the
// reference untouched.
func (rw *assetRewriter) localize(orig, subdir, fallbackName, ctx string) (string, bool) {
	if !localizable(orig) {
		return "", false
	}
	if local, ok := rw.rewrites[orig]; ok {
		return local, true
	}

	ref, err := url.Parse(orig)
	if err != nil {
		fmt.Fprintf(out, "    ❌ %s %s: %v\n", ctx, orig, err)
		return "", false
	}
	resolved := rw.pageURL.ResolveReference(ref)
	full := resolved.String()

	if local, ok := rw.downloads[full]; ok {
		rw.rewrites[orig] = local
		return local, true
	}

	name := pathBasename(resolved)
	if name == "" {
		if fallbackName == "" {
			return "", false
		}
		name = fallbackName
	}

	dest := filepath.Join(rw.postDir, subdir, name)
	if err := downloadFile(full, dest, rw.timeout, rw.userAgent); err != nil {
		fmt.Fprintf(out, "    ❌ %s %s: %v\n", ctx, full, err)
		return "", false
	}

	local := "./" + subdir + "/" + name
	rw.downloads[full] = local
	rw.rewrites[orig] = local
	fmt.Fprintf(out, "  ↳ %s %s\n", ctx, name)
	return local, true
}

// localizeAssets downloads every asset the post references and returns the
// document rewritten against the local copies. Discovery runs in a fixed
// order: stylesheets, then link[rel=image_src], then og:image metadata,
// then inline images. The rel and property values match case-insensitively,
// so rel="STYLESHEET" markup is picked up too. Stylesheet links are
// rewritten in place as soon as the file lands; everything else is handled
// by the final pass over the whole tree.
func localizeAssets(htmlBody []byte, pageURL *url.URL, postDir string, timeout time.Duration, userAgent string) ([]byte, error) {
	root, err := html.Parse(bytes.NewReader(htmlBody))
	if err != nil {
		return nil, fmt.Errorf("parsing post HTML: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	for _, subdir := range []string{"css", "images"} {
		if err := os.MkdirAll(filepath.Join(postDir, subdir), 0755); err != nil {
			return nil, err
		}
	}

	rw := &assetRewriter{
		pageURL:   pageURL,
		postDir:   postDir,
		timeout:   timeout,
		userAgent: userAgent,
		downloads: make(map[string]string),
		rewrites:  make(map[string]string),
	}

	doc.Find(`link[rel~="stylesheet" i]`).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		if local, ok := rw.localize(href, "css", "style.css", "CSS"); ok {
			s.SetAttr("href", local)
		}
	})

	doc.Find(`link[rel~="image_src" i]`).Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			rw.localize(href, "images", "", "IMAGE_SRC")
		}
	})

	doc.Find(`meta[property="og:image" i]`).Each(func(_ int, s *goquery.Selection) {
		if content, ok := s.Attr("content"); ok {
			rw.localize(content, "images", "", "OG-IMAGE")
		}
	})

	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			rw.localize(src, "images", "", "IMG")
		}
	})

	applyRewrites(root, rw.rewrites)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, fmt.Errorf("rendering archived HTML: %w", err)
	}
	return buf.Bytes(), nil
}

// applyRewrites walks the whole tree and substitutes local paths for every
// recorded original reference, wherever it occurs: attribute values, text,
// and comments. Substitution is a single-pass Replacer with the patterns
// ordered longest first, so a reference that is a substring of another
// cannot clobber it and substituted text is never rescanned. Every local
// path also maps to itself; a rerun of the pass then consumes an already
// substituted path whole instead of matching an original inside it, which
// keeps the pass idempotent.
func applyRewrites(root *html.Node, rewrites map[string]string) {
	if len(rewrites) == 0 {
		return
	}

	repl := make(map[string]string, 2*len(rewrites))
	for orig, local := range rewrites {
		repl[orig] = local
	}
	for _, local := range rewrites {
		if _, ok := repl[local]; !ok {
			repl[local] = local
		}
	}
	keys := make([]string, 0, len(repl))
	for k := range repl {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, repl[k])
	}
	replacer := strings.NewReplacer(pairs...)

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			for i, attr := range n.Attr {
				n.Attr[i].Val = replacer.Replace(attr.Val)
			}
		case html.TextNode, html.CommentNode:
			n.Data = replacer.Replace(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
}
