// Single-post reader conversion: extract the body of a Blogspot post,
// clean up the Blogger markup, localize its images, and wrap the result in
// a minimal Tufte CSS document.
package main

import (
	"bytes"
	"fmt"
	stdhtml "html"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/JohannesKaufmann/dom"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// readerStylesheet is the fixed external stylesheet linked from every
// converted post.
const readerStylesheet = "https://cootermaroos.com/tufte.css"

// convertPost downloads one post, converts it, and writes the result under
// outDir. The output filename is the URL's path basename, or index.html
// when the path has none. Returns the path of the generated HTML file.
func convertPost(rawURL, outDir string, opts optimizeOpts, timeout time.Duration, userAgent string, markdown bool) (string, error) {
	body, pageURL, err := fetchHTML(rawURL, timeout, userAgent)
	if err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parsing post HTML: %w", err)
	}

	container := doc.Find("div.post-body-container").First()
	if container.Length() == 0 {
		return "", fmt.Errorf("post-body-container div not found")
	}

	// Only the container's inner content survives; the wrapper div and its
	// theme attributes do not.
	inner, err := container.Html()
	if err != nil {
		return "", fmt.Errorf("extracting post body: %w", err)
	}
	article, err := parseArticleFragment(inner)
	if err != nil {
		return "", err
	}

	transformBody(article)

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", err
	}
	if err := localizeReaderImages(article, pageURL, outDir, opts, timeout, userAgent); err != nil {
		return "", err
	}

	var frag bytes.Buffer
	for c := article.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&frag, c); err != nil {
			return "", fmt.Errorf("rendering article: %w", err)
		}
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	page := renderReaderHTML(title, frag.String())

	filename := pathBasename(pageURL)
	if filename == "" {
		filename = "index.html"
	}
	outPath := filepath.Join(outDir, filename)
	if err := os.WriteFile(outPath, []byte(page), 0644); err != nil {
		return "", fmt.Errorf("writing output: %w", err)
	}
	fmt.Fprintf(out, "Saved HTML to %s\n", outPath)

	if markdown {
		md, err := convertArticleToMarkdown(frag.String())
		if err != nil {
			return "", err
		}
		mdPath := strings.TrimSuffix(outPath, filepath.Ext(outPath)) + ".md"
		if err := os.WriteFile(mdPath, []byte(md+"\n"), 0644); err != nil {
			return "", fmt.Errorf("writing markdown: %w", err)
		}
		fmt.Fprintf(out, "Saved Markdown to %s\n", mdPath)
	}

	return outPath, nil
}

// parseArticleFragment parses extracted body HTML into a detached article
// element ready for node surgery.
func parseArticleFragment(inner string) (*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(inner), ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing post body: %w", err)
	}
	article := &html.Node{Type: html.ElementNode, Data: "article", DataAtom: atom.Article}
	for _, n := range nodes {
		article.AppendChild(n)
	}
	return article, nil
}

// localizeReaderImages downloads each image referenced by the article into
// outDir/img and rewrites its src to the local name. With optimization
// enabled, images are re-encoded before landing on disk and the filename
// switches to .jpg. A failed download is logged and keeps the remote
// reference; each distinct resolved URL is fetched at most once.
func localizeReaderImages(article *html.Node, pageURL *url.URL, outDir string, opts optimizeOpts, timeout time.Duration, userAgent string) error {
	imgDir := filepath.Join(outDir, "img")
	if err := os.MkdirAll(imgDir, 0755); err != nil {
		return err
	}

	seen := make(map[string]string) // resolved URL -> local src value
	var st stats

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if isElement(n, "img") {
			localizeOneImage(n, pageURL, imgDir, opts, timeout, userAgent, seen, &st)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(article)

	if opts.enabled() && st.count > 0 {
		fmt.Fprintf(out, "Optimized %d images: %s → %s\n",
			st.count, humanSize(st.originalTotal), humanSize(st.optimizedTotal))
	}
	return nil
}

func localizeOneImage(img *html.Node, pageURL *url.URL, imgDir string, opts optimizeOpts, timeout time.Duration, userAgent string, seen map[string]string, st *stats) {
	src := dom.GetAttributeOr(img, "src", "")
	if !localizable(src) {
		return
	}

	ref, err := url.Parse(src)
	if err != nil {
		fmt.Fprintf(out, "    ❌ %s: %v\n", src, err)
		return
	}
	resolved := pageURL.ResolveReference(ref)
	full := resolved.String()

	if local, ok := seen[full]; ok {
		setAttr(img, "src", local)
		return
	}

	name := pathBasename(resolved)
	if name == "" {
		return
	}

	if opts.enabled() {
		data, mime, err := fetchAsset(full, timeout, userAgent)
		if err != nil {
			fmt.Fprintf(out, "    ❌ %s: %v\n", full, err)
			return
		}
		if jpegData, ok := optimizeImage(data, mime, opts); ok {
			name = strings.TrimSuffix(name, path.Ext(name)) + ".jpg"
			st.count++
			st.originalTotal += int64(len(data))
			st.optimizedTotal += int64(len(jpegData))
			data = jpegData
		}
		if err := os.WriteFile(filepath.Join(imgDir, name), data, 0644); err != nil {
			fmt.Fprintf(out, "    ❌ %s: %v\n", full, err)
			return
		}
	} else {
		if err := downloadFile(full, filepath.Join(imgDir, name), timeout, userAgent); err != nil {
			fmt.Fprintf(out, "    ❌ %s: %v\n", full, err)
			return
		}
	}

	local := "img/" + name
	setAttr(img, "src", local)
	seen[full] = local
	fmt.Fprintf(out, "  ↳ downloaded %s\n", name)
}

// renderReaderHTML wraps the cleaned article in the fixed output shell.
func renderReaderHTML(title, article string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <link rel="stylesheet" href="%s" />
  <title>%s</title>
</head>
<body>
<article>
%s
</article>
</body>
</html>
`, readerStylesheet, stdhtml.EscapeString(title), article)
}
