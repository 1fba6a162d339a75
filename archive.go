// Bulk archiving: walk the feed for a published date range and write one
// fully offline directory per post.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// archiveRange fetches every post published between start and end and
// archives each in turn. One post failing is reported and skipped; a feed
// failure aborts the whole run.
func archiveRange(blogURL, start, end, outRoot string, timeout time.Duration, userAgent string) error {
	if err := os.MkdirAll(outRoot, 0755); err != nil {
		return err
	}

	fmt.Fprintf(out, "Fetching posts from %s\n between %s and %s…\n", blogURL, start, end)
	posts, err := fetchEntries(blogURL, start, end, timeout, userAgent)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Found %d posts.\n\n", len(posts))

	for _, post := range posts {
		if err := archivePost(post, outRoot, timeout, userAgent); err != nil {
			fmt.Fprintf(errOut, "❌ Error archiving post: %v\n", err)
		}
	}
	return nil
}

// archivePost writes one post as <outRoot>/<stamp>/index.html with its
// stylesheets and images alongside. A post without a canonical HTML link
// is skipped with a warning and produces no directory at all.
func archivePost(post feedEntry, outRoot string, timeout time.Duration, userAgent string) error {
	title := post.Title.T

	htmlURL := post.htmlLink()
	if htmlURL == "" {
		fmt.Fprintf(out, "⚠️  Skipping “%s” (no HTML link)\n", title)
		return nil
	}

	published, err := parsePublished(post.Published.T)
	if err != nil {
		return err
	}
	postDir := filepath.Join(outRoot, archiveStamp(published))
	if err := os.MkdirAll(postDir, 0755); err != nil {
		return err
	}

	body, pageURL, err := fetchHTML(htmlURL, timeout, userAgent)
	if err != nil {
		return err
	}

	rewritten, err := localizeAssets(body, pageURL, postDir, timeout, userAgent)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(postDir, "index.html"), rewritten, 0644); err != nil {
		return err
	}

	fmt.Fprintf(out, "✅ Archived “%s” → %s\n", title, postDir)
	return nil
}
