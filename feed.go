// Blogger JSON feed client: pages through the date-bounded post feed.
package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// feedPageSize is the max-results value sent on every feed query.
// start-index advances by the number of entries actually returned, so a
// short page also means the feed is exhausted.
const feedPageSize = 100

// feedEntry is one post in Blogger's alt=json rendering. Blogger nests
// every scalar under a "$t" key; only the fields the archiver reads are
// modeled.
type feedEntry struct {
	Title     feedText   `json:"title"`
	Published feedText   `json:"published"`
	Link      []feedLink `json:"link"`
}

type feedText struct {
	T string `json:"$t"`
}

type feedLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

type feedDocument struct {
	Feed struct {
		Entry []feedEntry `json:"entry"`
	} `json:"feed"`
}

// htmlLink returns the entry's canonical post URL: the href of the first
// link with rel=alternate and type=text/html. Empty when the entry carries
// no such link.
func (e feedEntry) htmlLink() string {
	for _, l := range e.Link {
		if l.Rel == "alternate" && l.Type == "text/html" {
			return l.Href
		}
	}
	return ""
}

// feedPageURL builds the query URL for one page of the date-bounded feed.
// The timestamps are interpolated verbatim; Blogger accepts the raw colons.
func feedPageURL(blogURL, start, end string, startIndex int) string {
	return fmt.Sprintf(
		"%s/feeds/posts/default?alt=json&published-min=%s&published-max=%s&start-index=%d&max-results=%d",
		strings.TrimRight(blogURL, "/"), start, end, startIndex, feedPageSize)
}

// fetchEntries walks the feed page by page and returns every entry between
// start and end in feed order. Pagination is 1-based and stops on an empty
// or short page. Any HTTP or decode failure aborts the whole run.
func fetchEntries(blogURL, start, end string, timeout time.Duration, userAgent string) ([]feedEntry, error) {
	var entries []feedEntry
	startIndex := 1
	for {
		pageURL, err := url.Parse(feedPageURL(blogURL, start, end, startIndex))
		if err != nil {
			return nil, fmt.Errorf("invalid blog URL %q: %w", blogURL, err)
		}

		resp, err := httpGet(pageURL, timeout, userAgent, "application/json")
		if err != nil {
			return nil, fmt.Errorf("feed query: %w", err)
		}
		body, err := readLimited(resp.Body, maxResponseBytes)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("feed query: %w", err)
		}

		var doc feedDocument
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("decoding feed page at start-index %d: %w", startIndex, err)
		}

		batch := doc.Feed.Entry
		if len(batch) == 0 {
			break
		}
		entries = append(entries, batch...)
		if len(batch) < feedPageSize {
			break
		}
		startIndex += len(batch)
	}
	return entries, nil
}

// parsePublished parses a Blogger published timestamp. Blogger emits
// RFC 3339 with a numeric zone offset or Z, sometimes with fractional
// seconds; time.Parse accepts all of those forms against the plain layout.
func parsePublished(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing published time %q: %w", ts, err)
	}
	return t, nil
}

// archiveStamp names a post's archive directory: the published instant in
// UTC, compact ISO form with a literal Z.
func archiveStamp(t time.Time) string {
	return t.UTC().Format("20060102T150405") + "Z"
}
