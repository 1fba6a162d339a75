package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// withOutputCapture redirects progress and error output to buffers, runs
// fn, restores the writers, and returns what each received.
func withOutputCapture(fn func()) (stdout, stderr string) {
	var outBuf, errBuf bytes.Buffer
	savedOut, savedErr := out, errOut
	out = &outBuf
	errOut = &errBuf
	defer func() {
		out = savedOut
		errOut = savedErr
	}()
	fn()
	return outBuf.String(), errBuf.String()
}

func TestArchiveRange_WritesPostDirs(t *testing.T) {
	t.Setenv("COPA_TEST_ALLOW_LOCAL", "1")

	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feeds/posts/default":
			w.Write(feedJSON(t, []feedEntry{
				makeEntry("First Post", "2025-05-02T05:05:00-04:00", srvURL+"/2025/05/first.html"),
				makeEntry("Second Post", "2025-05-10T09:00:00Z", srvURL+"/2025/05/second.html"),
			}))
		case "/2025/05/first.html":
			w.Write([]byte(`<html><head><title>First</title><link rel="stylesheet" href="/theme.css"/></head>
<body><img src="/pic.jpg"/><p>first content</p></body></html>`))
		case "/2025/05/second.html":
			w.Write([]byte(`<html><head><title>Second</title></head><body><p>second content</p></body></html>`))
		case "/theme.css":
			w.Write([]byte("body { margin: 0; }"))
		case "/pic.jpg":
			w.Write([]byte("jpeg bytes"))
		default:
			w.WriteHeader(404)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	outRoot := filepath.Join(t.TempDir(), "archive")
	var err error
	stdout, stderr := withOutputCapture(func() {
		err = archiveRange(srv.URL, "2025-05-01T00:00:00Z", "2025-05-31T00:00:00Z", outRoot, 5*time.Second, defaultUA)
	})
	if err != nil {
		t.Fatal(err)
	}
	if stderr != "" {
		t.Errorf("unexpected stderr output:\n%s", stderr)
	}

	// Directory names are the published instants in UTC
	firstDir := filepath.Join(outRoot, "20250502T090500Z")
	secondDir := filepath.Join(outRoot, "20250510T090000Z")
	for _, dir := range []string{firstDir, secondDir} {
		if _, err := os.Stat(filepath.Join(dir, "index.html")); err != nil {
			t.Fatalf("expected archived post at %s: %v", dir, err)
		}
	}

	index, err := os.ReadFile(filepath.Join(firstDir, "index.html"))
	if err != nil {
		t.Fatal(err)
	}
	got := string(index)
	if !strings.Contains(got, `href="./css/theme.css"`) {
		t.Errorf("stylesheet not localized:\n%s", got)
	}
	if !strings.Contains(got, `src="./images/pic.jpg"`) {
		t.Errorf("image not localized:\n%s", got)
	}
	if !strings.Contains(got, "first content") {
		t.Errorf("post content missing:\n%s", got)
	}

	for _, rel := range []string{"css/theme.css", "images/pic.jpg"} {
		if _, err := os.Stat(filepath.Join(firstDir, rel)); err != nil {
			t.Errorf("expected asset %s: %v", rel, err)
		}
	}

	if !strings.Contains(stdout, "Fetching posts from "+srv.URL) {
		t.Errorf("expected fetch banner, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "Found 2 posts.") {
		t.Errorf("expected post count, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "✅ Archived “First Post” → "+firstDir) {
		t.Errorf("expected archived line, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "✅ Archived “Second Post” → "+secondDir) {
		t.Errorf("expected archived line, got:\n%s", stdout)
	}
}

func TestArchiveRange_SkipsLinklessPost(t *testing.T) {
	t.Setenv("COPA_TEST_ALLOW_LOCAL", "1")

	linkless := feedEntry{
		Title:     feedText{T: "No Link Post"},
		Published: feedText{T: "2025-05-03T09:00:00Z"},
		Link: []feedLink{
			{Rel: "self", Type: "application/atom+xml", Href: "https://example.com/feeds/posts/2"},
		},
	}

	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feeds/posts/default":
			w.Write(feedJSON(t, []feedEntry{
				linkless,
				makeEntry("Good Post", "2025-05-04T09:00:00Z", srvURL+"/good.html"),
			}))
		case "/good.html":
			w.Write([]byte(`<html><body><p>good</p></body></html>`))
		default:
			w.WriteHeader(404)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	outRoot := filepath.Join(t.TempDir(), "archive")
	var err error
	stdout, stderr := withOutputCapture(func() {
		err = archiveRange(srv.URL, "2025-05-01T00:00:00Z", "2025-05-31T00:00:00Z", outRoot, 5*time.Second, defaultUA)
	})
	if err != nil {
		t.Fatal(err)
	}
	if stderr != "" {
		t.Errorf("skipping is not an error, stderr:\n%s", stderr)
	}

	if !strings.Contains(stdout, "⚠️  Skipping “No Link Post” (no HTML link)") {
		t.Errorf("expected skip warning, got:\n%s", stdout)
	}

	// Only the good post produced a directory
	dirs, err := os.ReadDir(outRoot)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 1 {
		t.Errorf("got %d archive directories, want 1", len(dirs))
	}
	if dirs[0].Name() != "20250504T090000Z" {
		t.Errorf("dir = %q, want 20250504T090000Z", dirs[0].Name())
	}
}

func TestArchiveRange_PostErrorContinues(t *testing.T) {
	t.Setenv("COPA_TEST_ALLOW_LOCAL", "1")

	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feeds/posts/default":
			w.Write(feedJSON(t, []feedEntry{
				makeEntry("Broken Post", "2025-05-02T09:00:00Z", srvURL+"/deleted.html"),
				makeEntry("Good Post", "2025-05-04T09:00:00Z", srvURL+"/good.html"),
			}))
		case "/good.html":
			w.Write([]byte(`<html><body><p>good</p></body></html>`))
		default:
			w.WriteHeader(404)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	outRoot := filepath.Join(t.TempDir(), "archive")
	var err error
	_, stderr := withOutputCapture(func() {
		err = archiveRange(srv.URL, "2025-05-01T00:00:00Z", "2025-05-31T00:00:00Z", outRoot, 5*time.Second, defaultUA)
	})
	if err != nil {
		t.Fatalf("one bad post should not fail the run: %v", err)
	}

	if !strings.Contains(stderr, "❌ Error archiving post:") {
		t.Errorf("expected per-post error on stderr, got:\n%s", stderr)
	}
	if !strings.Contains(stderr, "404") {
		t.Errorf("expected HTTP status in error, got:\n%s", stderr)
	}

	// The good post still landed
	if _, err := os.Stat(filepath.Join(outRoot, "20250504T090000Z", "index.html")); err != nil {
		t.Errorf("expected good post archived: %v", err)
	}
}

func TestArchiveRange_FeedErrorAborts(t *testing.T) {
	t.Setenv("COPA_TEST_ALLOW_LOCAL", "1")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	var err error
	stdout, _ := withOutputCapture(func() {
		err = archiveRange(srv.URL, "2025-05-01T00:00:00Z", "2025-05-31T00:00:00Z", filepath.Join(t.TempDir(), "archive"), 5*time.Second, defaultUA)
	})
	if err == nil {
		t.Fatal("expected error when the feed query fails")
	}
	if strings.Contains(stdout, "Found") {
		t.Errorf("no post count should print on feed failure, got:\n%s", stdout)
	}
}

func TestArchiveRange_BadPublishedTimestamp(t *testing.T) {
	t.Setenv("COPA_TEST_ALLOW_LOCAL", "1")

	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feeds/posts/default":
			w.Write(feedJSON(t, []feedEntry{
				makeEntry("Bad Date", "yesterday-ish", srvURL+"/bad.html"),
				makeEntry("Good Post", "2025-05-04T09:00:00Z", srvURL+"/good.html"),
			}))
		case "/good.html", "/bad.html":
			w.Write([]byte(`<html><body><p>content</p></body></html>`))
		default:
			w.WriteHeader(404)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	outRoot := filepath.Join(t.TempDir(), "archive")
	var err error
	_, stderr := withOutputCapture(func() {
		err = archiveRange(srv.URL, "2025-05-01T00:00:00Z", "2025-05-31T00:00:00Z", outRoot, 5*time.Second, defaultUA)
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stderr, "parsing published time") {
		t.Errorf("expected parse error on stderr, got:\n%s", stderr)
	}
	if _, err := os.Stat(filepath.Join(outRoot, "20250504T090000Z", "index.html")); err != nil {
		t.Errorf("expected good post archived: %v", err)
	}
}

func TestArchivePost_NoDirForLinklessPost(t *testing.T) {
	entry := feedEntry{
		Title:     feedText{T: "Draft"},
		Published: feedText{T: "2025-05-03T09:00:00Z"},
	}

	outRoot := t.TempDir()
	var err error
	stdout, _ := withOutputCapture(func() {
		err = archivePost(entry, outRoot, 5*time.Second, defaultUA)
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "⚠️  Skipping “Draft” (no HTML link)") {
		t.Errorf("expected skip warning, got:\n%s", stdout)
	}

	dirs, err := os.ReadDir(outRoot)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 0 {
		t.Errorf("linkless post should produce no directory, found %d entries", len(dirs))
	}
}
