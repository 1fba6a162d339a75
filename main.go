// copa-convert: archive Blogspot posts as offline pages, or convert a
// single post to a clean Tufte CSS reading page.
//
// Single post mode:
//
//	copa-convert [options] <URL>
//
// Archive mode (published date range):
//
//	copa-convert -archive -b https://foo.blogspot.com [options] <start> <end>
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"
)

// defaultBlogURL is the compiled-in archive target, used when neither
// -blog-url nor COPA_BLOG_URL is set.
const defaultBlogURL = ""

// getEnv returns the value of an environment variable or a fallback.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// cliConfig holds parsed command-line options.
type cliConfig struct {
	archiveMode bool
	blogURL     string
	output      string
	markdown    bool
	opts        optimizeOpts
	timeout     time.Duration
	userAgent   string
	args        []string
}

// run executes the selected mode, returning any error.
func run(cfg cliConfig) error {
	if cfg.archiveMode {
		if len(cfg.args) != 2 {
			return fmt.Errorf("archive mode requires <start> and <end> arguments")
		}
		if cfg.blogURL == "" {
			return fmt.Errorf("-blog-url is required (or set COPA_BLOG_URL)")
		}
		start, end := cfg.args[0], cfg.args[1]
		for _, ts := range []string{start, end} {
			if _, err := time.Parse(time.RFC3339, ts); err != nil {
				return fmt.Errorf("invalid timestamp %q (want e.g. 2025-05-01T00:00:00Z)", ts)
			}
		}
		outRoot := cfg.output
		if outRoot == "" {
			outRoot = "archive"
		}
		return archiveRange(cfg.blogURL, start, end, outRoot, cfg.timeout, cfg.userAgent)
	}

	// Single post mode
	if len(cfg.args) != 1 {
		return fmt.Errorf("single post mode requires exactly one URL argument")
	}
	outDir := cfg.output
	if outDir == "" {
		outDir = "output"
	}
	_, err := convertPost(cfg.args[0], outDir, cfg.opts, cfg.timeout, cfg.userAgent, cfg.markdown)
	return err
}

func main() {
	var blogURL, output string
	archiveMode := flag.Bool("archive", false, "Archive a published date range instead of converting one post")
	flag.StringVar(&blogURL, "b", "", "Base Blogspot URL (e.g. https://foo.blogspot.com)")
	flag.StringVar(&blogURL, "blog-url", "", "Base Blogspot URL (e.g. https://foo.blogspot.com)")
	flag.StringVar(&output, "o", "", `Output directory (default "archive" or "output" by mode)`)
	flag.StringVar(&output, "out", "", `Output directory (default "archive" or "output" by mode)`)
	markdown := flag.Bool("markdown", false, "Also write a CommonMark rendition next to the converted post")
	maxWidth := flag.Int("max-width", 0, "Re-encode converted post images no wider than this (0 = keep originals)")
	quality := flag.Int("quality", 80, "JPEG quality for -max-width re-encoding")
	timeout := flag.Duration("timeout", 30*time.Second, "HTTP fetch timeout")
	userAgent := flag.String("user-agent", defaultUA, "HTTP User-Agent header")
	maxResponseSize := flag.Int64("max-response-size", maxResponseBytes, "Maximum HTTP response size in bytes (0 = unlimited)")
	proxy := flag.String("proxy", "", "HTTP proxy URL for all requests (disables TLS fingerprinting)")
	silent := flag.Bool("silent", false, "Suppress progress output (errors still reach stderr)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: copa-convert [options] <URL>\n")
		fmt.Fprintf(os.Stderr, "       copa-convert -archive -b <blog-url> [options] <start> <end>\n\n")
		fmt.Fprintf(os.Stderr, "Convert a Blogspot post to clean Tufte CSS HTML, or archive a\n")
		fmt.Fprintf(os.Stderr, "published date range (HTML, CSS, images) as fully offline pages.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *silent {
		out = io.Discard
	}
	maxResponseBytes = *maxResponseSize
	fetchProxyURL = *proxy

	if blogURL == "" {
		blogURL = getEnv("COPA_BLOG_URL", defaultBlogURL)
	}

	cfg := cliConfig{
		archiveMode: *archiveMode,
		blogURL:     blogURL,
		output:      output,
		markdown:    *markdown,
		opts: optimizeOpts{
			maxWidth: *maxWidth,
			quality:  *quality,
		},
		timeout:   *timeout,
		userAgent: *userAgent,
		args:      flag.Args(),
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
