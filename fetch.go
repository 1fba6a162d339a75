package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/html/charset"
	"golang.org/x/net/http2"
)

// defaultUA identifies the tool on every request: feed queries, post pages,
// and asset downloads alike. Overridable with -user-agent.
const defaultUA = "copa-convert/1.0"

const (
	acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptAny  = "*/*"
)

// maxResponseBytes is the maximum number of bytes to read from any single
// HTTP response body, whether buffered in memory or streamed to disk.
// Responses exceeding this limit are rejected with an error. Set from the
// -max-response-size CLI flag; 0 means unlimited.
var maxResponseBytes int64 = 128 * 1024 * 1024 // 128 MB default

// fetchProxyURL is the HTTP proxy URL for all outgoing requests.
// When non-empty, copa-convert falls back to standard TLS (no uTLS
// fingerprinting) so the request can tunnel through the proxy. Set by the
// -proxy CLI flag.
var fetchProxyURL string

// clientFor picks the transport for a target URL: a proxy-aware standard-TLS
// client when a proxy is configured, the browser-fingerprint client for
// https, and a plain transport for everything else. All three dial through
// the private-IP guard.
func clientFor(u *url.URL, timeout time.Duration) *http.Client {
	if fetchProxyURL != "" {
		return newProxyClient(fetchProxyURL, timeout)
	}
	if u.Scheme == "https" {
		return newBrowserClient(timeout)
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: safeDialContext(&net.Dialer{Timeout: timeout}),
		},
	}
}

// newProxyClient creates an HTTP client that routes through the given proxy
// address using standard TLS. If proxyAddr is empty, it creates a direct
// (no-proxy) client with standard TLS.
func newProxyClient(proxyAddr string, timeout time.Duration) *http.Client {
	transport := &http.Transport{
		DialContext: safeDialContext(&net.Dialer{Timeout: timeout}),
	}
	if proxyAddr != "" {
		if proxyURL, err := url.Parse(proxyAddr); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// readLimited reads up to maxResponseBytes from r. If the response exceeds
// the limit, it returns an error. If maxResponseBytes is 0, it reads without
// limit (equivalent to io.ReadAll).
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	// Read limit+1 bytes so we can detect overflow without a custom reader.
	lr := io.LimitReader(r, limit+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response body exceeds maximum allowed size (%s)", humanSize(limit))
	}
	return data, nil
}

// copyLimited streams r into w under the same cap as readLimited, without
// buffering the body in memory.
func copyLimited(w io.Writer, r io.Reader, limit int64) error {
	if limit <= 0 {
		_, err := io.Copy(w, r)
		return err
	}
	n, err := io.Copy(w, io.LimitReader(r, limit+1))
	if err != nil {
		return err
	}
	if n > limit {
		return fmt.Errorf("response body exceeds maximum allowed size (%s)", humanSize(limit))
	}
	return nil
}

// utlsConn wraps a utls.UConn and satisfies net.Conn + the
// ConnectionState interface that net/http2 needs.
type utlsConn struct {
	*utls.UConn
}

func (c *utlsConn) ConnectionState() tls.ConnectionState {
	cs := c.UConn.ConnectionState()
	return tls.ConnectionState{
		Version:                    cs.Version,
		HandshakeComplete:          cs.HandshakeComplete,
		CipherSuite:                cs.CipherSuite,
		NegotiatedProtocol:         cs.NegotiatedProtocol,
		NegotiatedProtocolIsMutual: cs.NegotiatedProtocolIsMutual,
		ServerName:                 cs.ServerName,
		PeerCertificates:           cs.PeerCertificates,
		VerifiedChains:             cs.VerifiedChains,
		OCSPResponse:               cs.OCSPResponse,
		TLSUnique:                  cs.TLSUnique,
	}
}

// newBrowserClient creates an HTTP client that presents a real browser's
// TLS fingerprint using utls. Blogspot fronts sit behind CDNs that reject
// unfamiliar TLS stacks, so https fetches go out looking like Firefox.
// Supports both HTTP/1.1 and HTTP/2.
func newBrowserClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: timeout}

	// HTTP/2 transport for h2 connections
	h2Transport := &http2.Transport{}

	// HTTP/1.1 transport with utls dialer
	h1Transport := &http.Transport{
		DialContext: safeDialContext(dialer),
	}

	// Custom round tripper that dials with utls and routes to h1 or h2
	// based on ALPN negotiation.
	rt := &browserTransport{
		dialer:  dialer,
		h1:      h1Transport,
		h2:      h2Transport,
		timeout: timeout,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: rt,
	}
}

type browserTransport struct {
	dialer  *net.Dialer
	h1      *http.Transport
	h2      *http2.Transport
	timeout time.Duration
}

func (bt *browserTransport) dialUTLS(ctx context.Context, network, addr string) (net.Conn, string, error) {
	conn, err := safeDialContext(bt.dialer)(ctx, network, addr)
	if err != nil {
		return nil, "", err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	tlsConn := utls.UClient(conn, &utls.Config{
		ServerName: host,
	}, utls.HelloFirefox_120)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, "", err
	}

	alpn := tlsConn.ConnectionState().NegotiatedProtocol
	return &utlsConn{tlsConn}, alpn, nil
}

func (bt *browserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return bt.h1.RoundTrip(req)
	}

	addr := req.URL.Host
	if !hasPort(addr) {
		addr = addr + ":443"
	}

	conn, alpn, err := bt.dialUTLS(req.Context(), "tcp", addr)
	if err != nil {
		return nil, err
	}

	if alpn == "h2" {
		// For HTTP/2, use http2.ClientConn directly
		h2conn, err := bt.h2.NewClientConn(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return h2conn.RoundTrip(req)
	}

	// For HTTP/1.1, inject the TLS conn into a one-shot transport
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return conn, nil
		},
	}
	return transport.RoundTrip(req)
}

func hasPort(host string) bool {
	_, _, err := net.SplitHostPort(host)
	return err == nil
}

// httpGet issues a GET with the identifying headers and rejects non-2xx
// responses. The caller owns resp.Body on success.
func httpGet(u *url.URL, timeout time.Duration, userAgent, accept string) (*http.Response, error) {
	client := clientFor(u, timeout)

	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, u)
	}
	return resp, nil
}

// fetchHTML downloads a page and returns the body decoded to UTF-8 plus the
// parsed request URL. The request URL, not any redirect target, is the base
// for resolving relative asset references, so a moved post still resolves
// its assets the way the feed linked them.
func fetchHTML(rawURL string, timeout time.Duration, userAgent string) ([]byte, *url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	resp, err := httpGet(parsed, timeout, userAgent, acceptHTML)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response: %w", err)
	}

	return decodeToUTF8(body, resp.Header.Get("Content-Type")), parsed, nil
}

// decodeToUTF8 converts a fetched body to UTF-8 using the Content-Type
// charset hint and the body's own meta tags. Bodies that cannot be decoded
// are archived as fetched rather than dropped.
func decodeToUTF8(data []byte, contentType string) []byte {
	enc, _, _ := charset.DetermineEncoding(data, contentType)
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil || (!utf8.Valid(decoded) && utf8.Valid(data)) {
		return data
	}
	return decoded
}

// downloadFile streams a resource to destPath, creating parent directories
// as needed. A file left half-written by a mid-stream failure is removed.
// There is no retry; the caller decides whether a failure is fatal.
func downloadFile(rawURL, destPath string, timeout time.Duration, userAgent string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	resp, err := httpGet(parsed, timeout, userAgent, acceptAny)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}
	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if err := copyLimited(f, resp.Body, maxResponseBytes); err != nil {
		f.Close()
		os.Remove(destPath)
		return err
	}
	return f.Close()
}

// fetchAsset downloads a resource into memory and reports its MIME type,
// taken from the Content-Type header or sniffed from the bytes. Used by the
// converter when images are re-encoded before landing on disk.
func fetchAsset(rawURL string, timeout time.Duration, userAgent string) ([]byte, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	resp, err := httpGet(parsed, timeout, userAgent, acceptAny)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := readLimited(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, "", err
	}

	mime := resp.Header.Get("Content-Type")
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.TrimSpace(mime)
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
		if i := strings.Index(mime, ";"); i >= 0 {
			mime = mime[:i]
		}
	}
	return data, mime, nil
}
