package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/conveyor-io/conveyor/internal/apperr"
)

// Resolver answers DNS lookups. Injectable for tests.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Fetcher downloads remote import payloads with request-forgery defenses:
// http/https only, allow-listed hosts, no redirects, resolved addresses must
// be global unicast, and the body is capped at the configured size.
type Fetcher struct {
	cfg      *Config
	client   *http.Client
	resolver Resolver
}

// FetcherOption configures optional Fetcher behavior.
type FetcherOption func(*Fetcher)

// WithResolver overrides the DNS resolver.
func WithResolver(r Resolver) FetcherOption {
	return func(f *Fetcher) {
		f.resolver = r
	}
}

// WithHTTPClient overrides the HTTP client. The redirect policy is enforced
// on whatever client is supplied.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = c
	}
}

// NewFetcher creates a Fetcher over the intake configuration.
func NewFetcher(cfg *Config, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.FetchTimeout},
		resolver: net.DefaultResolver,
	}

	for _, opt := range opts {
		opt(f)
	}

	// Redirects could bounce an allow-listed URL onto an internal address.
	f.client.CheckRedirect = func(_ *http.Request, _ []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return f
}

// Fetch downloads the payload at rawURL. Returns the body reader, capped at
// the size limit, and the file name derived from the URL path. The caller
// closes the reader.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
	parsed, err := f.validateURL(ctx, rawURL)
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", apperr.Newf(apperr.CodeURLFetchError, "building request: %v", err)
	}

	req.Header.Set("Accept", "application/x-ndjson, application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", apperr.Newf(apperr.CodeURLFetchError, "fetching %s: %v", parsed.Host, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			return nil, "", apperr.New(apperr.CodeURLNotAllowed, "redirects are not followed for imports")
		}

		return nil, "", apperr.Newf(
			apperr.CodeURLFetchError, "remote returned status %d", resp.StatusCode,
		).WithDetails(map[string]any{"status": resp.StatusCode})
	}

	if err := validateContentType(resp.Header.Get("Content-Type")); err != nil {
		_ = resp.Body.Close()

		return nil, "", err
	}

	if resp.ContentLength > f.cfg.MaxFileSize {
		_ = resp.Body.Close()

		return nil, "", apperr.Newf(
			apperr.CodeFileTooLarge, "declared size %d exceeds the %d byte limit", resp.ContentLength, f.cfg.MaxFileSize,
		)
	}

	name := path.Base(parsed.Path)
	if name == "/" || name == "." || name == "" {
		name = parsed.Host
	}

	return newCappedReader(resp.Body, f.cfg.MaxFileSize), name, nil
}

// validateURL applies the allow-list and address checks before any request
// is made.
func (f *Fetcher) validateURL(ctx context.Context, rawURL string) (*url.URL, error) {
	if len(f.cfg.AllowedHosts) == 0 {
		return nil, apperr.New(apperr.CodeURLNotAllowed, ErrNoAllowedHosts.Error())
	}

	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, apperr.Newf(apperr.CodeURLNotAllowed, "malformed URL: %v", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, apperr.Newf(apperr.CodeURLNotAllowed, "scheme %q is not allowed", parsed.Scheme)
	}

	host := strings.ToLower(strings.TrimSuffix(parsed.Hostname(), "."))
	if host == "" {
		return nil, apperr.New(apperr.CodeURLNotAllowed, "URL has no host")
	}

	if isForbiddenHost(host) {
		return nil, apperr.Newf(apperr.CodeURLNotAllowed, "host %q is not allowed", host)
	}

	if !f.hostAllowed(host) {
		return nil, apperr.Newf(apperr.CodeURLNotAllowed, "host %q is not on the allow list", host)
	}

	if err := f.checkResolvedAddrs(ctx, host); err != nil {
		return nil, err
	}

	return parsed, nil
}

// hostAllowed matches the host against the allow-list, accepting exact
// matches and subdomains of listed hosts.
func (f *Fetcher) hostAllowed(host string) bool {
	for _, allowed := range f.cfg.AllowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}

	return false
}

// isForbiddenHost rejects loopback-ish names that never belong on an
// allow-list, even if someone puts them there.
func isForbiddenHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return true
	}

	if ip := net.ParseIP(host); ip != nil {
		return !ip.IsGlobalUnicast() || ip.IsPrivate()
	}

	return false
}

// checkResolvedAddrs resolves the host and rejects it if any address is not
// public: DNS rebinding onto internal ranges fails here.
func (f *Fetcher) checkResolvedAddrs(ctx context.Context, host string) error {
	if net.ParseIP(host) != nil {
		return nil
	}

	addrs, err := f.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return apperr.Newf(apperr.CodeURLFetchError, "resolving %s: %v", host, err)
	}

	if len(addrs) == 0 {
		return apperr.Newf(apperr.CodeURLFetchError, "host %s resolves to no addresses", host)
	}

	for _, addr := range addrs {
		if !addr.IP.IsGlobalUnicast() || addr.IP.IsPrivate() {
			return apperr.Newf(apperr.CodeURLNotAllowed, "host %s resolves to a non-public address", host)
		}
	}

	return nil
}

// cappedReader enforces the size limit while streaming and detects empty
// bodies on EOF.
type cappedReader struct {
	inner     io.ReadCloser
	remaining int64
	read      int64
}

func newCappedReader(inner io.ReadCloser, limit int64) *cappedReader {
	return &cappedReader{inner: inner, remaining: limit}
}

func (r *cappedReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		// One byte past the cap confirms overflow rather than an exact fit.
		var probe [1]byte

		n, err := r.inner.Read(probe[:])
		if n > 0 {
			return 0, apperr.New(apperr.CodeFileTooLarge, "payload exceeds the size limit")
		}

		if errors.Is(err, io.EOF) {
			return 0, r.eof()
		}

		if err != nil {
			return 0, fmt.Errorf("reading payload: %w", err)
		}

		return 0, r.eof()
	}

	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}

	n, err := r.inner.Read(p)
	r.remaining -= int64(n)
	r.read += int64(n)

	if errors.Is(err, io.EOF) {
		return n, r.eof()
	}

	return n, err
}

func (r *cappedReader) eof() error {
	if r.read == 0 {
		return apperr.New(apperr.CodeEmptyFile, "remote payload is empty")
	}

	return io.EOF
}

func (r *cappedReader) Close() error {
	return r.inner.Close()
}
