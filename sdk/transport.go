package sdk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ResponseMetadata carries the change validators of a remote document.
type ResponseMetadata struct {
	// ETag is the entity tag header, empty when absent
	ETag string
	// LastModified is the Last-Modified header, empty when absent
	LastModified string
}

// empty reports whether the response carried no validators at all.
func (m ResponseMetadata) empty() bool {
	return m.ETag == "" && m.LastModified == ""
}

// Transport is the injected wire collaborator. The SDK ships HTTPTransport
// as the default; hosts may substitute their own implementation (tests use
// a scripted fake).
type Transport interface {
	// Post submits a JSON body and returns the response body.
	Post(ctx context.Context, url string, body []byte) ([]byte, error)

	// FetchMetadata issues a lightweight probe returning only the
	// document's change validators.
	FetchMetadata(ctx context.Context, url string) (ResponseMetadata, error)

	// FetchFull fetches the document conditionally. When the server
	// reports the document unchanged for the given validators, the
	// returned body is nil.
	FetchFull(ctx context.Context, url string, etag, lastModified string) (ResponseMetadata, []byte, error)

	// Close releases transport resources.
	Close() error
}

// TransportConfig holds HTTP connection pool settings.
type TransportConfig struct {
	// MaxIdleConns controls the maximum number of idle connections.
	// Default: 10
	MaxIdleConns int

	// IdleConnTimeout is how long an idle connection is kept.
	// Default: 90s
	IdleConnTimeout time.Duration

	// RequestTimeout is the per-request timeout of the underlying client.
	// Default: 30s
	RequestTimeout time.Duration

	// Headers are custom headers included in every request, e.g. an API
	// key or correlation id.
	Headers map[string]string
}

// HTTPTransport is the default Transport built on net/http.
type HTTPTransport struct {
	client   *http.Client
	config   TransportConfig
	observer Observer
}

// NewHTTPTransport creates the default transport with connection pooling.
func NewHTTPTransport(config TransportConfig, observer Observer) *HTTPTransport {
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = 10
	}
	if config.IdleConnTimeout <= 0 {
		config.IdleConnTimeout = 90 * time.Second
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if observer == nil {
		observer = &NoopObserver{}
	}

	transport := &http.Transport{
		MaxIdleConns:        config.MaxIdleConns,
		IdleConnTimeout:     config.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &HTTPTransport{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.RequestTimeout,
		},
		config:   config,
		observer: observer,
	}
}

// Post submits a JSON body
func (t *HTTPTransport) Post(ctx context.Context, rawURL string, body []byte) ([]byte, error) {
	resp, respBody, err := t.do(ctx, http.MethodPost, rawURL, body, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, t.statusError(resp, rawURL, respBody)
	}
	return respBody, nil
}

// FetchMetadata probes the document's validators with a HEAD request
func (t *HTTPTransport) FetchMetadata(ctx context.Context, rawURL string) (ResponseMetadata, error) {
	resp, body, err := t.do(ctx, http.MethodHead, rawURL, nil, nil)
	if err != nil {
		return ResponseMetadata{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ResponseMetadata{}, t.statusError(resp, rawURL, body)
	}
	return metadataFromHeaders(resp.Header), nil
}

// FetchFull fetches the document with conditional headers
func (t *HTTPTransport) FetchFull(ctx context.Context, rawURL string, etag, lastModified string) (ResponseMetadata, []byte, error) {
	conditional := map[string]string{}
	if etag != "" {
		conditional["If-None-Match"] = etag
	}
	if lastModified != "" {
		conditional["If-Modified-Since"] = lastModified
	}

	resp, body, err := t.do(ctx, http.MethodGet, rawURL, nil, conditional)
	if err != nil {
		return ResponseMetadata{}, nil, err
	}

	meta := metadataFromHeaders(resp.Header)
	if resp.StatusCode == http.StatusNotModified {
		return meta, nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ResponseMetadata{}, nil, t.statusError(resp, rawURL, body)
	}
	return meta, body, nil
}

// do performs one HTTP request with observer hooks.
func (t *HTTPTransport) do(ctx context.Context, method, rawURL string, body []byte, extraHeaders map[string]string) (*http.Response, []byte, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, nil, NewError(ErrorTypeValidation, fmt.Sprintf("invalid url %q", rawURL), err)
	}

	t.observer.OnRequestStart(method, rawURL)
	start := time.Now()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		t.observer.OnRequestEnd(method, rawURL, time.Since(start), err)
		return nil, nil, NewError(ErrorTypeInternal, "failed to create request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "flag-nest-go-sdk/"+Version)
	for key, value := range t.config.Headers {
		req.Header.Set(key, value)
	}
	for key, value := range extraHeaders {
		req.Header.Set(key, value)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.observer.OnRequestEnd(method, rawURL, time.Since(start), err)
		netErr := &NetworkError{Op: method + " " + rawURL, Err: err}
		return nil, nil, netErr.ToError()
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.observer.OnRequestEnd(method, rawURL, time.Since(start), err)
		netErr := &NetworkError{Op: "reading response", Err: err}
		return nil, nil, netErr.ToError()
	}

	t.observer.OnRequestEnd(method, rawURL, time.Since(start), nil)
	return resp, respBody, nil
}

// statusError converts a non-2xx response into an enriched error.
func (t *HTTPTransport) statusError(resp *http.Response, rawURL string, body []byte) error {
	const bodyLimit = 256
	snippet := string(body)
	if len(snippet) > bodyLimit {
		snippet = snippet[:bodyLimit]
	}
	httpErr := &HTTPError{
		StatusCode: resp.StatusCode,
		URL:        rawURL,
		Body:       snippet,
	}
	return httpErr.ToError()
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// metadataFromHeaders extracts the change validators from response headers.
func metadataFromHeaders(h http.Header) ResponseMetadata {
	return ResponseMetadata{
		ETag:         h.Get("ETag"),
		LastModified: h.Get("Last-Modified"),
	}
}
