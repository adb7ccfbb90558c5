// Package resolver turns asset source URLs into renderable URLs through the
// remote resize service, with per-key request coalescing.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/watchstore/gallerycache/internal/cache"
	"github.com/watchstore/gallerycache/internal/core/observability"
)

var (
	// ErrInvalidSource marks a programmer error: an empty or unparsable
	// source URL. Never cached.
	ErrInvalidSource = errors.New("invalid source url")
	// ErrNetwork covers failed original or derivative fetches.
	ErrNetwork = errors.New("network failure")
	// ErrTimeout means processing or polling exceeded its budget.
	ErrTimeout = errors.New("resolve timeout")
)

// maxOriginalBytes caps how much of an original asset is read before upload.
const maxOriginalBytes = 10 << 20

// Remote resolves one source URL to a usable asset URL. Implemented by
// Resolver; faked in coalescer tests.
type Remote interface {
	Resolve(ctx context.Context, key, sourceURL string) (resolvedURL string, kind cache.Kind, err error)
}

// Resolver talks to the remote resize service: probe the original, upload
// its bytes when unreachable, poll the derivative until ready.
type Resolver struct {
	logger       *slog.Logger
	client       *http.Client
	resizeURL    *url.URL
	pollInterval time.Duration
	pollBudget   int
}

func New(logger *slog.Logger, client *http.Client, resizeEndpoint string, pollInterval time.Duration, pollBudget int) (*Resolver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(resizeEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parse resize endpoint: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if pollBudget <= 0 {
		pollBudget = 10
	}
	return &Resolver{
		logger:       logger,
		client:       client,
		resizeURL:    u,
		pollInterval: pollInterval,
		pollBudget:   pollBudget,
	}, nil
}

// processResponse is the resize service's reply to a multipart upload.
type processResponse struct {
	Status string `json:"status"`
	URL    string `json:"url"`
	ID     string `json:"id"`
}

// Resolve implements the three-step contract: reachable originals
// short-circuit untransformed, everything else is uploaded and, when not
// immediately ready, polled until the derivative answers a probe.
func (r *Resolver) Resolve(ctx context.Context, key, sourceURL string) (string, cache.Kind, error) {
	src, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil || src.Scheme == "" || src.Host == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidSource, sourceURL)
	}

	if r.probe(ctx, src.String()) {
		return src.String(), cache.KindOriginal, nil
	}

	body, err := r.fetchOriginal(ctx, src.String())
	if err != nil {
		return "", "", err
	}

	resp, err := r.upload(ctx, key, body)
	if err != nil {
		return "", "", err
	}

	derivative := r.absolute(resp.URL)
	if resp.Status == "done" {
		return derivative, cache.KindResized, nil
	}

	if err := r.pollDerivative(ctx, derivative); err != nil {
		return "", "", err
	}
	return derivative, cache.KindResized, nil
}

// probe issues a lightweight existence check; any non-error status counts
// as reachable.
func (r *Resolver) probe(ctx context.Context, target string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return false
	}
	start := time.Now()
	resp, err := r.client.Do(req)
	observability.ObserveUpstreamLatency("probe", time.Since(start).Seconds())
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < http.StatusBadRequest
}

func (r *Resolver) fetchOriginal(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build fetch: %w", ErrNetwork, err)
	}
	start := time.Now()
	resp, err := r.client.Do(req)
	observability.ObserveUpstreamLatency("origin_fetch", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: fetch original: %w", ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: fetch original: status %d", ErrNetwork, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOriginalBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read original: %w", ErrNetwork, err)
	}
	return body, nil
}

// upload submits the original bytes as a multipart form; the cache key
// doubles as the remote filename.
func (r *Resolver) upload(ctx context.Context, key string, body []byte) (processResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", key)
	if err != nil {
		return processResponse{}, fmt.Errorf("%w: multipart: %w", ErrNetwork, err)
	}
	if _, err := part.Write(body); err != nil {
		return processResponse{}, fmt.Errorf("%w: multipart write: %w", ErrNetwork, err)
	}
	if err := mw.Close(); err != nil {
		return processResponse{}, fmt.Errorf("%w: multipart close: %w", ErrNetwork, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.resizeURL.String(), &buf)
	if err != nil {
		return processResponse{}, fmt.Errorf("%w: build upload: %w", ErrNetwork, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	observability.IncUpload()
	start := time.Now()
	resp, err := r.client.Do(req)
	observability.ObserveUpstreamLatency("resize_upload", time.Since(start).Seconds())
	if err != nil {
		return processResponse{}, fmt.Errorf("%w: upload: %w", ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusBadRequest {
		return processResponse{}, fmt.Errorf("%w: upload: status %d", ErrNetwork, resp.StatusCode)
	}

	var pr processResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return processResponse{}, fmt.Errorf("%w: decode upload response: %w", ErrNetwork, err)
	}
	if pr.URL == "" {
		return processResponse{}, fmt.Errorf("%w: upload response missing url", ErrNetwork)
	}
	return pr, nil
}

// pollDerivative probes the derivative URL at a fixed interval until it
// becomes reachable or the retry budget runs out.
func (r *Resolver) pollDerivative(ctx context.Context, derivative string) error {
	for attempt := 0; attempt < r.pollBudget; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: poll canceled: %w", ErrTimeout, ctx.Err())
		case <-time.After(r.pollInterval):
		}
		if r.probe(ctx, derivative) {
			return nil
		}
		r.logger.Debug("derivative not ready", "url", derivative, "attempt", attempt+1)
	}
	return fmt.Errorf("%w: derivative not ready after %d probes", ErrTimeout, r.pollBudget)
}

// absolute resolves service-relative derivative paths against the resize
// endpoint host.
func (r *Resolver) absolute(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return r.resizeURL.ResolveReference(u).String()
}
