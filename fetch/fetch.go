/*
   Copyright The AssetFetch Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/containerd/log"
	"github.com/rs/xid"
	"github.com/scenekit/assetfetch/config"
	internalhttp "github.com/scenekit/assetfetch/internal/http"
	utilhttp "github.com/scenekit/assetfetch/util/http"
	"github.com/sirupsen/logrus"
)

// Blob is the result of a successful fetch: the payload plus the metadata the
// cache records alongside it.
type Blob struct {
	Data      []byte
	MediaType string
	Filename  string

	// FinalURL is the candidate URL that actually served the bytes.
	FinalURL string
}

// Downloader is a pluggable replacement for the built-in transports, for
// hosts that want to offload fetching (e.g. to a worker process). It receives
// the full candidate list in fallback order. Returning
// ErrDownloaderUnavailable hands the fetch back to the built-in transports;
// any other error is fatal.
type Downloader interface {
	Download(ctx context.Context, urls []string, progress func(int)) (*Blob, error)
}

// Fetcher downloads asset bytes over an ordered list of candidate URLs,
// falling back across mirrors on network-level failures and normalizing
// progress into a 0-100 scale.
type Fetcher struct {
	client        *http.Client
	downloader    Downloader
	mirrors       config.ResolverConfig
	secureOrigin  bool
	forceBuffered bool
}

type Option func(*Fetcher)

// WithDownloader installs a custom Downloader tried before the built-in
// transports.
func WithDownloader(d Downloader) Option {
	return func(f *Fetcher) {
		f.downloader = d
	}
}

// WithClient replaces the default retryable HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// NewFetcher builds a Fetcher from cfg. Unless overridden with WithClient,
// requests go through a retryable client tuned by the http config section.
func NewFetcher(cfg *config.Config, opts ...Option) *Fetcher {
	f := &Fetcher{
		mirrors:       cfg.ResolverConfig,
		secureOrigin:  cfg.DownloadConfig.SecureOrigin,
		forceBuffered: cfg.DownloadConfig.ForceBufferedMode,
	}
	for _, o := range opts {
		o(f)
	}
	if f.client == nil {
		f.client = utilhttp.NewRetryableClient(cfg.RetryableHTTPClientConfig)
	}
	return f
}

// FetchBlob downloads rawURL, reporting progress in [0,100]. The final
// progress value is 100 exactly once, when the transfer is complete.
// Cancellation is observed through ctx before every attempt and during body
// streaming.
func (f *Fetcher) FetchBlob(ctx context.Context, rawURL string, progress func(int)) (*Blob, error) {
	if err := cancelled(ctx); err != nil {
		return nil, err
	}
	candidates, err := f.buildCandidates(rawURL)
	if err != nil {
		return nil, err
	}

	ctx = log.WithLogger(ctx, log.G(ctx).WithFields(logrus.Fields{
		"fetch_id": xid.New().String(),
		"url":      internalhttp.RedactHTTPQueryValuesFromString(rawURL),
	}))
	log.G(ctx).WithField("candidates", len(candidates)).Debug("fetching asset")

	p := newProgressReporter(progress)

	if f.downloader != nil {
		urls := make([]string, len(candidates))
		for i, c := range candidates {
			urls[i] = c.url
		}
		blob, err := f.downloader.Download(ctx, urls, p.report)
		if err == nil {
			p.done()
			return blob, nil
		}
		if !errors.Is(err, ErrDownloaderUnavailable) {
			return nil, err
		}
		log.G(ctx).Debug("custom downloader unavailable; falling back to built-in transports")
	}

	if f.client == nil {
		return nil, ErrDownloadingUnsupported
	}
	if f.forceBuffered {
		return f.fetchBuffered(ctx, candidates, p)
	}
	return f.fetchStreaming(ctx, candidates, p)
}

// fetchStreaming walks the candidate list with the streaming transport.
// Network-level failures advance to the next candidate; an HTTP error status
// is fatal. A network failure on the original insecure URL after an https
// upgrade was in play is reported as a mixed content block.
func (f *Fetcher) fetchStreaming(ctx context.Context, candidates []candidate, p *progressReporter) (*Blob, error) {
	hasUpgrade := false
	for _, c := range candidates {
		if c.upgraded {
			hasUpgrade = true
			break
		}
	}

	var candidatesErr error
	for _, c := range candidates {
		if err := cancelled(ctx); err != nil {
			return nil, err
		}
		blob, err := f.streamOne(ctx, c, p)
		if err == nil {
			return blob, nil
		}
		if err := cancelled(ctx); err != nil {
			return nil, err
		}
		if errors.Is(err, ErrUnexpectedStatusCode) {
			// The host answered; this is not a connectivity problem and no
			// mirror will do better.
			return nil, err
		}
		if c.original && hasUpgrade {
			return nil, fmt.Errorf("%w: %s", ErrBlockedMixedContent, internalhttp.RedactHTTPQueryValuesFromString(c.url))
		}
		log.G(ctx).WithError(internalhttp.RedactHTTPQueryValuesFromError(err)).
			WithField("candidate", internalhttp.RedactHTTPQueryValuesFromString(c.url)).
			Debug("candidate failed; trying another")
		candidatesErr = errors.Join(candidatesErr, fmt.Errorf("candidate %q: %w", internalhttp.RedactHTTPQueryValuesFromString(c.url), err))
	}
	return nil, fmt.Errorf("%w: %w", ErrAllCandidatesFailed, candidatesErr)
}

// streamOne fetches a single candidate, accumulating the body in chunks and
// reporting incremental progress.
func (f *Fetcher) streamOne(ctx context.Context, c candidate, p *progressReporter) (*Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		internalhttp.Drain(resp.Body)
		return nil, fmt.Errorf("%w on fetch: %v", ErrUnexpectedStatusCode, resp.Status)
	}
	defer resp.Body.Close()

	total := resp.ContentLength
	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(total))
	}
	chunk := make([]byte, 128*1024)
	var received int64
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			received += int64(n)
			p.report(progressFor(received, total))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	p.done()
	return &Blob{
		Data:      buf.Bytes(),
		MediaType: mediaTypeOf(resp),
		Filename:  filenameOf(resp),
		FinalURL:  resp.Request.URL.String(),
	}, nil
}

// fetchBuffered walks the candidate list with the buffered transport: one
// request per candidate, the whole body read at once, progress reported only
// on completion. A candidate is retried with the next one only when the
// failure looks transient: a network-level error or a 408/429/5xx status.
func (f *Fetcher) fetchBuffered(ctx context.Context, candidates []candidate, p *progressReporter) (*Blob, error) {
	var candidatesErr error
	for _, c := range candidates {
		if err := cancelled(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			if err := cancelled(ctx); err != nil {
				return nil, err
			}
			candidatesErr = errors.Join(candidatesErr, fmt.Errorf("candidate %q: %w", internalhttp.RedactHTTPQueryValuesFromString(c.url), err))
			continue
		}
		if resp.StatusCode/100 != 2 {
			internalhttp.Drain(resp.Body)
			statusErr := fmt.Errorf("%w on fetch: %v", ErrUnexpectedStatusCode, resp.Status)
			if !transientStatus(resp.StatusCode) {
				return nil, statusErr
			}
			candidatesErr = errors.Join(candidatesErr, fmt.Errorf("candidate %q: %w", internalhttp.RedactHTTPQueryValuesFromString(c.url), statusErr))
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			candidatesErr = errors.Join(candidatesErr, fmt.Errorf("candidate %q: %w", internalhttp.RedactHTTPQueryValuesFromString(c.url), err))
			continue
		}
		p.done()
		return &Blob{
			Data:      data,
			MediaType: mediaTypeOf(resp),
			Filename:  filenameOf(resp),
			FinalURL:  resp.Request.URL.String(),
		}, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrAllCandidatesFailed, candidatesErr)
}

// transientStatus reports whether an HTTP status is worth retrying on another
// candidate: request timeout, throttling, or a server-side error other than
// Not Implemented.
func transientStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		(code >= 500 && code != http.StatusNotImplemented)
}

// cancelled returns the cancellation cause if ctx is done, else nil.
func cancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return nil
}

func mediaTypeOf(resp *http.Response) string {
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return mediaType
}

func filenameOf(resp *http.Response) string {
	if name := internalhttp.FilenameFromContentDisposition(resp.Header.Get("Content-Disposition")); name != "" {
		return name
	}
	finalURL := resp.Request.URL.String()
	return internalhttp.FilenameFromURL(finalURL)
}
