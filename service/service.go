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

// Package service assembles the resolver, download pipeline, cache, and
// loader behind a single facade that hosts embed.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/scenekit/assetfetch/cache"
	"github.com/scenekit/assetfetch/config"
	"github.com/scenekit/assetfetch/fetch"
	"github.com/scenekit/assetfetch/loader"
	"github.com/scenekit/assetfetch/metrics"
	"github.com/scenekit/assetfetch/prefetch"
	"github.com/scenekit/assetfetch/resolver"
	"golang.org/x/sync/errgroup"
)

// loadAllConcurrency bounds how many sibling loads run at once in LoadAll.
const loadAllConcurrency = 4

// Handlers are the host-facing callbacks. All fields are optional.
type Handlers struct {
	// Warn receives resolution warnings (missing mappings, malformed
	// overrides). Resolution misses are never errors.
	Warn func(msg string)

	// ReportDownloadProgress receives per-asset download progress in [0,100].
	ReportDownloadProgress func(assetID string, pct int)
}

type Option func(*Service)

// WithFetcherOptions forwards options to the underlying fetcher, e.g. a
// custom Downloader or HTTP client.
func WithFetcherOptions(opts ...fetch.Option) Option {
	return func(s *Service) {
		s.fetcherOpts = opts
	}
}

// Service is the asset retrieval runtime: it resolves identifiers to sources,
// downloads or decodes them, and hands out cache entries.
type Service struct {
	cfg         *config.Config
	fetcherOpts []fetch.Option

	resolver *resolver.Resolver
	cache    *cache.Cache
	loader   *loader.Loader

	mu       sync.Mutex
	handlers Handlers

	// generation increments on every SetContext; queued prefetch tasks from a
	// previous document observe the bump and drop out.
	generation uint64
}

// New builds a Service from cfg. A nil cfg uses the defaults.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	s := &Service{cfg: cfg}
	for _, o := range opts {
		o(s)
	}

	if !cfg.NoPrometheus {
		metrics.Register()
		metrics.RegisterCacheNamespace()
	}

	s.resolver = resolver.New()
	s.cache = cache.NewCache(cfg.CacheConfig.MaxEntries)
	fetcher := fetch.NewFetcher(cfg, s.fetcherOpts...)
	s.loader = loader.New(s.cache, fetcher)
	return s
}

// SetContext mounts a new document context. All queued prefetch tasks from
// the previous context are invalidated.
func (s *Service) SetContext(doc *resolver.Document, opts *resolver.Options) {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
	s.resolver.SetContext(doc, opts)
}

// SetHandlers rebinds the host callbacks.
func (s *Service) SetHandlers(h Handlers) {
	s.mu.Lock()
	s.handlers = h
	s.mu.Unlock()
	s.resolver.SetWarnHandler(h.Warn)
}

// AcquireAssetSource resolves assetID to a source without loading it. A nil
// source with a nil error is a resolution miss; the warning has already been
// delivered.
func (s *Service) AcquireAssetSource(ctx context.Context, assetID string) (*resolver.Source, error) {
	start := time.Now()
	src, err := s.resolver.Resolve(ctx, assetID)
	metrics.MeasureLatencyInMilliseconds(metrics.ResolveSource, assetID, start)
	if err == nil && src == nil {
		metrics.IncOperationCount(metrics.ResolveMiss, assetID)
	}
	return src, err
}

// AcquireAssetEntry returns the current cache entry for assetID, if any.
func (s *Service) AcquireAssetEntry(assetID string) (cache.Entry, bool) {
	return s.cache.Get(assetID)
}

// LoadOptions tunes a single Load call.
type LoadOptions struct {
	// Force re-fetches even when the asset is already cached.
	Force bool
}

// Load resolves and loads assetID, returning its cache entry. A resolution
// miss returns the entry in its current state with no error; a failed
// download returns the error with the entry left in the error state.
func (s *Service) Load(ctx context.Context, assetID string, opts LoadOptions) (cache.Entry, error) {
	src, err := s.AcquireAssetSource(ctx, assetID)
	if err != nil {
		return cache.Entry{}, err
	}
	if src == nil {
		return s.cache.Ensure(assetID), nil
	}
	return s.loader.Load(ctx, assetID, src, loader.LoadOpts{
		Force:      opts.Force,
		OnProgress: s.progressFunc(assetID),
	})
}

// LoadAll loads every identifier concurrently. A failed sibling does not
// abort the others; the joined per-asset errors are returned after all loads
// settle.
func (s *Service) LoadAll(ctx context.Context, assetIDs []string) error {
	errs := make([]error, len(assetIDs))
	var g errgroup.Group
	g.SetLimit(loadAllConcurrency)
	for i, id := range assetIDs {
		i, id := i, id
		g.Go(func() error {
			if _, err := s.Load(ctx, id, LoadOptions{}); err != nil {
				errs[i] = fmt.Errorf("asset %q: %w", id, err)
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

// Cancel aborts the in-flight download for assetID, if any.
func (s *Service) Cancel(assetID string) {
	s.loader.Cancel(assetID)
}

// Remove drops the asset from the cache entirely, cancelling any in-flight
// download and revoking its handle.
func (s *Service) Remove(assetID string) {
	s.cache.Remove(assetID)
}

// ReleaseInMemory drops the payload for assetID under memory pressure while
// keeping the entry record.
func (s *Service) ReleaseInMemory(assetID string) {
	s.cache.ReleaseInMemory(assetID)
}

// Cache exposes the underlying cache for direct inspection.
func (s *Service) Cache() *cache.Cache {
	return s.cache
}

// PrefetchTask returns a warm-up task for assetID bound to the current
// document context. The task is a no-op once a new context is mounted.
func (s *Service) PrefetchTask(assetID string) prefetch.Task {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()
	return &prefetchTask{s: s, assetID: assetID, generation: gen}
}

func (s *Service) progressFunc(assetID string) func(int) {
	s.mu.Lock()
	report := s.handlers.ReportDownloadProgress
	s.mu.Unlock()
	if report == nil {
		return nil
	}
	return func(pct int) {
		report(assetID, pct)
	}
}

type prefetchTask struct {
	s          *Service
	assetID    string
	generation uint64
}

func (t *prefetchTask) Prefetch(ctx context.Context) (bool, error) {
	if t.Cancelled() {
		return false, nil
	}
	_, err := t.s.Load(ctx, t.assetID, LoadOptions{})
	if err == nil {
		metrics.IncOperationCount(metrics.PrefetchCount, t.assetID)
	}
	return false, err
}

func (t *prefetchTask) Cancelled() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.generation != t.s.generation
}
