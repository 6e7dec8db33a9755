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

// Package loader turns resolved sources into cache entries. Concurrent loads
// for the same asset identifier collapse into a single fetch; whichever call
// arrives first determines the source used for that round.
package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/containerd/log"
	"github.com/scenekit/assetfetch/cache"
	"github.com/scenekit/assetfetch/fetch"
	"github.com/scenekit/assetfetch/metrics"
	"github.com/scenekit/assetfetch/resolver"
	"golang.org/x/sync/singleflight"
)

// BlobFetcher downloads one URL with incremental progress. *fetch.Fetcher
// implements it.
type BlobFetcher interface {
	FetchBlob(ctx context.Context, url string, progress func(int)) (*fetch.Blob, error)
}

// LoadOpts tunes a single Load call.
type LoadOpts struct {
	// Force re-dispatches even when the entry is already cached.
	Force bool

	// OnProgress receives download progress in [0,100]. Only the call that
	// actually starts a fetch has its callback wired; callers that join an
	// in-flight load share its result but not its progress stream.
	OnProgress func(int)
}

// Loader dispatches sources into the cache, with at most one in-flight fetch
// per asset identifier.
type Loader struct {
	cache   *cache.Cache
	fetcher BlobFetcher
	flights singleflight.Group
}

func New(c *cache.Cache, f BlobFetcher) *Loader {
	return &Loader{cache: c, fetcher: f}
}

// Load returns the cache entry for id after dispatching src. A cached entry
// short-circuits unless Force is set. If a load for id is already in flight
// the pending result is shared instead of starting a second fetch. On
// failure the entry is left in the error state and the error is returned;
// cancellation is reported as cache.ErrDownloadCancelled.
func (l *Loader) Load(ctx context.Context, id string, src *resolver.Source, opts LoadOpts) (cache.Entry, error) {
	if !opts.Force {
		if e, ok := l.cache.Get(id); ok && e.Status == cache.StatusCached {
			l.cache.Touch(id)
			metrics.IncOperationCount(metrics.CacheHit, id)
			e, _ = l.cache.Get(id)
			return e, nil
		}
	}
	metrics.IncOperationCount(metrics.CacheMiss, id)

	v, err, _ := l.flights.Do(id, func() (any, error) {
		return l.dispatch(ctx, id, src, opts)
	})
	if err != nil {
		return cache.Entry{}, err
	}
	return v.(cache.Entry), nil
}

// Cancel aborts the in-flight download for id, if any, resetting the entry
// to idle. The pending Load settles with cache.ErrDownloadCancelled.
func (l *Loader) Cancel(id string) {
	if l.cache.CancelDownload(id) {
		log.L.WithField("asset", id).Debug("download cancelled")
	}
}

func (l *Loader) dispatch(ctx context.Context, id string, src *resolver.Source, opts LoadOpts) (cache.Entry, error) {
	if src == nil {
		err := fmt.Errorf("no source for asset %q", id)
		l.cache.SetError(id, err.Error())
		return cache.Entry{}, err
	}
	switch src.Kind {
	case resolver.KindBytes:
		return l.cache.StoreBytes(id, src.Data, cache.StoreOpts{
			MediaType:   src.MediaType,
			Filename:    src.Filename,
			DownloadURL: src.OriginURL,
		}), nil
	case resolver.KindDataURL:
		mediaType, data, err := resolver.ParseDataURL(src.DataURL)
		if err != nil {
			l.cache.SetError(id, err.Error())
			return cache.Entry{}, err
		}
		if mediaType == "" {
			mediaType = src.MediaType
		}
		return l.cache.StoreBytes(id, data, cache.StoreOpts{
			MediaType: mediaType,
			Filename:  src.Filename,
		}), nil
	case resolver.KindBlob:
		entry, err := l.cache.StoreBlob(id, src.Blob, cache.StoreOpts{
			MediaType:   src.MediaType,
			Filename:    src.Filename,
			DownloadURL: src.OriginURL,
		})
		if err != nil {
			l.cache.SetError(id, err.Error())
			return cache.Entry{}, err
		}
		return entry, nil
	case resolver.KindRemoteURL:
		return l.download(ctx, id, src, opts)
	default:
		err := fmt.Errorf("unknown source kind %q for asset %q", src.Kind, id)
		l.cache.SetError(id, err.Error())
		return cache.Entry{}, err
	}
}

func (l *Loader) download(ctx context.Context, id string, src *resolver.Source, opts LoadOpts) (cache.Entry, error) {
	dctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	l.cache.StartDownload(id, cancel)

	start := time.Now()
	blob, err := l.fetcher.FetchBlob(dctx, src.URL, func(pct int) {
		l.cache.SetProgress(id, pct)
		if opts.OnProgress != nil {
			opts.OnProgress(pct)
		}
	})
	if err != nil {
		if cause := context.Cause(dctx); errors.Is(cause, cache.ErrDownloadCancelled) {
			// CancelDownload already reset the entry; report the distinguished
			// cancellation error so callers can tell it from a real failure.
			return cache.Entry{}, cause
		}
		l.cache.SetError(id, err.Error())
		metrics.IncOperationCount(metrics.DownloadFailure, id)
		return cache.Entry{}, err
	}

	metrics.MeasureLatencyInMilliseconds(metrics.Download, id, start)
	metrics.AddBytesFetched(id, int64(len(blob.Data)))

	mediaType := blob.MediaType
	if mediaType == "" {
		mediaType = src.MediaType
	}
	filename := blob.Filename
	if filename == "" {
		filename = src.Filename
	}
	return l.cache.StoreBytes(id, blob.Data, cache.StoreOpts{
		MediaType:   mediaType,
		Filename:    filename,
		DownloadURL: blob.FinalURL,
	}), nil
}
