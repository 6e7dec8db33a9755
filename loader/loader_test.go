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

package loader

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scenekit/assetfetch/cache"
	"github.com/scenekit/assetfetch/fetch"
	"github.com/scenekit/assetfetch/resolver"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeFetcher serves canned payloads, optionally blocking until released so
// tests can observe in-flight downloads.
type fakeFetcher struct {
	blob  *fetch.Blob
	err   error
	gate  chan struct{} // if non-nil, Download blocks on it
	calls atomic.Int32
}

func (f *fakeFetcher) FetchBlob(ctx context.Context, url string, progress func(int)) (*fetch.Blob, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if progress != nil {
		progress(50)
		progress(100)
	}
	return f.blob, nil
}

func remoteSource(url string) *resolver.Source {
	return &resolver.Source{Kind: resolver.KindRemoteURL, URL: url}
}

func TestLoadRemote(t *testing.T) {
	c := cache.NewCache(-1)
	f := &fakeFetcher{blob: &fetch.Blob{Data: []byte("payload"), MediaType: "image/png", Filename: "a.png", FinalURL: "https://cdn/a.png"}}
	l := New(c, f)

	var progress []int
	entry, err := l.Load(context.Background(), "a.png", remoteSource("https://x/a.png"), LoadOpts{
		OnProgress: func(v int) { progress = append(progress, v) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != cache.StatusCached || entry.Size != 7 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.MediaType != "image/png" || entry.DownloadURL != "https://cdn/a.png" {
		t.Fatalf("response metadata not recorded: %+v", entry)
	}
	if !bytes.Equal(entry.Handle.Bytes(), []byte("payload")) {
		t.Fatal("payload mismatch")
	}
	if len(progress) != 2 || progress[0] != 50 {
		t.Fatalf("unexpected progress: %v", progress)
	}
}

func TestLoadCachedShortCircuits(t *testing.T) {
	c := cache.NewCache(-1)
	f := &fakeFetcher{blob: &fetch.Blob{Data: []byte("payload")}}
	l := New(c, f)

	if _, err := l.Load(context.Background(), "a", remoteSource("https://x/a"), LoadOpts{}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Load(context.Background(), "a", remoteSource("https://x/a"), LoadOpts{}); err != nil {
		t.Fatal(err)
	}
	if f.calls.Load() != 1 {
		t.Fatalf("cached entries must not be re-fetched, got %d fetches", f.calls.Load())
	}

	if _, err := l.Load(context.Background(), "a", remoteSource("https://x/a"), LoadOpts{Force: true}); err != nil {
		t.Fatal(err)
	}
	if f.calls.Load() != 2 {
		t.Fatalf("force must re-fetch, got %d fetches", f.calls.Load())
	}
}

func TestLoadCollapsesConcurrentRequests(t *testing.T) {
	c := cache.NewCache(-1)
	f := &fakeFetcher{blob: &fetch.Blob{Data: []byte("payload")}, gate: make(chan struct{})}
	l := New(c, f)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = l.Load(context.Background(), "a", remoteSource("https://x/a"), LoadOpts{})
		}()
	}

	// Let the loads pile up behind the gate, then release the single fetch.
	time.Sleep(50 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("load %d failed: %v", i, err)
		}
	}
	if f.calls.Load() != 1 {
		t.Fatalf("expected a single fetch for %d concurrent loads, got %d", n, f.calls.Load())
	}
}

func TestLoadFailureSetsErrorState(t *testing.T) {
	c := cache.NewCache(-1)
	fetchErr := errors.New("connection reset")
	l := New(c, &fakeFetcher{err: fetchErr})

	_, err := l.Load(context.Background(), "a", remoteSource("https://x/a"), LoadOpts{})
	if !errors.Is(err, fetchErr) {
		t.Fatalf("expected the fetch error, got %v", err)
	}
	entry, _ := c.Get("a")
	if entry.Status != cache.StatusError || entry.LastError == "" {
		t.Fatalf("unexpected entry after failure: %+v", entry)
	}
}

func TestLoadCancellation(t *testing.T) {
	c := cache.NewCache(-1)
	f := &fakeFetcher{blob: &fetch.Blob{Data: []byte("payload")}, gate: make(chan struct{})}
	defer close(f.gate)
	l := New(c, f)

	done := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), "a", remoteSource("https://x/a"), LoadOpts{})
		done <- err
	}()

	// Wait for the download to be in flight, then cancel it.
	deadline := time.After(time.Second)
	for {
		if e, ok := c.Get("a"); ok && e.Status == cache.StatusDownloading {
			break
		}
		select {
		case <-deadline:
			t.Fatal("download never started")
		case <-time.After(time.Millisecond):
		}
	}
	l.Cancel("a")

	err := <-done
	if !errors.Is(err, cache.ErrDownloadCancelled) {
		t.Fatalf("expected ErrDownloadCancelled, got %v", err)
	}
	entry, _ := c.Get("a")
	if entry.Status != cache.StatusIdle {
		t.Fatalf("cancelled entries return to idle, got %q", entry.Status)
	}
}

func TestLoadDataURL(t *testing.T) {
	c := cache.NewCache(-1)
	l := New(c, &fakeFetcher{})

	src := &resolver.Source{Kind: resolver.KindDataURL, DataURL: "data:image/png;base64,aGVsbG8=", Filename: "a.png"}
	entry, err := l.Load(context.Background(), "a.png", src, LoadOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != cache.StatusCached || entry.MediaType != "image/png" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if !bytes.Equal(entry.Handle.Bytes(), []byte("hello")) {
		t.Fatal("data url payload mismatch")
	}
}

func TestLoadMalformedDataURL(t *testing.T) {
	c := cache.NewCache(-1)
	l := New(c, &fakeFetcher{})

	src := &resolver.Source{Kind: resolver.KindDataURL, DataURL: "data:no-comma"}
	if _, err := l.Load(context.Background(), "a", src, LoadOpts{}); !errors.Is(err, resolver.ErrMalformedDataURL) {
		t.Fatalf("expected ErrMalformedDataURL, got %v", err)
	}
	entry, _ := c.Get("a")
	if entry.Status != cache.StatusError {
		t.Fatalf("unexpected entry status: %q", entry.Status)
	}
}

func TestLoadBytes(t *testing.T) {
	c := cache.NewCache(-1)
	l := New(c, &fakeFetcher{})

	src := &resolver.Source{Kind: resolver.KindBytes, Data: []byte("raw"), MediaType: "text/plain"}
	entry, err := l.Load(context.Background(), "note.txt", src, LoadOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != cache.StatusCached || !bytes.Equal(entry.Handle.Bytes(), []byte("raw")) {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

type memBlob []byte

func (b memBlob) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, b[off:]), nil
}

func (b memBlob) Size() int64 { return int64(len(b)) }

func TestLoadBlob(t *testing.T) {
	c := cache.NewCache(-1)
	l := New(c, &fakeFetcher{})

	src := &resolver.Source{Kind: resolver.KindBlob, Blob: memBlob("blob-data")}
	entry, err := l.Load(context.Background(), "a", src, LoadOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != cache.StatusCached || !bytes.Equal(entry.Handle.Bytes(), []byte("blob-data")) {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestLoadNilSource(t *testing.T) {
	c := cache.NewCache(-1)
	l := New(c, &fakeFetcher{})

	if _, err := l.Load(context.Background(), "a", nil, LoadOpts{}); err == nil {
		t.Fatal("expected an error for a nil source")
	}
	entry, _ := c.Get("a")
	if entry.Status != cache.StatusError {
		t.Fatalf("unexpected entry status: %q", entry.Status)
	}
}
