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

package resolver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type warnRecorder struct {
	mu   sync.Mutex
	msgs []string
}

func (w *warnRecorder) record(msg string) {
	w.mu.Lock()
	w.msgs = append(w.msgs, msg)
	w.mu.Unlock()
}

func (w *warnRecorder) contains(substr string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range w.msgs {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func (w *warnRecorder) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

func newTestResolver(doc *Document, opts *Options) (*Resolver, *warnRecorder) {
	r := New()
	w := &warnRecorder{}
	r.SetWarnHandler(w.record)
	r.SetContext(doc, opts)
	return r, w
}

func TestResolveDirectURL(t *testing.T) {
	r, _ := newTestResolver(nil, nil)

	src, err := r.Resolve(context.Background(), "https://assets.example.com/wood.png")
	if err != nil {
		t.Fatal(err)
	}
	if src == nil || src.Kind != KindRemoteURL {
		t.Fatalf("expected a remote url source, got %+v", src)
	}
	if src.URL != "https://assets.example.com/wood.png" {
		t.Fatalf("unexpected url: %q", src.URL)
	}
	if src.MediaType != "image/png" {
		t.Fatalf("unexpected media type: %q", src.MediaType)
	}

	src, err = r.Resolve(context.Background(), "data:image/png;base64,aGVsbG8=")
	if err != nil {
		t.Fatal(err)
	}
	if src == nil || src.Kind != KindDataURL {
		t.Fatalf("expected a data url source, got %+v", src)
	}
}

func TestResolveEmbedded(t *testing.T) {
	doc := &Document{
		AssetMap: map[string]string{
			"local::foo.png": "data:image/png;base64,AAAA",
			"bare.txt":       "plain text payload",
		},
	}
	r, _ := newTestResolver(doc, nil)

	src, err := r.Resolve(context.Background(), "foo.png")
	if err != nil {
		t.Fatal(err)
	}
	if src == nil || src.Kind != KindDataURL {
		t.Fatalf("expected a data url source, got %+v", src)
	}
	if src.DataURL != "data:image/png;base64,AAAA" {
		t.Fatalf("unexpected data url: %q", src.DataURL)
	}

	src, err = r.Resolve(context.Background(), "bare.txt")
	if err != nil {
		t.Fatal(err)
	}
	if src == nil || src.Kind != KindBytes {
		t.Fatalf("expected a bytes source for the bare key, got %+v", src)
	}
}

func TestResolveOverrideBeatsEmbedded(t *testing.T) {
	doc := &Document{
		AssetMap: map[string]string{
			"local::foo.png": "data:image/png;base64,AAAA",
		},
	}
	opts := &Options{
		Overrides: map[string]any{
			"foo.png": "https://override.example.com/foo.png",
		},
	}
	r, _ := newTestResolver(doc, opts)

	src, err := r.Resolve(context.Background(), "foo.png")
	if err != nil {
		t.Fatal(err)
	}
	if src == nil || src.Kind != KindRemoteURL {
		t.Fatalf("expected the override to win, got %+v", src)
	}
	if src.URL != "https://override.example.com/foo.png" {
		t.Fatalf("unexpected url: %q", src.URL)
	}
}

func TestResolveOverrideRawBytes(t *testing.T) {
	opts := &Options{
		Overrides: map[string]any{
			"foo.png": []byte{0x89, 0x50, 0x4e, 0x47},
		},
	}
	r, _ := newTestResolver(nil, opts)

	src, err := r.Resolve(context.Background(), "foo.png")
	if err != nil {
		t.Fatal(err)
	}
	if src == nil || src.Kind != KindBytes {
		t.Fatalf("expected a bytes source, got %+v", src)
	}
	if len(src.Data) != 4 {
		t.Fatalf("unexpected payload length: %d", len(src.Data))
	}
}

func TestResolveMalformedOverrideFallsThrough(t *testing.T) {
	doc := &Document{
		AssetMap: map[string]string{
			"local::foo.png": "data:image/png;base64,AAAA",
		},
	}
	opts := &Options{
		Overrides: map[string]any{
			"foo.png": 42,
		},
	}
	r, w := newTestResolver(doc, opts)

	src, err := r.Resolve(context.Background(), "foo.png")
	if err != nil {
		t.Fatal(err)
	}
	if src == nil || src.Kind != KindDataURL {
		t.Fatalf("expected the chain to continue past the bad override, got %+v", src)
	}
	if !w.contains("unsupported type") {
		t.Fatalf("expected a warning about the override type, got %v", w.msgs)
	}
}

func TestResolvePackageMapping(t *testing.T) {
	doc := &Document{
		AssetMap: map[string]string{
			"pkg-7::tex.png": "https://packages.example.com/pkg-7/tex.png",
		},
	}
	r, _ := newTestResolver(doc, nil)

	src, err := r.Resolve(context.Background(), "tex.png")
	if err != nil {
		t.Fatal(err)
	}
	if src == nil || src.Kind != KindRemoteURL {
		t.Fatalf("expected a remote url source, got %+v", src)
	}
	if src.URL != "https://packages.example.com/pkg-7/tex.png" {
		t.Fatalf("unexpected url: %q", src.URL)
	}
}

func TestResolvePackageMappingURLOverride(t *testing.T) {
	doc := &Document{
		AssetMap: map[string]string{
			"pkg-7::tex.png": "opaque-mapping-value",
			"url::tex.png":   "https://cdn.example.com/tex.png",
		},
	}
	r, _ := newTestResolver(doc, nil)

	src, err := r.Resolve(context.Background(), "tex.png")
	if err != nil {
		t.Fatal(err)
	}
	if src == nil || src.Kind != KindRemoteURL {
		t.Fatalf("expected a remote url source, got %+v", src)
	}
	if src.URL != "https://cdn.example.com/tex.png" {
		t.Fatalf("unexpected url: %q", src.URL)
	}
}

func TestResolvePackageMappingThroughSummary(t *testing.T) {
	doc := &Document{
		AssetMap: map[string]string{
			"pkg-7::tex.png": "original-tex.png",
		},
		Assets: []AssetSummary{
			{AssetID: "original-tex.png", DownloadURL: "https://summary.example.com/tex.png"},
		},
	}
	r, _ := newTestResolver(doc, nil)

	src, err := r.Resolve(context.Background(), "tex.png")
	if err != nil {
		t.Fatal(err)
	}
	if src == nil || src.Kind != KindRemoteURL {
		t.Fatalf("expected a remote url source, got %+v", src)
	}
	if src.URL != "https://summary.example.com/tex.png" {
		t.Fatalf("unexpected url: %q", src.URL)
	}
}

func TestResolveAssetIndex(t *testing.T) {
	testCases := []struct {
		name    string
		doc     *Document
		wantURL string
	}{
		{
			name: "direct url entry",
			doc: &Document{
				AssetIndex: map[string]AssetIndexEntry{
					"tex.png": {URL: "https://index.example.com/tex.png"},
				},
			},
			wantURL: "https://index.example.com/tex.png",
		},
		{
			name: "nested source url",
			doc: &Document{
				AssetIndex: map[string]AssetIndexEntry{
					"tex.png": {Source: &AssetIndexSource{URL: "https://index.example.com/nested.png"}},
				},
			},
			wantURL: "https://index.example.com/nested.png",
		},
		{
			name: "original asset id through summary",
			doc: &Document{
				AssetIndex: map[string]AssetIndexEntry{
					"tex.png": {Source: &AssetIndexSource{ProviderID: "pkg-7", OriginalAssetID: "orig.png"}},
				},
				Assets: []AssetSummary{
					{AssetID: "orig.png", DownloadURL: "https://summary.example.com/orig.png"},
				},
			},
			wantURL: "https://summary.example.com/orig.png",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := newTestResolver(tc.doc, nil)
			src, err := r.Resolve(context.Background(), "tex.png")
			if err != nil {
				t.Fatal(err)
			}
			if src == nil || src.Kind != KindRemoteURL {
				t.Fatalf("expected a remote url source, got %+v", src)
			}
			if src.URL != tc.wantURL {
				t.Fatalf("unexpected url; expected %q, got %q", tc.wantURL, src.URL)
			}
		})
	}
}

func TestResolveExternalCallback(t *testing.T) {
	opts := &Options{
		ResolveAssetURL: func(ctx context.Context, assetID string) (string, error) {
			return "https://external.example.com/" + assetID, nil
		},
	}
	r, _ := newTestResolver(nil, opts)

	src, err := r.Resolve(context.Background(), "tex.png")
	if err != nil {
		t.Fatal(err)
	}
	if src == nil || src.Kind != KindRemoteURL {
		t.Fatalf("expected a remote url source, got %+v", src)
	}
	if src.URL != "https://external.example.com/tex.png" {
		t.Fatalf("unexpected url: %q", src.URL)
	}
}

func TestResolveExternalCallbackFailureWarns(t *testing.T) {
	opts := &Options{
		ResolveAssetURL: func(ctx context.Context, assetID string) (string, error) {
			return "", errors.New("backend unavailable")
		},
	}
	r, w := newTestResolver(nil, opts)

	src, err := r.Resolve(context.Background(), "tex.png")
	if err != nil {
		t.Fatalf("resolution misses must not be errors: %v", err)
	}
	if src != nil {
		t.Fatalf("expected no source, got %+v", src)
	}
	if !w.contains("external resolver failed") {
		t.Fatalf("expected a warning about the external resolver, got %v", w.msgs)
	}
}

func TestResolveMissWarnsOnce(t *testing.T) {
	r, w := newTestResolver(&Document{}, nil)

	src, err := r.Resolve(context.Background(), "missing.png")
	if err != nil {
		t.Fatalf("resolution misses must not be errors: %v", err)
	}
	if src != nil {
		t.Fatalf("expected no source, got %+v", src)
	}
	if w.count() != 1 || !w.contains("no source found") {
		t.Fatalf("expected exactly one miss warning, got %v", w.msgs)
	}
}

func TestPackageMemoInvalidatedOnSetContext(t *testing.T) {
	doc := &Document{
		AssetMap: map[string]string{
			"pkg-7::tex.png": "https://packages.example.com/v1/tex.png",
		},
	}
	r, _ := newTestResolver(doc, nil)

	if src, _ := r.Resolve(context.Background(), "tex.png"); src == nil || src.URL != "https://packages.example.com/v1/tex.png" {
		t.Fatalf("unexpected first resolution: %+v", src)
	}

	// A new document with a different mapping must not serve memoized entries
	// from the old one.
	r.SetContext(&Document{
		AssetMap: map[string]string{
			"pkg-7::tex.png": "https://packages.example.com/v2/tex.png",
		},
	}, nil)
	if src, _ := r.Resolve(context.Background(), "tex.png"); src == nil || src.URL != "https://packages.example.com/v2/tex.png" {
		t.Fatalf("stale memoized resolution: %+v", src)
	}
}
