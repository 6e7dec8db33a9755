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
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/containerd/log"
	"github.com/golang/groupcache/lru"
)

// packageMemoSize bounds the resolved package entry memo. Scene documents
// rarely reference more than a few hundred distinct assets.
const packageMemoSize = 1024

// packageEntry is a memoized {provider, value} pair extracted from the
// document's composite asset map. A nil *packageEntry is memoized for
// identifiers with no mapping so the map is not re-scanned.
type packageEntry struct {
	provider string
	value    string
}

// Resolver turns asset identifiers into Sources by walking an ordered chain
// of document tables. It never fails for missing data: a dead end produces a
// warning and no Source.
type Resolver struct {
	mu      sync.Mutex
	doc     *Document
	opts    *Options
	warn    func(string)
	pkgMemo *lru.Cache
	summary map[string]string
}

// New returns a Resolver with no document context. Resolution against an
// empty context only recognizes identifiers that are themselves URLs.
func New() *Resolver {
	return &Resolver{
		pkgMemo: lru.New(packageMemoSize),
	}
}

// SetWarnHandler rebinds the warning sink. A nil handler falls back to the
// default logger.
func (r *Resolver) SetWarnHandler(warn func(string)) {
	r.mu.Lock()
	r.warn = warn
	r.mu.Unlock()
}

// SetContext swaps the active document and options. The package entry memo is
// always invalidated; the resource summary index is additionally rebuilt when
// the document or the override table changed identity.
func (r *Resolver) SetContext(doc *Document, opts *Options) {
	r.mu.Lock()
	defer r.mu.Unlock()

	docChanged := doc != r.doc
	overridesChanged := !sameOverrides(r.opts, opts)
	r.doc = doc
	r.opts = opts
	r.pkgMemo = lru.New(packageMemoSize)
	if docChanged || overridesChanged {
		r.summary = nil
	}
}

// sameOverrides reports whether two option sets carry the identical override
// map. Identity, not content: the host signals a new override table by
// passing a new map.
func sameOverrides(a, b *Options) bool {
	var am, bm map[string]any
	if a != nil {
		am = a.Overrides
	}
	if b != nil {
		bm = b.Overrides
	}
	if am == nil || bm == nil {
		return am == nil && bm == nil
	}
	return reflect.ValueOf(am).Pointer() == reflect.ValueOf(bm).Pointer()
}

func (r *Resolver) warnf(format string, args ...any) {
	r.mu.Lock()
	warn := r.warn
	r.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	if warn != nil {
		warn(msg)
		return
	}
	log.L.Warn(msg)
}

// Resolve produces a Source for assetID, or nil when no step of the chain can
// supply one. The chain order is: direct URL, override table, embedded table,
// package mapping, asset index, external callback. First match wins.
func (r *Resolver) Resolve(ctx context.Context, assetID string) (*Source, error) {
	if IsRemoteURL(assetID) {
		return &Source{Kind: KindRemoteURL, URL: assetID, MediaType: MediaTypeForFilename(assetID)}, nil
	}
	if IsDataURL(assetID) {
		return &Source{Kind: KindDataURL, DataURL: assetID}, nil
	}

	r.mu.Lock()
	doc, opts := r.doc, r.opts
	r.mu.Unlock()

	if src := r.resolveOverride(assetID, opts); src != nil {
		return src, nil
	}
	if src := r.resolveEmbedded(assetID, doc); src != nil {
		return src, nil
	}
	if src := r.resolvePackage(assetID, doc); src != nil {
		return src, nil
	}
	if src := r.resolveAssetIndex(assetID, doc); src != nil {
		return src, nil
	}
	if opts != nil && opts.ResolveAssetURL != nil {
		value, err := opts.ResolveAssetURL(ctx, assetID)
		if err != nil {
			r.warnf("external resolver failed for asset %q: %v", assetID, err)
		} else if IsRemoteURL(value) || IsDataURL(value) {
			return sourceFromInline(assetID, value), nil
		} else if value != "" {
			r.warnf("external resolver returned unusable value for asset %q", assetID)
		}
	}

	r.warnf("no source found for asset %q", assetID)
	return nil, nil
}

// resolveOverride consults the per-session override table. Values are raw
// bytes or inline strings (URL, data: URL, base64, or plain text).
func (r *Resolver) resolveOverride(assetID string, opts *Options) *Source {
	if opts == nil || opts.Overrides == nil {
		return nil
	}
	value, ok := opts.Overrides[assetID]
	if !ok {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return &Source{Kind: KindBytes, Data: v, MediaType: MediaTypeForFilename(assetID), Filename: assetID}
	case string:
		return sourceFromInline(assetID, v)
	default:
		// Malformed override. Logged and treated as a resolution miss so the
		// rest of the chain still gets a chance.
		r.warnf("override for asset %q has unsupported type %T", assetID, value)
		return nil
	}
}

// resolveEmbedded consults the document's inline payloads under the "local"
// provider or a bare identifier key.
func (r *Resolver) resolveEmbedded(assetID string, doc *Document) *Source {
	if doc == nil || doc.AssetMap == nil {
		return nil
	}
	if value, ok := doc.AssetMap[ProviderLocal+providerSeparator+assetID]; ok {
		return sourceFromInline(assetID, value)
	}
	if value, ok := doc.AssetMap[assetID]; ok && !strings.Contains(assetID, providerSeparator) {
		return sourceFromInline(assetID, value)
	}
	return nil
}

// resolvePackage consults non-reserved "provider::assetId" mappings. The
// {provider, value} pair is memoized per identifier, including misses.
func (r *Resolver) resolvePackage(assetID string, doc *Document) *Source {
	pe := r.lookupPackageEntry(assetID, doc)
	if pe == nil {
		return nil
	}
	if IsRemoteURL(pe.value) || IsDataURL(pe.value) {
		return sourceFromInline(assetID, pe.value)
	}
	if urlValue, ok := doc.AssetMap[ProviderURL+providerSeparator+assetID]; ok {
		return sourceFromInline(assetID, urlValue)
	}
	// The mapping's value may double as an indirect key into the resource
	// summary when the value itself is not a payload.
	if u := r.summaryLookup(assetID, doc); u != "" {
		return &Source{Kind: KindRemoteURL, URL: u, MediaType: MediaTypeForFilename(assetID), Filename: assetID}
	}
	if u := r.summaryLookup(pe.value, doc); u != "" {
		return &Source{Kind: KindRemoteURL, URL: u, MediaType: MediaTypeForFilename(assetID), Filename: assetID}
	}
	return sourceFromInline(assetID, pe.value)
}

// resolveAssetIndex consults the per-asset metadata records, trying inline,
// URL, then nested source shapes. Provider indirections look up the resource
// summary under the original identifier before the current one.
func (r *Resolver) resolveAssetIndex(assetID string, doc *Document) *Source {
	if doc == nil || doc.AssetIndex == nil {
		return nil
	}
	entry, ok := doc.AssetIndex[assetID]
	if !ok {
		return nil
	}
	if entry.Inline != "" {
		return sourceFromInline(assetID, entry.Inline)
	}
	if entry.URL != "" {
		return sourceFromInline(assetID, entry.URL)
	}
	s := entry.Source
	if s == nil {
		return nil
	}
	if s.Inline != "" {
		return sourceFromInline(assetID, s.Inline)
	}
	if s.URL != "" {
		return sourceFromInline(assetID, s.URL)
	}
	if s.OriginalAssetID != "" {
		if u := r.summaryLookup(s.OriginalAssetID, doc); u != "" {
			return &Source{Kind: KindRemoteURL, URL: u, MediaType: MediaTypeForFilename(assetID), Filename: assetID}
		}
	}
	if u := r.summaryLookup(assetID, doc); u != "" {
		return &Source{Kind: KindRemoteURL, URL: u, MediaType: MediaTypeForFilename(assetID), Filename: assetID}
	}
	if s.Value != "" {
		return sourceFromInline(assetID, s.Value)
	}
	return nil
}

// lookupPackageEntry returns the memoized {provider, value} pair for assetID,
// scanning the composite asset map on first use. Reserved providers are
// skipped. A nil return means no mapping exists; the miss is memoized too.
func (r *Resolver) lookupPackageEntry(assetID string, doc *Document) *packageEntry {
	if doc == nil || doc.AssetMap == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.pkgMemo.Get(assetID); ok {
		pe, _ := v.(*packageEntry)
		return pe
	}
	var found *packageEntry
	for key, value := range doc.AssetMap {
		provider, rest, ok := strings.Cut(key, providerSeparator)
		if !ok || provider == ProviderLocal || provider == ProviderURL {
			continue
		}
		if rest == assetID {
			found = &packageEntry{provider: provider, value: value}
			break
		}
	}
	r.pkgMemo.Add(assetID, found)
	return found
}

// summaryLookup returns the known download URL for key from the resource
// summary index, building the index on first use.
func (r *Resolver) summaryLookup(key string, doc *Document) string {
	if doc == nil || len(doc.Assets) == 0 || key == "" {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.summary == nil {
		r.summary = make(map[string]string, len(doc.Assets))
		for _, a := range doc.Assets {
			if a.AssetID != "" && a.DownloadURL != "" {
				r.summary[a.AssetID] = a.DownloadURL
			}
		}
	}
	return r.summary[key]
}
