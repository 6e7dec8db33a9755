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

import "context"

// Reserved providers in composite "provider::assetId" keys.
const (
	// ProviderLocal marks inline payloads embedded in the document.
	ProviderLocal = "local"
	// ProviderURL marks per-asset download URL overrides.
	ProviderURL = "url"

	providerSeparator = "::"
)

// Document is the slice of a scene document the resolver reads: the composite
// asset map, the asset index, and the flat resource summary list. Everything
// else in the document belongs to the scene-building consumer.
type Document struct {
	// AssetMap holds inline values keyed by composite "provider::assetId"
	// strings. The "local" provider (or a bare identifier with no separator)
	// is an embedded payload; the "url" provider overrides the download URL
	// for one asset; any other provider is a package mapping.
	AssetMap map[string]string `json:"assetMap,omitempty"`

	// AssetIndex maps identifiers to richer per-asset metadata records.
	AssetIndex map[string]AssetIndexEntry `json:"assetIndex,omitempty"`

	// Assets is the resource summary: a flat list of assets with known
	// download URLs, scanned once into a lookup index.
	Assets []AssetSummary `json:"assets,omitempty"`
}

// AssetSummary is one record of the document's resource summary list.
type AssetSummary struct {
	AssetID     string `json:"assetId"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	Bytes       int64  `json:"bytes,omitempty"`
	Inline      string `json:"inline,omitempty"`
	Embedded    bool   `json:"embedded,omitempty"`
}

// AssetIndexEntry is the per-asset metadata record of the asset index. Fields
// are tried in inline, URL, source order.
type AssetIndexEntry struct {
	// Inline is an inline payload resolved like an embedded value.
	Inline string `json:"inline,omitempty"`
	// URL is a direct download URL.
	URL string `json:"url,omitempty"`
	// Source points at another provider's copy of the asset.
	Source *AssetIndexSource `json:"source,omitempty"`
}

// AssetIndexSource is the nested source object of an asset index record:
// either an inline payload, a direct URL, or a provider indirection.
type AssetIndexSource struct {
	Inline string `json:"inline,omitempty"`
	URL    string `json:"url,omitempty"`

	// ProviderID and OriginalAssetID indirect through another provider's
	// mapping; Value is the mapping payload carried along.
	ProviderID      string `json:"providerId,omitempty"`
	OriginalAssetID string `json:"originalAssetId,omitempty"`
	Value           string `json:"value,omitempty"`
}

// Options carries per-session resolution inputs supplied by the host.
type Options struct {
	// Overrides maps asset identifiers to replacement values. A value is
	// either a string (URL, data: URL, base64, or inline text) or a raw
	// []byte payload.
	Overrides map[string]any

	// ResolveAssetURL is an optional external resolver consulted when every
	// other step of the chain comes up empty. It may return a remote URL or
	// a data: URL.
	ResolveAssetURL func(ctx context.Context, assetID string) (string, error)
}
