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
	"encoding/base64"
	"fmt"
	"io"
	"path"
	"strings"
)

// Kind discriminates the origin of an asset's bytes.
type Kind string

const (
	// KindBytes is an in-memory byte buffer.
	KindBytes Kind = "bytes"
	// KindDataURL is a data: URL to decode.
	KindDataURL Kind = "data-url"
	// KindRemoteURL is a URL to download.
	KindRemoteURL Kind = "remote-url"
	// KindBlob is an opaque binary payload already resident in memory.
	KindBlob Kind = "blob"
)

// Blob is an opaque in-memory binary payload handed to the loader by a
// caller, e.g. bytes produced by an embedded editor rather than a download.
type Blob interface {
	io.ReaderAt
	Size() int64
}

// Source describes where an asset's bytes originate. Exactly one of the
// kind-specific fields is populated, selected by Kind.
type Source struct {
	Kind Kind

	// Data is set for KindBytes.
	Data []byte
	// DataURL is set for KindDataURL.
	DataURL string
	// URL is set for KindRemoteURL.
	URL string
	// Blob is set for KindBlob.
	Blob Blob

	// MediaType is an optional content type hint.
	MediaType string
	// Filename is an optional filename hint.
	Filename string
	// OriginURL is an optional display-only origin for KindBytes sources.
	OriginURL string
}

// Location renders a short human-readable origin for the source: the URL for
// remote sources, a truncated prefix for data: URLs, and a byte count for
// in-memory payloads.
func (s *Source) Location() string {
	switch s.Kind {
	case KindRemoteURL:
		return s.URL
	case KindDataURL:
		if len(s.DataURL) > 64 {
			return s.DataURL[:64] + "..."
		}
		return s.DataURL
	case KindBlob:
		return fmt.Sprintf("<blob %d bytes>", s.Blob.Size())
	default:
		return fmt.Sprintf("<bytes %d>", len(s.Data))
	}
}

// IsRemoteURL reports whether s looks like a downloadable http(s) URL.
func IsRemoteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// IsDataURL reports whether s is a data: URL.
func IsDataURL(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// ParseDataURL splits a data: URL into its media type and decoded payload.
// Both ";base64" and percent-free plain payloads are accepted.
func ParseDataURL(dataURL string) (mediaType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing data: prefix", ErrMalformedDataURL)
	}
	head, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing comma separator", ErrMalformedDataURL)
	}
	base64Encoded := false
	if b, ok := strings.CutSuffix(head, ";base64"); ok {
		head = b
		base64Encoded = true
	}
	mediaType = head
	if base64Encoded {
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %w", ErrMalformedDataURL, err)
		}
	} else {
		data = []byte(payload)
	}
	return mediaType, data, nil
}

// looksLikeBase64 reports whether s is plausibly a base64 payload: non-empty,
// a multiple of 4 long, and drawn from the standard alphabet. A positive
// answer is a heuristic; the actual decode still decides.
func looksLikeBase64(s string) bool {
	if s == "" || len(s)%4 != 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '+' || c == '/':
		case c == '=' && i >= len(s)-2:
		default:
			return false
		}
	}
	return true
}

// sourceFromInline normalizes an inline string value into a Source. The value
// may be a data: URL, a remote URL, a base64 payload, or plain text which is
// stored UTF-8 encoded. The asset identifier contributes a media type guess
// for payloads that carry none of their own.
func sourceFromInline(assetID, value string) *Source {
	switch {
	case IsDataURL(value):
		return &Source{Kind: KindDataURL, DataURL: value, Filename: assetID}
	case IsRemoteURL(value):
		return &Source{Kind: KindRemoteURL, URL: value, MediaType: MediaTypeForFilename(assetID), Filename: assetID}
	case looksLikeBase64(value):
		if data, err := base64.StdEncoding.DecodeString(value); err == nil {
			return &Source{Kind: KindBytes, Data: data, MediaType: MediaTypeForFilename(assetID), Filename: assetID}
		}
	}
	return &Source{Kind: KindBytes, Data: []byte(value), MediaType: MediaTypeForFilename(assetID), Filename: assetID}
}

// MediaTypeForFilename guesses a media type from the identifier's file
// extension. Returns "" when the extension is not recognized.
func MediaTypeForFilename(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain"
	}
	return ""
}
