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
	"fmt"
	"net/url"
	"strings"

	"github.com/scenekit/assetfetch/config"
)

// candidate is one URL the pipeline may try, in order.
type candidate struct {
	url string

	// original marks the URL the caller passed in, unrewritten.
	original bool

	// upgraded marks the https upgrade of an insecure original URL.
	upgraded bool
}

// buildCandidates produces the ordered, de-duplicated URL list for one fetch.
// On a secure origin an insecure URL gets an https upgrade candidate first;
// every base candidate is preceded by its configured per-host mirrors.
func (f *Fetcher) buildCandidates(rawURL string) ([]candidate, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	var bases []candidate
	if f.secureOrigin && u.Scheme == "http" {
		up := *u
		up.Scheme = "https"
		bases = append(bases, candidate{url: up.String(), upgraded: true})
	}
	bases = append(bases, candidate{url: rawURL, original: true})

	var out []candidate
	seen := make(map[string]bool)
	add := func(c candidate) {
		if !seen[c.url] {
			seen[c.url] = true
			out = append(out, c)
		}
	}
	for _, base := range bases {
		bu, err := url.Parse(base.url)
		if err != nil {
			continue
		}
		for _, m := range f.mirrorsFor(bu.Host) {
			if mirrorURL := rewriteToMirror(bu, m); mirrorURL != "" {
				add(candidate{url: mirrorURL})
			}
		}
		add(base)
	}
	return out, nil
}

// mirrorsFor returns the ordered mirror list configured for a host. Host keys
// in the config are lowercase.
func (f *Fetcher) mirrorsFor(host string) []config.MirrorConfig {
	hc, ok := f.mirrors.Host[strings.ToLower(host)]
	if !ok {
		return nil
	}
	return hc.Mirrors
}

// rewriteToMirror rebuilds base against a mirror destination, preserving the
// path and query. The mirror may be a full origin, a scheme-relative host, or
// a bare host:port.
func rewriteToMirror(base *url.URL, m config.MirrorConfig) string {
	target := *base
	switch {
	case strings.HasPrefix(m.Host, "http://"), strings.HasPrefix(m.Host, "https://"):
		origin, err := url.Parse(m.Host)
		if err != nil || origin.Host == "" {
			return ""
		}
		target.Scheme = origin.Scheme
		target.Host = origin.Host
	case strings.HasPrefix(m.Host, "//"):
		target.Host = strings.TrimPrefix(m.Host, "//")
	default:
		if m.Host == "" {
			return ""
		}
		target.Host = m.Host
	}
	if m.Insecure {
		target.Scheme = "http"
	}
	return target.String()
}
