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

package config

// ResolverConfig is config for resolving asset hosts.
type ResolverConfig struct {
	Host map[string]HostConfig `toml:"host"`
}

// HostConfig holds the mirror list for one primary host. Keys in
// ResolverConfig.Host are matched against the lowercased URL host.
type HostConfig struct {
	Mirrors []MirrorConfig `toml:"mirrors"`
}

// MirrorConfig describes one alternate host serving the same content as a
// primary host. Candidates built from a mirror preserve the original URL's
// path and query.
type MirrorConfig struct {
	// Host is the replacement destination. It may be a full origin
	// ("https://cdn.example.com"), a scheme-relative host
	// ("//cdn.example.com"), or a bare host:port ("cdn.example.com:8443").
	Host string `toml:"host"`

	// Insecure is true means use http scheme instead of https.
	Insecure bool `toml:"insecure"`
}
