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

package cache

import (
	"sync"

	"github.com/opencontainers/go-digest"
)

// Handle is a revocable in-process reference to stored bytes. Consumers hold
// it to read the payload without copying; the cache entry that created it is
// the only party that revokes it, and always does so before replacing or
// discarding the payload.
type Handle struct {
	mu      sync.Mutex
	data    []byte
	dgst    digest.Digest
	revoked bool
}

func newHandle(data []byte) *Handle {
	return &Handle{
		data: data,
		dgst: digest.FromBytes(data),
	}
}

// Bytes returns the payload, or nil once the handle has been revoked.
func (h *Handle) Bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.revoked {
		return nil
	}
	return h.data
}

// Digest is the content digest of the payload, usable as a stable identity
// for logging and de-duplication diagnostics. It survives revocation.
func (h *Handle) Digest() digest.Digest {
	return h.dgst
}

// Revoked reports whether the handle has been revoked.
func (h *Handle) Revoked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.revoked
}

func (h *Handle) revoke() {
	h.mu.Lock()
	h.revoked = true
	h.data = nil
	h.mu.Unlock()
}
