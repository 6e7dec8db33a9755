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

// Package cache holds downloaded asset payloads in memory, one entry per
// asset identifier, with least-recently-used eviction under a configurable
// capacity. Entries move through an idle/downloading/cached/error state
// machine; stored bytes are exposed through revocable handles that are never
// left dangling when a payload is replaced or discarded.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/scenekit/assetfetch/metrics"
)

// ErrDownloadCancelled is the cause recorded when an in-flight download is
// cancelled, either explicitly or by removal of its entry.
var ErrDownloadCancelled = errors.New("download cancelled")

// Blob is an opaque binary payload already resident in memory, stored
// without decoding.
type Blob interface {
	io.ReaderAt
	Size() int64
}

// StoreOpts carries the metadata recorded alongside a stored payload.
type StoreOpts struct {
	MediaType   string
	Filename    string
	DownloadURL string
}

// Cache is a keyed in-memory store of asset payloads. All methods are safe
// for concurrent use. Consumers never mutate entries directly; every entry
// returned is a snapshot.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	maxEntries int
	seq        uint64

	handleCreates int64
	handleRevokes int64
}

// NewCache returns a Cache holding at most maxEntries cached payloads. A
// capacity of 0 disables caching of any entry; a negative capacity is
// unbounded.
func NewCache(maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
	}
}

// Ensure returns the entry for id, creating an idle one if absent.
func (c *Cache) Ensure(id string) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLocked(id).Entry
}

// Get returns the entry for id if one exists. It does not create one.
func (c *Cache) Get(id string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.Entry, true
}

// Touch updates the last-used timestamp for id. No-op if absent.
func (c *Cache) Touch(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		e.LastUsedAt = time.Now()
	}
}

// HasCached reports whether id currently holds a cached payload.
func (c *Cache) HasCached(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return ok && e.Status == StatusCached
}

// StoreBytes stores data as the payload for id, revoking any previous handle
// first, and transitions the entry to cached. Eviction runs before return;
// the freshly stored entry is the last to go if capacity forces it out.
func (c *Cache) StoreBytes(id string, data []byte, opts StoreOpts) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.storeLocked(id, data, opts)
	c.evictLocked(id)
	c.updateGaugesLocked()
	metrics.IncOperationCount(metrics.CacheStore, id)
	return e.Entry
}

// StoreBlob is StoreBytes for an opaque payload. The size is read from the
// blob and the handle is derived from its contents.
func (c *Cache) StoreBlob(id string, blob Blob, opts StoreOpts) (Entry, error) {
	data := make([]byte, blob.Size())
	if _, err := blob.ReadAt(data, 0); err != nil && err != io.EOF {
		return Entry{}, fmt.Errorf("failed to read blob for %q: %w", id, err)
	}
	return c.StoreBytes(id, data, opts), nil
}

// SetError transitions id to the error state, clearing progress and any
// cancellation token. The entry is created if absent.
func (c *Cache) SetError(id string, message string) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.ensureLocked(id)
	c.revokeLocked(e)
	e.Status = StatusError
	e.Progress = 0
	e.LastError = message
	e.Size = 0
	e.cancel = nil
	e.LastUsedAt = time.Now()
	c.updateGaugesLocked()
	return e.Entry
}

// StartDownload transitions id to downloading and parks the cancellation
// token on the entry. The loader owns the token's lifecycle.
func (c *Cache) StartDownload(id string, cancel context.CancelCauseFunc) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.ensureLocked(id)
	e.Status = StatusDownloading
	e.Progress = 0
	e.LastError = ""
	e.cancel = cancel
	e.LastUsedAt = time.Now()
	return e.Entry
}

// SetProgress records download progress for id. Values only move forward;
// 100 is reserved for the cached state and is clamped here.
func (c *Cache) SetProgress(id string, pct int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || e.Status != StatusDownloading {
		return
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 99 {
		pct = 99
	}
	if pct > e.Progress {
		e.Progress = pct
	}
	e.LastUsedAt = time.Now()
}

// CancelDownload aborts an in-flight download for id and resets the entry to
// idle, recording the cancellation message. Returns false if the entry is
// not downloading.
func (c *Cache) CancelDownload(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || e.Status != StatusDownloading {
		return false
	}
	c.resetLocked(e)
	e.LastError = ErrDownloadCancelled.Error()
	metrics.IncOperationCount(metrics.DownloadCancelled, id)
	return true
}

// Remove cancels any in-flight download, revokes the handle, and deletes the
// entry record. Removal of an absent id is a no-op.
func (c *Cache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return
	}
	c.resetLocked(e)
	delete(c.entries, id)
	c.updateGaugesLocked()
}

// ReleaseInMemory drops the payload for id under memory pressure while
// keeping the entry record around, reset to idle.
func (c *Cache) ReleaseInMemory(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return
	}
	c.resetLocked(e)
	c.updateGaugesLocked()
}

// SetMaxEntries reconfigures the capacity and immediately evicts down to it.
// A capacity of 0 disables caching of any entry; negative is unbounded.
func (c *Cache) SetMaxEntries(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxEntries = n
	c.evictLocked("")
	c.updateGaugesLocked()
}

// HandleStats returns the number of handle creations and revocations so far.
// For any sequence of operations, creates == revokes + live handles.
func (c *Cache) HandleStats() (created, revoked int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handleCreates, c.handleRevokes
}

// CachedCount returns the number of entries currently in the cached state.
func (c *Cache) CachedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cachedCountLocked()
}

func (c *Cache) ensureLocked(id string) *entry {
	e, ok := c.entries[id]
	if !ok {
		c.seq++
		e = &entry{
			Entry: Entry{
				ID:         id,
				Status:     StatusIdle,
				LastUsedAt: time.Now(),
			},
			seq: c.seq,
		}
		c.entries[id] = e
	}
	return e
}

func (c *Cache) storeLocked(id string, data []byte, opts StoreOpts) *entry {
	e := c.ensureLocked(id)
	c.revokeLocked(e)
	e.Handle = newHandle(data)
	c.handleCreates++
	e.Status = StatusCached
	e.Progress = 100
	e.LastError = ""
	e.Size = int64(len(data))
	e.MediaType = opts.MediaType
	e.Filename = opts.Filename
	e.DownloadURL = opts.DownloadURL
	e.cancel = nil
	e.LastUsedAt = time.Now()
	c.seq++
	e.seq = c.seq
	return e
}

// resetLocked returns an entry to its idle defaults: the in-flight download
// (if any) is cancelled and the handle revoked before the fields are cleared.
func (c *Cache) resetLocked(e *entry) {
	if e.cancel != nil {
		e.cancel(ErrDownloadCancelled)
		e.cancel = nil
	}
	c.revokeLocked(e)
	e.Status = StatusIdle
	e.Progress = 0
	e.LastError = ""
	e.Size = 0
	e.MediaType = ""
	e.Filename = ""
	e.DownloadURL = ""
	e.LastUsedAt = time.Now()
}

func (c *Cache) revokeLocked(e *entry) {
	if e.Handle != nil {
		e.Handle.revoke()
		e.Handle = nil
		c.handleRevokes++
	}
}

// evictLocked removes least-recently-used cached entries until the count is
// at or under capacity. preferred is skipped while any other entry can go,
// but capacity is a hard ceiling: if skipping is not enough, preferred is
// removed too.
func (c *Cache) evictLocked(preferred string) {
	if c.maxEntries < 0 {
		return
	}
	cached := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.Status == StatusCached {
			cached = append(cached, e)
		}
	}
	if len(cached) <= c.maxEntries {
		return
	}
	sort.Slice(cached, func(i, j int) bool {
		if cached[i].LastUsedAt.Equal(cached[j].LastUsedAt) {
			return cached[i].seq < cached[j].seq
		}
		return cached[i].LastUsedAt.Before(cached[j].LastUsedAt)
	})
	over := len(cached) - c.maxEntries
	for _, e := range cached {
		if over <= 0 {
			return
		}
		if e.ID == preferred {
			continue
		}
		c.resetLocked(e)
		delete(c.entries, e.ID)
		metrics.IncOperationCount(metrics.CacheEviction, e.ID)
		over--
	}
	if over > 0 {
		if e, ok := c.entries[preferred]; ok {
			c.resetLocked(e)
			delete(c.entries, preferred)
			metrics.IncOperationCount(metrics.CacheEviction, preferred)
		}
	}
}

func (c *Cache) cachedCountLocked() int {
	n := 0
	for _, e := range c.entries {
		if e.Status == StatusCached {
			n++
		}
	}
	return n
}

func (c *Cache) updateGaugesLocked() {
	var count int
	var bytes int64
	for _, e := range c.entries {
		if e.Status == StatusCached {
			count++
			bytes += e.Size
		}
	}
	metrics.SetResidentAssets(count)
	metrics.SetResidentBytes(bytes)
}
