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
	"context"
	"time"
)

// Status is the lifecycle state of a cache entry.
type Status string

const (
	// StatusIdle is the initial state and the state after removal: no bytes,
	// no error.
	StatusIdle Status = "idle"
	// StatusDownloading means a fetch is in flight; Progress advances 0-100.
	StatusDownloading Status = "downloading"
	// StatusCached means bytes are present; Progress is pinned at 100.
	StatusCached Status = "cached"
	// StatusError means the last load failed; LastError carries the message.
	StatusError Status = "error"
)

// Entry is the per-asset cache record. Values handed out by Cache methods are
// snapshots; all mutation goes through the Cache.
type Entry struct {
	ID       string
	Status   Status
	Progress int

	// LastError is the message of the most recent failure, or "".
	LastError string

	// Size is the byte length of the stored payload.
	Size int64

	// LastUsedAt is updated on every read or write of the entry.
	LastUsedAt time.Time

	MediaType string
	Filename  string

	// DownloadURL is the URL the payload was actually fetched from.
	DownloadURL string

	// Handle is the revocable reference to the stored bytes, present only in
	// StatusCached.
	Handle *Handle
}

// entry is the mutable record behind the snapshots.
type entry struct {
	Entry

	// cancel aborts the in-flight download. Present only in
	// StatusDownloading; the loader owns its lifecycle.
	cancel context.CancelCauseFunc

	// seq breaks eviction ties between entries stored at the same instant;
	// lower means older.
	seq uint64
}
