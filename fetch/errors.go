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

import "errors"

var (
	ErrInvalidURL             = errors.New("invalid asset URL")
	ErrUnexpectedStatusCode   = errors.New("unexpected status code")
	ErrBlockedMixedContent    = errors.New("blocked mixed content download on secure origin")
	ErrAllCandidatesFailed    = errors.New("all download candidates failed")
	ErrDownloadingUnsupported = errors.New("downloading unsupported in this environment")

	// ErrDownloaderUnavailable is the distinguished error a custom Downloader
	// returns to hand the fetch back to the built-in transports. Any other
	// error from a custom Downloader is fatal.
	ErrDownloaderUnavailable = errors.New("custom downloader unavailable")
)
