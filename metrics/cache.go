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

package metrics

import (
	"sync"

	gometrics "github.com/docker/go-metrics"
)

var (
	cacheNS = gometrics.NewNamespace("assetfetch", "cache", nil)

	// residentAssets is the number of assets currently held in cached state.
	residentAssets = cacheNS.NewGauge("resident_assets", "Number of assets resident in the in-memory cache", gometrics.Total)

	// residentBytes is the total payload size of all cached assets.
	residentBytes = cacheNS.NewGauge("resident_bytes", "Total bytes resident in the in-memory cache", gometrics.Bytes)
)

var registerCache sync.Once

// RegisterCacheNamespace registers the cache gauges with the prometheus
// default registry. This is always called only once.
func RegisterCacheNamespace() {
	registerCache.Do(func() {
		gometrics.Register(cacheNS)
	})
}

// SetResidentAssets records the current number of cached assets.
func SetResidentAssets(n int) {
	residentAssets.Set(float64(n))
}

// SetResidentBytes records the total byte size of cached assets.
func SetResidentBytes(n int64) {
	residentBytes.Set(float64(n))
}
