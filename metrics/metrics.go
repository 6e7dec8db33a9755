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
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OperationLatencyKeyMilliseconds is the key for assetfetch operation latency metrics in milliseconds.
	OperationLatencyKeyMilliseconds = "operation_duration_milliseconds"

	// OperationCountKey is the key for assetfetch operation count metrics.
	OperationCountKey = "operation_count"

	// BytesFetchedKey is the key for metrics counting bytes fetched by the download pipeline.
	BytesFetchedKey = "bytes_fetched"

	// Keep namespace as assetfetch and subsystem as fetch.
	namespace = "assetfetch"
	subsystem = "fetch"
)

// Lists all metric labels.
const (
	Download          = "download"
	DownloadFailure   = "download_failure_count"
	DownloadCancelled = "download_cancelled_count"
	ResolveSource     = "resolve_source"
	ResolveMiss       = "resolve_miss_count"

	CacheHit      = "cache_hit_count"
	CacheMiss     = "cache_miss_count"
	CacheStore    = "cache_store_count"
	CacheEviction = "cache_eviction_count"

	// Number of errors during background prefetching.
	PrefetchFailureCount = "prefetch_failure_count"

	// Number of assets warmed by the background prefetcher.
	PrefetchCount = "prefetch_count"

	// Number of items in the work queue of the background prefetcher.
	PrefetchWorkQueueSize = "prefetch_work_queue_size"
)

var (
	// Buckets for OperationLatency metrics.
	latencyBucketsMilliseconds = []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096, 8192, 16384} // in milliseconds

	// operationLatencyMilliseconds collects operation latency numbers in
	// milliseconds grouped by operation and asset identifier.
	operationLatencyMilliseconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      OperationLatencyKeyMilliseconds,
			Help:      "Latency in milliseconds of assetfetch operations. Broken down by operation type and asset.",
			Buckets:   latencyBucketsMilliseconds,
		},
		[]string{"operation_type", "asset"},
	)

	// operationCount collects operation count numbers by operation type and asset.
	operationCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      OperationCountKey,
			Help:      "The count of assetfetch operations. Broken down by operation type and asset.",
		},
		[]string{"operation_type", "asset"},
	)

	// bytesFetched counts the bytes pulled over the network per asset.
	bytesFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      BytesFetchedKey,
			Help:      "The number of bytes fetched by the assetfetch download pipeline. Broken down by asset.",
		},
		[]string{"asset"},
	)

	// prefetchQueueSize reflects the number of assets waiting in the prefetcher queue.
	prefetchQueueSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      PrefetchWorkQueueSize,
			Help:      "The number of assets queued for background prefetching.",
		},
	)
)

var register sync.Once

// sinceInMilliseconds gets the time since the specified start in milliseconds.
// The division is made to have the milliseconds value as floating point number, since the native method
// .Milliseconds() returns an integer value and you can lose precision for sub-millisecond values.
func sinceInMilliseconds(start time.Time) float64 {
	return float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond/time.Nanosecond)
}

// Register registers metrics. This is always called only once.
func Register() {
	register.Do(func() {
		prometheus.MustRegister(operationLatencyMilliseconds)
		prometheus.MustRegister(operationCount)
		prometheus.MustRegister(bytesFetched)
		prometheus.MustRegister(prefetchQueueSize)
	})
}

// MeasureLatencyInMilliseconds wraps the labels attachment as well as calling Observe into a single method.
// The operation and asset identifier are attached, so it's possible to see the breakdown for latency
// by operation and individual assets. Pass asset as "" for asset-agnostic metrics.
func MeasureLatencyInMilliseconds(operation string, asset string, start time.Time) {
	operationLatencyMilliseconds.WithLabelValues(operation, asset).Observe(sinceInMilliseconds(start))
}

// IncOperationCount wraps the labels attachment as well as calling Inc into a single method.
func IncOperationCount(operation string, asset string) {
	operationCount.WithLabelValues(operation, asset).Inc()
}

// AddBytesFetched wraps the labels attachment as well as calling Add into a single method.
func AddBytesFetched(asset string, bytes int64) {
	bytesFetched.WithLabelValues(asset).Add(float64(bytes))
}

// SetPrefetchQueueSize records the current prefetcher queue depth.
func SetPrefetchQueueSize(size int) {
	prefetchQueueSize.Set(float64(size))
}
