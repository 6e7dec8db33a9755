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

// CacheConfig defaults
const (
	// defaultMaxCacheEntries is the number of assets kept resident before
	// LRU eviction kicks in. Scene documents typically reference a few dozen
	// distinct assets; 256 leaves comfortable headroom.
	defaultMaxCacheEntries = 256
)

// PrefetchConfig defaults
const (
	// defaultPrefetchSilencePeriodMsec specifies the amount of time the prefetcher
	// will wait once a new document context comes in before (re)starting fetches.
	defaultPrefetchSilencePeriodMsec = 30_000

	// defaultPrefetchPeriodMsec specifies how often a prefetch will occur.
	// The prefetcher warms a single asset every defaultPrefetchPeriodMsec.
	defaultPrefetchPeriodMsec = 500

	// defaultPrefetchMaxQueueSize specifies the maximum size of the prefetcher
	// work queue. In case of overflow, the Add call will block until an asset
	// is removed from the queue.
	defaultPrefetchMaxQueueSize = 100

	// defaultPrefetchEmitMetricPeriodSec is the default interval at which the
	// prefetcher emits its queue size metric.
	defaultPrefetchEmitMetricPeriodSec = 10
)

// RetryableHTTPClientConfig defaults
const (
	// defaultDialTimeoutMsec is the default number of milliseconds before timeout while connecting to a remote endpoint. See TimeoutConfig.DialTimeoutMsec.
	defaultDialTimeoutMsec = 3_000
	// defaultResponseHeaderTimeoutMsec is the default number of milliseconds before timeout while waiting for response header from a remote endpoint. See TimeoutConfig.ResponseHeaderTimeoutMsec.
	defaultResponseHeaderTimeoutMsec = 3_000
	// defaultRequestTimeoutMsec is the default number of milliseconds that the entire request can take before timeout. See TimeoutConfig.RequestTimeoutMsec.
	defaultRequestTimeoutMsec = 30_000

	// defaults based on a target total retry time of at least 5s. 30*((2^8)-1)>5000

	// defaultMaxRetries is the default number of retries that a retryable request will make. See RetryConfig.MaxRetries.
	defaultMaxRetries = 8
	// defaultMinWaitMsec is the default minimum number of milliseconds between attempts. See RetryConfig.MinWaitMsec.
	defaultMinWaitMsec = 30
	// defaultMaxWaitMsec is the default maximum number of milliseconds between attempts. See RetryConfig.MaxWaitMsec.
	defaultMaxWaitMsec = 300_000
)
