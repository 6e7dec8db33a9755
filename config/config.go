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

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// DefaultConfigPath is the default filesystem path for the assetfetch configuration file.
const DefaultConfigPath = "/etc/assetfetch/config.toml"

// Config is the top-level configuration for the asset retrieval runtime.
type Config struct {
	// CacheConfig holds settings for the in-memory blob cache.
	CacheConfig `toml:"cache"`

	// DownloadConfig holds settings for the download pipeline.
	DownloadConfig `toml:"download"`

	// RetryableHTTPClientConfig holds transport tuning for the HTTP client
	// used by the download pipeline.
	RetryableHTTPClientConfig `toml:"http"`

	// ResolverConfig holds per-host mirror configuration.
	ResolverConfig `toml:"resolver"`

	// PrefetchConfig holds settings for the background prefetcher.
	PrefetchConfig `toml:"prefetch"`

	// MetricsAddress is an optional address to expose the metrics API on.
	MetricsAddress string `toml:"metrics_address"`

	// NoPrometheus is a flag to disable the emission of the metrics.
	NoPrometheus bool `toml:"no_prometheus"`
}

// CacheConfig holds settings for the in-memory blob cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached assets held in memory at
	// once. Exceeding entries are evicted least-recently-used first. A
	// negative value disables caching of any entry.
	MaxEntries int `toml:"max_entries"`
}

// DownloadConfig holds settings for the download pipeline.
type DownloadConfig struct {
	// SecureOrigin indicates that the scene document was served over HTTPS.
	// When set, plain http:// asset URLs get an https:// upgrade candidate
	// and a network failure on the original insecure URL is reported as a
	// mixed content block instead of being retried.
	SecureOrigin bool `toml:"secure_origin"`

	// ForceBufferedMode disables the streaming transport and fetches every
	// asset through the buffered transport. Progress granularity degrades to
	// start/finish events.
	ForceBufferedMode bool `toml:"force_buffered_mode"`
}

// PrefetchConfig holds settings for the background prefetcher.
type PrefetchConfig struct {
	// SilencePeriodMsec is how long the prefetcher stays quiet after a new
	// document context is mounted before (re)starting fetches.
	SilencePeriodMsec int64 `toml:"prefetch_silence_period_msec"`

	// FetchPeriodMsec specifies how often a prefetch will occur. The
	// prefetcher warms a single asset every FetchPeriodMsec.
	FetchPeriodMsec int64 `toml:"prefetch_period_msec"`

	// MaxQueueSize is the maximum number of assets that can be queued for
	// prefetching. When the queue is full, Add blocks.
	MaxQueueSize int `toml:"prefetch_max_queue_size"`

	// EmitMetricPeriodSec is the interval at which the prefetcher emits its
	// queue size metric.
	EmitMetricPeriodSec int64 `toml:"prefetch_emit_metric_period_sec"`
}

type configParser func(*Config) error

var parsers = []configParser{parseCacheConfig, parseHTTPConfig, parsePrefetchConfig}

// NewConfig returns an initialized Config with default values set.
func NewConfig() *Config {
	cfg := &Config{}
	for _, p := range parsers {
		p(cfg)
	}
	return cfg
}

// NewConfigFromToml loads a Config from a TOML file, filling in defaults for
// any setting the file does not mention. A missing file at the default path
// is not an error; the defaults are returned.
func NewConfigFromToml(cfgPath string) (*Config, error) {
	f, err := os.Open(cfgPath)
	if err != nil {
		if os.IsNotExist(err) && cfgPath == DefaultConfigPath {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("failed to open config file %q: %w", cfgPath, err)
	}
	defer f.Close()

	cfg := &Config{}
	if err = toml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config file %q: %w", cfgPath, err)
	}
	parseConfig(cfg)
	return cfg, nil
}

func parseConfig(cfg *Config) {
	for _, p := range parsers {
		p(cfg)
	}
}

func parseCacheConfig(cfg *Config) error {
	if cfg.CacheConfig.MaxEntries == 0 {
		cfg.CacheConfig.MaxEntries = defaultMaxCacheEntries
	}
	return nil
}

func parseHTTPConfig(cfg *Config) error {
	if cfg.RetryableHTTPClientConfig.TimeoutConfig.DialTimeoutMsec == 0 {
		cfg.RetryableHTTPClientConfig.TimeoutConfig.DialTimeoutMsec = defaultDialTimeoutMsec
	}
	if cfg.RetryableHTTPClientConfig.TimeoutConfig.ResponseHeaderTimeoutMsec == 0 {
		cfg.RetryableHTTPClientConfig.TimeoutConfig.ResponseHeaderTimeoutMsec = defaultResponseHeaderTimeoutMsec
	}
	if cfg.RetryableHTTPClientConfig.TimeoutConfig.RequestTimeoutMsec == 0 {
		cfg.RetryableHTTPClientConfig.TimeoutConfig.RequestTimeoutMsec = defaultRequestTimeoutMsec
	}
	if cfg.RetryableHTTPClientConfig.RetryConfig.MaxRetries == 0 {
		cfg.RetryableHTTPClientConfig.RetryConfig.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryableHTTPClientConfig.RetryConfig.MinWaitMsec == 0 {
		cfg.RetryableHTTPClientConfig.RetryConfig.MinWaitMsec = defaultMinWaitMsec
	}
	if cfg.RetryableHTTPClientConfig.RetryConfig.MaxWaitMsec == 0 {
		cfg.RetryableHTTPClientConfig.RetryConfig.MaxWaitMsec = defaultMaxWaitMsec
	}
	return nil
}

func parsePrefetchConfig(cfg *Config) error {
	if cfg.PrefetchConfig.SilencePeriodMsec == 0 {
		cfg.PrefetchConfig.SilencePeriodMsec = defaultPrefetchSilencePeriodMsec
	}
	if cfg.PrefetchConfig.FetchPeriodMsec == 0 {
		cfg.PrefetchConfig.FetchPeriodMsec = defaultPrefetchPeriodMsec
	}
	if cfg.PrefetchConfig.MaxQueueSize == 0 {
		cfg.PrefetchConfig.MaxQueueSize = defaultPrefetchMaxQueueSize
	}
	if cfg.PrefetchConfig.EmitMetricPeriodSec == 0 {
		cfg.PrefetchConfig.EmitMetricPeriodSec = defaultPrefetchEmitMetricPeriodSec
	}
	return nil
}

// RetryConfig represents the settings for retries in a retryable http client.
type RetryConfig struct {
	// MaxRetries is the maximum number of retries before giving up on a retryable request.
	// This does not include the initial request so the total number of attempts will be MaxRetries + 1.
	MaxRetries int `toml:"max_retries"`

	// MinWaitMsec is the minimum wait time between attempts. The actual wait time is governed
	// by the backoff strategy, but it will never be shorter than this duration.
	MinWaitMsec int64 `toml:"min_wait_msec"`

	// MaxWaitMsec is the maximum wait time between attempts. The actual wait time is governed
	// by the backoff strategy, but it will never be longer than this duration.
	MaxWaitMsec int64 `toml:"max_wait_msec"`
}

// TimeoutConfig represents the settings for timeout at various points in a
// request lifecycle in a retryable http client.
type TimeoutConfig struct {
	// DialTimeoutMsec is the maximum duration that connection can take before
	// a request attempt is timed out.
	DialTimeoutMsec int64 `toml:"dial_timeout_msec"`

	// ResponseHeaderTimeoutMsec is the maximum duration waiting for response
	// headers before a request attempt is timed out. This starts after the
	// entire request body is uploaded and stops when the headers are fully
	// read. It does not include reading the body.
	ResponseHeaderTimeoutMsec int64 `toml:"response_header_timeout_msec"`

	// RequestTimeoutMsec is the maximum duration before the entire request
	// attempt is timed out, including reading the response body.
	RequestTimeoutMsec int64 `toml:"request_timeout_msec"`
}

// RetryableHTTPClientConfig is the complete config for a retryable http client.
type RetryableHTTPClientConfig struct {
	TimeoutConfig `toml:"timeout"`
	RetryConfig   `toml:"retry"`
}
