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

// Package prefetch warms the asset cache in the background, one asset per
// fetch period, so interactive loads find their bytes already resident.
package prefetch

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/log"
	"github.com/scenekit/assetfetch/metrics"
	"golang.org/x/time/rate"
)

type Option func(*Prefetcher) error

func WithSilencePeriod(period time.Duration) Option {
	return func(pf *Prefetcher) error {
		pf.silencePeriod = period
		return nil
	}
}

func WithFetchPeriod(period time.Duration) Option {
	return func(pf *Prefetcher) error {
		pf.fetchPeriod = period
		return nil
	}
}

func WithMaxQueueSize(size int) Option {
	return func(pf *Prefetcher) error {
		pf.maxQueueSize = size
		return nil
	}
}

func WithEmitMetricPeriod(period time.Duration) Option {
	return func(pf *Prefetcher) error {
		pf.emitMetricPeriod = period
		return nil
	}
}

// A Task is one unit of background warm-up work, typically a single asset
// identifier bound to a loader.
type Task interface {
	// Prefetch performs one fetch step. Returning true requeues the task for
	// another step.
	Prefetch(ctx context.Context) (bool, error)

	// Cancelled reports whether the task's document context has been torn
	// down. Cancelled tasks are dropped from the queue without running.
	Cancelled() bool
}

// An interface for a type to "pause" the prefetcher.
// Useful for mocking in unit tests.
type pauser interface {
	pause(time.Duration)
}

type defaultPauser struct{}

func (p defaultPauser) pause(d time.Duration) {
	time.Sleep(d)
}

// A Prefetcher drains a queue of Tasks at a fixed rate, pausing for a silence
// period whenever a new document context is mounted so interactive loads are
// not competing with warm-up traffic.
type Prefetcher struct {
	silencePeriod    time.Duration
	fetchPeriod      time.Duration
	maxQueueSize     int
	emitMetricPeriod time.Duration

	rateLimiter *rate.Limiter

	pfPauser pauser

	// All tasks are added to the channel and picked up in Run().
	// If a task still has work left, it is reinserted into the channel.
	workQueue chan Task
	closeChan chan struct{}
	pauseChan chan struct{}
}

func NewPrefetcher(opts ...Option) (*Prefetcher, error) {
	pf := new(Prefetcher)
	for _, o := range opts {
		if err := o(pf); err != nil {
			return nil, err
		}
	}
	// Create a rate-limiter that will fetch every pf.fetchPeriod with a burst
	// capacity of 1 (i.e., it will never invoke more than 1 prefetch within
	// pf.fetchPeriod)
	pf.rateLimiter = rate.NewLimiter(rate.Every(pf.fetchPeriod), 1)
	pf.workQueue = make(chan Task, pf.maxQueueSize)
	pf.closeChan = make(chan struct{})
	pf.pauseChan = make(chan struct{})

	if pf.pfPauser == nil {
		pf.pfPauser = defaultPauser{}
	}

	return pf, nil
}

// Add queues a new Task to be prefetched. Blocks while the queue is full.
func (pf *Prefetcher) Add(task Task) {
	pf.workQueue <- task
}

func (pf *Prefetcher) Close() error {
	pf.closeChan <- struct{}{}
	return nil
}

// Pause signals the prefetcher to stay silent for silencePeriod on the next
// iteration.
func (pf *Prefetcher) Pause() {
	pf.pauseChan <- struct{}{}
}

func (pf *Prefetcher) pause(ctx context.Context) {
	needPause := false
loop:
	for {
		select {
		// A new document has been mounted. Need to pause the prefetcher
		case <-pf.pauseChan:
			needPause = true
		default:
			break loop
		}
	}
	if needPause {
		log.G(ctx).WithField("silencePeriod", pf.silencePeriod).Debug("new document mounted, pausing the prefetcher for silence period")
		pf.pfPauser.pause(pf.silencePeriod)
	}
}

func (pf *Prefetcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(pf.emitMetricPeriod)
	go pf.emitWorkQueueMetric(ctx, ticker)

	for {
		// Pause the prefetcher if necessary.
		pf.pause(ctx)

		select {
		case <-pf.closeChan:
			ticker.Stop()
			return nil
		case <-ctx.Done():
			ticker.Stop()
			return nil
		default:
		}

		select {
		case task := <-pf.workQueue:
			if task.Cancelled() {
				continue
			}
			go func() {
				more, err := task.Prefetch(ctx)
				if more {
					pf.workQueue <- task
				} else if err != nil {
					metrics.IncOperationCount(metrics.PrefetchFailureCount, "")
					log.G(ctx).WithError(err).Warn("error prefetching asset, removing it from the queue")
				}
			}()
		default:
		}

		if err := pf.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("prefetch: error while waiting for rate limiter: %w", err)
		}
	}
}

func (pf *Prefetcher) emitWorkQueueMetric(ctx context.Context, ticker *time.Ticker) {
	for {
		select {
		case <-pf.closeChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetPrefetchQueueSize(len(pf.workQueue))
		}
	}
}
