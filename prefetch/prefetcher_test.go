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

package prefetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func withPauser(p pauser) Option {
	return func(pf *Prefetcher) error {
		pf.pfPauser = p
		return nil
	}
}

type countingPauser struct {
	mu    sync.Mutex
	count int
}

func (c *countingPauser) pause(time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
}

type recordingTask struct {
	mu        sync.Mutex
	runs      int
	remaining int
	err       error
	cancelled bool
	done      chan struct{}
}

func (t *recordingTask) Prefetch(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs++
	if t.remaining > 0 {
		t.remaining--
		return true, nil
	}
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
	return false, t.err
}

func (t *recordingTask) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *recordingTask) runCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

func TestPrefetcherPause(t *testing.T) {
	p := &countingPauser{}
	pf, err := NewPrefetcher(WithSilencePeriod(0), withPauser(p), WithEmitMetricPeriod(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	go pf.Run(context.Background())
	defer pf.Close()
	pf.Pause()

	time.Sleep(10 * time.Millisecond)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count != 1 {
		t.Fatalf("unexpected pause count; expected 1, got %v", p.count)
	}
}

func TestPrefetcherRunsTasks(t *testing.T) {
	pf, err := NewPrefetcher(WithFetchPeriod(0), WithMaxQueueSize(4), WithEmitMetricPeriod(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pf.Run(ctx)

	task := &recordingTask{done: make(chan struct{})}
	pf.Add(task)

	select {
	case <-task.done:
	case <-time.After(5 * time.Second):
		t.Fatal("task never ran")
	}
	if task.runCount() != 1 {
		t.Fatalf("unexpected run count: %d", task.runCount())
	}
}

func TestPrefetcherRequeuesTasksWithMoreWork(t *testing.T) {
	pf, err := NewPrefetcher(WithFetchPeriod(0), WithMaxQueueSize(4), WithEmitMetricPeriod(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pf.Run(ctx)

	task := &recordingTask{remaining: 2, done: make(chan struct{})}
	pf.Add(task)

	select {
	case <-task.done:
	case <-time.After(5 * time.Second):
		t.Fatal("task never finished")
	}
	if task.runCount() != 3 {
		t.Fatalf("expected 3 runs, got %d", task.runCount())
	}
}

func TestPrefetcherDropsCancelledTasks(t *testing.T) {
	pf, err := NewPrefetcher(WithFetchPeriod(0), WithMaxQueueSize(4), WithEmitMetricPeriod(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pf.Run(ctx)

	cancelled := &recordingTask{cancelled: true}
	live := &recordingTask{done: make(chan struct{})}
	pf.Add(cancelled)
	pf.Add(live)

	select {
	case <-live.done:
	case <-time.After(5 * time.Second):
		t.Fatal("live task never ran")
	}
	if cancelled.runCount() != 0 {
		t.Fatalf("cancelled task must not run, ran %d times", cancelled.runCount())
	}
}

func TestPrefetcherDropsFailedTasks(t *testing.T) {
	pf, err := NewPrefetcher(WithFetchPeriod(0), WithMaxQueueSize(4), WithEmitMetricPeriod(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pf.Run(ctx)

	task := &recordingTask{err: errors.New("boom"), done: make(chan struct{})}
	pf.Add(task)

	select {
	case <-task.done:
	case <-time.After(5 * time.Second):
		t.Fatal("task never ran")
	}
	// Give the requeue path a moment to misbehave if it were going to.
	time.Sleep(10 * time.Millisecond)
	if task.runCount() != 1 {
		t.Fatalf("failed task must not be requeued, ran %d times", task.runCount())
	}
}
