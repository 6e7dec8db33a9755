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

package commands

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scenekit/assetfetch/prefetch"
	"github.com/urfave/cli/v3"
)

// PrefetchCommand warms the cache for every asset in a document at the
// configured background rate.
var PrefetchCommand = &cli.Command{
	Name:      "prefetch",
	Usage:     "warm the cache for every asset in a document",
	ArgsUsage: "<document.json>",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		args := cmd.Args().Slice()
		if len(args) < 1 {
			return fmt.Errorf("document path is required")
		}
		srv, cfg, err := NewService(cmd)
		if err != nil {
			return err
		}
		doc, err := LoadDocument(args[0])
		if err != nil {
			return err
		}
		srv.SetContext(doc, nil)

		ids := CollectAssetIDs(doc)
		pf, err := prefetch.NewPrefetcher(
			prefetch.WithFetchPeriod(time.Duration(cfg.PrefetchConfig.FetchPeriodMsec)*time.Millisecond),
			prefetch.WithSilencePeriod(time.Duration(cfg.PrefetchConfig.SilencePeriodMsec)*time.Millisecond),
			prefetch.WithMaxQueueSize(cfg.PrefetchConfig.MaxQueueSize),
			prefetch.WithEmitMetricPeriod(time.Duration(cfg.PrefetchConfig.EmitMetricPeriodSec)*time.Second),
		)
		if err != nil {
			return err
		}

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go pf.Run(runCtx)

		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			pf.Add(&trackedTask{Task: srv.PrefetchTask(id), wg: &wg})
		}
		wg.Wait()
		cancel()

		fmt.Printf("prefetched %d assets, %d resident\n", len(ids), srv.Cache().CachedCount())
		return nil
	},
}

// trackedTask signals the WaitGroup once its underlying task has no work
// left, so the command can block until the whole queue drains.
type trackedTask struct {
	prefetch.Task
	wg *sync.WaitGroup
}

func (t *trackedTask) Prefetch(ctx context.Context) (bool, error) {
	more, err := t.Task.Prefetch(ctx)
	if !more {
		t.wg.Done()
	}
	return more, err
}
