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

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/containerd/log"
	"github.com/scenekit/assetfetch/cmd/assetfetch/commands"
	"github.com/scenekit/assetfetch/cmd/assetfetch/commands/global"
	"github.com/scenekit/assetfetch/version"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	app := cli.Command{
		Name:    "assetfetch",
		Usage:   "resolve, fetch, and cache scene document assets",
		Flags:   global.Flags,
		Version: fmt.Sprintf("%s %s", version.Version, version.Revision),
		Commands: []*cli.Command{
			commands.ResolveCommand,
			commands.FetchCommand,
			commands.PrefetchCommand,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool(global.DebugFlag) {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return log.WithLogger(ctx, log.L), nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := app.Run(ctx, os.Args); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "assetfetch: %v\n", err)
		os.Exit(1)
	}
	cancel()
}
