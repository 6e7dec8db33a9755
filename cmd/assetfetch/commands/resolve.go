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

	"github.com/urfave/cli/v3"
)

// ResolveCommand resolves asset identifiers against a scene document without
// fetching anything.
var ResolveCommand = &cli.Command{
	Name:      "resolve",
	Usage:     "resolve asset identifiers to their sources",
	ArgsUsage: "<document.json> [asset-id ...]",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		args := cmd.Args().Slice()
		if len(args) < 1 {
			return fmt.Errorf("document path is required")
		}
		srv, _, err := NewService(cmd)
		if err != nil {
			return err
		}
		doc, err := LoadDocument(args[0])
		if err != nil {
			return err
		}
		srv.SetContext(doc, nil)

		ids := args[1:]
		if len(ids) == 0 {
			ids = CollectAssetIDs(doc)
		}
		for _, id := range ids {
			src, err := srv.AcquireAssetSource(ctx, id)
			if err != nil {
				return err
			}
			if src == nil {
				fmt.Printf("%s\t<unresolved>\n", id)
				continue
			}
			fmt.Printf("%s\t%s\t%s\n", id, src.Kind, src.Location())
		}
		return nil
	},
}
