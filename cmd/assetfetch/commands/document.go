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

// Package commands holds the assetfetch CLI subcommands.
package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/containerd/log"
	gometrics "github.com/docker/go-metrics"
	"github.com/scenekit/assetfetch/cmd/assetfetch/commands/global"
	"github.com/scenekit/assetfetch/config"
	"github.com/scenekit/assetfetch/resolver"
	"github.com/scenekit/assetfetch/service"
	"github.com/urfave/cli/v3"
)

// NewService builds a Service from the global flags, serving metrics in the
// background when an address is configured.
func NewService(cmd *cli.Command) (*service.Service, *config.Config, error) {
	cfg, err := config.NewConfigFromToml(cmd.String(global.ConfigFlag))
	if err != nil {
		return nil, nil, err
	}
	if addr := cmd.String(global.MetricsAddressFlag); addr != "" {
		cfg.MetricsAddress = addr
	}
	srv := service.New(cfg)
	if cfg.MetricsAddress != "" && !cfg.NoPrometheus {
		mux := http.NewServeMux()
		mux.Handle("/metrics", gometrics.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
				log.L.WithError(err).Warn("metrics server exited")
			}
		}()
	}
	srv.SetHandlers(service.Handlers{
		Warn: func(msg string) {
			fmt.Fprintf(os.Stderr, "warning: %s\n", msg)
		},
	})
	return srv, cfg, nil
}

// LoadDocument reads a scene document from a JSON file.
func LoadDocument(path string) (*resolver.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document %q: %w", path, err)
	}
	doc := &resolver.Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse document %q: %w", path, err)
	}
	return doc, nil
}

// CollectAssetIDs enumerates every asset identifier the document mentions:
// the resource summary, the asset index, and the asset map with provider
// prefixes stripped.
func CollectAssetIDs(doc *resolver.Document) []string {
	seen := map[string]struct{}{}
	add := func(id string) {
		if id != "" {
			seen[id] = struct{}{}
		}
	}
	for _, a := range doc.Assets {
		add(a.AssetID)
	}
	for id := range doc.AssetIndex {
		add(id)
	}
	for key := range doc.AssetMap {
		if _, rest, ok := strings.Cut(key, "::"); ok {
			add(rest)
		} else {
			add(key)
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
