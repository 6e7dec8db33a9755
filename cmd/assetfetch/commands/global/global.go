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

package global

import (
	"github.com/scenekit/assetfetch/config"
	"github.com/urfave/cli/v3"
)

// Global flags for the assetfetch CLI

const (
	ConfigFlag         = "config"
	DebugFlag          = "debug"
	MetricsAddressFlag = "metrics-address"
)

var Flags = []cli.Flag{
	&cli.StringFlag{
		Name:    ConfigFlag,
		Aliases: []string{"c"},
		Usage:   "path to the assetfetch configuration file",
		Value:   config.DefaultConfigPath,
		Sources: cli.EnvVars("ASSETFETCH_CONFIG"),
	},
	&cli.BoolFlag{
		Name:  DebugFlag,
		Usage: "enable debug output",
	},
	&cli.StringFlag{
		Name:  MetricsAddressFlag,
		Usage: "address to expose Prometheus metrics on, overriding the config file",
	},
}
