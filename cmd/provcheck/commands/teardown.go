// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexandremahdhaoui/provcheck/pkg/orchestration"
)

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Terminate every node provisioned by the OpenStack clouds of the controller",
	Long: `teardown removes the leftovers of an interrupted run: it asks every node to
terminate, then destroys the servers still running until none is left.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		ctrl, err := connect(cfg, nil)
		if err != nil {
			return err
		}

		opts := orchestration.TeardownOptionsFrom(cfg.Teardown)
		opts.Logger = log.WithName("teardown")

		res, err := orchestration.Teardown(cmd.Context(), ctrl.driver, opts)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "All nodes are gone (%d attempts in %s)\n", res.Attempts, res.Elapsed.Round(time.Millisecond))
		return err
	},
}
