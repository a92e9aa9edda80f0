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
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	listScenariosCmd.Flags().StringP(flagTag, "t", "", "Only list the scenarios carrying this tag")
}

var listScenariosCmd = &cobra.Command{
	Use:   "list-scenarios",
	Short: "List the available scenarios",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tag, _ := cmd.Flags().GetString(flagTag)

		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		all, err := loadScenarios(cfg)
		if err != nil {
			return err
		}
		scenarios, err := selectScenarios(all, nil, tag)
		if err != nil {
			return err
		}

		if len(scenarios) == 0 {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found")
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "NAME\tACTION\tTAGS\tDESCRIPTION")
		for _, s := range scenarios {
			tags := strings.Join(s.Tags, ",")
			if tags == "" {
				tags = "(none)"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.ActionOrDefault(), tags, s.Description)
		}
		return w.Flush()
	},
}
