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
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexandremahdhaoui/provcheck/pkg/orchestration"
	"github.com/alexandremahdhaoui/provcheck/pkg/resource"
)

// sshProbeTimeout bounds the wait for the SSH CLI of the controller.
const sshProbeTimeout = 30 * time.Second

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and report which scenarios would run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Configuration: OK")

		if err := cfg.Cloud.Provisioning().ValidateCloud(); err != nil {
			fmt.Fprintf(out, "Cloud: incomplete, every scenario will be skipped\n  %v\n", err)
		} else {
			fmt.Fprintln(out, "Cloud: OK")
		}

		ctrl, err := connect(cfg, nil)
		if err != nil {
			return err
		}
		if err := ctrl.client.Ping(ctx); err != nil {
			return fmt.Errorf("controller %s is not reachable: %w", ctrl.client.URL(), err)
		}
		fmt.Fprintf(out, "Controller: %s OK\n", ctrl.client.URL())

		if ctrl.ssh != nil {
			if err := ctrl.ssh.AwaitServer(ctx, sshProbeTimeout); err != nil {
				return err
			}
			fmt.Fprintf(out, "SSH CLI: %s@%s OK\n", cfg.Jenkins.SSH.User, cfg.Jenkins.SSH.Host)
		}

		scenarios, err := loadScenarios(cfg)
		if err != nil {
			return err
		}

		locator := resource.NewLocator(cfg.ResourceDir)
		executor := orchestration.NewExecutor(ctrl.driver, cfg, locator, orchestration.Options{
			Logger: log.WithName("orchestration"),
		})

		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "SCENARIO\tSTATE\tREASONS")
		for _, s := range scenarios {
			reasons, err := executor.Check(ctx, s)
			if err != nil {
				return err
			}
			state := "run"
			if len(reasons) > 0 {
				state = "skip"
			}
			if s.CloudInit != "" {
				if _, err := locator.Text(s.CloudInit); err != nil {
					state = "invalid"
					reasons = append(reasons, payloadError(err))
				}
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, state, strings.Join(reasons, "; "))
		}
		return w.Flush()
	},
}

// payloadError describes a cloud-init payload that cannot be resolved.
func payloadError(err error) string {
	if !errors.Is(err, resource.ErrNotFound) {
		return err.Error()
	}
	names, lerr := resource.Names()
	if lerr != nil {
		return err.Error()
	}
	return fmt.Sprintf("%v (embedded payloads: %s)", err, strings.Join(names, ", "))
}
