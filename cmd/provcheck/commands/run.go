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
	"path/filepath"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/alexandremahdhaoui/provcheck/pkg/converge"
	"github.com/alexandremahdhaoui/provcheck/pkg/orchestration"
	"github.com/alexandremahdhaoui/provcheck/pkg/reporting"
	"github.com/alexandremahdhaoui/provcheck/pkg/resource"
)

// Flag names
const (
	flagScenario = "scenario"
	flagTag      = "tag"
	flagFormat   = "format"
)

// metricsFile is written next to the report of every run.
const metricsFile = "metrics.prom"

// ErrRunFailed indicates at least one scenario failed or errored.
var ErrRunFailed = errors.New("provisioning checks failed")

func init() {
	runCmd.Flags().StringSliceP(flagScenario, "s", nil, "Scenarios to run, in order (default: all)")
	runCmd.Flags().StringP(flagTag, "t", "", "Only run the scenarios carrying this tag")
	runCmd.Flags().StringP(flagFormat, "f", string(reporting.FormatText), "Report format written next to the text report: text or json")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run provisioning scenarios against the controller",
	RunE: func(cmd *cobra.Command, _ []string) error {
		names, _ := cmd.Flags().GetStringSlice(flagScenario)
		tag, _ := cmd.Flags().GetString(flagTag)
		rawFormat, _ := cmd.Flags().GetString(flagFormat)

		format, err := reporting.ParseFormat(rawFormat)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}

		all, err := loadScenarios(cfg)
		if err != nil {
			return err
		}
		scenarios, err := selectScenarios(all, names, tag)
		if err != nil {
			return err
		}
		if len(scenarios) == 0 {
			return fmt.Errorf("no scenario selected")
		}

		reg := prometheus.NewRegistry()
		scenarioMetrics, err := orchestration.NewMetrics(reg)
		if err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
		convergeMetrics, err := converge.NewMetrics(reg)
		if err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}

		ctrl, err := connect(cfg, convergeMetrics)
		if err != nil {
			return err
		}

		runID := uuid.NewString()
		log := log.WithValues("runID", runID)
		log.Info("starting run", "scenarios", len(scenarios), "controller", ctrl.client.URL())

		executor := orchestration.NewExecutor(ctrl.driver, cfg, resource.NewLocator(cfg.ResourceDir), orchestration.Options{
			Logger:          log.WithName("orchestration"),
			Metrics:         scenarioMetrics,
			ConvergeMetrics: convergeMetrics,
		})

		// Scenario failures are part of the report: only a run that could
		// not produce results at all aborts here.
		results, runErr := executor.RunAll(cmd.Context(), scenarios)
		if runErr != nil {
			log.Error(runErr, "run completed with errors")
		}
		if len(results) == 0 {
			return runErr
		}

		report := reporting.NewReport(runID, ctrl.client.URL(), results)
		reporter := reporting.NewReporter(artifactsDir)

		// The summary points at the text report, which is always written.
		formats := []reporting.ReportFormat{reporting.FormatText}
		if format != reporting.FormatText {
			formats = append(formats, format)
		}
		for _, f := range formats {
			path, err := reporter.WriteReport(report, f)
			if err != nil {
				return err
			}
			log.Info("report written", "path", path)
		}

		metricsPath := filepath.Join(artifactsDir, runID, metricsFile)
		if err := prometheus.WriteToTextfile(metricsPath, reg); err != nil {
			log.Error(err, "writing metrics", "path", metricsPath)
		}

		if err := reporter.PrintSummary(report); err != nil {
			return err
		}

		if report.Execution.ExitCode != 0 {
			return ErrRunFailed
		}
		// Interrupted between scenarios.
		return runErr
	},
}
