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

// Package commands implements the provcheck command line.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/alexandremahdhaoui/provcheck/internal/util/logging"
	"github.com/alexandremahdhaoui/provcheck/pkg/config"
	"github.com/alexandremahdhaoui/provcheck/pkg/scenario"
)

// flag names
const (
	flagConfig       = "config"
	flagEnvFile      = "env-file"
	flagLogLevel     = "log-level"
	flagDev          = "dev"
	flagArtifactsDir = "artifacts-dir"
	flagScenariosDir = "scenarios-dir"
)

// environment variable names
const (
	envArtifactsDir = config.EnvPrefix + "ARTIFACTS_DIR"
)

var (
	configPath   string
	envFile      string
	logLevel     string
	development  bool
	artifactsDir string
	scenariosDir string

	// log is set up by PersistentPreRunE.
	log = logr.Discard()
)

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, flagConfig, "c", "", "Path to the config file (env: "+config.ConfigPathEnvKey+")")
	RootCmd.PersistentFlags().StringVar(&envFile, flagEnvFile, ".env", "Env file loaded before the environment overrides")
	RootCmd.PersistentFlags().StringVar(&logLevel, flagLogLevel, "info", "Log level: debug, info, warn or error")
	RootCmd.PersistentFlags().BoolVar(&development, flagDev, false, "Human-readable logs")
	RootCmd.PersistentFlags().StringVar(&artifactsDir, flagArtifactsDir, "", "Directory receiving run reports (env: "+envArtifactsDir+")")
	RootCmd.PersistentFlags().StringVar(&scenariosDir, flagScenariosDir, "", "Directory holding the scenario files")

	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(listScenariosCmd)
	RootCmd.AddCommand(teardownCmd)
	RootCmd.AddCommand(checkConfigCmd)
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "provcheck",
	Short: "Provisioning acceptance checks for the Jenkins OpenStack cloud plugin",
	Long: `provcheck configures an OpenStack cloud on a Jenkins controller, runs builds that
provision agents from it and verifies where and how they ran. Every provisioned
node is torn down after each scenario.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var level slog.Level
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		log = logging.Setup(logging.Options{Development: development, Level: level})

		// Flag > Env Var > Default
		if !cmd.Flags().Changed(flagArtifactsDir) {
			artifactsDir = defaultArtifactsDir()
		}
		return nil
	},
}

// Execute runs the command line with ctx, which is cancelled on interruption.
func Execute(ctx context.Context) error {
	return RootCmd.ExecuteContext(ctx)
}

func defaultArtifactsDir() string {
	if dir := os.Getenv(envArtifactsDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "provcheck")
	}
	return filepath.Join(home, ".provcheck", "runs")
}

// loadConfig reads the configuration. validate rejects configurations that
// cannot reach a controller.
func loadConfig(validate bool) (*config.Config, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, err
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, nil
}

// loadScenarios loads every scenario of the scenario directory. The flag
// takes precedence over the configuration.
func loadScenarios(cfg *config.Config) ([]*scenario.TestScenario, error) {
	dir := scenariosDir
	if dir == "" {
		dir = cfg.ScenarioDir
	}
	if dir == "" {
		dir = scenario.DefaultScenarioPath()
	}

	scenarios, err := scenario.NewLoader(dir).LoadAll()
	if err != nil {
		return nil, fmt.Errorf("loading scenarios from %s: %w", dir, err)
	}
	return scenarios, nil
}

// selectScenarios narrows scenarios down to names, then to tag.
func selectScenarios(scenarios []*scenario.TestScenario, names []string, tag string) ([]*scenario.TestScenario, error) {
	selected, err := scenario.Select(scenarios, names...)
	if err != nil {
		return nil, err
	}
	if tag != "" {
		selected = scenario.FilterByTag(selected, tag)
	}
	return selected, nil
}
