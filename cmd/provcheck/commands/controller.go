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

	"github.com/alexandremahdhaoui/provcheck/internal/util/ssh"
	"github.com/alexandremahdhaoui/provcheck/pkg/config"
	"github.com/alexandremahdhaoui/provcheck/pkg/converge"
	"github.com/alexandremahdhaoui/provcheck/pkg/driver"
	"github.com/alexandremahdhaoui/provcheck/pkg/jenkins"
	"github.com/alexandremahdhaoui/provcheck/pkg/remote"
)

// controller bundles the handles on the controller under test.
type controller struct {
	client *jenkins.Client
	// ssh is nil with the http transport.
	ssh    *ssh.Client
	driver *driver.Jenkins
}

// connect builds the REST client and the script executor selected by cfg.
func connect(cfg *config.Config, metrics *converge.Metrics) (*controller, error) {
	client, err := jenkins.New(jenkins.Options{
		URL:      cfg.Jenkins.URL,
		Username: cfg.Jenkins.Username,
		APIToken: cfg.Jenkins.APIToken,
	})
	if err != nil {
		return nil, err
	}

	c := &controller{client: client}

	var exec remote.Executor
	switch cfg.Jenkins.Transport {
	case config.TransportSSH:
		sshCfg := cfg.Jenkins.SSH
		c.ssh, err = ssh.NewClient(sshCfg.Host, sshCfg.User, sshCfg.PrivateKeyPath, sshCfg.Port)
		if err != nil {
			return nil, fmt.Errorf("creating ssh client: %w", err)
		}
		exec = &jenkins.CLIExecutor{Runner: c.ssh}
	default:
		exec = remote.ExecutorFunc(client.Execute)
	}

	log.V(1).Info("connecting to controller", "url", client.URL(), "transport", cfg.Jenkins.Transport)
	c.driver = driver.New(exec, client, driver.Options{
		Logger:  log.WithName("driver"),
		Metrics: metrics,
	})
	return c, nil
}
