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

package remote

// Scripts run through the controller's Groovy script console.
const (
	// TerminateAllNodesScript asks every agent node to terminate.
	TerminateAllNodesScript = `Jenkins.instance.nodes.each { it.terminate() }`

	// DestroyRunningAndCountScript destroys every server still running in the
	// first configured cloud and returns how many were found. It returns 0 when
	// no OpenStack cloud is configured.
	DestroyRunningAndCountScript = `os = Jenkins.instance.clouds[0]?.openstack; if (os) { os.runningNodes.each { os.destroyServer(it) }; return os.runningNodes.size() }; return 0`

	// CloudCountScript returns the number of configured clouds.
	CloudCountScript = `return Jenkins.instance.clouds.size()`
)

// TerminalNodeCount is the answer of DestroyRunningAndCountScript once every node is gone.
const TerminalNodeCount = "0"
