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

package jenkins

import (
	"context"
	"fmt"
	"strings"

	"github.com/alexandremahdhaoui/provcheck/internal/util/ssh"
)

// cliImports are the packages the script console imports by default. The
// "groovy =" command imports nothing.
var cliImports = []string{
	"import jenkins.*",
	"import jenkins.model.*",
	"import hudson.*",
	"import hudson.model.*",
}

// CLIExecutor runs scripts through the "groovy =" command of the controller's
// SSH CLI, which reads the script from stdin.
//
// That command only writes what the script prints. The script is wrapped so a
// non-null value it returns is printed as "Result: <value>", like the script
// console does, and parsed back with ParseScriptOutput.
type CLIExecutor struct {
	Runner ssh.Runner
}

// Execute implements remote.Executor.
func (e *CLIExecutor) Execute(ctx context.Context, script string) (string, error) {
	stdout, _, err := e.Runner.Run(ctx, strings.NewReader(WrapCLIScript(script)), "groovy", "=")
	if err != nil {
		return "", fmt.Errorf("running groovy over ssh cli: %w", err)
	}
	return ParseScriptOutput(stdout), nil
}

// WrapCLIScript turns script into one that prints its returned value.
// Import statements are hoisted above the closure holding the body.
func WrapCLIScript(script string) string {
	var imports, body []string
	imports = append(imports, cliImports...)
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "import ") {
			imports = append(imports, strings.TrimSpace(line))
			continue
		}
		body = append(body, line)
	}

	var b strings.Builder
	for _, imp := range imports {
		b.WriteString(imp)
		b.WriteByte('\n')
	}
	b.WriteString("def __result = { ->\n")
	b.WriteString(strings.TrimRight(strings.Join(body, "\n"), "\n"))
	b.WriteString("\n}()\n")
	b.WriteString("if (__result != null) { println \"Result: \" + __result }\n")
	return b.String()
}
