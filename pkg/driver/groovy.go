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

package driver

import (
	"fmt"
	"strings"

	"k8s.io/utils/ptr"

	"github.com/alexandremahdhaoui/provcheck/pkg/config"
	"github.com/alexandremahdhaoui/provcheck/pkg/credentials"
)

// quote renders s as a single-quoted Groovy string literal.
func quote(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
	)
	return "'" + r.Replace(s) + "'"
}

// quoteOrNull renders a nil or empty pointer as null.
func quoteOrNull(s *string) string {
	if ptr.Deref(s, "") == "" {
		return "null"
	}
	return quote(*s)
}

const credentialImports = `import com.cloudbees.plugins.credentials.CredentialsScope
import com.cloudbees.plugins.credentials.SystemCredentialsProvider
import com.cloudbees.plugins.credentials.domains.Domain
`

// replaceCredential stores c under its id, removing a previous credential with the same id.
const replaceCredential = `def store = SystemCredentialsProvider.getInstance().getStore()
store.getCredentials(Domain.global()).findAll { it.id == c.id }.each { store.removeCredentials(Domain.global(), it) }
store.addCredentials(Domain.global(), c)
return c.id
`

func addCredentialScript(c credentials.Credential) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(credentialImports)

	switch c.Type {
	case credentials.SSHPrivateKey:
		b.WriteString("import com.cloudbees.jenkins.plugins.sshcredentials.impl.BasicSSHUserPrivateKey\n")
		fmt.Fprintf(&b, "def c = new BasicSSHUserPrivateKey(CredentialsScope.GLOBAL, %s, %s, new BasicSSHUserPrivateKey.DirectEntryPrivateKeySource(%s), '', 'provcheck')\n",
			quote(c.ID), quote(c.Username), quote(c.PrivateKey))
	case credentials.UsernamePassword:
		b.WriteString("import com.cloudbees.plugins.credentials.impl.UsernamePasswordCredentialsImpl\n")
		fmt.Fprintf(&b, "def c = new UsernamePasswordCredentialsImpl(CredentialsScope.GLOBAL, %s, 'provcheck', %s, %s)\n",
			quote(c.ID), quote(c.Username), quote(c.Password))
	}

	b.WriteString(replaceCredential)
	return b.String(), nil
}

func openstackCredentialID(cloud string) string {
	return "openstack-" + cloud
}

func openstackCredentialScript(p config.Provisioning) string {
	var b strings.Builder
	b.WriteString(credentialImports)
	b.WriteString("import jenkins.plugins.openstack.compute.auth.OpenstackCredentialv3\n")
	fmt.Fprintf(&b, "def c = new OpenstackCredentialv3(CredentialsScope.GLOBAL, %s, 'provcheck', %s, %s, %s, %s, %s)\n",
		quote(openstackCredentialID(p.CloudName)),
		quote(p.Auth.User), quoteOrNull(p.Auth.UserDomain),
		quote(p.Auth.Project), quoteOrNull(p.Auth.ProjectDomain),
		quote(p.Auth.Credential))
	b.WriteString(replaceCredential)
	return b.String()
}

func userDataScript(name, content string) string {
	return fmt.Sprintf(`import org.jenkinsci.plugins.configfiles.GlobalConfigFiles
import jenkins.plugins.openstack.compute.UserDataConfig
GlobalConfigFiles.get().save(new UserDataConfig(%[1]s, %[1]s, 'provcheck', %[2]s))
return %[1]s
`, quote(name), quote(content))
}

// cloudScript replaces every cloud with the configured OpenStack cloud.
func cloudScript(p config.Provisioning) string {
	t := p.Template

	launcher := "LauncherFactory.JNLP.JNLP"
	if t.ConnectionType == config.ConnectionSSH {
		launcher = fmt.Sprintf("new LauncherFactory.SSH(%s)", quote(t.CredentialsID))
	}

	return fmt.Sprintf(`import jenkins.model.Jenkins
import jenkins.plugins.openstack.compute.JCloudsCloud
import jenkins.plugins.openstack.compute.JCloudsSlaveTemplate
import jenkins.plugins.openstack.compute.SlaveOptions
import jenkins.plugins.openstack.compute.slaveopts.BootSource
import jenkins.plugins.openstack.compute.slaveopts.LauncherFactory

def cloudOptions = SlaveOptions.builder()
    .instanceCap(%[3]d)
    .floatingIpPool(%[4]s)
    .build()

def templateOptions = SlaveOptions.builder()
    .hardwareId(%[6]s)
    .networkId(%[7]s)
    .bootSource(new BootSource.Image(%[8]s))
    .keyPairName(%[9]s)
    .userDataId(%[10]s)
    .fsRoot(%[11]s)
    .launcherFactory(%[12]s)
    .build()

def template = new JCloudsSlaveTemplate(%[5]s, %[13]s, templateOptions)
def cloud = new JCloudsCloud(%[1]s, %[2]s, false, null, cloudOptions, [template], %[14]s)

def j = Jenkins.get()
j.clouds.clear()
j.clouds.add(cloud)
j.save()
return j.clouds.size()
`,
		quote(p.CloudName), quote(p.Endpoint), p.InstanceCap, quoteOrNull(p.FloatingIPPool),
		quote(t.Name), quote(t.HardwareID), quote(t.NetworkID), quote(t.ImageID),
		quote(t.KeyPairName), quote(t.UserDataID), quote(t.FSRoot), launcher,
		quote(t.Labels), quote(openstackCredentialID(p.CloudName)))
}

// testConnectionScript prints the FormValidation kind on the first line and its message after.
func testConnectionScript(p config.Provisioning) string {
	return fmt.Sprintf(`import jenkins.model.Jenkins
import jenkins.plugins.openstack.compute.JCloudsCloud

def d = Jenkins.get().getDescriptorByType(JCloudsCloud.DescriptorImpl)
def v = d.doTestConnection(false, %s, %s, null)
println v.kind.name()
println v.message
`, quote(openstackCredentialID(p.CloudName)), quote(p.Endpoint))
}

func controllerExecutorsScript(n int) string {
	return fmt.Sprintf(`def j = jenkins.model.Jenkins.get()
j.setNumExecutors(%d)
j.save()
return j.numExecutors
`, n)
}

const canRestartScript = `return jenkins.model.Jenkins.get().lifecycle.canRestart()`
