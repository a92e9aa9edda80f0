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

package cloudinit

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"

	yamlv3 "gopkg.in/yaml.v3"
	"sigs.k8s.io/yaml"
)

// Header is the first line of every cloud-config document.
const Header = "#cloud-config"

// ErrMissingHeader is returned when a payload does not start with Header.
var ErrMissingHeader = errors.New("payload does not start with " + Header)

type User struct {
	Name              string   `json:"name"`
	Sudo              string   `json:"sudo,omitempty"`
	Shell             string   `json:"shell,omitempty"`
	HomeDir           string   `json:"homedir,omitempty"`
	LockPasswd        *bool    `json:"lock_passwd,omitempty"`
	PlainTextPasswd   string   `json:"plain_text_passwd,omitempty"`
	SSHAuthorizedKeys []string `json:"ssh_authorized_keys,omitempty"`
}

func NewUserWithAuthorizedKeys(name string, authorizedKeys []string) User {
	return User{
		Name:              name,
		Sudo:              "ALL=(ALL) NOPASSWD:ALL",
		Shell:             "/bin/bash",
		SSHAuthorizedKeys: authorizedKeys,
	}
}

type WriteFile struct {
	Path        string `json:"path"`
	Permissions string `json:"permissions,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Content     string `json:"content"`
}

type UserData struct {
	Hostname      string      `json:"hostname,omitempty"`
	PackageUpdate bool        `json:"package_update,omitempty"`
	Packages      []string    `json:"packages,omitempty"`
	SSHPwauth     *bool       `json:"ssh_pwauth,omitempty"`
	Users         []User      `json:"users"`
	WriteFiles    []WriteFile `json:"write_files,omitempty"`
	BootCommands  []string    `json:"bootcmd,omitempty"`
	RunCommands   []string    `json:"runcmd,omitempty"`
}

func (ud UserData) Render() (string, error) {
	b, err := yaml.Marshal(ud)
	if err != nil {
		return "", fmt.Errorf("cannot render cloud-config from UserData: %v", err)
	}
	return fmt.Sprintf("%s\n%s", Header, string(b)), nil
}

// User returns the user named name.
func (ud UserData) User(name string) (User, bool) {
	i := slices.IndexFunc(ud.Users, func(u User) bool { return u.Name == name })
	if i < 0 {
		return User{}, false
	}
	return ud.Users[i], true
}

// Document is a parsed cloud-config payload. Edits are applied to the YAML
// node tree, so keys, ordering and comments the typed UserData does not
// model are kept on Render.
type Document struct {
	root *yamlv3.Node
}

// Parse reads a cloud-config document.
func Parse(payload string) (*Document, error) {
	trimmed := strings.TrimLeft(payload, " \t\r\n")
	body, ok := strings.CutPrefix(trimmed, Header)
	if !ok {
		return nil, ErrMissingHeader
	}

	var doc yamlv3.Node
	if err := yamlv3.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("cannot parse cloud-config: %w", err)
	}

	var root *yamlv3.Node
	switch {
	case len(doc.Content) == 0:
		root = &yamlv3.Node{Kind: yamlv3.MappingNode, Tag: "!!map"}
	case doc.Content[0].Kind == yamlv3.MappingNode:
		root = doc.Content[0]
	default:
		return nil, fmt.Errorf("cannot parse cloud-config: top level is not a mapping")
	}
	return &Document{root: root}, nil
}

// Render writes the document back with its header.
func (d *Document) Render() (string, error) {
	var buf bytes.Buffer
	buf.WriteString(Header + "\n")

	enc := yamlv3.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.root); err != nil {
		return "", fmt.Errorf("cannot render cloud-config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("cannot render cloud-config: %w", err)
	}
	return buf.String(), nil
}

// UserData returns the typed view of the document.
func (d *Document) UserData() (UserData, error) {
	b, err := yamlv3.Marshal(d.root)
	if err != nil {
		return UserData{}, err
	}
	var ud UserData
	if err := yaml.Unmarshal(b, &ud); err != nil {
		return UserData{}, fmt.Errorf("cannot decode cloud-config: %w", err)
	}
	return ud, nil
}

// User returns the user named name.
func (d *Document) User(name string) (User, bool) {
	n := d.lookupUser(name)
	if n == nil {
		return User{}, false
	}
	b, err := yamlv3.Marshal(n)
	if err != nil {
		return User{}, false
	}
	var u User
	if err := yaml.Unmarshal(b, &u); err != nil {
		return User{}, false
	}
	return u, true
}

// AuthorizeKey adds key to the authorized keys of user, creating the user if
// the payload does not declare it.
func (d *Document) AuthorizeKey(user, key string) {
	key = strings.TrimSpace(key)
	keys := mappingSeq(d.user(user), "ssh_authorized_keys")
	for _, k := range keys.Content {
		if k.Value == key {
			return
		}
	}
	keys.Content = append(keys.Content, str(key))
}

// SetPassword enables password authentication for user. The password itself
// is only set when the payload does not already set it, e.g. with a delayed
// chpasswd in runcmd.
func (d *Document) SetPassword(user, password string) {
	set(d.root, "ssh_pwauth", boolean(true))

	u := d.user(user)
	set(u, "lock_passwd", boolean(false))
	if d.managesPassword(user, u) {
		return
	}
	set(u, "plain_text_passwd", str(password))
}

func (d *Document) managesPassword(user string, u *yamlv3.Node) bool {
	for _, k := range []string{"passwd", "hashed_passwd", "plain_text_passwd"} {
		if get(u, k) != nil {
			return true
		}
	}
	if get(d.root, "chpasswd") != nil {
		return true
	}
	for _, k := range []string{"runcmd", "bootcmd"} {
		seq := get(d.root, k)
		if seq == nil {
			continue
		}
		for _, c := range seq.Content {
			if strings.Contains(c.Value, "chpasswd") && strings.Contains(c.Value, user+":") {
				return true
			}
		}
	}
	return false
}

// user returns the mapping of user, appending a sudoer entry when missing.
func (d *Document) user(name string) *yamlv3.Node {
	if u := d.lookupUser(name); u != nil {
		return u
	}
	users := mappingSeq(d.root, "users")

	def := NewUserWithAuthorizedKeys(name, nil)
	u := &yamlv3.Node{Kind: yamlv3.MappingNode, Tag: "!!map"}
	set(u, "name", str(def.Name))
	set(u, "sudo", str(def.Sudo))
	set(u, "shell", str(def.Shell))
	users.Content = append(users.Content, u)
	return u
}

func (d *Document) lookupUser(name string) *yamlv3.Node {
	users := get(d.root, "users")
	if users == nil || users.Kind != yamlv3.SequenceNode {
		return nil
	}
	for _, u := range users.Content {
		if u.Kind != yamlv3.MappingNode {
			continue
		}
		if n := get(u, "name"); n != nil && n.Value == name {
			return u
		}
	}
	return nil
}

func get(m *yamlv3.Node, key string) *yamlv3.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func set(m *yamlv3.Node, key string, v *yamlv3.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = v
			return
		}
	}
	m.Content = append(m.Content, str(key), v)
}

// mappingSeq returns the sequence under key, replacing a null or absent value.
func mappingSeq(m *yamlv3.Node, key string) *yamlv3.Node {
	if v := get(m, key); v != nil && v.Kind == yamlv3.SequenceNode {
		return v
	}
	seq := &yamlv3.Node{Kind: yamlv3.SequenceNode, Tag: "!!seq"}
	set(m, key, seq)
	return seq
}

func str(v string) *yamlv3.Node {
	return &yamlv3.Node{Kind: yamlv3.ScalarNode, Tag: "!!str", Value: v}
}

func boolean(v bool) *yamlv3.Node {
	return &yamlv3.Node{Kind: yamlv3.ScalarNode, Tag: "!!bool", Value: fmt.Sprint(v)}
}
