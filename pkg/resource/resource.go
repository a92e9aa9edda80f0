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

// Package resource resolves named local resources, such as cloud-init
// payloads, to their text content.
package resource

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/alexandremahdhaoui/provcheck/pkg/cloudinit"
)

// Namespace is the directory under which the plugin payloads are stored.
const Namespace = "openstack_plugin"

//go:embed openstack_plugin
var embedded embed.FS

// ErrNotFound is returned when no resource matches a name.
var ErrNotFound = errors.New("resource not found")

// Locator resolves a resource name to its text content.
type Locator interface {
	Text(name string) (string, error)
}

// FSLocator looks names up in an override directory first, then in the
// embedded defaults.
type FSLocator struct {
	overrideDir string
	fallback    fs.FS
}

var _ Locator = &FSLocator{}

// NewLocator returns a locator. overrideDir may be empty.
func NewLocator(overrideDir string) *FSLocator {
	return &FSLocator{
		overrideDir: overrideDir,
		fallback:    embedded,
	}
}

// Text implements Locator. Names may be given with or without a leading
// slash and with or without the openstack_plugin namespace,
// e.g. "/openstack_plugin/cloud-init" or "cloud-init".
func (l *FSLocator) Text(name string) (string, error) {
	clean := path.Clean("/" + name)
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid resource name %q", name)
	}
	rel := strings.TrimPrefix(clean, "/")
	if !strings.HasPrefix(rel, Namespace+"/") {
		rel = path.Join(Namespace, rel)
	}

	if l.overrideDir != "" {
		b, err := os.ReadFile(filepath.Join(l.overrideDir, filepath.FromSlash(rel)))
		if err == nil {
			return string(b), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("reading resource %s: %w", rel, err)
		}
	}

	b, err := fs.ReadFile(l.fallback, rel)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("reading resource %s: %w", rel, err)
	}
	return string(b), nil
}

// Login is the machine account a payload must let the controller use.
type Login struct {
	User string
	// AuthorizedKey is added to the authorized keys of User when set.
	AuthorizedKey string
	// Password enables password authentication for User when set.
	Password string
}

// CloudInit loads the payload name, validates it is a cloud-config document
// and grants login access to the machine. Without key or password the payload
// is returned untouched.
func CloudInit(l Locator, name string, login Login) (string, error) {
	text, err := l.Text(name)
	if err != nil {
		return "", err
	}

	doc, err := cloudinit.Parse(text)
	if err != nil {
		return "", fmt.Errorf("payload %s: %w", name, err)
	}

	if login.AuthorizedKey == "" && login.Password == "" {
		return text, nil
	}
	if login.AuthorizedKey != "" {
		doc.AuthorizeKey(login.User, login.AuthorizedKey)
	}
	if login.Password != "" {
		doc.SetPassword(login.User, login.Password)
	}
	return doc.Render()
}

// Names lists the embedded payload names.
func Names() ([]string, error) {
	entries, err := fs.ReadDir(embedded, Namespace)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
