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

// Package credentials describes the machine credentials registered on the
// controller before an agent is provisioned.
package credentials

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Type is the kind of credential the controller uses to reach a provisioned machine.
type Type string

const (
	// SSHPrivateKey authenticates with a username and an SSH private key.
	SSHPrivateKey Type = "ssh_private_key"
	// UsernamePassword authenticates with a username and a password.
	UsernamePassword Type = "username_password"
)

var (
	// ErrUnknownType is returned for an unsupported credential type.
	ErrUnknownType = errors.New("unknown credential type")
	// ErrMissingSecret is returned when a credential has no key or password.
	ErrMissingSecret = errors.New("credential secret is missing")
)

// Credential is a machine credential registered under ID.
type Credential struct {
	ID       string
	Type     Type
	Username string

	// Password is set for UsernamePassword credentials.
	Password string
	// PrivateKey is the PEM encoded key for SSHPrivateKey credentials.
	PrivateKey string
	// AuthorizedKey is the public half of PrivateKey in authorized_keys format.
	AuthorizedKey string
}

// Validate checks the credential is usable.
func (c Credential) Validate() error {
	if c.ID == "" {
		return errors.New("credential id is required")
	}
	if c.Username == "" {
		return errors.New("credential username is required")
	}

	switch c.Type {
	case SSHPrivateKey:
		if c.PrivateKey == "" {
			return fmt.Errorf("%w: %s needs a private key", ErrMissingSecret, c.ID)
		}
	case UsernamePassword:
		if c.Password == "" {
			return fmt.Errorf("%w: %s needs a password", ErrMissingSecret, c.ID)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, c.Type)
	}

	return nil
}

// KeyPair is an SSH key pair generated for a single run.
type KeyPair struct {
	// PrivateKey is PEM encoded in the OpenSSH format.
	PrivateKey []byte
	// AuthorizedKey is a single authorized_keys line without trailing newline.
	AuthorizedKey string
}

// GenerateKeyPair creates an ed25519 key pair so that no private key is ever checked in.
func GenerateKeyPair(comment string) (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generating ed25519 key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return KeyPair{}, fmt.Errorf("marshaling private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return KeyPair{}, fmt.Errorf("converting public key: %w", err)
	}

	authorized := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub)))
	if comment != "" {
		authorized = authorized + " " + comment
	}

	return KeyPair{
		PrivateKey:    pem.EncodeToMemory(block),
		AuthorizedKey: authorized,
	}, nil
}

// NewSSHKey returns an SSHPrivateKey credential holding kp.
func NewSSHKey(id, username string, kp KeyPair) Credential {
	return Credential{
		ID:            id,
		Type:          SSHPrivateKey,
		Username:      username,
		PrivateKey:    string(kp.PrivateKey),
		AuthorizedKey: kp.AuthorizedKey,
	}
}

// NewPassword returns a UsernamePassword credential.
func NewPassword(id, username, password string) Credential {
	return Credential{
		ID:       id,
		Type:     UsernamePassword,
		Username: username,
		Password: password,
	}
}
