/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

//go:build unit

package ssh_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"

	"github.com/alexandremahdhaoui/provcheck/internal/util/ssh"
	"github.com/alexandremahdhaoui/provcheck/pkg/credentials"
)

type handler func(cmd, stdin string) (stdout string, status uint32)

// startServer runs an in-process SSH server accepting only the authorized key.
func startServer(t *testing.T, authorized string, handle handler) (host, port string, hostKey gossh.PublicKey) {
	t.Helper()

	authKey, _, _, _, err := gossh.ParseAuthorizedKey([]byte(authorized))
	require.NoError(t, err)

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := gossh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	config := &gossh.ServerConfig{
		PublicKeyCallback: func(_ gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authKey.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unauthorized")
		},
	}
	config.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serve(conn, config, handle)
		}
	}()

	host, port, err = net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return host, port, hostSigner.PublicKey()
}

func serve(nConn net.Conn, config *gossh.ServerConfig, handle handler) {
	defer func() { _ = nConn.Close() }()

	_, chans, reqs, err := gossh.NewServerConn(nConn, config)
	if err != nil {
		return
	}
	go gossh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(gossh.UnknownChannelType, "unsupported")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			return
		}

		go func() {
			defer func() { _ = ch.Close() }()
			for req := range chReqs {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				_ = gossh.Unmarshal(req.Payload, &payload)
				_ = req.Reply(true, nil)

				stdin, _ := io.ReadAll(ch)
				out, status := handle(payload.Command, string(stdin))
				_, _ = ch.Write([]byte(out))
				_, _ = ch.SendRequest("exit-status", false, gossh.Marshal(struct{ Status uint32 }{status}))
				return
			}
		}()
	}
}

func newTestClient(t *testing.T, handle handler) *ssh.Client {
	t.Helper()

	kp, err := credentials.GenerateKeyPair("test")
	require.NoError(t, err)

	host, port, hostKey := startServer(t, kp.AuthorizedKey, handle)

	return &ssh.Client{
		Host:       host,
		Port:       port,
		User:       "admin",
		PrivateKey: kp.PrivateKey,
		HostKey:    hostKey,
	}
}

// TestNewClient_Success verifies NewClient() successfully reads a private key file and creates a client.
func TestNewClient_Success(t *testing.T) {
	kp, err := credentials.GenerateKeyPair("")
	require.NoError(t, err)

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, kp.PrivateKey, 0o600))

	client, err := ssh.NewClient("test-host", "test-user", keyPath, "22")
	require.NoError(t, err, "NewClient should not return error")
	require.NotNil(t, client, "Client should not be nil")

	assert.Equal(t, "test-host", client.Host)
	assert.Equal(t, "test-user", client.User)
	assert.Equal(t, "22", client.Port)
	assert.NotEmpty(t, client.PrivateKey, "PrivateKey should contain key bytes")
}

// TestNewClient_FileNotFound verifies NewClient() returns error when private key file doesn't exist.
func TestNewClient_FileNotFound(t *testing.T) {
	client, err := ssh.NewClient("test-host", "test-user", "/nonexistent/path/id_rsa", "22")

	assert.Error(t, err, "Should return error for nonexistent file")
	assert.Nil(t, client, "Client should be nil on error")
	assert.Contains(t, err.Error(), "unable to read private key", "Error message should mention private key")
}

func TestClient_Run_Stdin(t *testing.T) {
	client := newTestClient(t, func(cmd, stdin string) (string, uint32) {
		return cmd + "|" + stdin, 0
	})

	stdout, _, err := client.Run(context.Background(), strings.NewReader("return 0"), "groovy", "=")
	require.NoError(t, err)
	assert.Equal(t, `"groovy" =|return 0`, stdout)
}

func TestClient_Run_NonZeroExit(t *testing.T) {
	client := newTestClient(t, func(_, _ string) (string, uint32) {
		return "", 3
	})

	_, _, err := client.Run(context.Background(), nil, "false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote command failed")

	var exitErr *gossh.ExitError
	assert.ErrorAs(t, err, &exitErr)
}

func TestClient_Run_CancelledDuringHandshake(t *testing.T) {
	// Accepts connections and never answers the SSH handshake.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	conns := make(chan net.Conn, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns <- conn
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		for {
			select {
			case conn := <-conns:
				_ = conn.Close()
			default:
				return
			}
		}
	})

	kp, err := credentials.GenerateKeyPair("test")
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	client := &ssh.Client{Host: host, Port: port, User: "admin", PrivateKey: kp.PrivateKey}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err = client.Run(ctx, nil, "true")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClient_Run_BadKey(t *testing.T) {
	client := &ssh.Client{Host: "127.0.0.1", Port: "1", User: "u", PrivateKey: []byte("not a key")}

	_, _, err := client.Run(context.Background(), nil, "true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to parse private key")
}

func TestClient_AwaitServer(t *testing.T) {
	client := newTestClient(t, func(_, _ string) (string, uint32) { return "", 0 })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	assert.NoError(t, client.AwaitServer(ctx, 5*time.Second))
}

func TestFormatCmd(t *testing.T) {
	tests := []struct {
		name string
		cmd  []string
		want string
	}{
		{name: "groovy stdin", cmd: []string{"groovy", "="}, want: `"groovy" =`},
		{name: "operators", cmd: []string{"true", "&&", "echo", "a b"}, want: `"true" && "echo" "a b"`},
		{name: "empty", cmd: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ssh.FormatCmd(tt.cmd...))
		})
	}
}
