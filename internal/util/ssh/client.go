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

package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/alexandremahdhaoui/provcheck/pkg/converge"
)

const dialTimeout = 10 * time.Second

// Client implements the Runner interface for real SSH connections.
type Client struct {
	Host       string
	User       string
	PrivateKey []byte
	Port       string

	// HostKey pins the server key. When nil any host key is accepted.
	HostKey ssh.PublicKey
}

// NewClient creates a new SSH client.
func NewClient(host, user, privateKeyPath, port string) (*Client, error) {
	key, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}

	return &Client{
			Host:       host,
			User:       user,
			PrivateKey: key,
			Port:       port,
		},
		nil
}

func (c *Client) clientConfig() (*ssh.ClientConfig, error) {
	signer, err := ssh.ParsePrivateKey(c.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() // For testing, ignore host key verification
	if c.HostKey != nil {
		hostKeyCallback = ssh.FixedHostKey(c.HostKey)
	}

	return &ssh.ClientConfig{
		User: c.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         dialTimeout,
	}, nil
}

func (c *Client) addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// dial connects and authenticates. Cancelling ctx aborts both the TCP dial
// and the handshake.
func (c *Client) dial(ctx context.Context, config *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: config.Timeout}
	nc, err := d.DialContext(ctx, "tcp", c.addr())
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { _ = nc.Close() })
	sc, chans, reqs, err := ssh.NewClientConn(nc, c.addr(), config)
	if !stop() {
		if err == nil {
			_ = sc.Close()
		}
		return nil, ctx.Err()
	}
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	return ssh.NewClient(sc, chans, reqs), nil
}

// Run executes cmd on the remote host, feeding stdin when it is not nil.
// Cancelling ctx closes the connection.
func (c *Client) Run(
	ctx context.Context,
	stdin io.Reader,
	cmd ...string,
) (stdout, stderr string, err error) {
	config, err := c.clientConfig()
	if err != nil {
		return "", "", err
	}

	conn, err := c.dial(ctx, config)
	if err != nil {
		return "", "", fmt.Errorf("unable to connect to %s: %w", c.addr(), err)
	}
	defer runFuncAndLogErr(conn.Close)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	session, err := conn.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("unable to create SSH session: %w", err)
	}
	defer runFuncAndLogErr(session.Close)

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf
	if stdin != nil {
		session.Stdin = stdin
	}

	if err := session.Run(FormatCmd(cmd...)); err != nil {
		if ctx.Err() != nil {
			return stdoutBuf.String(), stderrBuf.String(), ctx.Err()
		}
		return stdoutBuf.String(), stderrBuf.String(), fmt.Errorf("remote command failed: %w: %s",
			err, strings.TrimSpace(stderrBuf.String()))
	}

	return stdoutBuf.String(), stderrBuf.String(), nil
}

// AwaitServer waits for the SSH server to accept an authenticated connection.
func (c *Client) AwaitServer(ctx context.Context, timeout time.Duration) error {
	config, err := c.clientConfig()
	if err != nil {
		return err
	}

	ping := func(ctx context.Context) (string, error) {
		conn, err := c.dial(ctx, config)
		if err != nil {
			slog.Debug("ssh server not available yet", "addr", c.addr(), "err", err.Error())
			return "down", nil
		}
		_ = conn.Close()
		return "up", nil
	}

	if _, err := converge.Await(ctx, ping, "up", converge.Options{
		Name:     "ssh " + c.addr(),
		Interval: 5 * time.Second,
		Timeout:  timeout,
	}); err != nil {
		return fmt.Errorf("timed out waiting for SSH server at %s: %w", c.addr(), err)
	}

	return nil
}

// FormatCmd joins cmd into a single shell command line, quoting each argument
// except shell operators.
func FormatCmd(cmd ...string) string {
	out := ""
	for _, s := range cmd {
		out = safelyAppendToCmd(out, s)
	}
	return strings.TrimSpace(out)
}

var unquottable = map[string]struct{}{
	"&&": {},
	"||": {},
	";":  {},
	"&":  {},
	"=":  {},
}

func safelyAppendToCmd(cmd string, s string) string {
	if _, ok := unquottable[s]; ok {
		return fmt.Sprintf("%s%s ", cmd, s)
	}
	return fmt.Sprintf("%s%q ", cmd, s)
}

func runFuncAndLogErr(f func() error) {
	if err := f(); err != nil {
		slog.Debug("error closing ssh session or connection", "err", err.Error())
	}
}
