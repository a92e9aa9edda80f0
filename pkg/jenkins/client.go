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

// Package jenkins is a small client for the controller under test: script
// console, job creation, builds, computers and plugins.
package jenkins

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when the controller answers 404.
	ErrNotFound = errors.New("not found")
	// ErrNotScheduled is returned when a build request did not yield a queue item.
	ErrNotScheduled = errors.New("build was not scheduled")
)

// HTTPError is returned for unexpected status codes.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Unwrap maps 404 to ErrNotFound.
func (e *HTTPError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Options configures a Client.
type Options struct {
	URL      string
	Username string
	APIToken string

	// HTTPClient defaults to a client with a 60s timeout.
	HTTPClient *http.Client
}

// Client talks to the controller over HTTP.
type Client struct {
	base     *url.URL
	username string
	token    string
	http     *http.Client

	// crumbMu guards crumb. fetched is only set once a fetch succeeded.
	crumbMu sync.Mutex
	crumb   *crumb
	fetched bool
}

type crumb struct {
	Field string `json:"crumbRequestField"`
	Value string `json:"crumb"`
}

// New returns a client for the controller at opts.URL.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing controller URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("controller URL %q must be absolute", opts.URL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	hc := opts.HTTPClient
	if hc == nil {
		// The crumb is bound to the session cookie.
		jar, _ := cookiejar.New(nil)
		hc = &http.Client{Timeout: 60 * time.Second, Jar: jar}
	}

	return &Client{
		base:     base,
		username: opts.Username,
		token:    opts.APIToken,
		http:     hc,
	}, nil
}

// URL returns the root URL of the controller.
func (c *Client) URL() string {
	return c.base.String()
}

func (c *Client) endpoint(elem ...string) string {
	u := *c.base
	u.Path = path.Join(append([]string{c.base.Path}, elem...)...)
	return u.String()
}

// JobPath returns the URL path segments of a job, or of a matrix configuration when configuration is set.
func JobPath(job, configuration string) []string {
	p := []string{"job", job}
	if configuration != "" {
		p = append(p, configuration)
	}
	return p
}

func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.token)
	}

	if method == http.MethodPost {
		cr, err := c.getCrumb(ctx)
		if err != nil {
			return nil, err
		}
		if cr != nil {
			req.Header.Set(cr.Field, cr.Value)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	return resp, nil
}

// getCrumb returns the CSRF crumb, fetching it when none is cached. Failed
// fetches are not cached. A controller without crumb issuer yields nil.
func (c *Client) getCrumb(ctx context.Context) (*crumb, error) {
	c.crumbMu.Lock()
	defer c.crumbMu.Unlock()
	if c.fetched {
		return c.crumb, nil
	}

	var cr crumb
	err := c.getJSON(ctx, c.endpoint("crumbIssuer", "api", "json"), &cr)
	switch {
	case errors.Is(err, ErrNotFound):
		c.crumb = nil
	case err != nil:
		return nil, fmt.Errorf("fetching crumb: %w", err)
	default:
		c.crumb = &cr
	}
	c.fetched = true
	return c.crumb, nil
}

// invalidateCrumb drops the cached crumb. The next POST fetches a new one.
func (c *Client) invalidateCrumb() {
	c.crumbMu.Lock()
	defer c.crumbMu.Unlock()
	c.crumb, c.fetched = nil, false
}

func checkStatus(resp *http.Response, method string, ok ...int) error {
	for _, code := range ok {
		if resp.StatusCode == code {
			return nil
		}
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &HTTPError{
		Method:     method,
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(b)),
	}
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, rawURL, nil, "")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp, http.MethodGet, http.StatusOK); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", rawURL, err)
	}
	return nil
}

// post sends body, which may be nil. A 403 usually means the crumb expired
// with its session: the crumb is dropped and the request sent once more.
func (c *Client) post(ctx context.Context, rawURL string, body []byte, contentType string, ok ...int) (*http.Response, error) {
	for retried := false; ; retried = true {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		resp, err := c.do(ctx, http.MethodPost, rawURL, r, contentType)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusForbidden && !retried {
			_ = resp.Body.Close()
			c.invalidateCrumb()
			continue
		}
		if err := checkStatus(resp, http.MethodPost, ok...); err != nil {
			_ = resp.Body.Close()
			return nil, err
		}
		return resp, nil
	}
}

// Execute runs script in the controller's script console and returns its output.
// The "Result: " prefix printed for a returned value is removed.
func (c *Client) Execute(ctx context.Context, script string) (string, error) {
	form := url.Values{"script": {script}}
	resp, err := c.post(ctx, c.endpoint("scriptText"), []byte(form.Encode()),
		"application/x-www-form-urlencoded", http.StatusOK)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading script output: %w", err)
	}
	return ParseScriptOutput(string(b)), nil
}

// ParseScriptOutput strips the "Result: " marker the script console appends
// for a returned value. Printed output preceding it is dropped.
func ParseScriptOutput(out string) string {
	out = strings.TrimRight(out, "\r\n")
	lines := strings.Split(out, "\n")
	last := lines[len(lines)-1]
	if v, ok := strings.CutPrefix(last, "Result: "); ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(out)
}

// Ping checks the controller answers its API.
func (c *Client) Ping(ctx context.Context) error {
	var v map[string]any
	return c.getJSON(ctx, c.endpoint("api", "json"), &v)
}

// SessionHeader identifies a controller boot. It changes on every restart.
const SessionHeader = "X-Jenkins-Session"

// Session returns the boot identifier of the controller.
func (c *Client) Session(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoint("api", "json"), nil, "")
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp, http.MethodGet, http.StatusOK); err != nil {
		return "", err
	}
	return resp.Header.Get(SessionHeader), nil
}

// CreateJob creates a job from its config.xml.
func (c *Client) CreateJob(ctx context.Context, name string, configXML []byte) error {
	u := c.endpoint("createItem") + "?" + url.Values{"name": {name}}.Encode()
	resp, err := c.post(ctx, u, configXML, "application/xml", http.StatusOK)
	if err != nil {
		return fmt.Errorf("creating job %s: %w", name, err)
	}
	return resp.Body.Close()
}

// ScheduleBuild queues a build and returns the queue item id.
func (c *Client) ScheduleBuild(ctx context.Context, job string) (int64, error) {
	resp, err := c.post(ctx, c.endpoint(append(JobPath(job, ""), "build")...), nil, "",
		http.StatusCreated, http.StatusOK)
	if err != nil {
		return 0, fmt.Errorf("scheduling %s: %w", job, err)
	}
	defer func() { _ = resp.Body.Close() }()

	loc := strings.TrimSuffix(resp.Header.Get("Location"), "/")
	id, err := strconv.ParseInt(path.Base(loc), 10, 64)
	if err != nil || loc == "" {
		return 0, fmt.Errorf("%w: job %s, location %q", ErrNotScheduled, job, loc)
	}
	return id, nil
}

// QueueItem is a queued build request.
type QueueItem struct {
	ID         int64  `json:"id"`
	Cancelled  bool   `json:"cancelled"`
	Why        string `json:"why"`
	Executable *struct {
		Number int64  `json:"number"`
		URL    string `json:"url"`
	} `json:"executable"`
}

// GetQueueItem returns a queue item.
func (c *Client) GetQueueItem(ctx context.Context, id int64) (QueueItem, error) {
	var qi QueueItem
	err := c.getJSON(ctx, c.endpoint("queue", "item", strconv.FormatInt(id, 10), "api", "json"), &qi)
	return qi, err
}

// Build is the state of a build or of a matrix run.
type Build struct {
	Number   int64  `json:"number"`
	Building bool   `json:"building"`
	Result   string `json:"result"`
	// BuiltOn is empty when the build ran on the controller.
	BuiltOn string `json:"builtOn"`
	URL     string `json:"url"`
}

// GetBuild returns a build of job. configuration selects a matrix run and may be empty.
func (c *Client) GetBuild(ctx context.Context, job, configuration string, number int64) (Build, error) {
	var b Build
	elems := append(JobPath(job, configuration), strconv.FormatInt(number, 10), "api", "json")
	err := c.getJSON(ctx, c.endpoint(elems...), &b)
	return b, err
}

// Computer is a node as seen by the controller.
type Computer struct {
	DisplayName        string `json:"displayName"`
	Offline            bool   `json:"offline"`
	TemporarilyOffline bool   `json:"temporarilyOffline"`
}

// ControllerNodeName is the name under which the controller reports itself.
const ControllerNodeName = "(built-in)"

// GetComputer returns a node. It returns ErrNotFound when the node does not exist.
func (c *Client) GetComputer(ctx context.Context, name string) (Computer, error) {
	if name == "" {
		name = ControllerNodeName
	}
	var comp Computer
	err := c.getJSON(ctx, c.endpoint("computer", name, "api", "json"), &comp)
	return comp, err
}

// ComputerAction posts to an action of a node, e.g. "scheduleTermination".
func (c *Client) ComputerAction(ctx context.Context, name, action string) error {
	resp, err := c.post(ctx, c.endpoint("computer", name, action), nil, "",
		http.StatusOK, http.StatusFound)
	if err != nil {
		return fmt.Errorf("%s on node %s: %w", action, name, err)
	}
	return resp.Body.Close()
}

// Plugins returns the short names of the installed plugins.
func (c *Client) Plugins(ctx context.Context) ([]string, error) {
	var out struct {
		Plugins []struct {
			ShortName string `json:"shortName"`
			Active    bool   `json:"active"`
		} `json:"plugins"`
	}
	if err := c.getJSON(ctx, c.endpoint("pluginManager", "api", "json")+"?depth=1", &out); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(out.Plugins))
	for _, p := range out.Plugins {
		if p.Active {
			names = append(names, p.ShortName)
		}
	}
	return names, nil
}

// SafeRestart asks the controller to restart once running builds are done.
// The crumb of the current session is dropped.
func (c *Client) SafeRestart(ctx context.Context) error {
	resp, err := c.post(ctx, c.endpoint("safeRestart"), nil, "",
		http.StatusOK, http.StatusFound, http.StatusServiceUnavailable)
	if err != nil {
		return fmt.Errorf("requesting restart: %w", err)
	}
	c.invalidateCrumb()
	return resp.Body.Close()
}
