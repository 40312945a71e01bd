package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// buildTransport wires ClientConfig's resolved proxy map + exceptions into
// an *http.Transport, matching the MaxIdleConns/IdleConnTimeout shape the
// teacher's outbound proxy client uses, but with the proxy function driven
// by proxyresolver's output instead of a single fixed upstream.
func buildTransport(cfg ClientConfig) *http.Transport {
	proxyFunc := http.ProxyFromEnvironment
	if cfg.Proxies != nil {
		proxies := cfg.Proxies
		exceptions := cfg.ProxyExceptions
		proxyFunc = func(req *http.Request) (*url.URL, error) {
			if bypassed(req.URL.Hostname(), exceptions) {
				return nil, nil
			}
			if len(proxies) == 0 {
				return nil, nil
			}
			raw, ok := proxies[req.URL.Scheme]
			if !ok {
				return nil, nil
			}
			return url.Parse(raw)
		}
	}

	return &http.Transport{
		Proxy:               proxyFunc,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

func bypassed(host string, exceptions []string) bool {
	for _, e := range exceptions {
		if e == host {
			return true
		}
	}
	return false
}

// documentClient is the concrete RemoteDocumentClient, speaking a small
// JSON dialect over HTTP: POST /token, DELETE /token, PUT and DELETE on
// /{repository}/roots/{ref}.
type documentClient struct {
	cfg    ClientConfig
	http   *http.Client
	mu     sync.Mutex
	raised error
}

// NewDocumentClient constructs a RemoteDocumentClient scoped to one
// repository + base folder.
func NewDocumentClient(cfg ClientConfig) RemoteDocumentClient {
	return &documentClient{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Jar:       cfg.CookieJar,
			Transport: buildTransport(cfg),
		},
	}
}

func (c *documentClient) MakeRaise(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raised = err
}

func (c *documentClient) fault() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raised
}

func (c *documentClient) endpoint(path string) string {
	base := strings.TrimSuffix(c.cfg.ServerURL, "/")
	return base + path
}

func (c *documentClient) authenticate(req *http.Request) {
	req.Header.Set("X-Device-Id", c.cfg.DeviceID)
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		return
	}
	if c.cfg.User != "" {
		req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	}
}

func (c *documentClient) RequestToken(ctx context.Context) (string, error) {
	if err := c.fault(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/token"), nil)
	if err != nil {
		return "", classifyTransportError("remote.RequestToken", err)
	}
	c.authenticate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyTransportError("remote.RequestToken", err)
	}
	defer resp.Body.Close()

	// A server that doesn't support token issuance at all answers 404; the
	// caller falls back to password auth.
	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if err := classifyResponse("remote.RequestToken", resp); err != nil {
		return "", err
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", classifyTransportError("remote.RequestToken", err)
	}
	return body.Token, nil
}

func (c *documentClient) RevokeToken(ctx context.Context) error {
	if err := c.fault(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint("/token"), nil)
	if err != nil {
		return classifyTransportError("remote.RevokeToken", err)
	}
	c.authenticate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError("remote.RevokeToken", err)
	}
	defer resp.Body.Close()
	return classifyResponse("remote.RevokeToken", resp)
}

func (c *documentClient) RegisterAsRoot(ctx context.Context, ref string) error {
	return c.rootOp(ctx, http.MethodPut, ref)
}

func (c *documentClient) UnregisterAsRoot(ctx context.Context, ref string) error {
	return c.rootOp(ctx, http.MethodDelete, ref)
}

func (c *documentClient) rootOp(ctx context.Context, method, ref string) error {
	if err := c.fault(); err != nil {
		return err
	}

	path := fmt.Sprintf("/%s/roots/%s", strings.Trim(c.cfg.Repository, "/"), url.PathEscape(ref))
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), nil)
	if err != nil {
		return classifyTransportError("remote.rootOp", err)
	}
	c.authenticate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError("remote.rootOp", err)
	}
	defer resp.Body.Close()
	return classifyResponse("remote.rootOp", resp)
}

// fsClient is the concrete RemoteFileSystemClient.
type fsClient struct {
	cfg    ClientConfig
	http   *http.Client
	mu     sync.Mutex
	raised error
}

// NewFileSystemClient constructs a RemoteFileSystemClient; the ClientCache
// is the sole caller that retains these across uses.
func NewFileSystemClient(cfg ClientConfig) RemoteFileSystemClient {
	return &fsClient{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Jar:       cfg.CookieJar,
			Transport: buildTransport(cfg),
		},
	}
}

func (c *fsClient) MakeRaise(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raised = err
}

func (c *fsClient) fault() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raised
}

func (c *fsClient) authenticate(req *http.Request) {
	req.Header.Set("X-Device-Id", c.cfg.DeviceID)
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		return
	}
	if c.cfg.User != "" {
		req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	}
}

func (c *fsClient) GetFilesystemRootInfo(ctx context.Context) (RemoteInfo, error) {
	if err := c.fault(); err != nil {
		return RemoteInfo{}, err
	}

	base := strings.TrimSuffix(c.cfg.ServerURL, "/")
	endpoint := base + "/fs/root"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return RemoteInfo{}, classifyTransportError("remote.GetFilesystemRootInfo", err)
	}
	c.authenticate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return RemoteInfo{}, classifyTransportError("remote.GetFilesystemRootInfo", err)
	}
	defer resp.Body.Close()

	if err := classifyResponse("remote.GetFilesystemRootInfo", resp); err != nil {
		return RemoteInfo{}, err
	}

	var info RemoteInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return RemoteInfo{}, classifyTransportError("remote.GetFilesystemRootInfo", err)
	}
	return info, nil
}
