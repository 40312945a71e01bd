// Package clientcache holds the per-worker pool of remote clients, keyed
// by server URL + user, invalidated by a global timestamp tombstone so a
// configuration change made by one worker is safely noticed by every
// other worker on its next use — without mutating state another goroutine
// might be reading. There is no goroutine-local storage in Go, so the
// worker identity is an explicit caller-supplied ID threaded through every
// public method, the same way the source threads Python thread identity.
package clientcache

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/driveagent/driveagent/internal/proxyresolver"
	"github.com/driveagent/driveagent/internal/remote"
	"github.com/driveagent/driveagent/internal/store"
)

// Binding is the subset of store.ServerBinding a client needs to
// authenticate, decoupled from the store package to keep clientcache
// testable without a live database.
type Binding struct {
	ServerURL  string
	RemoteUser string
	Password   string
	Token      string
}

type clientKey struct {
	serverURL string
	user      string
	deviceID  string
}

type cachedClient struct {
	client remote.RemoteFileSystemClient
	bornAt int64
}

// Cache is the ClientCache: a per-worker client pool plus a shared
// invalidation map and cookie jar.
type Cache struct {
	deviceID  string
	cookieJar http.CookieJar
	timeout   time.Duration

	perWorker sync.Map // workerID -> *sync.Map (clientKey -> *cachedClient)

	globalInvalidation sync.Map // clientKey -> int64 (unix seconds)

	proxyMu  sync.RWMutex
	proxyCfg proxyresolver.Settings

	limiterMu sync.Mutex
	limiters  map[clientKey]*workerLimiter
}

type workerLimiter struct {
	consecutiveUnauthorized int
	limiter                 *rate.Limiter
}

// New constructs a Cache sharing one cookie jar across every client it
// builds, per SPEC_FULL.md §5 (load-balancer affinity cookies apply
// uniformly).
func New(deviceID string, jar http.CookieJar, timeout time.Duration) *Cache {
	return &Cache{
		deviceID:  deviceID,
		cookieJar: jar,
		timeout:   timeout,
		limiters:  make(map[clientKey]*workerLimiter),
	}
}

// SetProxySettings updates the proxy configuration subsequent client
// builds will use. Callers invalidate the cache separately once the
// settings commit, per SPEC_FULL.md §5's happens-after ordering
// requirement.
func (c *Cache) SetProxySettings(s proxyresolver.Settings) {
	c.proxyMu.Lock()
	defer c.proxyMu.Unlock()
	c.proxyCfg = s
}

func (c *Cache) currentProxySettings() proxyresolver.Settings {
	c.proxyMu.RLock()
	defer c.proxyMu.RUnlock()
	return c.proxyCfg
}

func keyFor(deviceID string, b Binding) clientKey {
	return clientKey{serverURL: b.ServerURL, user: b.RemoteUser, deviceID: deviceID}
}

func (c *Cache) workerMap(workerID string) *sync.Map {
	m, _ := c.perWorker.LoadOrStore(workerID, &sync.Map{})
	return m.(*sync.Map)
}

func (c *Cache) tombstone(key clientKey) int64 {
	v, _ := c.globalInvalidation.LoadOrStore(key, int64(0))
	return v.(int64)
}

// GetRemoteFSClient returns the worker's cached client for binding,
// rebuilding it if absent or if its bornAt predates the key's tombstone.
// Any client obtained through this method carries whatever fault the
// caller may later inject via remote.Faulty.MakeRaise for testing.
func (c *Cache) GetRemoteFSClient(ctx context.Context, workerID string, b Binding) (remote.RemoteFileSystemClient, error) {
	key := keyFor(c.deviceID, b)
	tomb := c.tombstone(key)

	wm := c.workerMap(workerID)
	if v, ok := wm.Load(key); ok {
		cc := v.(*cachedClient)
		if cc.bornAt >= tomb {
			return cc.client, nil
		}
	}

	if blocked := c.rateLimited(ctx, key); blocked {
		return nil, fmt.Errorf("clientcache: rebuild rate-limited for %s after repeated Unauthorized", b.ServerURL)
	}

	proxies, exceptions := proxyresolver.Resolve(c.currentProxySettings())
	client := remote.NewFileSystemClient(remote.ClientConfig{
		ServerURL:       b.ServerURL,
		User:            b.RemoteUser,
		DeviceID:        c.deviceID,
		Proxies:         proxies,
		ProxyExceptions: exceptions,
		Password:        b.Password,
		Token:           b.Token,
		Timeout:         c.timeout,
		CookieJar:       c.cookieJar,
	})

	wm.Store(key, &cachedClient{client: client, bornAt: tomb})
	return client, nil
}

// NoteResult feeds back whether the last use of a worker's cached client
// for this binding ended in Unauthorized, driving the reconstruction
// throttle described in SPEC_FULL.md §4.4.
func (c *Cache) NoteResult(b Binding, err error) {
	key := keyFor(c.deviceID, b)
	c.limiterMu.Lock()
	defer c.limiterMu.Unlock()

	wl, ok := c.limiters[key]
	if !ok {
		wl = &workerLimiter{}
		c.limiters[key] = wl
	}

	if remote.IsUnauthorized(err) {
		wl.consecutiveUnauthorized++
	} else {
		wl.consecutiveUnauthorized = 0
		wl.limiter = nil
	}
}

const unauthorizedThreshold = 3

// rateLimited returns true when the caller should back off rebuilding a
// client for key because the last three uses were rejected as
// Unauthorized, per SPEC_FULL.md §4.4's thundering-herd guard.
func (c *Cache) rateLimited(ctx context.Context, key clientKey) bool {
	c.limiterMu.Lock()
	defer c.limiterMu.Unlock()

	wl, ok := c.limiters[key]
	if !ok || wl.consecutiveUnauthorized < unauthorizedThreshold {
		return false
	}
	if wl.limiter == nil {
		wl.limiter = rate.NewLimiter(rate.Every(c.timeout), 1)
		// the first rebuild attempt after crossing the threshold is still
		// allowed through; the limiter governs the ones after it.
		wl.limiter.Allow()
		return false
	}
	return !wl.limiter.Allow()
}

// InvalidateClientCache stamps a fresh tombstone for every key matching
// serverURL (or every key when serverURL is empty), and refreshes the
// proxy settings snapshot new clients will be built with.
func (c *Cache) InvalidateClientCache(serverURL string, settings proxyresolver.Settings) {
	now := time.Now().Unix()
	c.globalInvalidation.Range(func(k, _ any) bool {
		ck := k.(clientKey)
		if serverURL == "" || ck.serverURL == serverURL {
			c.globalInvalidation.Store(ck, now)
		}
		return true
	})
	c.SetProxySettings(settings)
}

// GetRemoteDocClient constructs a fresh document client on every call —
// document clients are parameterized by repository and base folder and
// are cheap to build, so (unlike filesystem clients) they are never
// cached, preserving the source's asymmetric caching behaviour.
func (c *Cache) GetRemoteDocClient(b Binding, repository, baseFolder string) remote.RemoteDocumentClient {
	proxies, exceptions := proxyresolver.Resolve(c.currentProxySettings())
	return remote.NewDocumentClient(remote.ClientConfig{
		ServerURL:       b.ServerURL,
		User:            b.RemoteUser,
		DeviceID:        c.deviceID,
		Proxies:         proxies,
		ProxyExceptions: exceptions,
		Password:        b.Password,
		Token:           b.Token,
		Timeout:         c.timeout,
		CookieJar:       c.cookieJar,
		Repository:      repository,
		BaseFolder:      baseFolder,
	})
}

func bindingFromStore(b *store.ServerBinding) Binding {
	out := Binding{ServerURL: b.ServerURL, RemoteUser: b.RemoteUser}
	if b.RemoteToken != nil {
		out.Token = *b.RemoteToken
	}
	if b.RemotePassword != nil {
		out.Password = *b.RemotePassword
	}
	return out
}

// FromStoreBinding adapts a persisted ServerBinding into the Binding shape
// clientcache authenticates with.
func FromStoreBinding(b *store.ServerBinding) Binding {
	return bindingFromStore(b)
}
