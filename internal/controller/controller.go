// Package controller implements the Controller façade: the single entry
// point UI, CLI, and the Synchronizer use. It owns the device_id, the
// cookie jar shared by every remote client, and a filesystem-mediated stop
// signal, and composes the StateStore, ClientCache, BindingManager,
// StateNavigator, and PendingQueue into the public operations described in
// SPEC_FULL.md §4.8.
package controller

import (
	"context"
	"fmt"
	"io"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/driveagent/driveagent/internal/binding"
	"github.com/driveagent/driveagent/internal/clientcache"
	"github.com/driveagent/driveagent/internal/config"
	"github.com/driveagent/driveagent/internal/crypto"
	"github.com/driveagent/driveagent/internal/ctlerr"
	"github.com/driveagent/driveagent/internal/logger"
	"github.com/driveagent/driveagent/internal/navigator"
	"github.com/driveagent/driveagent/internal/pending"
	"github.com/driveagent/driveagent/internal/remote"
	"github.com/driveagent/driveagent/internal/store"
)

// Controller composes every core component behind one façade.
type Controller struct {
	cfg *config.Config
	log *logger.Logger

	store   *store.Store
	cache   *clientcache.Cache
	binding *binding.Manager
	nav     *navigator.Navigator
	pending *pending.Queue

	deviceID string

	// remoteError is a nullable fault-injection sentinel: when set,
	// GetRemoteFSClient/GetRemoteDocClient return it instead of building a
	// real client, letting tests exercise error paths without a live
	// server. atomic.Value gives every goroutine a consistent read.
	remoteError atomic.Value // holds remoteErrorBox

	// LaunchEditor is the platform integration hook LaunchFileEditor
	// invokes; nil disables it (logged, not fatal).
	LaunchEditor func(absPath string) error
}

type remoteErrorBox struct{ err error }

// New opens the store at cfg.ConfigFolder, resolves the device_id, and
// wires every component. log may be nil, in which case a default stdout
// logger is used.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Controller, error) {
	if log == nil {
		log = logger.New()
	}

	st, err := store.Open(cfg.ConfigFolder, log, cfg.SQLEcho)
	if err != nil {
		return nil, err
	}

	sess, err := st.Session(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}
	dc, err := sess.GetDeviceConfig(ctx)
	if err != nil {
		sess.Close()
		st.Close()
		return nil, err
	}
	if err := sess.Commit(); err != nil {
		st.Close()
		return nil, err
	}

	box, err := newCryptoBox(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("controller.New: building cookie jar: %w", err)
	}

	cache := clientcache.New(dc.DeviceID, jar, cfg.Timeout)
	bm := binding.New(st, cache, box, cfg, log)

	if settings, err := bm.CurrentProxySettings(ctx); err != nil {
		log.Warn("controller.New: resolving startup proxy settings failed, starting with none", "err", err)
	} else {
		cache.SetProxySettings(settings)
	}

	c := &Controller{
		cfg:      cfg,
		log:      log,
		store:    st,
		cache:    cache,
		binding:  bm,
		nav:      navigator.New(st),
		pending:  pending.New(st),
		deviceID: dc.DeviceID,
	}
	return c, nil
}

func newCryptoBox(ctx context.Context, cfg *config.Config) (*crypto.Box, error) {
	switch cfg.KEKSource {
	case config.KEKSourceKMS:
		client, err := crypto.NewAWSKMSClient(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("controller.New: building KMS client: %w", err)
		}
		return crypto.New(crypto.NewKMSKeySource(client)), nil
	default:
		return crypto.New(crypto.NewTokenKeySource(nil)), nil
	}
}

// Close releases the underlying store handle.
func (c *Controller) Close() error {
	return c.store.Close()
}

// DeviceID returns this installation's stable device identifier.
func (c *Controller) DeviceID() string { return c.deviceID }

// BindServer associates localFolder with serverURL/username.
func (c *Controller) BindServer(ctx context.Context, localFolder, serverURL, username, password string) error {
	return c.binding.BindServer(ctx, localFolder, serverURL, username, password)
}

// UnbindServer tears down a local binding, best-effort revoking its token.
func (c *Controller) UnbindServer(ctx context.Context, localFolder string) error {
	return c.binding.UnbindServer(ctx, localFolder)
}

// UnbindAll unbinds every known binding, continuing past failures.
func (c *Controller) UnbindAll(ctx context.Context) error {
	return c.binding.UnbindAll(ctx)
}

// BindRoot registers a remote folderish document as a synchronization root.
func (c *Controller) BindRoot(ctx context.Context, localFolder, remoteRef, repository string) error {
	return c.binding.BindRoot(ctx, localFolder, remoteRef, repository)
}

// UnbindRoot unregisters a remote synchronization root.
func (c *Controller) UnbindRoot(ctx context.Context, localFolder, remoteRef, repository string) error {
	return c.binding.UnbindRoot(ctx, localFolder, remoteRef, repository)
}

// SetProxySettings updates the device-wide proxy configuration.
func (c *Controller) SetProxySettings(ctx context.Context, in binding.ProxySettingsInput) error {
	return c.binding.SetProxySettings(ctx, in)
}

// ProxySettings returns the device-wide proxy configuration for display.
// The password itself is never returned; HasPassword reports whether one is
// stored and could be resolved.
func (c *Controller) ProxySettings(ctx context.Context) (ProxyInfo, error) {
	dc, sess, err := c.deviceConfig(ctx)
	if err != nil {
		return ProxyInfo{}, err
	}
	// Released before CurrentProxySettings opens its own session: the store
	// holds a single connection, so a nested session would block forever.
	sess.Close()
	resolved, err := c.binding.CurrentProxySettings(ctx)
	if err != nil {
		return ProxyInfo{}, err
	}
	return ProxyInfo{
		Config:        dc.ProxyConfig,
		Scheme:        dc.ProxyType,
		Server:        dc.ProxyServer,
		Port:          dc.ProxyPort,
		Username:      dc.ProxyUsername,
		Authenticated: dc.ProxyAuthenticated,
		Exceptions:    dc.ProxyExceptions,
		HasPassword:   resolved.Password != "",
	}, nil
}

// ProxyInfo is the operator-facing read view of DeviceConfig's proxy
// fields; unlike proxyresolver.Settings it never carries the plaintext
// password back out to a caller that only asked to display the config.
type ProxyInfo struct {
	Config        store.ProxyConfig
	Scheme        store.ProxyScheme
	Server        string
	Port          int
	Username      string
	Authenticated bool
	Exceptions    string
	HasPassword   bool
}

func (c *Controller) deviceConfig(ctx context.Context) (*store.DeviceConfig, *store.Session, error) {
	sess, err := c.store.Session(ctx)
	if err != nil {
		return nil, nil, err
	}
	dc, err := sess.GetDeviceConfig(ctx)
	if err != nil {
		sess.Close()
		return nil, nil, err
	}
	return dc, sess, nil
}

// BindingForPath resolves the binding covering absPath and the
// repository-relative path within it.
func (c *Controller) BindingForPath(ctx context.Context, absPath string) (*store.ServerBinding, string, error) {
	return c.nav.BindingForPath(ctx, absPath)
}

// ChildrenStates returns the rolled-up state of a folder's direct children.
// folderAbsPath is the folder's local_path relative to localFolder ("/" for
// the bound root); absolute filesystem paths are not resolved.
func (c *Controller) ChildrenStates(ctx context.Context, localFolder, folderAbsPath string) ([]navigator.ChildState, error) {
	return c.nav.ChildrenStates(ctx, localFolder, folderAbsPath)
}

// ListPending returns non-synchronized pairs, back-off masked.
func (c *Controller) ListPending(ctx context.Context, limit int, localFolder string, ignoreInError time.Duration) ([]*store.LastKnownState, error) {
	return c.pending.ListPending(ctx, limit, localFolder, ignoreInError)
}

// NextPending returns the first pending pair for localFolder, if any.
func (c *Controller) NextPending(ctx context.Context, localFolder string) (*store.LastKnownState, bool, error) {
	return c.pending.NextPending(ctx, localFolder)
}

// ExportBindings writes the current binding registry (credentials
// excluded) as YAML.
func (c *Controller) ExportBindings(ctx context.Context, w io.Writer) error {
	return c.binding.ExportBindings(ctx, w)
}

// ImportBindings reads a YAML export; the caller must re-authenticate each
// returned binding through BindServer since credentials are never exported.
func (c *Controller) ImportBindings(r io.Reader) ([]store.ServerBinding, error) {
	return c.binding.ImportBindings(r)
}

// GetRemoteFSClient returns workerID's cached filesystem client for
// binding b, or the injected fault when one is set. Construction failures
// (e.g. the rate-limit guard itself tripping) are never Unauthorized, so
// they are returned as-is without feeding NoteRemoteFSResult — callers
// report the throttle signal themselves from the outcome of actually
// using the returned client.
func (c *Controller) GetRemoteFSClient(ctx context.Context, workerID string, b clientcache.Binding) (remote.RemoteFileSystemClient, error) {
	if err := c.injectedFault(); err != nil {
		return nil, err
	}
	return c.cache.GetRemoteFSClient(ctx, workerID, b)
}

// NoteRemoteFSResult feeds back the outcome of an operation performed with
// a client obtained from GetRemoteFSClient, driving the §4.4
// consecutive-Unauthorized rebuild throttle. Call this with the error an
// actual filesystem operation returned, not a client-construction error.
func (c *Controller) NoteRemoteFSResult(b clientcache.Binding, err error) {
	c.cache.NoteResult(b, err)
}

// GetRemoteDocClient builds a fresh (never cached) document client, or
// returns the injected fault when one is set.
func (c *Controller) GetRemoteDocClient(b clientcache.Binding, repository, baseFolder string) (remote.RemoteDocumentClient, error) {
	if err := c.injectedFault(); err != nil {
		return nil, err
	}
	return c.cache.GetRemoteDocClient(b, repository, baseFolder), nil
}

// InvalidateClientCache forces every worker to rebuild its client for
// serverURL (or every server when serverURL is empty) on next use.
func (c *Controller) InvalidateClientCache(ctx context.Context, serverURL string) error {
	settings, err := c.binding.CurrentProxySettings(ctx)
	if err != nil {
		return err
	}
	c.cache.InvalidateClientCache(serverURL, settings)
	return nil
}

// SetRemoteFault injects err as the result of every subsequent
// GetRemoteFSClient/GetRemoteDocClient call until cleared with a nil
// argument. Exists for exercising remote-failure paths without a live
// server.
func (c *Controller) SetRemoteFault(err error) {
	c.remoteError.Store(remoteErrorBox{err: err})
}

func (c *Controller) injectedFault() error {
	v, ok := c.remoteError.Load().(remoteErrorBox)
	if !ok {
		return nil
	}
	return v.err
}

// LaunchFileEditor looks up the pair bound to serverURL with the given
// remoteRef and, if its local file already exists, launches the platform
// editor on it. A pair that has no local path yet (not synced down) or no
// LaunchEditor hook logs a warning and returns nil rather than erroring —
// this is advisory UI behaviour, not a core invariant.
func (c *Controller) LaunchFileEditor(ctx context.Context, serverURL, remoteRef string) error {
	sess, err := c.store.Session(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	state, err := sess.GetStateByRemoteRefAndServer(ctx, serverURL, remoteRef)
	if err != nil {
		if ctlerr.KindOf(err) == ctlerr.NotFound {
			c.log.Warn("controller.LaunchFileEditor: no pair bound to this server for remote_ref", "server", serverURL, "ref", remoteRef)
			return nil
		}
		return err
	}
	if state.LocalPath == nil {
		c.log.Warn("controller.LaunchFileEditor: pair has no local path yet", "ref", remoteRef)
		return nil
	}
	if c.LaunchEditor == nil {
		c.log.Warn("controller.LaunchFileEditor: no editor hook configured", "path", *state.LocalPath)
		return nil
	}
	return c.LaunchEditor(filepath.Join(state.LocalFolder, filepath.FromSlash(*state.LocalPath)))
}

const stopMarkerPrefix = "stop_"

// Stop signals a running sync worker to exit by dropping an empty marker
// file inside the config folder, named with this process's pid. The
// worker (an external collaborator) polls for it; this call never blocks
// on the worker actually exiting.
func (c *Controller) Stop() error {
	path := filepath.Join(c.cfg.ConfigFolder, stopMarkerPrefix+strconv.Itoa(os.Getpid()))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("controller.Stop: creating marker %q: %w", path, err)
	}
	return f.Close()
}

// StopRequested reports whether a stop marker exists for pid.
func (c *Controller) StopRequested(pid int) (bool, error) {
	path := filepath.Join(c.cfg.ConfigFolder, stopMarkerPrefix+strconv.Itoa(pid))
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// ClearStopMarkers removes every stop marker in the config folder, for
// the worker to call once it has observed and honored one.
func (c *Controller) ClearStopMarkers() error {
	entries, err := os.ReadDir(c.cfg.ConfigFolder)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), stopMarkerPrefix) {
			if err := os.Remove(filepath.Join(c.cfg.ConfigFolder, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
