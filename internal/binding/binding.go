// Package binding implements the BindingManager: creating and tearing down
// the association between a local folder and a remote server, issuing and
// revoking tokens, and migrating a pending plaintext proxy password into
// encrypted storage the moment a token becomes available.
package binding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/driveagent/driveagent/internal/clientcache"
	"github.com/driveagent/driveagent/internal/config"
	"github.com/driveagent/driveagent/internal/crypto"
	"github.com/driveagent/driveagent/internal/ctlerr"
	"github.com/driveagent/driveagent/internal/logger"
	"github.com/driveagent/driveagent/internal/proxyresolver"
	"github.com/driveagent/driveagent/internal/remote"
	"github.com/driveagent/driveagent/internal/store"
)

// Manager is the BindingManager described in SPEC_FULL.md §4.5.
type Manager struct {
	store *store.Store
	cache *clientcache.Cache
	box   *crypto.Box
	cfg   *config.Config
	log   *logger.Logger

	// RegisterFavorite is the best-effort platform integration hook
	// (e.g. macOS Finder / Windows Explorer favourite registration).
	// Failures are logged and swallowed; nil disables the hook.
	RegisterFavorite func(localFolder string) error

	// NewLocalClient lets tests substitute the local filesystem wrapper.
	NewLocalClient func(root string) remote.LocalClient
}

// New constructs a BindingManager. box must be configured with the
// KeySource matching cfg.KEKSource.
func New(st *store.Store, cache *clientcache.Cache, box *crypto.Box, cfg *config.Config, log *logger.Logger) *Manager {
	return &Manager{
		store:          st,
		cache:          cache,
		box:            box,
		cfg:            cfg,
		log:            log,
		NewLocalClient: remote.NewLocalClient,
	}
}

func canonicalize(localFolder string) (string, error) {
	abs, err := filepath.Abs(localFolder)
	if err != nil {
		return "", fmt.Errorf("binding: canonicalizing %q: %w", localFolder, err)
	}
	return filepath.Clean(abs), nil
}

func normalizeServerURL(serverURL string) (string, error) {
	serverURL = strings.TrimSpace(serverURL)
	if serverURL == "" {
		return "", ctlerr.New(ctlerr.InvalidURL, "binding.normalizeServerURL", fmt.Errorf("empty server URL"))
	}
	if !strings.HasSuffix(serverURL, "/") {
		serverURL += "/"
	}
	return serverURL, nil
}

// BindServer associates localFolder with serverURL/username, preferring a
// server-issued token over the supplied password whenever the server
// supports tokens.
func (m *Manager) BindServer(ctx context.Context, localFolder, serverURL, username, password string) error {
	localFolder, err := canonicalize(localFolder)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(localFolder, 0o700); err != nil {
		return fmt.Errorf("binding.BindServer: creating %q: %w", localFolder, err)
	}

	if m.RegisterFavorite != nil {
		if err := m.RegisterFavorite(localFolder); err != nil {
			m.log.Warn("binding.BindServer: favourite registration failed", "folder", localFolder, "err", err)
		}
	}

	serverURL, err = normalizeServerURL(serverURL)
	if err != nil {
		return err
	}

	sess, err := m.store.Session(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	dc, err := sess.GetDeviceConfig(ctx)
	if err != nil {
		return err
	}
	proxySettings := m.deviceProxySettings(ctx, sess, dc)
	proxies, exceptions := proxyresolver.Resolve(proxySettings)

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	probe := remote.NewDocumentClient(remote.ClientConfig{
		ServerURL:       serverURL,
		User:            username,
		DeviceID:        dc.DeviceID,
		Proxies:         proxies,
		ProxyExceptions: exceptions,
		Password:        password,
		Timeout:         m.cfg.HandshakeTimeout,
	})

	token, err := probe.RequestToken(probeCtx)
	if err != nil {
		return err
	}

	effectivePassword := password
	if token != "" {
		effectivePassword = ""
		if err := m.migratePendingProxyPassword(ctx, sess, dc, token); err != nil {
			return err
		}
	}

	existing, err := sess.GetBinding(ctx, localFolder)
	switch {
	case err == nil:
		if existing.RemoteUser != username || existing.ServerURL != serverURL {
			return ctlerr.New(ctlerr.AlreadyBound, "binding.BindServer",
				fmt.Errorf("%q is already bound to a different server/user", localFolder))
		}
		var tokenPtr, passwordPtr *string
		if token != "" {
			tokenPtr = &token
		} else if effectivePassword != "" {
			passwordPtr = &effectivePassword
		}
		if err := sess.UpdateBindingCredentials(ctx, localFolder, passwordPtr, tokenPtr); err != nil {
			return err
		}
	case ctlerr.KindOf(err) == ctlerr.NotFound:
		newBinding := &store.ServerBinding{
			LocalFolder: localFolder,
			ServerURL:   serverURL,
			RemoteUser:  username,
		}
		if token != "" {
			newBinding.RemoteToken = &token
		} else {
			newBinding.RemotePassword = &effectivePassword
		}
		if err := sess.InsertBinding(ctx, newBinding); err != nil {
			return err
		}

		local := m.NewLocalClient(localFolder)
		if _, err := local.GetInfo("/"); err != nil {
			return err
		}

		cacheBinding := clientcache.Binding{
			ServerURL: serverURL, RemoteUser: username, Token: token, Password: effectivePassword,
		}
		fsClient, err := m.cache.GetRemoteFSClient(ctx, "bind", cacheBinding)
		if err != nil {
			return err
		}
		root, err := fsClient.GetFilesystemRootInfo(ctx)
		m.cache.NoteResult(cacheBinding, err)
		if err != nil {
			return err
		}
		if _, err := sess.InsertToplevel(ctx, localFolder, root.Ref); err != nil {
			return err
		}
	default:
		return err
	}

	return sess.Commit()
}

// migratePendingProxyPassword encrypts a plaintext-until-bound proxy
// password the instant any bind obtains its first live token.
func (m *Manager) migratePendingProxyPassword(ctx context.Context, sess *store.Session, dc *store.DeviceConfig, token string) error {
	if m.cfg.ProxyPasswordPolicy != config.ProxyPolicyPlaintextUntilBound || dc.ProxyPasswordPlain == "" {
		return nil
	}
	ciphertext, err := m.box.Encrypt([]byte(dc.ProxyPasswordPlain), token)
	if err != nil {
		return err
	}
	dc.ProxyPassword = ciphertext
	dc.ProxyPasswordPlain = ""
	return sess.SaveDeviceConfig(ctx, dc)
}

// UnbindServer tears down the local binding. Token revocation is
// best-effort: network failures and Unauthorized are swallowed since the
// goal is local cleanup regardless of remote reachability.
func (m *Manager) UnbindServer(ctx context.Context, localFolder string) error {
	localFolder, err := canonicalize(localFolder)
	if err != nil {
		return err
	}

	sess, err := m.store.Session(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	b, err := sess.GetBinding(ctx, localFolder)
	if err != nil {
		return err
	}

	if b.RemoteToken != nil && *b.RemoteToken != "" {
		opCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		doc := m.cache.GetRemoteDocClient(clientcache.FromStoreBinding(b), "", "")
		err := doc.RevokeToken(opCtx)
		cancel()
		if err != nil && !remote.IsNetworkError(err) && !remote.IsUnauthorized(err) {
			return err
		}
		if err != nil {
			m.log.Warn("binding.UnbindServer: token revocation failed, continuing with local cleanup",
				"folder", localFolder, "err", err)
		}
	}

	dc, err := sess.GetDeviceConfig(ctx)
	if err != nil {
		return err
	}
	m.cache.InvalidateClientCache(b.ServerURL, m.deviceProxySettings(ctx, sess, dc))

	if err := sess.DeleteBinding(ctx, localFolder); err != nil {
		return err
	}
	return sess.Commit()
}

// UnbindAll unbinds every known binding, continuing past individual
// failures — used for integration-test teardown.
func (m *Manager) UnbindAll(ctx context.Context) error {
	sess, err := m.store.Session(ctx)
	if err != nil {
		return err
	}
	bindings, err := sess.ListBindings(ctx)
	sess.Close()
	if err != nil {
		return err
	}

	var firstErr error
	for _, b := range bindings {
		if err := m.UnbindServer(ctx, b.LocalFolder); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BindRoot registers a remote folderish document as a synchronization
// root.
func (m *Manager) BindRoot(ctx context.Context, localFolder, remoteRef, repository string) error {
	return m.rootOp(ctx, localFolder, repository, func(doc remote.RemoteDocumentClient) error {
		return doc.RegisterAsRoot(ctx, remoteRef)
	})
}

// UnbindRoot unregisters a remote synchronization root.
func (m *Manager) UnbindRoot(ctx context.Context, localFolder, remoteRef, repository string) error {
	return m.rootOp(ctx, localFolder, repository, func(doc remote.RemoteDocumentClient) error {
		return doc.UnregisterAsRoot(ctx, remoteRef)
	})
}

func (m *Manager) rootOp(ctx context.Context, localFolder, repository string, op func(remote.RemoteDocumentClient) error) error {
	localFolder, err := canonicalize(localFolder)
	if err != nil {
		return err
	}

	sess, err := m.store.Session(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	b, err := sess.GetBinding(ctx, localFolder)
	if err != nil {
		return err
	}

	doc := m.cache.GetRemoteDocClient(clientcache.FromStoreBinding(b), repository, "")
	return op(doc)
}

// ProxySettingsInput is the plaintext operator-facing form of a proxy
// settings update; Password is empty to leave the stored password
// unchanged.
type ProxySettingsInput struct {
	Config        store.ProxyConfig
	Scheme        store.ProxyScheme
	Server        string
	Port          int
	Username      string
	Password      string
	Authenticated bool
	Exceptions    string
}

// SetProxySettings writes the new proxy configuration, encrypting the
// password per the active ProxyPasswordPolicy, then invalidates the
// client cache globally so every worker rebuilds with the new settings.
// The tombstone write happens strictly after the settings commit so a
// rebuild observed afterwards always reflects the new configuration.
func (m *Manager) SetProxySettings(ctx context.Context, in ProxySettingsInput) error {
	sess, err := m.store.Session(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	dc, err := sess.GetDeviceConfig(ctx)
	if err != nil {
		return err
	}

	dc.ProxyConfig = in.Config
	dc.ProxyType = in.Scheme
	dc.ProxyServer = in.Server
	dc.ProxyPort = in.Port
	dc.ProxyUsername = in.Username
	dc.ProxyAuthenticated = in.Authenticated
	dc.ProxyExceptions = in.Exceptions

	if in.Password != "" {
		if err := m.encryptProxyPassword(ctx, sess, dc, in.Password); err != nil {
			return err
		}
	}

	if err := sess.SaveDeviceConfig(ctx, dc); err != nil {
		return err
	}

	// Resolved while sess is still open: deviceProxySettings may need to
	// decrypt the password, and it reads the binding tokens through sess.
	newSettings := m.deviceProxySettings(ctx, sess, dc)

	if err := sess.Commit(); err != nil {
		return err
	}

	m.cache.InvalidateClientCache("", newSettings)
	return nil
}

// encryptProxyPassword stores password either as ciphertext (when a
// secret is currently available) or, under the plaintext-until-bound
// policy with no live token anywhere yet, as a pending plaintext value
// migrated at the next successful BindServer.
func (m *Manager) encryptProxyPassword(ctx context.Context, sess *store.Session, dc *store.DeviceConfig, password string) error {
	secret, err := m.proxySecret(ctx, sess)
	if err != nil {
		if ctlerr.KindOf(err) == ctlerr.NoToken && m.cfg.ProxyPasswordPolicy == config.ProxyPolicyPlaintextUntilBound {
			dc.ProxyPasswordPlain = password
			dc.ProxyPassword = ""
			return nil
		}
		return err
	}
	ciphertext, err := m.box.Encrypt([]byte(password), secret)
	if err != nil {
		return err
	}
	dc.ProxyPassword = ciphertext
	dc.ProxyPasswordPlain = ""
	return nil
}

// proxySecret resolves the KEK secret for the active policy: the
// configured KMS key ID under the kms policy, or the first live binding
// token under plaintext-until-bound.
func (m *Manager) proxySecret(ctx context.Context, sess *store.Session) (string, error) {
	if m.cfg.ProxyPasswordPolicy == config.ProxyPolicyKMS {
		if m.cfg.AWSKMSKeyID == "" {
			return "", ctlerr.New(ctlerr.CryptoError, "binding.proxySecret", fmt.Errorf("kms policy requires a configured KMS key id"))
		}
		return m.cfg.AWSKMSKeyID, nil
	}

	bindings, err := sess.ListBindings(ctx)
	if err != nil {
		return "", err
	}
	for _, b := range bindings {
		if b.RemoteToken != nil && *b.RemoteToken != "" {
			return *b.RemoteToken, nil
		}
	}
	return "", ctlerr.New(ctlerr.NoToken, "binding.proxySecret", fmt.Errorf("no live token available to derive a proxy password key"))
}

// CurrentProxySettings resolves the live proxy configuration, decrypting
// the stored password when present. Callers use this once at startup to
// prime the ClientCache before any SetProxySettings call has happened.
func (m *Manager) CurrentProxySettings(ctx context.Context) (proxyresolver.Settings, error) {
	sess, err := m.store.Session(ctx)
	if err != nil {
		return proxyresolver.Settings{}, err
	}
	defer sess.Close()

	dc, err := sess.GetDeviceConfig(ctx)
	if err != nil {
		return proxyresolver.Settings{}, err
	}
	return m.deviceProxySettings(ctx, sess, dc), nil
}

// deviceProxySettings resolves DeviceConfig's proxy fields into
// proxyresolver.Settings, decrypting the stored password when present.
// sess must be the caller's already-open session: the store pool holds a
// single connection (store.go), so opening a nested session here would
// deadlock against the caller's own transaction.
func (m *Manager) deviceProxySettings(ctx context.Context, sess *store.Session, dc *store.DeviceConfig) proxyresolver.Settings {
	settings := proxyresolver.Settings{
		Config:        dc.ProxyConfig,
		Scheme:        dc.ProxyType,
		Server:        dc.ProxyServer,
		Port:          dc.ProxyPort,
		Username:      dc.ProxyUsername,
		Authenticated: dc.ProxyAuthenticated,
		Exceptions:    dc.ProxyExceptions,
	}

	if dc.ProxyPasswordPlain != "" {
		settings.Password = dc.ProxyPasswordPlain
		return settings
	}
	if dc.ProxyPassword == "" {
		return settings
	}

	secret, err := m.proxySecret(ctx, sess)
	if err != nil {
		m.log.Warn("binding.deviceProxySettings: no secret available to decrypt proxy password", "err", err)
		return settings
	}
	plaintext, err := m.box.Decrypt(dc.ProxyPassword, secret)
	if err != nil {
		m.log.Warn("binding.deviceProxySettings: proxy password decryption failed", "err", err)
		return settings
	}
	settings.Password = string(plaintext)
	return settings
}
