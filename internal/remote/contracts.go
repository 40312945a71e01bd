// Package remote defines the observable contracts of the HTTP clients that
// speak the remote repository's REST dialect, and the thin local filesystem
// wrapper the core reads through. Only the shapes the core depends on are
// specified here; the wire dialect itself belongs to the concrete client.
package remote

import (
	"context"
	"net/http"
	"time"
)

// RemoteInfo describes one document as seen through a remote client.
type RemoteInfo struct {
	Ref        string
	ParentRef  string
	Name       string
	Folderish  bool
	ModifiedAt time.Time
	Digest     string
}

// LocalInfo describes one file or directory as seen through LocalClient.
type LocalInfo struct {
	Path       string
	Name       string
	Size       int64
	Folderish  bool
	ModifiedAt time.Time
}

// ClientConfig parameterizes construction of a remote client. Proxies and
// ProxyExceptions come straight from proxyresolver.Resolve. Exactly one of
// Password/Token should be set; Token takes precedence when both are.
type ClientConfig struct {
	ServerURL       string
	User            string
	DeviceID        string
	Proxies         map[string]string
	ProxyExceptions []string
	Password        string
	Token           string
	Timeout         time.Duration
	CookieJar       http.CookieJar

	// Repository/BaseFolder parameterize document clients only; filesystem
	// clients ignore them.
	Repository string
	BaseFolder string
}

// Faulty lets tests force every subsequent call on a client to fail, the
// way MakeRaise does in the source's integration test harness.
type Faulty interface {
	MakeRaise(err error)
}

// RemoteDocumentClient issues document-repository operations: token
// lifecycle and sync-root registration.
type RemoteDocumentClient interface {
	Faulty
	// RequestToken obtains a bearer token for Config.User, or returns
	// ("", nil) when the server has no token support.
	RequestToken(ctx context.Context) (string, error)
	RevokeToken(ctx context.Context) error
	RegisterAsRoot(ctx context.Context, ref string) error
	UnregisterAsRoot(ctx context.Context, ref string) error
}

// RemoteFileSystemClient reads filesystem-shaped views of the remote tree.
type RemoteFileSystemClient interface {
	Faulty
	GetFilesystemRootInfo(ctx context.Context) (RemoteInfo, error)
}

// LocalClient wraps the local filesystem rooted at one folder.
type LocalClient interface {
	GetInfo(relPath string) (LocalInfo, error)
}
