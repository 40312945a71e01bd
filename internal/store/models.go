package store

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ProxyConfig is the explicit tagged variant replacing the source's
// ambient nil-vs-missing proxy semantics.
type ProxyConfig string

const (
	ProxyNone   ProxyConfig = "none"
	ProxySystem ProxyConfig = "system"
	ProxyManual ProxyConfig = "manual"
)

type ProxyScheme string

const (
	ProxyHTTP  ProxyScheme = "http"
	ProxyHTTPS ProxyScheme = "https"
)

// DeviceConfig is the installation-wide singleton row.
type DeviceConfig struct {
	DeviceID string

	ProxyConfig        ProxyConfig
	ProxyType          ProxyScheme
	ProxyServer        string
	ProxyPort          int
	ProxyUsername      string
	ProxyPassword      string // ciphertext, via CryptoBox
	ProxyPasswordPlain string // set only under the plaintext-until-bound policy, before any token exists
	ProxyAuthenticated bool
	ProxyExceptions    string // comma-separated
}

// ServerBinding associates one local folder with one remote server + user.
type ServerBinding struct {
	LocalFolder        string
	ServerURL          string
	RemoteUser         string
	RemotePassword     *string
	RemoteToken        *string
	InvalidCredentials bool
}

// HasInvalidCredentials reports whether b needs re-authentication. The
// Unauthorized-derived flag is authoritative; when it isn't set yet this
// also takes a best-effort look at the token's exp claim in case it
// happens to be JWT-shaped, without verifying its signature — servers
// that issue opaque tokens never satisfy this fast path and fall back to
// the flag alone.
func (b *ServerBinding) HasInvalidCredentials() bool {
	if b.InvalidCredentials {
		return true
	}
	if b.RemoteToken == nil || *b.RemoteToken == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(*b.RemoteToken, claims); err != nil {
		return false
	}
	expiration, err := claims.GetExpirationTime()
	if err != nil || expiration == nil {
		return false
	}
	return expiration.Before(time.Now())
}

// PairState is the derived rollup of a LastKnownState's two sides.
type PairState string

const (
	PairUnknown          PairState = "unknown"
	PairSynchronized     PairState = "synchronized"
	PairLocallyCreated   PairState = "locally_created"
	PairLocallyModified  PairState = "locally_modified"
	PairLocallyDeleted   PairState = "locally_deleted"
	PairRemotelyCreated  PairState = "remotely_created"
	PairRemotelyModified PairState = "remotely_modified"
	PairRemotelyDeleted  PairState = "remotely_deleted"
	PairChildrenModified PairState = "children_modified"
	PairConflicted       PairState = "conflicted"
)

// SideState is a local_state / remote_state value.
type SideState string

const (
	SideUnknown      SideState = "unknown"
	SideCreated      SideState = "created"
	SideModified     SideState = "modified"
	SideDeleted      SideState = "deleted"
	SideSynchronized SideState = "synchronized"
)

// LastKnownState is one observed document pair.
type LastKnownState struct {
	ID int64

	LocalFolder string

	LocalPath *string
	RemoteRef *string

	LocalParentPath *string
	RemoteParentRef *string

	LocalName        string
	RemoteName       string
	RemoteParentPath string

	Folderish bool

	LocalState  SideState
	RemoteState SideState
	PairState   PairState

	LastSyncErrorDate *time.Time
}
