// Package proxyresolver translates the stored ProxySettings into the
// (proxies, exceptions) shape net/http's transport layer and the remote
// clients consume.
package proxyresolver

import (
	"fmt"
	"strings"

	"github.com/driveagent/driveagent/internal/store"
)

// Settings is the decrypted view of DeviceConfig's proxy fields (password
// already run through CryptoBox by the caller).
type Settings struct {
	Config        store.ProxyConfig
	Scheme        store.ProxyScheme
	Server        string
	Port          int
	Username      string
	Password      string
	Authenticated bool
	Exceptions    string // comma-separated, as stored
}

// Resolve returns the per-scheme proxy URL mapping and the bypass list.
//
//   - ProxyNone   -> (empty map, nil exceptions): suppresses ambient detection.
//   - ProxySystem -> (nil map, nil exceptions): caller should fall back to
//     http.ProxyFromEnvironment.
//   - ProxyManual -> ({scheme: url}, exceptions)
func Resolve(s Settings) (map[string]string, []string) {
	switch s.Config {
	case store.ProxyNone:
		return map[string]string{}, nil
	case store.ProxyManual:
		return map[string]string{string(s.Scheme): composeURL(s)}, splitExceptions(s.Exceptions)
	default: // store.ProxySystem, or unset
		return nil, nil
	}
}

// composeURL uses the proxy's own scheme both as the map key and as the
// URL scheme, regardless of the target request's scheme — a deliberate
// simplification carried over unchanged from the source.
func composeURL(s Settings) string {
	auth := ""
	if s.Authenticated && s.Username != "" {
		if s.Password != "" {
			auth = fmt.Sprintf("%s:%s@", s.Username, s.Password)
		} else {
			auth = fmt.Sprintf("%s@", s.Username)
		}
	}
	return fmt.Sprintf("%s://%s%s:%d", s.Scheme, auth, s.Server, s.Port)
}

func splitExceptions(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
