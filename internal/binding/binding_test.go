package binding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/driveagent/driveagent/internal/clientcache"
	"github.com/driveagent/driveagent/internal/config"
	"github.com/driveagent/driveagent/internal/crypto"
	"github.com/driveagent/driveagent/internal/ctlerr"
	"github.com/driveagent/driveagent/internal/logger"
	"github.com/driveagent/driveagent/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/token":
			json.NewEncoder(w).Encode(map[string]string{"token": "srv-token"})
		case r.Method == http.MethodDelete && r.URL.Path == "/token":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == "/fs/root":
			json.NewEncoder(w).Encode(map[string]string{"ref": "root-ref", "name": "root"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	st, err := store.Open(t.TempDir(), nil, false)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New failed: %v", err)
	}
	cache := clientcache.New("device-1", jar, 5*time.Second)

	box := crypto.New(crypto.NewTokenKeySource([]byte("test-salt")))
	cfg := &config.Config{
		HandshakeTimeout:    5 * time.Second,
		Timeout:             5 * time.Second,
		KEKSource:           config.KEKSourceToken,
		ProxyPasswordPolicy: config.ProxyPolicyPlaintextUntilBound,
	}

	mgr := New(st, cache, box, cfg, logger.New())
	return mgr, srv
}

func TestBindServerObtainsTokenAndCreatesToplevel(t *testing.T) {
	mgr, srv := newTestManager(t)
	ctx := context.Background()
	folder := t.TempDir() + "/drive"

	if err := mgr.BindServer(ctx, folder, srv.URL, "alice", "irrelevant"); err != nil {
		t.Fatalf("BindServer failed: %v", err)
	}

	sess, err := mgr.store.Session(ctx)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	defer sess.Close()

	b, err := sess.GetBinding(ctx, folder)
	if err != nil {
		t.Fatalf("GetBinding failed: %v", err)
	}
	if b.RemoteToken == nil || *b.RemoteToken != "srv-token" {
		t.Fatalf("expected token to be stored, got %#v", b.RemoteToken)
	}
	if b.RemotePassword != nil {
		t.Fatal("expected password to be discarded once a token was obtained")
	}

	toplevel, err := sess.GetStateByLocalPath(ctx, folder, "/")
	if err != nil {
		t.Fatalf("expected toplevel state to exist: %v", err)
	}
	if toplevel.RemoteRef == nil || *toplevel.RemoteRef != "root-ref" {
		t.Fatalf("expected toplevel remote_ref root-ref, got %#v", toplevel.RemoteRef)
	}
}

func TestBindServerAlreadyBoundToDifferentUserFails(t *testing.T) {
	mgr, srv := newTestManager(t)
	ctx := context.Background()
	folder := t.TempDir() + "/drive"

	if err := mgr.BindServer(ctx, folder, srv.URL, "alice", "pw"); err != nil {
		t.Fatalf("first BindServer failed: %v", err)
	}
	err := mgr.BindServer(ctx, folder, srv.URL, "bob", "pw")
	if ctlerr.KindOf(err) != ctlerr.AlreadyBound {
		t.Fatalf("expected AlreadyBound, got %v", err)
	}
}

func TestUnbindServerWithTokenDeletesBinding(t *testing.T) {
	mgr, srv := newTestManager(t)
	ctx := context.Background()
	folder := t.TempDir() + "/drive"

	if err := mgr.BindServer(ctx, folder, srv.URL, "alice", "pw"); err != nil {
		t.Fatalf("BindServer failed: %v", err)
	}
	if err := mgr.UnbindServer(ctx, folder); err != nil {
		t.Fatalf("UnbindServer failed: %v", err)
	}

	sess, err := mgr.store.Session(ctx)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	defer sess.Close()

	if _, err := sess.GetBinding(ctx, folder); ctlerr.KindOf(err) != ctlerr.NotFound {
		t.Fatalf("expected binding to be gone, got %v", err)
	}
}

func TestRebindAfterUnbindDoesNotCollideWithOrphanToplevel(t *testing.T) {
	mgr, srv := newTestManager(t)
	ctx := context.Background()
	folder := t.TempDir() + "/drive"

	if err := mgr.BindServer(ctx, folder, srv.URL, "alice", "pw"); err != nil {
		t.Fatalf("first BindServer failed: %v", err)
	}
	if err := mgr.UnbindServer(ctx, folder); err != nil {
		t.Fatalf("UnbindServer failed: %v", err)
	}
	if err := mgr.BindServer(ctx, folder, srv.URL, "alice", "pw"); err != nil {
		t.Fatalf("rebind after unbind failed: %v", err)
	}

	sess, err := mgr.store.Session(ctx)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	defer sess.Close()

	toplevel, err := sess.GetStateByLocalPath(ctx, folder, "/")
	if err != nil {
		t.Fatalf("expected a fresh toplevel state after rebind: %v", err)
	}
	if toplevel.RemoteRef == nil || *toplevel.RemoteRef != "root-ref" {
		t.Fatalf("expected toplevel remote_ref root-ref, got %#v", toplevel.RemoteRef)
	}
}

func TestSetProxySettingsPendingPlaintextMigratesOnBind(t *testing.T) {
	mgr, srv := newTestManager(t)
	ctx := context.Background()

	if err := mgr.SetProxySettings(ctx, ProxySettingsInput{
		Config:   store.ProxyManual,
		Scheme:   store.ProxyHTTP,
		Server:   "proxy.internal",
		Port:     3128,
		Password: "proxy-secret",
	}); err != nil {
		t.Fatalf("SetProxySettings failed: %v", err)
	}

	sess, err := mgr.store.Session(ctx)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	dc, err := sess.GetDeviceConfig(ctx)
	if err != nil {
		t.Fatalf("GetDeviceConfig failed: %v", err)
	}
	sess.Close()
	if dc.ProxyPasswordPlain != "proxy-secret" {
		t.Fatalf("expected pending plaintext proxy password, got %q", dc.ProxyPasswordPlain)
	}

	folder := t.TempDir() + "/drive"
	if err := mgr.BindServer(ctx, folder, srv.URL, "alice", "pw"); err != nil {
		t.Fatalf("BindServer failed: %v", err)
	}

	sess2, err := mgr.store.Session(ctx)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	defer sess2.Close()
	dc2, err := sess2.GetDeviceConfig(ctx)
	if err != nil {
		t.Fatalf("GetDeviceConfig failed: %v", err)
	}
	if dc2.ProxyPasswordPlain != "" {
		t.Fatal("expected plaintext proxy password to be cleared after migration")
	}
	if dc2.ProxyPassword == "" {
		t.Fatal("expected encrypted proxy password to be set after migration")
	}
}
