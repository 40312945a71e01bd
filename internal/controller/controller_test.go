package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/driveagent/driveagent/internal/binding"
	"github.com/driveagent/driveagent/internal/clientcache"
	"github.com/driveagent/driveagent/internal/config"
	"github.com/driveagent/driveagent/internal/store"
)

func newTestController(t *testing.T) (*Controller, *httptest.Server) {
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

	cfg := &config.Config{
		ConfigFolder:        t.TempDir(),
		HandshakeTimeout:    5 * time.Second,
		Timeout:             5 * time.Second,
		KEKSource:           config.KEKSourceToken,
		ProxyPasswordPolicy: config.ProxyPolicyPlaintextUntilBound,
	}

	c, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, srv
}

func TestDeviceIDStableAcrossReopen(t *testing.T) {
	cfg := &config.Config{
		ConfigFolder:        t.TempDir(),
		HandshakeTimeout:    time.Second,
		Timeout:             time.Second,
		KEKSource:           config.KEKSourceToken,
		ProxyPasswordPolicy: config.ProxyPolicyPlaintextUntilBound,
	}
	ctx := context.Background()

	c1, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("first New failed: %v", err)
	}
	id1 := c1.DeviceID()
	c1.Close()

	c2, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("second New failed: %v", err)
	}
	defer c2.Close()
	if c2.DeviceID() != id1 {
		t.Fatalf("device_id changed across reopen: %q != %q", id1, c2.DeviceID())
	}
}

func TestBindServerAndPendingAndExportRoundTrip(t *testing.T) {
	c, srv := newTestController(t)
	ctx := context.Background()
	folder := t.TempDir() + "/drive"

	if err := c.BindServer(ctx, folder, srv.URL, "alice", "pw"); err != nil {
		t.Fatalf("BindServer failed: %v", err)
	}

	b, rel, err := c.BindingForPath(ctx, folder+"/docs/report.txt")
	if err != nil {
		t.Fatalf("BindingForPath failed: %v", err)
	}
	if rel != "/docs/report.txt" {
		t.Fatalf("got rel %q", rel)
	}
	if b.ServerURL != srv.URL+"/" {
		t.Fatalf("got server_url %q", b.ServerURL)
	}

	rows, err := c.ListPending(ctx, 0, "", 0)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no pending rows on a freshly bound, fully synchronized toplevel, got %d", len(rows))
	}

	var buf bytes.Buffer
	if err := c.ExportBindings(ctx, &buf); err != nil {
		t.Fatalf("ExportBindings failed: %v", err)
	}
	imported, err := c.ImportBindings(&buf)
	if err != nil {
		t.Fatalf("ImportBindings failed: %v", err)
	}
	if len(imported) != 1 || imported[0].LocalFolder != folder {
		t.Fatalf("unexpected round-tripped bindings: %#v", imported)
	}
}

func TestSetRemoteFaultShortCircuitsClientLookup(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	injected := errors.New("simulated outage")
	c.SetRemoteFault(injected)

	_, err := c.GetRemoteFSClient(ctx, "worker-1", clientcache.Binding{ServerURL: "https://example.test/", RemoteUser: "alice"})
	if !errors.Is(err, injected) {
		t.Fatalf("expected the injected fault back, got %v", err)
	}

	c.SetRemoteFault(nil)
	if _, err := c.GetRemoteFSClient(ctx, "worker-1", clientcache.Binding{ServerURL: "https://example.test/", RemoteUser: "alice"}); err != nil {
		t.Fatalf("expected fault to clear, got %v", err)
	}
}

func TestStopMarkerLifecycle(t *testing.T) {
	c, _ := newTestController(t)

	if ok, err := c.StopRequested(1234); err != nil || ok {
		t.Fatalf("expected no stop marker yet, got ok=%v err=%v", ok, err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	ok, err := c.StopRequested(os.Getpid())
	if err != nil {
		t.Fatalf("StopRequested failed: %v", err)
	}
	if !ok {
		t.Fatal("expected stop marker for this process to exist")
	}

	if err := c.ClearStopMarkers(); err != nil {
		t.Fatalf("ClearStopMarkers failed: %v", err)
	}
	if ok, err := c.StopRequested(os.Getpid()); err != nil || ok {
		t.Fatalf("expected marker cleared, got ok=%v err=%v", ok, err)
	}
}

func TestLaunchFileEditorWarnsWhenNoPairFound(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	launched := false
	c.LaunchEditor = func(string) error { launched = true; return nil }

	if err := c.LaunchFileEditor(ctx, "https://example.test/", "no-such-ref"); err != nil {
		t.Fatalf("LaunchFileEditor failed: %v", err)
	}
	if launched {
		t.Fatal("expected no launch when no pair matches")
	}
}

func TestProxySettingsRoundTrip(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	if err := c.SetProxySettings(ctx, proxyInput()); err != nil {
		t.Fatalf("SetProxySettings failed: %v", err)
	}

	info, err := c.ProxySettings(ctx)
	if err != nil {
		t.Fatalf("ProxySettings failed: %v", err)
	}
	if info.Server != "proxy.internal" || info.Port != 3128 {
		t.Fatalf("unexpected proxy info: %#v", info)
	}
	if !info.HasPassword {
		t.Fatal("expected HasPassword true after setting a password")
	}
}

func proxyInput() binding.ProxySettingsInput {
	return binding.ProxySettingsInput{
		Config:   store.ProxyManual,
		Scheme:   store.ProxyHTTP,
		Server:   "proxy.internal",
		Port:     3128,
		Password: "proxy-secret",
	}
}
