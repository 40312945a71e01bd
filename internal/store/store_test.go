package store

import (
	"context"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), nil, false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDeviceConfigLazyCreate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.Session(ctx)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	defer sess.Close()

	dc, err := sess.GetDeviceConfig(ctx)
	if err != nil {
		t.Fatalf("GetDeviceConfig failed: %v", err)
	}
	if dc.DeviceID == "" {
		t.Fatal("expected a non-empty device_id")
	}
	if err := sess.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	sess2, err := s.Session(ctx)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	defer sess2.Close()

	dc2, err := sess2.GetDeviceConfig(ctx)
	if err != nil {
		t.Fatalf("second GetDeviceConfig failed: %v", err)
	}
	if dc2.DeviceID != dc.DeviceID {
		t.Fatalf("device_id changed across reads: %q != %q", dc2.DeviceID, dc.DeviceID)
	}
}

func TestBindServerToplevelAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.Session(ctx)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	defer sess.Close()

	token := "tok-123"
	binding := &ServerBinding{
		LocalFolder: "/home/u/Drive",
		ServerURL:   "https://srv/nuxeo/",
		RemoteUser:  "alice",
		RemoteToken: &token,
	}
	if err := sess.InsertBinding(ctx, binding); err != nil {
		t.Fatalf("InsertBinding failed: %v", err)
	}
	toplevel, err := sess.InsertToplevel(ctx, binding.LocalFolder, "root-ref")
	if err != nil {
		t.Fatalf("InsertToplevel failed: %v", err)
	}
	if err := sess.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if toplevel.LocalPath == nil || *toplevel.LocalPath != "/" {
		t.Fatalf("expected root local_path \"/\", got %v", toplevel.LocalPath)
	}
	if toplevel.LocalState != SideSynchronized || toplevel.RemoteState != SideSynchronized {
		t.Fatalf("expected both sides synchronized, got local=%s remote=%s", toplevel.LocalState, toplevel.RemoteState)
	}

	// invariant: every ServerBinding has exactly one of password/token after a token bind
	if binding.RemotePassword != nil {
		t.Fatal("password should be nil once a token exists")
	}
	if binding.RemoteToken == nil {
		t.Fatal("token should be set")
	}
}

func TestLastKnownStateRequiresLocalOrRemote(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.Session(ctx)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	defer sess.Close()

	if _, err := sess.ChildrenOf(ctx, "/nowhere", nil, nil); err == nil {
		t.Fatal("expected IllegalPairState when both local_path and remote_ref are nil")
	}
}
