package clientcache

import (
	"context"
	"net/http/cookiejar"
	"testing"
	"time"

	"github.com/driveagent/driveagent/internal/ctlerr"
	"github.com/driveagent/driveagent/internal/proxyresolver"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New failed: %v", err)
	}
	return New("device-1", jar, time.Second)
}

func TestSameWorkerReusesClient(t *testing.T) {
	c := newTestCache(t)
	b := Binding{ServerURL: "https://srv/", RemoteUser: "alice", Token: "tok"}
	ctx := context.Background()

	first, err := c.GetRemoteFSClient(ctx, "worker-1", b)
	if err != nil {
		t.Fatalf("GetRemoteFSClient failed: %v", err)
	}
	second, err := c.GetRemoteFSClient(ctx, "worker-1", b)
	if err != nil {
		t.Fatalf("GetRemoteFSClient failed: %v", err)
	}
	if first != second {
		t.Fatal("expected the same cached client instance across uses by one worker")
	}
}

// TestInvalidateForcesRebuildAcrossWorkers covers invariant 8: after
// InvalidateClientCache returns, every subsequent GetRemoteFSClient call in
// any worker for a binding with that URL returns a freshly constructed
// client.
func TestInvalidateForcesRebuildAcrossWorkers(t *testing.T) {
	c := newTestCache(t)
	b := Binding{ServerURL: "https://srv/", RemoteUser: "alice", Token: "tok"}
	ctx := context.Background()

	w1Client, err := c.GetRemoteFSClient(ctx, "worker-1", b)
	if err != nil {
		t.Fatalf("GetRemoteFSClient failed: %v", err)
	}
	w2Client, err := c.GetRemoteFSClient(ctx, "worker-2", b)
	if err != nil {
		t.Fatalf("GetRemoteFSClient failed: %v", err)
	}

	c.InvalidateClientCache("https://srv/", proxyresolver.Settings{})

	w1Rebuilt, err := c.GetRemoteFSClient(ctx, "worker-1", b)
	if err != nil {
		t.Fatalf("GetRemoteFSClient failed: %v", err)
	}
	w2Rebuilt, err := c.GetRemoteFSClient(ctx, "worker-2", b)
	if err != nil {
		t.Fatalf("GetRemoteFSClient failed: %v", err)
	}

	if w1Rebuilt == w1Client {
		t.Fatal("expected worker-1's client to be rebuilt after invalidation")
	}
	if w2Rebuilt == w2Client {
		t.Fatal("expected worker-2's client to be rebuilt after invalidation")
	}
}

func TestInvalidateScopedToServerURL(t *testing.T) {
	c := newTestCache(t)
	bindingA := Binding{ServerURL: "https://a/", RemoteUser: "alice", Token: "tok"}
	bindingB := Binding{ServerURL: "https://b/", RemoteUser: "bob", Token: "tok"}
	ctx := context.Background()

	clientA, _ := c.GetRemoteFSClient(ctx, "worker-1", bindingA)
	clientB, _ := c.GetRemoteFSClient(ctx, "worker-1", bindingB)

	c.InvalidateClientCache("https://a/", proxyresolver.Settings{})

	rebuiltA, _ := c.GetRemoteFSClient(ctx, "worker-1", bindingA)
	rebuiltB, _ := c.GetRemoteFSClient(ctx, "worker-1", bindingB)

	if rebuiltA == clientA {
		t.Fatal("expected binding A's client to be rebuilt")
	}
	if rebuiltB != clientB {
		t.Fatal("expected binding B's client to be untouched by a scoped invalidation")
	}
}

func TestRepeatedUnauthorizedThrottlesRebuild(t *testing.T) {
	c := newTestCache(t)
	b := Binding{ServerURL: "https://srv/", RemoteUser: "alice", Token: "tok"}
	unauthorized := ctlerr.New(ctlerr.Unauthorized, "test", nil)

	for i := 0; i < unauthorizedThreshold; i++ {
		c.NoteResult(b, unauthorized)
	}

	key := keyFor(c.deviceID, b)
	ctx := context.Background()
	if c.rateLimited(ctx, key) {
		t.Fatal("expected the first rebuild attempt after crossing the threshold to still be allowed")
	}
	if !c.rateLimited(ctx, key) {
		t.Fatal("expected the second rebuild attempt to be throttled")
	}
}
