package core

import (
	"testing"
	"time"

	"github.com/kvmesh/kvmesh/pkg/kvmesh/types"
)

func TestConnectorReadyInitially(t *testing.T) {
	c := newConnector(types.PeerAddress{Host: "127.0.0.1", Port: 9999})
	if !c.ready(time.Now()) {
		t.Fatal("expected a fresh connector to be ready immediately")
	}
}

func TestConnectorScheduleRetryBacksOffAndDoublesUp(t *testing.T) {
	c := newConnector(types.PeerAddress{Host: "127.0.0.1", Port: 9999})
	now := time.Now()

	c.scheduleRetry(now)
	if c.ready(now) {
		t.Fatal("expected connector to not be ready immediately after scheduling a retry")
	}
	firstBackoff := c.backoff

	c.scheduleRetry(now)
	if c.backoff <= firstBackoff {
		t.Fatalf("expected backoff to grow, was %s then %s", firstBackoff, c.backoff)
	}
}

func TestConnectorBackoffCapsAtMax(t *testing.T) {
	c := newConnector(types.PeerAddress{Host: "127.0.0.1", Port: 9999})
	now := time.Now()
	for i := 0; i < 20; i++ {
		c.scheduleRetry(now)
	}
	if c.backoff != maxBackoff {
		t.Fatalf("expected backoff capped at %s, got %s", maxBackoff, c.backoff)
	}
}

func TestConnectorResetRestoresInitialBackoff(t *testing.T) {
	c := newConnector(types.PeerAddress{Host: "127.0.0.1", Port: 9999})
	c.scheduleRetry(time.Now())
	c.scheduleRetry(time.Now())
	c.reset()
	if c.backoff != initialBackoff {
		t.Fatalf("expected reset to restore initial backoff %s, got %s", initialBackoff, c.backoff)
	}
}

func TestConnectorDialAddressJoinsHostPort(t *testing.T) {
	c := newConnector(types.PeerAddress{Host: "10.0.0.1", Port: 4242})
	if got, want := c.dialAddress(), "10.0.0.1:4242"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
