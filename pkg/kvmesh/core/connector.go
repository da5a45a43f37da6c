package core

import (
	"net"
	"strconv"
	"time"

	"github.com/kvmesh/kvmesh/pkg/kvmesh/types"
)

// connector is a single outbound peer address with its own backoff state
// (spec §4.5). It never busy-loops: a failed dial schedules the next
// attempt and returns immediately.
type connector struct {
	address types.PeerAddress

	dialing     bool
	nextAttempt time.Time
	backoff     time.Duration
}

const (
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

func newConnector(addr types.PeerAddress) *connector {
	return &connector{address: addr, backoff: initialBackoff}
}

func (c *connector) ready(now time.Time) bool {
	return !c.dialing && !now.Before(c.nextAttempt)
}

// scheduleRetry doubles the backoff (capped) and arms the next attempt
// time; called after a failed dial or after a session sourced from this
// connector closes.
func (c *connector) scheduleRetry(now time.Time) {
	c.dialing = false
	c.nextAttempt = now.Add(c.backoff)
	c.backoff *= 2
	if c.backoff > maxBackoff {
		c.backoff = maxBackoff
	}
}

// reset returns the connector to its initial backoff after a successful,
// long-lived connection.
func (c *connector) reset() {
	c.backoff = initialBackoff
}

func (c *connector) dialAddress() string {
	return net.JoinHostPort(c.address.Host, strconv.Itoa(c.address.Port))
}
