// Package test provides cluster-harness helpers for exercising a mesh of
// kvmesh engines over real loopback TCP, in the spirit of the retrieval
// pack's UnityCluster helper: spin up several nodes, drive writes through
// them, and assert the replica set converges.
package test

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kvmesh/kvmesh/pkg/kvmesh"
	"github.com/kvmesh/kvmesh/pkg/kvmesh/types"
)

// FreePort asks the kernel for an unused TCP port on loopback. There is an
// inherent race between closing this listener and the caller binding the
// same port, but it is the same trick the wider Go test ecosystem relies on
// and is good enough for a single-process test harness.
func FreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// Cluster is a set of in-process kvmesh nodes fully meshed over loopback.
type Cluster struct {
	T      *testing.T
	Nodes  []*kvmesh.Engine
	cancel context.CancelFunc
	group  sync.WaitGroup
}

// NewCluster builds and starts size nodes, identifiers 1..size, each
// configured to dial every other node.
func NewCluster(t *testing.T, size int) *Cluster {
	t.Helper()
	ports := make([]int, size)
	for i := range ports {
		ports[i] = FreePort(t)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cluster{T: t, cancel: cancel}

	for i := 0; i < size; i++ {
		cfg := types.Config{
			Identifier:        types.NodeID(i + 1),
			ListenPort:        ports[i],
			HeartBeatInterval: 200 * time.Millisecond,
		}
		for j := 0; j < size; j++ {
			if j == i {
				continue
			}
			cfg.Peers = append(cfg.Peers, types.PeerAddress{Host: "127.0.0.1", Port: ports[j]})
		}

		node, err := kvmesh.New(cfg)
		if err != nil {
			t.Fatalf("build node %d: %v", i+1, err)
		}
		c.Nodes = append(c.Nodes, node)

		c.group.Add(1)
		go func(n *kvmesh.Engine) {
			defer c.group.Done()
			_ = n.Run(ctx)
		}(node)
	}

	return c
}

// Close cancels every node's Run and waits for them to return.
func (c *Cluster) Close() {
	c.cancel()
	c.group.Wait()
}

// AwaitConvergence polls every node's snapshot until all of them agree that
// key maps to want (or want==nil, meaning deleted), or the timeout elapses.
func (c *Cluster) AwaitConvergence(key string, want []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if c.allAgree(key, want) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("cluster did not converge on %q within %s", key, timeout)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (c *Cluster) allAgree(key string, want []byte) bool {
	for _, n := range c.Nodes {
		snap := n.Snapshot()
		got, ok := snap[key]
		if want == nil {
			if ok {
				return false
			}
			continue
		}
		if !ok || string(got) != string(want) {
			return false
		}
	}
	return true
}

// WaitOrTimeout runs cb in a goroutine and reports whether it finished
// before duration elapsed.
func WaitOrTimeout(cb func(), duration time.Duration) bool {
	done := make(chan struct{})
	go func() {
		cb()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(duration):
		return false
	}
}
