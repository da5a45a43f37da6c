package core_test

import (
	"net"
	"testing"
	"time"

	"github.com/kvmesh/kvmesh/pkg/kvmesh/core"
	"github.com/kvmesh/kvmesh/pkg/kvmesh/storage"
	"github.com/kvmesh/kvmesh/pkg/kvmesh/types"
)

type discardLogger struct{}

func (discardLogger) Debugf(string, ...interface{}) {}
func (discardLogger) Infof(string, ...interface{})  {}
func (discardLogger) Warnf(string, ...interface{})  {}
func (discardLogger) Errorf(string, ...interface{}) {}

func freeTestPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestReactorReplicatesBetweenTwoNodes(t *testing.T) {
	portA := freeTestPort(t)
	portB := freeTestPort(t)

	storeA := storage.NewSlotMap(1)
	storeB := storage.NewSlotMap(2)

	cfgA := types.Config{Identifier: 1, ListenPort: portA, Peers: []types.PeerAddress{{Host: "127.0.0.1", Port: portB}}}
	cfgB := types.Config{Identifier: 2, ListenPort: portB}

	reactorA := core.NewReactor(cfgA, storeA, discardLogger{}, core.NoopMetrics{})
	reactorB := core.NewReactor(cfgB, storeB, discardLogger{}, core.NoopMetrics{})

	go reactorA.Run()
	go reactorB.Run()
	defer reactorA.Close()
	defer reactorB.Close()

	if _, err := storeA.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if got, ok := storeB.Snapshot()["k"]; ok && string(got) == "v" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("replication did not converge within 5s")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestReactorCloseIsIdempotentAndUnblocks(t *testing.T) {
	port := freeTestPort(t)
	store := storage.NewSlotMap(1)
	cfg := types.Config{Identifier: 1, ListenPort: port}
	r := core.NewReactor(cfg, store, discardLogger{}, core.NoopMetrics{})

	done := make(chan struct{})
	go func() {
		_ = r.Run()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	r.Close()
	r.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}
