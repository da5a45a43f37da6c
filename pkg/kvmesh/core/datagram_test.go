package core_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/kvmesh/kvmesh/pkg/kvmesh/core"
	"github.com/kvmesh/kvmesh/pkg/kvmesh/storage"
	"github.com/kvmesh/kvmesh/pkg/kvmesh/types"
)

func TestNewDatagramReplicatorNilWithoutUDPConfig(t *testing.T) {
	store := storage.NewSlotMap(1)
	d, err := core.NewDatagramReplicator(types.Config{Identifier: 1}, store, discardLogger{}, core.NoopMetrics{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != nil {
		t.Fatal("expected nil replicator when no UDP config is present")
	}
}

func TestDatagramReplicatorBroadcastsPut(t *testing.T) {
	portA := freeTestPort(t)
	portB := freeTestPort(t)

	storeA := storage.NewSlotMap(1)
	storeB := storage.NewSlotMap(2)

	cfgA := types.Config{Identifier: 1, UDP: &types.UDPConfig{Port: portA, BroadcastAddr: "127.0.0.1:" + strconv.Itoa(portB)}}
	cfgB := types.Config{Identifier: 2, UDP: &types.UDPConfig{Port: portB, BroadcastAddr: "127.0.0.1:" + strconv.Itoa(portA)}}

	dA, err := core.NewDatagramReplicator(cfgA, storeA, discardLogger{}, core.NoopMetrics{})
	if err != nil {
		t.Fatalf("build replicator A: %v", err)
	}
	dB, err := core.NewDatagramReplicator(cfgB, storeB, discardLogger{}, core.NoopMetrics{})
	if err != nil {
		t.Fatalf("build replicator B: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dA.Run(ctx)
	go dB.Run(ctx)

	if _, err := storeA.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if got, ok := storeB.Snapshot()["k"]; ok && string(got) == "v" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("datagram broadcast did not arrive within 3s")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

