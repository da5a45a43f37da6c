package core

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/kvmesh/kvmesh/pkg/kvmesh/types"
)

// broadcastIdentifier is a reserved, off-wire identifier used only to key
// the dedicated modification iterator the datagram channel drains from.
// It is never sent on the wire and is distinct from any valid NodeID
// (spec's valid range is 1..127); using 0 keeps it out of that range
// without needing a separate iterator registry.
const broadcastIdentifier types.NodeID = 0

// datagramHeaderSize is the 2-byte inverted-length guard plus the 2-byte
// length itself (spec §6.3).
const datagramHeaderSize = 4

// DatagramReplicator is the optional best-effort single-entry
// broadcast/receive channel of spec §4.6. It never retransmits and never
// acknowledges; convergence still depends on the reliable mesh.
//
// Per the Open Question in spec §9 about the source's suspicious
// `if (key.isValid()) continue;` branch, this implementation uses two
// independent goroutines — one for the write side, one for the read side —
// rather than a single loop alternating interests on the same socket, so
// there is no shared per-iteration key to invert in the first place.
type DatagramReplicator struct {
	conn         *net.UDPConn
	broadcast    *net.UDPAddr
	iterator     types.ModificationIterator
	externalizer *Externalizer
	log          types.Logger
	metrics      MetricsSink

	writeEvery time.Duration
}

// NewDatagramReplicator binds a UDP socket on cfg.UDP.Port and targets
// cfg.UDP.BroadcastAddr for outgoing packets. It returns nil, nil if no UDP
// configuration is present.
func NewDatagramReplicator(cfg types.Config, storage types.Storage, log types.Logger, metrics MetricsSink) (*DatagramReplicator, error) {
	if cfg.UDP == nil {
		return nil, nil
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}

	laddr := &net.UDPAddr{Port: cfg.UDP.Port}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("kvmesh: udp listen: %w", err)
	}

	broadcastAddr, err := net.ResolveUDPAddr("udp", cfg.UDP.BroadcastAddr)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("kvmesh: resolve broadcast address: %w", err)
	}

	return &DatagramReplicator{
		conn:         conn,
		broadcast:    broadcastAddr,
		iterator:     storage.ModificationIteratorFor(broadcastIdentifier),
		externalizer: NewExternalizer(storage, log, metrics),
		log:          log,
		metrics:      metrics,
		writeEvery:   20 * time.Millisecond,
	}, nil
}

// Run starts the independent read and write goroutines and blocks until
// ctx is cancelled, then closes the socket.
func (d *DatagramReplicator) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.writeLoop(ctx)
	}()
	go d.readLoop(ctx)

	<-ctx.Done()
	_ = d.conn.Close()
	<-done
}

func (d *DatagramReplicator) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(d.writeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.writeOne()
		}
	}
}

func (d *DatagramReplicator) writeOne() {
	_, err := d.iterator.NextEntry(func(entry types.Entry) error {
		var payload bytes.Buffer
		if _, err := Serialize(entry, &payload); err != nil {
			return err
		}
		if payload.Len() > 0xFFFF {
			return ErrOversizedFrame
		}

		packet := make([]byte, datagramHeaderSize+payload.Len())
		length := uint16(payload.Len())
		binary.BigEndian.PutUint16(packet[0:2], ^length)
		binary.BigEndian.PutUint16(packet[2:4], length)
		copy(packet[datagramHeaderSize:], payload.Bytes())

		if _, err := d.conn.WriteToUDP(packet, d.broadcast); err != nil {
			// Best-effort: no retransmit, just log and let the bit stay
			// consumed. This matches spec §4.6 and §7: the datagram
			// channel never retries.
			d.log.Warnf("datagram write failed: %v", err)
		}
		return nil
	})
	if err != nil {
		d.log.Warnf("datagram iterator sink error: %v", err)
	}
}

func (d *DatagramReplicator) readLoop(ctx context.Context) {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, _, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		d.handlePacket(buf[:n])
	}
}

func (d *DatagramReplicator) handlePacket(packet []byte) {
	if len(packet) < datagramHeaderSize {
		return
	}
	invertedLength := binary.BigEndian.Uint16(packet[0:2])
	length := binary.BigEndian.Uint16(packet[2:4])
	if invertedLength != ^length {
		return
	}
	remaining := packet[datagramHeaderSize:]
	if len(remaining) != int(length) {
		return
	}

	if err := d.externalizer.ApplyIncoming(remaining); err != nil {
		// MalformedFrame and StorageError are both dropped silently on
		// the datagram channel per spec §7.
		return
	}
}
