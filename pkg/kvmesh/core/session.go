package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/kvmesh/kvmesh/pkg/kvmesh/types"
)

// Phase is a peer session's position in the state machine of spec §4.4.
type Phase int

const (
	Connecting Phase = iota
	Handshake
	Bootstrap
	Replicating
	Closed
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "Connecting"
	case Handshake:
		return "Handshake"
	case Bootstrap:
		return "Bootstrap"
	case Replicating:
		return "Replicating"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// welcomeSize is the fixed, non-length-prefixed preamble every session
// sends first, regardless of connection direction: 1 byte identifier, 8
// bytes big-endian lastSeenTimestamp (spec §6.2).
const welcomeSize = 1 + 8

// chunkBudget bounds how many entries a single write-readiness turn drains
// from the iterator, so one session cannot starve the others in the
// reactor's round-robin.
const chunkBudget = 64

// Session is one state machine instance over a single reliable connection
// to a remote peer.
type Session struct {
	conn net.Conn

	localID      types.NodeID
	remoteID     types.NodeID
	remoteSeenTs uint64

	phase Phase

	externalizer *Externalizer
	storage      types.Storage
	iterator     types.ModificationIterator
	log          types.Logger
	metrics      MetricsSink

	handshakeBuf bytes.Buffer
	decoder      *Decoder
	outbound     bytes.Buffer

	entryMaxSize int
	bufCap       int

	heartbeatInterval time.Duration
	lastWriteAt       time.Time
	lastReadAt        time.Time

	// Outbound is true for connections this node dialed, false for ones it
	// accepted. Purely informational: the handshake is symmetric and the
	// session never branches on it.
	Outbound bool

	// OnHandshake, if set, is invoked once the remote's welcome has been
	// parsed and validated for range, before the iterator is bound. It
	// lets the reactor reject a self-collision (a remote identifier that
	// already owns an active session) without the session needing a
	// back-pointer to the reactor's session table.
	OnHandshake func(remote types.NodeID) error
}

// NewSession wraps an established connection in a fresh session; the
// caller (the reactor) is responsible for driving it via OnReadable,
// Flush, and MaybeHeartbeat from a single goroutine.
func NewSession(conn net.Conn, localID types.NodeID, storage types.Storage, log types.Logger, metrics MetricsSink, entryMaxSize, bufCap int, heartbeat time.Duration, outbound bool) *Session {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	now := time.Now()
	return &Session{
		conn:              conn,
		localID:           localID,
		storage:           storage,
		externalizer:      NewExternalizer(storage, log, metrics),
		log:               log,
		metrics:           metrics,
		decoder:           NewDecoder(bufCap),
		entryMaxSize:      entryMaxSize,
		bufCap:            bufCap,
		heartbeatInterval: heartbeat,
		lastWriteAt:       now,
		lastReadAt:        now,
		phase:             Connecting,
		Outbound:          outbound,
	}
}

// Phase reports the session's current state.
func (s *Session) Phase() Phase { return s.phase }

// RemoteID reports the remote's identifier; only meaningful once the
// session has left Connecting/Handshake.
func (s *Session) RemoteID() types.NodeID { return s.remoteID }

// SendWelcome writes the fixed handshake preamble, sent first by both
// sides regardless of direction (spec §4.4).
func (s *Session) SendWelcome() error {
	var welcome [welcomeSize]byte
	welcome[0] = byte(s.localID)
	binary.BigEndian.PutUint64(welcome[1:], s.storage.LastModification())
	s.outbound.Write(welcome[:])
	s.phase = Handshake
	return s.Flush()
}

// OnReadable is invoked by the reactor with freshly-read bytes. It
// dispatches to handshake parsing or steady-state record processing
// depending on phase.
func (s *Session) OnReadable(chunk []byte) error {
	s.lastReadAt = time.Now()

	if s.phase == Connecting || s.phase == Handshake {
		s.handshakeBuf.Write(chunk)
		if s.handshakeBuf.Len() < welcomeSize {
			return nil
		}
		raw := s.handshakeBuf.Bytes()
		remoteID := types.NodeID(raw[0])
		if !remoteID.Valid() {
			return fmt.Errorf("%w: identifier %d out of range", ErrHandshakeRejected, remoteID)
		}
		s.remoteID = remoteID
		s.remoteSeenTs = binary.BigEndian.Uint64(raw[1:welcomeSize])

		leftover := append([]byte(nil), raw[welcomeSize:]...)
		s.handshakeBuf.Reset()

		if s.OnHandshake != nil {
			if err := s.OnHandshake(remoteID); err != nil {
				return err
			}
		}

		s.phase = Bootstrap
		s.iterator = s.storage.ModificationIteratorFor(s.remoteID)
		s.iterator.DirtyEntriesFrom(s.remoteSeenTs)
		s.phase = Replicating

		if len(leftover) > 0 {
			return s.OnReadable(leftover)
		}
		return nil
	}

	if err := s.decoder.Feed(chunk); err != nil {
		return err
	}
	for {
		record, heartbeat, ok, err := s.decoder.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if heartbeat {
			continue
		}
		if err := s.externalizer.ApplyIncoming(record); err != nil {
			s.log.Warnf("session %d<-%d dropping entry: %v", s.localID, s.remoteID, err)
		}
	}
}

// Flush writes as much of the pending outbound buffer as the socket
// accepts right now. A short write deadline turns "socket buffer full"
// into "drained zero bytes this tick" instead of blocking the reactor
// goroutine, which is how this implementation realizes non-blocking
// writes without raw socket polling (see DESIGN.md).
func (s *Session) Flush() error {
	if s.outbound.Len() == 0 {
		return nil
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Millisecond))
	n, err := s.conn.Write(s.outbound.Bytes())
	if n > 0 {
		s.outbound.Next(n)
		s.lastWriteAt = time.Now()
	}
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// HasPendingWrite reports whether this session wants write-readiness: it
// has buffered bytes, or it is Replicating and might have iterator work.
func (s *Session) HasPendingWrite() bool {
	return s.outbound.Len() > 0 || s.phase == Replicating
}

// DrainIterator is called by the reactor on every tick, before Flush, so the
// outbound buffer may still hold unsent bytes. It serializes up to
// chunkBudget entries, stopping early if the next entry would not fit
// within entryMaxSize of remaining buffer capacity (spec §4.4).
func (s *Session) DrainIterator() error {
	if s.phase != Replicating || s.iterator == nil {
		return nil
	}
	for i := 0; i < chunkBudget; i++ {
		if s.bufCap > 0 && s.outbound.Len()+s.entryMaxSize > s.bufCap {
			break
		}
		var sinkErr error
		delivered, err := s.iterator.NextEntry(func(entry types.Entry) error {
			return EncodeRecord(&s.outbound, func(buf *bytes.Buffer) (int, error) {
				return Serialize(entry, buf)
			})
		})
		if err != nil {
			sinkErr = err
		}
		if sinkErr != nil {
			return sinkErr
		}
		if !delivered {
			break
		}
		s.metrics.EntrySent()
	}
	return nil
}

// MaybeHeartbeat appends a heartbeat record if configured and nothing has
// been written for heartbeatInterval, and reports whether the read side
// has gone silent for 2x that interval (spec §4.4).
func (s *Session) MaybeHeartbeat(now time.Time) (shouldClose bool) {
	if s.heartbeatInterval <= 0 {
		return false
	}
	if now.Sub(s.lastReadAt) > 2*s.heartbeatInterval {
		return true
	}
	if now.Sub(s.lastWriteAt) >= s.heartbeatInterval {
		EncodeHeartbeat(&s.outbound)
	}
	return false
}

// Close transitions the session to Closed and releases the connection.
// Half-closes the write side, drains briefly, then hard-closes, per the
// shutdown behavior in spec §5.
func (s *Session) Close() {
	if s.phase == Closed {
		return
	}
	s.phase = Closed
	if tcp, ok := s.conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
		_ = tcp.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		buf := make([]byte, 512)
		for {
			if _, err := tcp.Read(buf); err != nil {
				break
			}
		}
	}
	_ = s.conn.Close()
}
