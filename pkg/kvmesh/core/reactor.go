package core

import (
	"fmt"
	"net"
	"time"

	"github.com/kvmesh/kvmesh/pkg/kvmesh/types"
)

// readChunkSize is how much a reader goroutine asks the kernel for per
// Read call before forwarding the chunk to the reactor.
const readChunkSize = 4096

// defaultTick bounds the reactor's readiness wait when no heartbeat is
// configured, satisfying spec §4.5's "bounded timeout, at most the
// heartbeat interval" requirement with a sane default.
const defaultTick = 200 * time.Millisecond

type readEvent struct {
	id   int
	data []byte
	err  error
}

type connectResult struct {
	peerIdx int
	conn    net.Conn
	err     error
}

type sessionEntry struct {
	session   *Session
	connector *connector // nil for accepted (inbound) sessions
}

// Reactor is the single-threaded non-blocking I/O multiplexer of spec §4.5.
// Exactly one goroutine (Run) ever mutates session or bitset-cursor state;
// everything else (socket reads, dials, the listener's Accept loop) runs in
// auxiliary goroutines that only ever hand data back across channels. See
// SPEC_FULL.md §5 for why this is the idiomatic Go realization of the
// original single-threaded reactor design.
type Reactor struct {
	cfg     types.Config
	storage types.Storage
	log     types.Logger
	metrics MetricsSink

	listener net.Listener

	sessions    map[int]*sessionEntry
	byRemote    map[types.NodeID]int
	nextID      int
	connectors  []*connector
	tickEvery   time.Duration

	acceptCh  chan net.Conn
	readCh    chan readEvent
	connectCh chan connectResult
	closeCh   chan struct{}
	doneCh    chan struct{}
}

// NewReactor builds a reactor bound to the given configuration and storage.
// It does not start listening or connecting until Run is called.
func NewReactor(cfg types.Config, storage types.Storage, log types.Logger, metrics MetricsSink) *Reactor {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	tick := cfg.HeartBeatInterval
	if tick <= 0 || tick > defaultTick {
		tick = defaultTick
	}
	r := &Reactor{
		cfg:       cfg,
		storage:   storage,
		log:       log,
		metrics:   metrics,
		sessions:  make(map[int]*sessionEntry),
		byRemote:  make(map[types.NodeID]int),
		tickEvery: tick,
		acceptCh:  make(chan net.Conn),
		readCh:    make(chan readEvent),
		connectCh: make(chan connectResult),
		closeCh:   make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, addr := range cfg.Peers {
		r.connectors = append(r.connectors, newConnector(addr))
	}
	return r
}

// Run opens the listener (if a port is configured) and drives the event
// loop until Close is called. It blocks; callers typically invoke it in
// its own goroutine.
func (r *Reactor) Run() error {
	if r.cfg.ListenPort > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.ListenPort))
		if err != nil {
			return fmt.Errorf("kvmesh: listen: %w", err)
		}
		r.listener = ln
		go r.acceptLoop(ln)
	}

	ticker := time.NewTicker(r.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.closeCh:
			r.shutdown()
			close(r.doneCh)
			return nil
		case conn := <-r.acceptCh:
			r.handleAccept(conn)
		case res := <-r.connectCh:
			r.handleConnectResult(res)
		case ev := <-r.readCh:
			r.handleReadEvent(ev)
		case now := <-ticker.C:
			r.tick(now)
		}
	}
}

// Close signals the reactor to exit its next wait and tear down every
// session and the listener; it blocks until Run has returned (spec §5).
// Idempotent.
func (r *Reactor) Close() {
	select {
	case <-r.doneCh:
		return
	default:
	}
	select {
	case <-r.closeCh:
	default:
		close(r.closeCh)
	}
	<-r.doneCh
}

func (r *Reactor) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		select {
		case r.acceptCh <- conn:
		case <-r.doneCh:
			_ = conn.Close()
			return
		}
	}
}

func (r *Reactor) readLoop(id int, conn net.Conn) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case r.readCh <- readEvent{id: id, data: chunk}:
			case <-r.doneCh:
				return
			}
		}
		if err != nil {
			select {
			case r.readCh <- readEvent{id: id, err: err}:
			case <-r.doneCh:
			}
			return
		}
	}
}

func (r *Reactor) dial(idx int, c *connector) {
	conn, err := net.DialTimeout("tcp", c.dialAddress(), 2*time.Second)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	select {
	case r.connectCh <- connectResult{peerIdx: idx, conn: conn, err: err}:
	case <-r.doneCh:
		if conn != nil {
			_ = conn.Close()
		}
	}
}

func (r *Reactor) handleAccept(conn net.Conn) {
	r.register(conn, nil, false)
}

func (r *Reactor) handleConnectResult(res connectResult) {
	c := r.connectors[res.peerIdx]
	c.dialing = false
	if res.err != nil {
		r.log.Warnf("connect to %s failed: %v", c.dialAddress(), res.err)
		c.scheduleRetry(time.Now())
		return
	}
	r.register(res.conn, c, true)
}

func (r *Reactor) register(conn net.Conn, c *connector, outbound bool) {
	id := r.nextID
	r.nextID++

	session := NewSession(conn, r.storage.Identifier(), r.storage, r.log, r.metrics, r.cfg.EntryMaxSize, r.cfg.BufferCap(), r.cfg.HeartBeatInterval, outbound)
	session.OnHandshake = func(remote types.NodeID) error {
		if existing, ok := r.byRemote[remote]; ok && existing != id {
			return fmt.Errorf("%w: %d already has an active session", ErrHandshakeRejected, remote)
		}
		r.byRemote[remote] = id
		return nil
	}

	r.sessions[id] = &sessionEntry{session: session, connector: c}
	r.metrics.SessionOpened()

	if err := session.SendWelcome(); err != nil {
		r.closeSession(id, err)
		return
	}

	go r.readLoop(id, conn)
}

func (r *Reactor) handleReadEvent(ev readEvent) {
	entry, ok := r.sessions[ev.id]
	if !ok {
		return
	}
	if ev.err != nil {
		r.closeSession(ev.id, fmt.Errorf("%w: %v", ErrDisconnected, ev.err))
		return
	}
	if err := entry.session.OnReadable(ev.data); err != nil {
		r.closeSession(ev.id, err)
		return
	}
	if err := entry.session.Flush(); err != nil {
		r.closeSession(ev.id, err)
	}
}

func (r *Reactor) tick(now time.Time) {
	for id, entry := range r.sessions {
		session := entry.session
		if session.Phase() == Replicating {
			if shouldClose := session.MaybeHeartbeat(now); shouldClose {
				r.closeSession(id, fmt.Errorf("%w: read timeout", ErrDisconnected))
				continue
			}
			if err := session.DrainIterator(); err != nil {
				r.closeSession(id, err)
				continue
			}
		}
		if session.HasPendingWrite() {
			if err := session.Flush(); err != nil {
				r.closeSession(id, err)
			}
		}
	}

	for idx, c := range r.connectors {
		if !c.ready(now) {
			continue
		}
		if _, connected := r.connectorHasSession(c); connected {
			continue
		}
		c.dialing = true
		go r.dial(idx, c)
	}
}

func (r *Reactor) connectorHasSession(c *connector) (int, bool) {
	for id, entry := range r.sessions {
		if entry.connector == c {
			return id, true
		}
	}
	return 0, false
}

func (r *Reactor) closeSession(id int, cause error) {
	entry, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	if entry.session.RemoteID() != 0 {
		if current, ok := r.byRemote[entry.session.RemoteID()]; ok && current == id {
			delete(r.byRemote, entry.session.RemoteID())
		}
	}
	r.log.Warnf("session %d closing: %v", id, cause)
	entry.session.Close()
	r.metrics.SessionClosed()

	if entry.connector != nil {
		entry.connector.scheduleRetry(time.Now())
	}
}

func (r *Reactor) shutdown() {
	if r.listener != nil {
		_ = r.listener.Close()
	}
	for id := range r.sessions {
		entry := r.sessions[id]
		entry.session.Close()
		r.metrics.SessionClosed()
	}
	r.sessions = make(map[int]*sessionEntry)
	r.byRemote = make(map[types.NodeID]int)
}
