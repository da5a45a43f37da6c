// Package storage provides the default in-memory implementation of the
// types.Storage contract consumed by the replication engine (spec §6.1).
// It is the concrete stand-in for the "black box" the core specification
// treats as an external collaborator: a hash table keyed by the map's own
// keys, a slot table for the modification bitsets to index into, and one
// Bitset per remote peer.
package storage

import (
	"fmt"
	"sync"

	"github.com/kvmesh/kvmesh/pkg/kvmesh/core"
	"github.com/kvmesh/kvmesh/pkg/kvmesh/types"
)

// SlotMap is a single node's replica of the shared map.
type SlotMap struct {
	mutex sync.RWMutex

	id    types.NodeID
	clock *Clock

	slots   []types.Entry
	present []bool
	byKey   map[string]int

	lastModification uint64

	peersMutex sync.Mutex
	peers      map[types.NodeID]*peerIterator
}

// NewSlotMap creates an empty map replica for the given local identifier.
func NewSlotMap(id types.NodeID) *SlotMap {
	return &SlotMap{
		id:    id,
		clock: NewClock(),
		byKey: make(map[string]int),
		peers: make(map[types.NodeID]*peerIterator),
	}
}

// Identifier implements types.Storage.
func (s *SlotMap) Identifier() types.NodeID {
	return s.id
}

// LastModification implements types.Storage.
func (s *SlotMap) LastModification() uint64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastModification
}

// ReadSlot implements types.Storage.
func (s *SlotMap) ReadSlot(slot int) (types.Entry, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if slot < 0 || slot >= len(s.slots) || !s.present[slot] {
		return types.Entry{}, false
	}
	return s.slots[slot].Clone(), true
}

// ModificationIteratorFor implements types.Storage. Calling it twice for
// the same remote returns the same iterator instance.
func (s *SlotMap) ModificationIteratorFor(remote types.NodeID) types.ModificationIterator {
	s.peersMutex.Lock()
	defer s.peersMutex.Unlock()
	if it, ok := s.peers[remote]; ok {
		return it
	}
	bits := types.NewBitset()
	s.mutex.RLock()
	bits.Grow(len(s.slots))
	s.mutex.RUnlock()
	it := &peerIterator{owner: s, bits: bits}
	s.peers[remote] = it
	return it
}

// ApplyIncoming implements types.Storage: it runs the merge rule and, on a
// win, installs the entry without tagging any peer's bit (incoming updates
// are not re-broadcast by the receiver).
func (s *SlotMap) ApplyIncoming(entry types.Entry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	slot, existed := s.byKey[string(entry.Key)]
	var local types.Entry
	if existed {
		local = s.slots[slot]
	}
	if !core.MergeWins(local, existed, entry) {
		return nil
	}

	if !existed {
		slot = s.allocateLocked(entry.Key)
	}
	s.slots[slot] = entry.Clone()
	s.present[slot] = true
	if entry.Timestamp > s.lastModification {
		s.lastModification = entry.Timestamp
	}
	s.clock.Observe(entry.Timestamp)
	return nil
}

// Put applies a local write, stamping it with the node's clock and tagging
// every known peer's modification bit for the slot before the write
// returns, per the first invariant of spec §3.
func (s *SlotMap) Put(key, value []byte) (types.Entry, error) {
	return s.mutateLocal(key, value, false)
}

// Remove applies a local tombstone.
func (s *SlotMap) Remove(key []byte) (types.Entry, error) {
	return s.mutateLocal(key, nil, true)
}

func (s *SlotMap) mutateLocal(key, value []byte, tombstone bool) (types.Entry, error) {
	if len(key) == 0 {
		return types.Entry{}, fmt.Errorf("kvmesh: empty key")
	}
	entry := types.Entry{
		Key:       append([]byte(nil), key...),
		Tombstone: tombstone,
		Timestamp: s.clock.Next(),
		Modifier:  s.id,
	}
	if !tombstone {
		entry.Value = append([]byte(nil), value...)
	}

	s.mutex.Lock()
	slot, existed := s.byKey[string(key)]
	if !existed {
		slot = s.allocateLocked(entry.Key)
	}
	s.slots[slot] = entry
	s.present[slot] = true
	if entry.Timestamp > s.lastModification {
		s.lastModification = entry.Timestamp
	}
	s.mutex.Unlock()

	s.tagPeers(slot)
	return entry, nil
}

// allocateLocked assigns a fresh slot for key. Callers must hold s.mutex.
func (s *SlotMap) allocateLocked(key []byte) int {
	slot := len(s.slots)
	s.slots = append(s.slots, types.Entry{})
	s.present = append(s.present, false)
	s.byKey[string(key)] = slot

	s.peersMutex.Lock()
	for _, it := range s.peers {
		it.bits.Grow(slot + 1)
	}
	s.peersMutex.Unlock()

	return slot
}

// tagPeers sets slot dirty for every peer iterator currently known. New
// peers registered after this call bootstrap via DirtyEntriesFrom instead.
func (s *SlotMap) tagPeers(slot int) {
	s.peersMutex.Lock()
	defer s.peersMutex.Unlock()
	for _, it := range s.peers {
		it.bits.Set(slot)
	}
}

// Snapshot returns every live (non-tombstoned) key/value pair currently
// held, for tests and FastRead-style callers.
func (s *SlotMap) Snapshot() map[string][]byte {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make(map[string][]byte)
	for key, slot := range s.byKey {
		if !s.present[slot] {
			continue
		}
		entry := s.slots[slot]
		if entry.Tombstone {
			continue
		}
		out[key] = append([]byte(nil), entry.Value...)
	}
	return out
}

// slotCount reports how many slots currently exist; used by
// DirtyEntriesFrom to bound its scan.
func (s *SlotMap) slotCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.slots)
}
