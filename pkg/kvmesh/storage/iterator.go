package storage

import "github.com/kvmesh/kvmesh/pkg/kvmesh/types"

// peerIterator is the default types.ModificationIterator: a per-remote
// cursor over the owning SlotMap's slots, backed by a types.Bitset
// (spec §4.2).
type peerIterator struct {
	owner *SlotMap
	bits  *types.Bitset
}

// NextEntry implements types.ModificationIterator. Fairness is by slot, not
// by timestamp — the iterator does not deliver updates in the order they
// occurred, which is safe because the merge rule is commutative.
func (p *peerIterator) NextEntry(sink func(types.Entry) error) (bool, error) {
	slot, ok := p.bits.Next()
	if !ok {
		return false, nil
	}

	entry, present := p.owner.ReadSlot(slot)
	if !present {
		// The slot was allocated but never actually written; nothing to
		// send. The bit stays cleared, there's nothing to retry.
		return false, nil
	}

	if err := sink(entry); err != nil {
		p.bits.Set(slot)
		return false, err
	}
	return true, nil
}

// DirtyEntriesFrom implements types.ModificationIterator.
func (p *peerIterator) DirtyEntriesFrom(since uint64) {
	total := p.owner.slotCount()
	for slot := 0; slot < total; slot++ {
		entry, present := p.owner.ReadSlot(slot)
		if present && entry.Timestamp >= since {
			p.bits.Set(slot)
		}
	}
}
