package types

// Storage is the external collaborator the replication engine depends on.
// It owns the hash-table storage and any on-disk persistence; the engine
// never reaches inside it beyond this contract (spec §6.1).
//
// Implementations must make ReadSlot safe to call concurrently with
// ApplyIncoming and with the application's own writes: the reactor goroutine
// reads slots while the application goroutine mutates them.
type Storage interface {
	// Identifier returns this node's own identifier, embedded in the
	// handshake welcome record.
	Identifier() NodeID

	// LastModification returns the highest Timestamp ever stored locally,
	// across all keys, including keys later tombstoned. Used as the
	// handshake's lastSeenTimestamp.
	LastModification() uint64

	// ModificationIteratorFor returns the modification iterator bound to a
	// remote identifier. Calling it twice for the same identifier returns
	// the same iterator instance (idempotent), so a session that
	// reconnects resumes the same cursor and pending bitset.
	ModificationIteratorFor(remote NodeID) ModificationIterator

	// ReadSlot loads the entry currently occupying a slot index. Slot
	// indices are only meaningful in combination with a ModificationIterator
	// obtained from this same Storage.
	ReadSlot(slot int) (Entry, bool)

	// ApplyIncoming installs entry if it wins the merge rule against the
	// current local value for entry.Key. It must not tag any peer's
	// modification bit for this slot (incoming updates are not
	// re-broadcast by the receiver).
	ApplyIncoming(entry Entry) error
}

// ModificationIterator is a per-remote-peer cursor over locally changed
// slots (spec §4.2).
type ModificationIterator interface {
	// NextEntry scans the bound peer's bitset starting at the cursor,
	// wrapping at most once. If it finds a set slot it clears the bit,
	// loads the entry, and hands it to sink. If sink returns an error the
	// bit is re-set so the entry is retried. NextEntry reports whether an
	// entry was delivered.
	NextEntry(sink func(Entry) error) (bool, error)

	// DirtyEntriesFrom bulk-sets every bit whose slot has a Timestamp
	// greater than or equal to since. Used to seed a newly bootstrapped
	// remote peer.
	DirtyEntriesFrom(since uint64)
}
