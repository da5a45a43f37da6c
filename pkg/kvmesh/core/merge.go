package core

import "github.com/kvmesh/kvmesh/pkg/kvmesh/types"

// MergeWins implements the merge rule of spec §4.7: given a local entry
// (localPresent is false when the key has never been seen) and an incoming
// entry for the same key, decides whether the incoming entry should be
// installed.
//
//  1. If the local entry is absent, the incoming entry always wins.
//  2. Otherwise compare (incoming.Timestamp, incoming.Modifier)
//     lexicographically against (local.Timestamp, local.Modifier).
//  3. The incoming entry wins only if strictly greater; ties and regressions
//     are discarded, so the local view of a key never moves backwards.
//
// Tombstones are ordinary values for this comparison; the storage layer
// owns eventual tombstone garbage collection, out of scope here.
func MergeWins(local types.Entry, localPresent bool, incoming types.Entry) bool {
	if !localPresent {
		return true
	}
	if incoming.Timestamp != local.Timestamp {
		return incoming.Timestamp > local.Timestamp
	}
	return incoming.Modifier > local.Modifier
}
