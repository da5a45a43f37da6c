package core

import (
	"testing"

	"github.com/kvmesh/kvmesh/pkg/kvmesh/types"
)

func TestMergeWinsAbsentLocalAlwaysWins(t *testing.T) {
	incoming := types.Entry{Timestamp: 1, Modifier: 1}
	if !MergeWins(types.Entry{}, false, incoming) {
		t.Fatal("expected incoming to win when local is absent")
	}
}

func TestMergeWinsHigherTimestampWins(t *testing.T) {
	local := types.Entry{Timestamp: 5, Modifier: 9}
	incoming := types.Entry{Timestamp: 6, Modifier: 1}
	if !MergeWins(local, true, incoming) {
		t.Fatal("expected higher timestamp to win regardless of modifier")
	}
}

func TestMergeWinsLowerTimestampLoses(t *testing.T) {
	local := types.Entry{Timestamp: 6, Modifier: 1}
	incoming := types.Entry{Timestamp: 5, Modifier: 9}
	if MergeWins(local, true, incoming) {
		t.Fatal("expected lower timestamp to lose")
	}
}

func TestMergeWinsTieBrokenByModifier(t *testing.T) {
	local := types.Entry{Timestamp: 5, Modifier: 2}
	higher := types.Entry{Timestamp: 5, Modifier: 3}
	lower := types.Entry{Timestamp: 5, Modifier: 1}

	if !MergeWins(local, true, higher) {
		t.Fatal("expected higher modifier to win on timestamp tie")
	}
	if MergeWins(local, true, lower) {
		t.Fatal("expected lower modifier to lose on timestamp tie")
	}
}

func TestMergeWinsExactTieDiscarded(t *testing.T) {
	local := types.Entry{Timestamp: 5, Modifier: 2}
	same := types.Entry{Timestamp: 5, Modifier: 2}
	if MergeWins(local, true, same) {
		t.Fatal("expected an identical (timestamp, modifier) pair to not win")
	}
}
