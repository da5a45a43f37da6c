package core

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kvmesh/kvmesh/pkg/kvmesh/types"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	e := types.Entry{Key: []byte("key"), Value: []byte("value"), Timestamp: 42, Modifier: 7}

	var buf bytes.Buffer
	n, err := Serialize(e, &buf)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if n != buf.Len() {
		t.Fatalf("reported length %d does not match buffer length %d", n, buf.Len())
	}

	got, err := Deserialize(buf.Bytes())
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if got.Tombstone {
		t.Fatal("expected a live value, got tombstone")
	}
	if string(got.Key) != "key" || string(got.Value) != "value" || got.Timestamp != 42 || got.Modifier != 7 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestSerializeDeserializeTombstone(t *testing.T) {
	e := types.Entry{Key: []byte("key"), Tombstone: true, Timestamp: 1, Modifier: 1}

	var buf bytes.Buffer
	if _, err := Serialize(e, &buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	got, err := Deserialize(buf.Bytes())
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if !got.Tombstone || len(got.Value) != 0 {
		t.Fatalf("expected tombstone with no value, got %+v", got)
	}
}

func TestDeserializeRejectsTruncatedRecord(t *testing.T) {
	e := types.Entry{Key: []byte("key"), Value: []byte("value"), Timestamp: 1, Modifier: 1}
	var buf bytes.Buffer
	if _, err := Serialize(e, &buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	truncated := buf.Bytes()[:buf.Len()-2]
	if _, err := Deserialize(truncated); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDeserializeRejectsTrailingBytes(t *testing.T) {
	e := types.Entry{Key: []byte("key"), Value: []byte("value"), Timestamp: 1, Modifier: 1}
	var buf bytes.Buffer
	if _, err := Serialize(e, &buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	buf.WriteByte(0xFF)

	if _, err := Deserialize(buf.Bytes()); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame for trailing bytes, got %v", err)
	}
}

type stubStorage struct {
	applied []types.Entry
	reject  error
}

func (s *stubStorage) Identifier() types.NodeID        { return 1 }
func (s *stubStorage) LastModification() uint64        { return 0 }
func (s *stubStorage) ReadSlot(int) (types.Entry, bool) { return types.Entry{}, false }
func (s *stubStorage) ModificationIteratorFor(types.NodeID) types.ModificationIterator {
	return &stubIterator{}
}

// stubIterator is a no-op types.ModificationIterator for tests that only
// need a session to reach Replicating, not to actually drain anything.
type stubIterator struct{}

func (stubIterator) NextEntry(func(types.Entry) error) (bool, error) { return false, nil }
func (stubIterator) DirtyEntriesFrom(uint64)                         {}
func (s *stubStorage) ApplyIncoming(e types.Entry) error {
	if s.reject != nil {
		return s.reject
	}
	s.applied = append(s.applied, e)
	return nil
}

func TestApplyIncomingPropagatesStorageError(t *testing.T) {
	storage := &stubStorage{reject: errors.New("boom")}
	x := NewExternalizer(storage, noopLogger{}, NoopMetrics{})

	e := types.Entry{Key: []byte("k"), Value: []byte("v"), Timestamp: 1, Modifier: 1}
	var buf bytes.Buffer
	if _, err := Serialize(e, &buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	if err := x.ApplyIncoming(buf.Bytes()); !errors.Is(err, ErrStorageError) {
		t.Fatalf("expected ErrStorageError, got %v", err)
	}
}

func TestApplyIncomingInstallsOnSuccess(t *testing.T) {
	storage := &stubStorage{}
	x := NewExternalizer(storage, noopLogger{}, NoopMetrics{})

	e := types.Entry{Key: []byte("k"), Value: []byte("v"), Timestamp: 1, Modifier: 1}
	var buf bytes.Buffer
	if _, err := Serialize(e, &buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	if err := x.ApplyIncoming(buf.Bytes()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(storage.applied) != 1 {
		t.Fatalf("expected one applied entry, got %d", len(storage.applied))
	}
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}
