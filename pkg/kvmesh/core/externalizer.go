package core

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/kvmesh/kvmesh/pkg/kvmesh/types"
)

// flagHasValue is set in the wire payload's flags byte when the entry
// carries a live value; unset marks a tombstone (spec §6.2).
const flagHasValue byte = 1 << 0

// Externalizer serializes and deserializes entries, and applies incoming
// ones to local storage under the merge rule. It is unaware of any
// transport: callers own framing and delivery.
type Externalizer struct {
	storage types.Storage
	log     types.Logger
	metrics MetricsSink
}

// NewExternalizer binds an Externalizer to the storage it applies incoming
// entries against.
func NewExternalizer(storage types.Storage, log types.Logger, metrics MetricsSink) *Externalizer {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Externalizer{storage: storage, log: log, metrics: metrics}
}

// Serialize appends the wire representation of e to buf and returns the
// number of bytes written. The result is always >= 1; there is currently no
// case where this externalizer declines to serialize a well-formed entry,
// but callers must still treat a zero return as "nothing to send" per
// spec §4.1, since future externalizers (e.g. compression, redaction) may.
func Serialize(e types.Entry, buf *bytes.Buffer) (int, error) {
	if len(e.Key) > 0xFFFF {
		return 0, fmt.Errorf("%w: key length %d exceeds u16", ErrMalformedFrame, len(e.Key))
	}
	start := buf.Len()

	var keyLen [2]byte
	binary.BigEndian.PutUint16(keyLen[:], uint16(len(e.Key)))
	buf.Write(keyLen[:])
	buf.Write(e.Key)

	flags := byte(0)
	if !e.Tombstone {
		flags |= flagHasValue
	}
	buf.WriteByte(flags)

	if !e.Tombstone {
		var valLen [4]byte
		binary.BigEndian.PutUint32(valLen[:], uint32(len(e.Value)))
		buf.Write(valLen[:])
		buf.Write(e.Value)
	}

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], e.Timestamp)
	buf.Write(ts[:])
	buf.WriteByte(byte(e.Modifier))

	return buf.Len() - start, nil
}

// Deserialize decodes a single entry from a fully-framed record's payload.
// It returns ErrMalformedFrame if any declared length would read past the
// end of record.
func Deserialize(record []byte) (types.Entry, error) {
	r := bytes.NewReader(record)

	var keyLen uint16
	if err := binary.Read(r, binary.BigEndian, &keyLen); err != nil {
		return types.Entry{}, fmt.Errorf("%w: reading key length: %v", ErrMalformedFrame, err)
	}
	if int(keyLen) > r.Len() {
		return types.Entry{}, fmt.Errorf("%w: key length %d exceeds remaining %d", ErrMalformedFrame, keyLen, r.Len())
	}
	key := make([]byte, keyLen)
	if _, err := readFull(r, key); err != nil {
		return types.Entry{}, err
	}

	flags, err := r.ReadByte()
	if err != nil {
		return types.Entry{}, fmt.Errorf("%w: reading flags: %v", ErrMalformedFrame, err)
	}

	e := types.Entry{Key: key, Tombstone: flags&flagHasValue == 0}

	if !e.Tombstone {
		var valLen uint32
		if err := binary.Read(r, binary.BigEndian, &valLen); err != nil {
			return types.Entry{}, fmt.Errorf("%w: reading value length: %v", ErrMalformedFrame, err)
		}
		if int64(valLen) > int64(r.Len()) {
			return types.Entry{}, fmt.Errorf("%w: value length %d exceeds remaining %d", ErrMalformedFrame, valLen, r.Len())
		}
		value := make([]byte, valLen)
		if _, err := readFull(r, value); err != nil {
			return types.Entry{}, err
		}
		e.Value = value
	}

	if err := binary.Read(r, binary.BigEndian, &e.Timestamp); err != nil {
		return types.Entry{}, fmt.Errorf("%w: reading timestamp: %v", ErrMalformedFrame, err)
	}

	modifier, err := r.ReadByte()
	if err != nil {
		return types.Entry{}, fmt.Errorf("%w: reading modifier: %v", ErrMalformedFrame, err)
	}
	e.Modifier = types.NodeID(modifier)

	if r.Len() != 0 {
		return types.Entry{}, fmt.Errorf("%w: %d trailing bytes in record", ErrMalformedFrame, r.Len())
	}

	return e, nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	n, err := r.Read(buf)
	if err != nil || n != len(buf) {
		return n, fmt.Errorf("%w: short read", ErrMalformedFrame)
	}
	return n, nil
}

// ApplyIncoming decodes and applies a single record to local storage, per
// spec §4.1: it invokes the merge rule against the current local value for
// entry.Key and, if the incoming entry wins, installs it without tagging
// any other peer's modification bit for this slot (incoming updates are not
// re-broadcast by the receiver; that responsibility belongs to
// types.Storage.ApplyIncoming).
func (x *Externalizer) ApplyIncoming(record []byte) error {
	entry, err := Deserialize(record)
	if err != nil {
		return err
	}
	if err := x.storage.ApplyIncoming(entry); err != nil {
		x.metrics.EntryDropped()
		x.log.Errorf("storage rejected incoming entry %s: %v", entry, err)
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	x.metrics.EntryReceived()
	return nil
}
