package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// recordHeaderSize is the length of the u16 length prefix every record on
// the reliable stream carries (spec §6.2). The optional 32-bit control
// record described in spec §4.3 belongs to a shared-ring-buffer storage
// variant this implementation does not provide (see DESIGN.md) and is not
// decoded here.
const recordHeaderSize = 2

// Decoder reassembles length-prefixed records out of arbitrarily chopped
// byte chunks. It buffers every fed byte that Next has not yet extracted,
// up to maxSize bytes, so a single Feed can leave several complete records
// buffered. Session extracts every complete record after each Feed, so
// between reads only a partially-framed record remains buffered.
type Decoder struct {
	buf     bytes.Buffer
	maxSize int
}

// NewDecoder creates a Decoder that refuses to grow its reassembly buffer
// past maxSize bytes (the per-session resource cap of spec §5).
func NewDecoder(maxSize int) *Decoder {
	return &Decoder{maxSize: maxSize}
}

// Feed appends newly-read bytes to the reassembly buffer. It returns
// ErrOversizedFrame if doing so would exceed the configured cap.
func (d *Decoder) Feed(chunk []byte) error {
	if d.buf.Len()+len(chunk) > d.maxSize {
		return ErrOversizedFrame
	}
	d.buf.Write(chunk)
	return nil
}

// Next extracts one complete record if the reassembly buffer holds enough
// bytes. heartbeat is true when the record is a zero-length heartbeat
// (spec §4.4); payload is nil in that case. ok is false when there is not
// yet a complete record buffered — this is not an error, the caller should
// simply wait for more bytes.
func (d *Decoder) Next() (payload []byte, heartbeat bool, ok bool, err error) {
	raw := d.buf.Bytes()
	if len(raw) < recordHeaderSize {
		return nil, false, false, nil
	}
	length := binary.BigEndian.Uint16(raw[:recordHeaderSize])
	total := recordHeaderSize + int(length)
	if total > d.maxSize {
		return nil, false, false, ErrOversizedFrame
	}
	if len(raw) < total {
		return nil, false, false, nil
	}

	if length == 0 {
		d.buf.Next(total)
		return nil, true, true, nil
	}

	record := make([]byte, length)
	copy(record, raw[recordHeaderSize:total])
	d.buf.Next(total)
	return record, false, true, nil
}

// EncodeRecord reserves the 2-byte length prefix in buf, lets fill append
// the payload directly to buf, then back-patches the prefix with the
// number of bytes fill wrote. If fill writes zero bytes (the externalizer
// declined), the reservation is rolled back and nothing is appended to buf
// at all, per spec §4.3.
func EncodeRecord(buf *bytes.Buffer, fill func(*bytes.Buffer) (int, error)) error {
	reservedAt := buf.Len()
	buf.Write([]byte{0, 0})

	n, err := fill(buf)
	if err != nil {
		buf.Truncate(reservedAt)
		return err
	}
	if n == 0 {
		buf.Truncate(reservedAt)
		return nil
	}
	if n > 0xFFFF {
		buf.Truncate(reservedAt)
		return fmt.Errorf("%w: record of %d bytes exceeds u16 length", ErrOversizedFrame, n)
	}

	out := buf.Bytes()
	binary.BigEndian.PutUint16(out[reservedAt:reservedAt+recordHeaderSize], uint16(n))
	return nil
}

// EncodeHeartbeat appends a zero-length heartbeat record to buf.
func EncodeHeartbeat(buf *bytes.Buffer) {
	buf.Write([]byte{0, 0})
}
