package applog

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

func putFloat32(b []byte, f float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(f))
}

func getFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// encode serializes rec into the on-disk frame format:
//
//	kind:1 | txn_id:8 | timestamp:8 | is_vector:1 | key_len:4 | key | data_len:4 | data
func encode(rec Record) []byte {
	payload := rec.payloadBytes()
	total := headerSize + len(rec.Key) + dataLenFieldSize + len(payload)

	buf := make([]byte, total)
	off := 0

	buf[off] = byte(rec.Kind)
	off++

	binary.LittleEndian.PutUint64(buf[off:], rec.TxnID)
	off += 8

	binary.LittleEndian.PutUint64(buf[off:], rec.Timestamp)
	off += 8

	if rec.IsVector {
		buf[off] = 1
	}
	off++

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(rec.Key)))
	off += 4

	off += copy(buf[off:], rec.Key)

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(payload)))
	off += 4

	copy(buf[off:], payload)

	return buf
}

// errShortFrame signals a truncated frame at the end of the file; it is a
// logical end-of-file, not a corruption, per the recovery contract.
var errShortFrame = fmt.Errorf("applog: short frame at end of file")

// decode reads exactly one frame from r. At a clean end of input it returns
// io.EOF; on a partial/truncated trailing frame it returns an error wrapping
// errShortFrame, with the underlying read error included only as text.
func decode(r io.Reader) (Record, error) {
	var rec Record

	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		if err == io.EOF {
			return rec, io.EOF
		}
		return rec, fmt.Errorf("%w: %v", errShortFrame, err)
	}

	rec.Kind = Kind(hdr[0])
	rec.TxnID = binary.LittleEndian.Uint64(hdr[1:9])
	rec.Timestamp = binary.LittleEndian.Uint64(hdr[9:17])
	rec.IsVector = hdr[17] != 0
	keyLen := binary.LittleEndian.Uint32(hdr[18:22])

	rec.Key = make([]byte, keyLen)
	if _, err := io.ReadFull(r, rec.Key); err != nil {
		return rec, fmt.Errorf("%w: %v", errShortFrame, err)
	}

	var dataLenBuf [4]byte
	if _, err := io.ReadFull(r, dataLenBuf[:]); err != nil {
		return rec, fmt.Errorf("%w: %v", errShortFrame, err)
	}
	dataLen := binary.LittleEndian.Uint32(dataLenBuf[:])

	data := make([]byte, dataLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return rec, fmt.Errorf("%w: %v", errShortFrame, err)
	}

	if rec.IsVector {
		if dataLen%4 != 0 {
			return rec, fmt.Errorf("%w: vector payload not a multiple of 4 bytes", errShortFrame)
		}
		rec.Vector = make([]float32, dataLen/4)
		for i := range rec.Vector {
			rec.Vector[i] = getFloat32(data[i*4:])
		}
	} else {
		rec.Value = data
	}

	return rec, nil
}
