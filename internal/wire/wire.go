package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version    byte = 1
	kindSealed byte = 1

	CounterSize = 8
)

var (
	ErrCorrupt = errors.New("gcache: corrupt payload")
	magic4     = [...]byte{'G', 'C', 'S', 'E'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// EncodeCounter stores n as a little-endian int64.
func EncodeCounter(n int64) []byte {
	b := make([]byte, CounterSize)
	binary.LittleEndian.PutUint64(b, uint64(n))
	return b
}

// DecodeCounter reads a little-endian int64. Absent or short values read as 0;
// bytes past the first eight are ignored.
func DecodeCounter(b []byte) int64 {
	if len(b) < CounterSize {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b[:CounterSize]))
}

// Sealed: magic(4) | ver(1) | kind(1=sealed) | ivLen(u8) | iv(ivLen) | ciphertext
func EncodeSealed(iv, ciphertext []byte) ([]byte, error) {
	if len(iv) == 0 || len(iv) > 0xFF {
		return nil, errors.New("gcache: invalid iv length")
	}
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 1 + len(iv) + len(ciphertext))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindSealed)
	buf.WriteByte(byte(len(iv)))
	buf.Write(iv)
	buf.Write(ciphertext)
	return buf.Bytes(), nil
}

// DecodeSealed returns slices into b (zero-copy).
func DecodeSealed(b []byte) (iv, ciphertext []byte, err error) {
	const hdr = 4 + 1 + 1 + 1
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindSealed {
		return nil, nil, ErrCorrupt
	}
	off := 6
	ivLen := int(b[off])
	off++
	if ivLen == 0 || ivLen > len(b)-off {
		return nil, nil, ErrCorrupt
	}
	iv = b[off : off+ivLen]
	off += ivLen
	return iv, b[off:], nil
}
