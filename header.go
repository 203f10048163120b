package sshash

import (
	"encoding/binary"

	ssherrors "github.com/tamirms/sshash/errors"
)

const (
	// magic number for sshash artifacts: "SSHT" in little-endian
	magic = uint32(0x54485353)

	// headerSize is the exact size of the serialized header (64 bytes)
	headerSize = 64

	// slotsPerSet is the bucket width of the set-associative table.
	// The guide scan, the probe wrap mask and the start-offset extraction
	// all assume 64.
	slotsPerSet = 64

	// offsetFieldSize is the width of the extend-blob offset stored in a
	// KV_SEPARATED content line.
	offsetFieldSize = 6
	maxOffset       = uint64(1)<<(offsetFieldSize*8) - 1

	maxKeyLen         = 255
	maxInlineValueLen = 65535

	// maxValueLenBits bounds the varint length prefix in the extend blob
	// to 5 groups of 7 bits.
	maxValueLenBits = 35
	maxValueLen     = uint64(1)<<maxValueLenBits - 1

	// guide byte states: 0xff empty, high bit with any other pattern is the
	// build-time reservation sentinel, high bit clear is a 7-bit mark.
	slotEmpty    = uint8(0xff)
	slotReserved = uint8(0x80)

	// reserveFactor controls table headroom: one spare slot per 16 input
	// records, so the load factor stays at or below 16/17.
	reserveFactor = 16
)

// Type identifies the artifact mode. It is stored in the file header.
type Type uint8

const (
	// KeySet stores membership only; no value bytes.
	KeySet Type = 0

	// KVInline stores a fixed-length value adjacent to each key.
	KVInline Type = 1

	// KVSeparated stores variable-length values in a separate blob; the
	// table holds a 6-byte offset into it.
	KVSeparated Type = 2

	illegalType Type = 0xff
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case KeySet:
		return "key_set"
	case KVInline:
		return "kv_inline"
	case KVSeparated:
		return "kv_separated"
	default:
		return "illegal"
	}
}

// header is the 64-byte artifact header.
//
// Layout (little-endian):
//
//	Offset  Size  Field    Type
//	0       4     Magic    0x54485353 ("SSHT")
//	4       1     Type     uint8 (0=KeySet, 1=KVInline, 2=KVSeparated)
//	5       1     KeyLen   uint8
//	6       2     ValLen   uint16le
//	8       8     Seed     uint64le
//	16      8     Item     uint64le (entry count)
//	24      8     SetCnt   uint64le
//	32      32    Reserved [32]byte (zero)
type header struct {
	typ    Type
	keyLen uint8
	valLen uint16
	seed   uint64
	item   uint64
	setCnt uint64
}

// lineSize returns the content bytes per slot.
func (h *header) lineSize() uint32 {
	return uint32(h.keyLen) + uint32(h.valLen)
}

// slots returns the total slot count.
func (h *header) slots() uint64 {
	return h.setCnt * slotsPerSet
}

// encodeTo serializes the header into an existing 64-byte buffer.
func (h *header) encodeTo(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	buf[4] = uint8(h.typ)
	buf[5] = h.keyLen
	binary.LittleEndian.PutUint16(buf[6:8], h.valLen)
	binary.LittleEndian.PutUint64(buf[8:16], h.seed)
	binary.LittleEndian.PutUint64(buf[16:24], h.item)
	binary.LittleEndian.PutUint64(buf[24:32], h.setCnt)
	for i := 32; i < headerSize; i++ {
		buf[i] = 0
	}
}

// decodeHeader parses a 64-byte header.
func decodeHeader(buf []byte) (*header, error) {
	if len(buf) < headerSize {
		return nil, ssherrors.ErrTruncatedFile
	}

	if binary.LittleEndian.Uint32(buf[0:4]) != magic {
		return nil, ssherrors.ErrInvalidMagic
	}

	h := &header{
		typ:    Type(buf[4]),
		keyLen: buf[5],
		valLen: binary.LittleEndian.Uint16(buf[6:8]),
		seed:   binary.LittleEndian.Uint64(buf[8:16]),
		item:   binary.LittleEndian.Uint64(buf[16:24]),
		setCnt: binary.LittleEndian.Uint64(buf[24:32]),
	}

	if h.keyLen == 0 || h.setCnt == 0 {
		return nil, ssherrors.ErrInvalidArtifact
	}
	switch h.typ {
	case KeySet:
		if h.valLen != 0 {
			return nil, ssherrors.ErrInvalidArtifact
		}
	case KVInline:
		if h.valLen == 0 {
			return nil, ssherrors.ErrInvalidArtifact
		}
	case KVSeparated:
		if h.valLen != offsetFieldSize {
			return nil, ssherrors.ErrInvalidArtifact
		}
	default:
		return nil, ssherrors.ErrInvalidArtifact
	}

	return h, nil
}

// readOffsetField decodes the 6-byte little-endian extend offset stored in a
// KV_SEPARATED content line.
func readOffsetField(field []byte) uint64 {
	return uint64(binary.LittleEndian.Uint32(field)) |
		uint64(binary.LittleEndian.Uint16(field[4:]))<<32
}

// writeOffsetField encodes a 6-byte little-endian extend offset.
func writeOffsetField(field []byte, offset uint64) {
	binary.LittleEndian.PutUint32(field, uint32(offset))
	binary.LittleEndian.PutUint16(field[4:], uint16(offset>>32))
}
