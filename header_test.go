// header_test.go tests header serialization, loader validation, and the
// 6-byte offset field codec.
package sshash

import (
	"encoding/binary"
	"errors"
	"testing"

	ssherrors "github.com/tamirms/sshash/errors"
)

func TestHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		h    header
	}{
		{"key_set", header{typ: KeySet, keyLen: 8, valLen: 0, seed: 42, item: 256, setCnt: 5}},
		{"kv_inline", header{typ: KVInline, keyLen: 4, valLen: 2, seed: 1, item: 9, setCnt: 1}},
		{"kv_separated", header{typ: KVSeparated, keyLen: 16, valLen: 6, seed: 0xDEAD, item: 1000, setCnt: 17}},
		{"max_lens", header{typ: KVInline, keyLen: 255, valLen: 65535, seed: ^uint64(0), item: 1, setCnt: 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf [headerSize]byte
			tc.h.encodeTo(buf[:])
			if got := binary.LittleEndian.Uint32(buf[:4]); got != magic {
				t.Fatalf("magic: got 0x%08x, want 0x%08x", got, magic)
			}
			got, err := decodeHeader(buf[:])
			if err != nil {
				t.Fatalf("decodeHeader: %v", err)
			}
			if *got != tc.h {
				t.Errorf("round trip mismatch: got %+v, want %+v", *got, tc.h)
			}
		})
	}
}

func TestHeaderReservedZero(t *testing.T) {
	h := header{typ: KVInline, keyLen: 8, valLen: 4, seed: 7, item: 3, setCnt: 1}
	buf := make([]byte, headerSize)
	for i := range buf {
		buf[i] = 0xAA // dirty buffer: encodeTo must clear the padding
	}
	h.encodeTo(buf)
	for i := 32; i < headerSize; i++ {
		if buf[i] != 0 {
			t.Fatalf("reserved byte %d not zeroed: 0x%02x", i, buf[i])
		}
	}
}

func TestDecodeHeaderRejects(t *testing.T) {
	valid := func() []byte {
		h := header{typ: KVInline, keyLen: 8, valLen: 4, seed: 7, item: 3, setCnt: 1}
		buf := make([]byte, headerSize)
		h.encodeTo(buf)
		return buf
	}

	tests := []struct {
		name    string
		mutate  func(buf []byte)
		wantErr error
	}{
		{"short buffer", func(buf []byte) {}, ssherrors.ErrTruncatedFile},
		{"bad magic", func(buf []byte) { buf[0] ^= 0xFF }, ssherrors.ErrInvalidMagic},
		{"unknown type", func(buf []byte) { buf[4] = 3 }, ssherrors.ErrInvalidArtifact},
		{"illegal type", func(buf []byte) { buf[4] = 0xFF }, ssherrors.ErrInvalidArtifact},
		{"zero key len", func(buf []byte) { buf[5] = 0 }, ssherrors.ErrInvalidArtifact},
		{"zero set cnt", func(buf []byte) {
			binary.LittleEndian.PutUint64(buf[24:32], 0)
		}, ssherrors.ErrInvalidArtifact},
		{"key_set with value", func(buf []byte) {
			buf[4] = uint8(KeySet)
		}, ssherrors.ErrInvalidArtifact},
		{"kv_inline without value", func(buf []byte) {
			binary.LittleEndian.PutUint16(buf[6:8], 0)
		}, ssherrors.ErrInvalidArtifact},
		{"kv_separated wrong field size", func(buf []byte) {
			buf[4] = uint8(KVSeparated)
			binary.LittleEndian.PutUint16(buf[6:8], 8)
		}, ssherrors.ErrInvalidArtifact},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := valid()
			tc.mutate(buf)
			if tc.name == "short buffer" {
				buf = buf[:headerSize-1]
			}
			if _, err := decodeHeader(buf); !errors.Is(err, tc.wantErr) {
				t.Errorf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestOffsetFieldRoundTrip(t *testing.T) {
	offsets := []uint64{0, 1, 0xFFFF, 0x10000, 0xFFFFFFFF, 0x100000000, maxOffset}
	var field [offsetFieldSize]byte
	for _, off := range offsets {
		writeOffsetField(field[:], off)
		if got := readOffsetField(field[:]); got != off {
			t.Errorf("offset field round trip: got 0x%x, want 0x%x", got, off)
		}
	}
}

func TestCalcSetCnt(t *testing.T) {
	for _, item := range []uint64{1, 2, 63, 64, 65, 100, 1000, 1 << 20, 190000} {
		setCnt := calcSetCnt(item)
		if setCnt%2 != 1 {
			t.Errorf("item=%d: setCnt %d is even", item, setCnt)
		}
		slots := setCnt * slotsPerSet
		if slots < item {
			t.Errorf("item=%d: %d slots cannot hold the input", item, slots)
		}
		// Headroom: at least one spare slot per 16 records.
		if slots < item+item/reserveFactor {
			t.Errorf("item=%d: %d slots lack the reserve headroom", item, slots)
		}
	}
	if got := calcSetCnt(1); got != 1 {
		t.Errorf("single record: setCnt got %d, want 1", got)
	}
}
