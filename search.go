package sshash

import (
	"bytes"
	"encoding/binary"
	"math/bits"
)

// separatedValue parses the (varint length, payload) pair at extend[off:]
// and returns the payload. The second result is false when the encoding runs
// past the end of the artifact.
func separatedValue(extend []byte, off uint64) ([]byte, bool) {
	var length uint64
	for sft := uint(0); sft < maxValueLenBits; sft += 7 {
		if off >= uint64(len(extend)) {
			return nil, false
		}
		b := extend[off]
		off++
		if b&0x80 != 0 {
			length |= uint64(b&0x7f) << sft
		} else {
			length |= uint64(b) << sft
			if off+length > uint64(len(extend)) {
				return nil, false
			}
			return extend[off : off+length : off+length], true
		}
	}
	return nil, false
}

// calcHint builds the SWAR scan word for a group of 8 guide bytes: byte j of
// the result is non-zero iff guide byte j equals mark or has its high bit set
// (empty slot, which terminates the probe chain).
func calcHint(vec uint64, mark uint8) uint64 {
	const vone = 0x0101010101010101
	const vsign = 0x8080808080808080
	vmark := ^(vone * uint64(mark))
	match := (vec ^ vsign) & vsign & (((vec ^ vmark) &^ vsign) + vone)
	empty := vec & vsign
	return empty | match
}

// search probes for key and returns the slot's value field (the inline value
// for KVInline, the 6-byte extend offset for KVSeparated, an empty slice for
// KeySet), or nil on miss.
//
// The probe visits 64 slots of the home set starting at the hash-derived
// offset, scanning the guide 8 bytes at a time; an empty byte anywhere on
// the chain proves the key is absent. A saturated set spills to the next.
func (v *view) search(key []byte) []byte {
	set, mark, sft := hashKey(key, v.seed, v.setCnt)
	keyLen := uint64(v.keyLen)
	lineSize := uint64(v.lineSize)

	for {
		g := v.guide[set*slotsPerSet:]
		for j := uint32(sft); j < uint32(sft)+slotsPerSet; {
			off := uint64(j & 63)
			if j <= uint32(sft)+56 && off <= 56 {
				for hint := calcHint(binary.LittleEndian.Uint64(g[off:]), mark); hint != 0; hint &= hint - 1 {
					pos := off + uint64((bits.TrailingZeros64(hint)+1)>>3) - 1
					if g[pos] == mark {
						line := v.content[(set*slotsPerSet+pos)*lineSize:]
						if bytes.Equal(line[:keyLen], key) {
							return line[keyLen:lineSize:lineSize]
						}
					} else if g[pos]&0x80 != 0 {
						return nil
					}
				}
				j += 8
				continue
			}
			if g[off] == mark {
				line := v.content[(set*slotsPerSet+off)*lineSize:]
				if bytes.Equal(line[:keyLen], key) {
					return line[keyLen:lineSize:lineSize]
				}
			} else if g[off]&0x80 != 0 {
				return nil
			}
			j++
		}
		if set++; set >= v.setCnt.Value() {
			set = 0
		}
	}
}

// Search looks up key and returns its value.
//
// For KeySet artifacts a hit returns an empty, non-nil slice. For KVInline
// the returned slice aliases the artifact's value region. For KVSeparated it
// aliases the extend blob. The second result is false on miss; a nil or
// zero-value Hashtable misses cleanly.
func (ht *Hashtable) Search(key []byte) ([]byte, bool) {
	if !ht.valid() || len(key) != int(ht.view.keyLen) {
		return nil, false
	}
	field := ht.view.search(key)
	if field == nil {
		return nil, false
	}
	if ht.view.typ != KVSeparated {
		return field, true
	}
	return separatedValue(ht.view.extend, readOffsetField(field))
}
