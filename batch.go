package sshash

import (
	"bytes"
	"encoding/binary"
	"math/bits"
	"unsafe"
)

// cacheBlockSize is the assumed cache line size for prefetch scheduling.
// Must be a power of two >= 64.
const cacheBlockSize = 64

// batchWindow is the number of concurrently in-flight probes. Each probe
// alternates between issuing a prefetch and consuming the line it prefetched
// one round earlier, so the window needs to be deep enough to cover a main
// memory access with 15 other probes' work.
const batchWindow = 16

// probeState is one in-flight probe of the batch pipeline.
type probeState struct {
	idx  int
	set  uint64
	cur  uint32
	sft  uint8
	mark uint8
	// line, when non-nil, is a content row whose guide byte matched; the
	// key compare happens on the next visit, after the prefetch landed.
	line []byte
	pack *view
}

// bind points a probe at pack and restarts it from the key's home set.
func (st *probeState) bind(pack *view, key []byte) {
	st.pack = pack
	set, mark, sft := hashKey(key, pack.seed, pack.setCnt)
	st.set = set
	st.mark = mark
	st.sft = sft
	st.cur = uint32(sft)
	st.line = nil
	prefetchNext(unsafe.Pointer(&pack.guide[set*slotsPerSet]))
}

// prefetchLine pulls a content row toward the cache. When the row straddles
// a cache line boundary, the spill line is fetched with high temporal
// locality if the key spans it (the compare will touch it), otherwise with
// low temporal locality (only a hit's value copy would).
func prefetchLine(line []byte, keyLen, lineSize uint32) {
	p := uintptr(unsafe.Pointer(&line[0]))
	prefetchNext(unsafe.Pointer(p))
	off := uint32(p & (cacheBlockSize - 1))
	blk := unsafe.Pointer(p&^uintptr(cacheBlockSize-1) + cacheBlockSize)
	if off+keyLen > cacheBlockSize {
		prefetchNext(blk)
	} else if off+lineSize > cacheBlockSize {
		prefetchFuture(blk)
	}
}

// batchProcess runs the windowed lookup pipeline over batch queries.
// getKey returns query i's key; fill is invoked exactly once per query with
// the value field on hit, or dftVal on miss. When patch is non-nil each
// probe starts there and rebinds to base after a patch miss.
func batchProcess(base, patch *view, batch int,
	getKey func(i int) []byte, fill func(i int, val []byte), dftVal []byte) int {
	if base.typ == KVSeparated || (patch != nil &&
		(patch.typ != base.typ || patch.keyLen != base.keyLen || patch.valLen != base.valLen)) {
		return 0
	}
	if patch == base {
		patch = nil
	}

	first := base
	if patch != nil {
		first = patch
	}

	keyLen := uint32(base.keyLen)
	lineSize := uint32(base.lineSize)

	var states [batchWindow]probeState
	window := batch
	if window > batchWindow {
		window = batchWindow
	}

	hit := 0
	idx := 0
	for ; idx < window; idx++ {
		states[idx].idx = idx
		states[idx].bind(first, getKey(idx))
	}

	for window > 0 {
		for i := 0; i < window; {
			st := &states[i]
			reload := false

			if st.line != nil {
				if bytes.Equal(getKey(st.idx), st.line[:keyLen]) {
					hit++
					fill(st.idx, st.line[keyLen:lineSize:lineSize])
					reload = true
				} else {
					st.line = nil
				}
			} else {
				reload = st.scan(base, patch, fill, dftVal, keyLen, lineSize, getKey)
			}

			if !reload {
				i++
				continue
			}
			if idx < batch {
				st.idx = idx
				st.bind(first, getKey(idx))
				idx++
				i++
			} else {
				window--
				*st = states[window]
			}
		}
	}
	return hit
}

// scan advances one probe until it stages a candidate line, steps to the
// next set, or resolves as a miss. It returns true when the probe finished
// (miss filled) and the pipeline slot should be reloaded.
func (st *probeState) scan(base, patch *view, fill func(i int, val []byte),
	dftVal []byte, keyLen, lineSize uint32, getKey func(i int) []byte) bool {
	g := st.pack.guide[st.set*slotsPerSet:]
	for st.cur < uint32(st.sft)+slotsPerSet {
		off := uint64(st.cur & 63)
		if st.cur <= uint32(st.sft)+56 && off <= 56 {
			hint := calcHint(binary.LittleEndian.Uint64(g[off:]), st.mark)
			if hint == 0 {
				st.cur += 8
				continue
			}
			step := uint32(bits.TrailingZeros64(hint)+1) >> 3
			off += uint64(step) - 1
			st.cur += step
		} else {
			st.cur++
		}
		if g[off] == st.mark {
			line := st.pack.content[(st.set*slotsPerSet+off)*uint64(lineSize):]
			st.line = line[:lineSize:lineSize]
			prefetchLine(st.line, keyLen, lineSize)
			return false
		} else if g[off]&0x80 != 0 {
			if st.pack == patch {
				st.bind(base, getKey(st.idx))
				return false
			}
			fill(st.idx, dftVal)
			return true
		}
	}
	// Set exhausted without a terminator: spill to the next set.
	st.cur = uint32(st.sft)
	if st.set++; st.set >= st.pack.setCnt.Value() {
		st.set = 0
	}
	prefetchNext(unsafe.Pointer(&st.pack.guide[st.set*slotsPerSet]))
	return false
}

// BatchSearch looks up len(keys) keys and stores each hit's value field in
// out (nil on miss), returning the hit count. KeySet hits store an empty,
// non-nil slice. out must be at least as long as keys; keys and out may be
// the same slice.
//
// When patch is non-nil and compatible (same type, key and value lengths,
// neither side KVSeparated), it is probed first and its hits win over the
// base. An incompatible combination returns 0 without touching out.
func (ht *Hashtable) BatchSearch(keys [][]byte, out [][]byte, patch *Hashtable) int {
	if !ht.valid() || len(keys) == 0 || len(out) < len(keys) {
		return 0
	}
	var pv *view
	if patch != nil && patch.valid() {
		pv = &patch.view
	}
	return batchProcess(&ht.view, pv, len(keys),
		func(i int) []byte { return keys[i] },
		func(i int, val []byte) { out[i] = val },
		nil)
}

// BatchFetch is the packed-array specialization for KVInline artifacts:
// keys holds batch keys of KeyLen bytes each, out receives batch values of
// ValLen bytes each. On miss the value row is set to dftVal when non-nil and
// left untouched otherwise. Returns the hit count.
func (ht *Hashtable) BatchFetch(keys []byte, out []byte, dftVal []byte, patch *Hashtable) int {
	if !ht.valid() || ht.view.typ != KVInline {
		return 0
	}
	keyLen := int(ht.view.keyLen)
	valLen := int(ht.view.valLen)
	if len(keys)%keyLen != 0 {
		return 0
	}
	batch := len(keys) / keyLen
	if batch == 0 || len(out) < batch*valLen {
		return 0
	}
	if dftVal != nil && len(dftVal) < valLen {
		return 0
	}
	var pv *view
	if patch != nil && patch.valid() {
		pv = &patch.view
	}
	return batchProcess(&ht.view, pv, batch,
		func(i int) []byte { return keys[i*keyLen : (i+1)*keyLen] },
		func(i int, val []byte) {
			if val != nil {
				copy(out[i*valLen:(i+1)*valLen], val[:valLen])
			}
		},
		dftVal)
}
