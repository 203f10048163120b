package sshash

import (
	"sync/atomic"
	"unsafe"
)

// guideTable is the mutable guide array used during build. Slot bytes are
// shared between builder goroutines, so all access goes through 32-bit
// atomics on the containing word; Go has no single-byte CAS.
//
// A slot byte moves through three states: 0xff (empty), 0x80 (reserved by
// the goroutine that won the CAS and is copying the content line), and the
// final 7-bit mark. Only the reserving goroutine may perform the
// reserved-to-mark transition.
type guideTable struct {
	words []uint32
}

// newGuideTable allocates a guide of the given slot count, all empty.
// The slot count is always a multiple of 64, so it divides evenly into
// 4-byte words.
func newGuideTable(slots uint64) *guideTable {
	words := make([]uint32, slots/4)
	for i := range words {
		words[i] = 0xffffffff
	}
	return &guideTable{words: words}
}

// bytes returns the guide as a byte slice for serialization. Must not be
// called while builder goroutines are running.
func (g *guideTable) bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&g.words[0])), len(g.words)*4)
}

// load returns the current state of slot i.
func (g *guideTable) load(i uint64) uint8 {
	w := atomic.LoadUint32(&g.words[i>>2])
	return uint8(w >> ((i & 3) * 8))
}

// reserve attempts the empty-to-reserved transition on slot i. It returns
// false as soon as the byte is observed non-empty; neighbouring bytes in the
// same word changing concurrently only retry the CAS.
func (g *guideTable) reserve(i uint64) bool {
	p := &g.words[i>>2]
	sft := (i & 3) * 8
	for {
		w := atomic.LoadUint32(p)
		if uint8(w>>sft) != slotEmpty {
			return false
		}
		nw := w&^(uint32(0xff)<<sft) | uint32(slotReserved)<<sft
		if atomic.CompareAndSwapUint32(p, w, nw) {
			return true
		}
	}
}

// publish performs the reserved-to-mark transition on slot i. The caller
// must hold the reservation; the CAS loop only absorbs concurrent writes to
// neighbouring bytes in the word.
func (g *guideTable) publish(i uint64, mark uint8) {
	p := &g.words[i>>2]
	sft := (i & 3) * 8
	for {
		w := atomic.LoadUint32(p)
		nw := w&^(uint32(0xff)<<sft) | uint32(mark)<<sft
		if atomic.CompareAndSwapUint32(p, w, nw) {
			return
		}
	}
}
