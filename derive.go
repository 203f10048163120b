package sshash

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	ssherrors "github.com/tamirms/sshash/errors"
	"github.com/tamirms/sshash/internal/divisor"
)

// countHit counts how many of reader's keys are already present in base,
// leaving the reader reset for the following mapping pass.
func countHit(base *view, reader DataReader) (uint64, error) {
	if err := reader.Reset(); err != nil {
		return 0, fmt.Errorf("%w: %w", ssherrors.ErrBadInput, err)
	}
	var hit uint64
	total := reader.Total()
	for i := uint64(0); i < total; i++ {
		rec, err := reader.Read(true)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ssherrors.ErrBadInput, err)
		}
		if rec.Key == nil || len(rec.Key) != int(base.keyLen) {
			return 0, ssherrors.ErrBadInput
		}
		if base.search(rec.Key) != nil {
			hit++
		}
	}
	if err := reader.Reset(); err != nil {
		return 0, fmt.Errorf("%w: %w", ssherrors.ErrBadInput, err)
	}
	return hit, nil
}

// deriveFixed rebuilds a KeySet or KVInline base with new streams folded in.
// New records are inserted first so they win every key collision; the base
// table is then swept in parallel ranges and surviving entries re-inserted
// (the mapping protocol silently skips the ones the new streams replaced).
func deriveFixed(base *view, in []DataReader, w DataWriter, seed uint64) error {
	var dirty atomic.Uint64
	var eg errgroup.Group
	for _, reader := range in {
		reader := reader
		eg.Go(func() error {
			hit, err := countHit(base, reader)
			if err != nil {
				return err
			}
			dirty.Add(hit)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	total := sumInputSize(in) + base.item - dirty.Load()
	h := &header{
		typ:    base.typ,
		keyLen: base.keyLen,
		valLen: base.valLen,
		seed:   seed,
		setCnt: calcSetCnt(total),
	}
	slots := h.slots()
	g := newGuideTable(slots)
	content := make([]byte, slots*uint64(h.lineSize()))

	var item atomic.Uint64
	var mg errgroup.Group
	for _, reader := range in {
		reader := reader
		mg.Go(func() error {
			cnt, err := mapStream(g, content, h, reader)
			if err != nil {
				return err
			}
			item.Add(cnt)
			return nil
		})
	}
	if err := mg.Wait(); err != nil {
		return err
	}

	baseSlots := base.setCnt.Value() * slotsPerSet
	lineSize := uint64(base.lineSize)
	workers := uint64(len(in))
	piece := baseSlots / workers
	remain := baseSlots % workers

	var sg errgroup.Group
	off := uint64(0)
	for i := uint64(0); i < workers; i++ {
		begin := off
		if i < remain {
			off += piece + 1
		} else {
			off += piece
		}
		end := off
		sg.Go(func() error {
			var cnt uint64
			setCnt := divisor.New(h.setCnt)
			for i := begin; i < end; i++ {
				if base.guide[i]&0x80 != 0 {
					continue
				}
				line := base.content[i*lineSize : (i+1)*lineSize]
				if mapKey(g, content, h, setCnt, line[:base.keyLen], func(out []byte) {
					copy(out, line)
				}) {
					cnt++
				}
			}
			item.Add(cnt)
			return nil
		})
	}
	if err := sg.Wait(); err != nil {
		return err
	}
	h.item = item.Load()

	if err := emitTable(h, g.bytes(), content, w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ssherrors.ErrFailToOutput, err)
	}
	return nil
}

func testBit(bitmap []uint64, pos uint64) bool {
	return bitmap[pos>>6]&(1<<(pos&63)) != 0
}

func setBit(bitmap []uint64, pos uint64) {
	bitmap[pos>>6] |= 1 << (pos & 63)
}

// deriveVaried rebuilds a KVSeparated base with new streams folded in.
// All passes are serial because extend offsets are assigned in a fixed
// order: new values in stream order, then surviving base values in slot
// order. A bitmap records which base slots survived, so the value dump pass
// can replay exactly the entries the mapping pass installed.
func deriveVaried(base *view, in []DataReader, w DataWriter, seed uint64) error {
	var dirty uint64
	for _, reader := range in {
		hit, err := countHit(base, reader)
		if err != nil {
			return err
		}
		dirty += hit
	}

	neo := sumInputSize(in)
	total := base.item + neo - dirty
	h := &header{
		typ:    base.typ,
		keyLen: base.keyLen,
		valLen: base.valLen,
		seed:   seed,
		setCnt: calcSetCnt(total),
	}
	slots := h.slots()
	g := newGuideTable(slots)
	content := make([]byte, slots*uint64(h.lineSize()))

	offset := uint64(0)
	for _, reader := range in {
		wrapped := newKeyOffReader(reader, offset)
		cnt, err := mapStream(g, content, h, wrapped)
		if err != nil {
			return err
		}
		h.item += cnt
		offset = wrapped.offset
	}
	if h.item != neo {
		return ssherrors.ErrBadInput
	}

	setCnt := divisor.New(h.setCnt)
	baseSlots := base.setCnt.Value() * slotsPerSet
	lineSize := uint64(base.lineSize)
	bitmap := make([]uint64, (baseSlots+63)/64)

	var badBase bool
	for i := uint64(0); i < baseSlots; i++ {
		if base.guide[i]&0x80 != 0 {
			continue
		}
		line := base.content[i*lineSize : (i+1)*lineSize]
		if mapKey(g, content, h, setCnt, line[:base.keyLen], func(out []byte) {
			copy(out, line[:base.keyLen])
			val, ok := separatedValue(base.extend, readOffsetField(line[base.keyLen:]))
			if !ok {
				badBase = true
				return
			}
			writeOffsetField(out[base.keyLen:], offset)
			offset += varintLen(uint64(len(val))) + uint64(len(val))
		}) {
			h.item++
			setBit(bitmap, i)
		}
		if badBase {
			return ssherrors.ErrBadInput
		}
	}

	if err := emitTable(h, g.bytes(), content, w); err != nil {
		return err
	}

	for _, reader := range in {
		if err := reader.Reset(); err != nil {
			return fmt.Errorf("%w: %w", ssherrors.ErrBadInput, err)
		}
		cnt := reader.Total()
		for i := uint64(0); i < cnt; i++ {
			rec, err := reader.Read(false)
			if err != nil {
				return fmt.Errorf("%w: %w", ssherrors.ErrBadInput, err)
			}
			if err := dumpVariedValue(rec.Val, w); err != nil {
				return err
			}
		}
	}
	for i := uint64(0); i < baseSlots; i++ {
		if !testBit(bitmap, i) {
			continue
		}
		field := base.content[i*lineSize+uint64(base.keyLen):]
		val, ok := separatedValue(base.extend, readOffsetField(field))
		if !ok {
			return ssherrors.ErrBadInput
		}
		if err := dumpVariedValue(val, w); err != nil {
			return err
		}
	}
	if err := padExtend(offset, slots, w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ssherrors.ErrFailToOutput, err)
	}
	return nil
}

// Derive produces a new artifact whose key set is the union of the base and
// the new streams, with new values winning on overlap, and writes it
// through w. The base is only read; it stays valid afterwards.
func (ht *Hashtable) Derive(in []DataReader, w DataWriter, opts ...BuildOption) error {
	var cfg buildConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if !ht.valid() || len(in) == 0 {
		return ssherrors.ErrBadInput
	}
	switch ht.view.typ {
	case KeySet, KVInline:
		return deriveFixed(&ht.view, in, w, cfg.buildSeed())
	case KVSeparated:
		return deriveVaried(&ht.view, in, w, cfg.buildSeed())
	default:
		return ssherrors.ErrBadInput
	}
}
