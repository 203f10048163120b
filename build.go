package sshash

import (
	"bytes"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	ssherrors "github.com/tamirms/sshash/errors"
	"github.com/tamirms/sshash/internal/divisor"
)

// BuildOption is a functional option for configuring builds.
type BuildOption func(*buildConfig)

type buildConfig struct {
	seed    uint64
	hasSeed bool
}

// WithSeed fixes the hash seed instead of drawing one from the clock.
// Intended for reproducing builds; two single-stream builds of the same
// records with the same seed produce identical artifacts. With several
// streams mapped in parallel, slot placement depends on goroutine timing.
func WithSeed(seed uint64) BuildOption {
	return func(c *buildConfig) {
		c.seed = seed
		c.hasSeed = true
	}
}

// buildSeed returns the configured seed or draws one from the clock.
// The seed is recorded in the header, so it only has to be non-repeating
// across builds, not unpredictable.
func (c *buildConfig) buildSeed() uint64 {
	if c.hasSeed {
		return c.seed
	}
	return uint64(time.Now().UnixNano())
}

// calcSetCnt sizes the table for item entries: ~6.25% headroom, packed into
// 64-slot sets, forced odd so hash patterns with power-of-two strides cannot
// align with the set sequence.
func calcSetCnt(item uint64) uint64 {
	reserved := (item + reserveFactor - 1) / reserveFactor
	return ((item+reserved+63)/64)&^uint64(1) + 1
}

// varintLen returns the encoded size of n.
func varintLen(n uint64) uint64 {
	cnt := uint64(1)
	for n&^0x7f != 0 {
		n >>= 7
		cnt++
	}
	return cnt
}

// writeVarint emits n as 7-bit groups, low group first, high bit set on all
// but the last.
func writeVarint(n uint64, w DataWriter) error {
	var buf [10]byte
	i := 0
	for ; n&^0x7f != 0; n >>= 7 {
		buf[i] = uint8(0x80 | n&0x7f)
		i++
	}
	buf[i] = uint8(n)
	if _, err := w.Write(buf[:i+1]); err != nil {
		return fmt.Errorf("%w: %w", ssherrors.ErrFailToOutput, err)
	}
	return nil
}

// dumpVariedValue emits one extend-blob entry: varint length then payload.
func dumpVariedValue(val []byte, w DataWriter) error {
	if err := writeVarint(uint64(len(val)), w); err != nil {
		return err
	}
	if len(val) == 0 {
		return nil
	}
	if _, err := w.Write(val); err != nil {
		return fmt.Errorf("%w: %w", ssherrors.ErrFailToOutput, err)
	}
	return nil
}

// padExtend zero-fills the extend blob up to the minimum size the loader
// accepts (one byte per slot). A zero byte is a valid varint, and no offset
// ever points into the padding.
func padExtend(written, slots uint64, w DataWriter) error {
	if written >= slots {
		return nil
	}
	var zeros [4096]byte
	for n := slots - written; n > 0; {
		chunk := n
		if chunk > uint64(len(zeros)) {
			chunk = uint64(len(zeros))
		}
		if _, err := w.Write(zeros[:chunk]); err != nil {
			return fmt.Errorf("%w: %w", ssherrors.ErrFailToOutput, err)
		}
		n -= chunk
	}
	return nil
}

// sumInputSize totals the advertised record counts of all streams.
func sumInputSize(in []DataReader) uint64 {
	var total uint64
	for _, r := range in {
		total += r.Total()
	}
	return total
}

// mapKey claims a slot for key and fills its content line. It probes the
// home set from the hash-derived offset, spilling to successive sets, until
// it either reserves an empty slot (install: CAS to the 0x80 sentinel, copy
// the line, publish the mark) or proves the key is already present (returns
// false). Observing another builder's sentinel spins until the real mark
// appears; the published mark happens-after that builder's line copy.
//
// Termination relies on the table's slack: every build leaves at least one
// empty slot per 17 input records.
func mapKey(g *guideTable, content []byte, h *header, setCnt divisor.Divisor,
	key []byte, fill func(line []byte)) bool {
	lineSize := uint64(h.lineSize())
	set, mark, sft := hashKey(key, h.seed, setCnt)
	for {
		base := set * slotsPerSet
		for j := uint32(sft); j < uint32(sft)+slotsPerSet; j++ {
			off := uint64(j & 63)
			i := base + off
			line := content[i*lineSize : (i+1)*lineSize]
			m := g.load(i)
			if m == slotEmpty && g.reserve(i) {
				fill(line)
				g.publish(i, mark)
				return true
			}
			for m&0x80 != 0 {
				runtime.Gosched()
				m = g.load(i)
			}
			if m == mark && bytes.Equal(line[:h.keyLen], key) {
				return false
			}
		}
		if set++; set >= setCnt.Value() {
			set = 0
		}
	}
}

// mapStream consumes one reader and maps every record into the table,
// returning the number actually installed (duplicates are not).
func mapStream(g *guideTable, content []byte, h *header, reader DataReader) (uint64, error) {
	setCnt := divisor.New(h.setCnt)
	total := reader.Total()
	cnt := total
	for i := uint64(0); i < total; i++ {
		rec, err := reader.Read(false)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ssherrors.ErrBadInput, err)
		}
		if rec.Key == nil || len(rec.Key) != int(h.keyLen) ||
			(h.valLen != 0 && len(rec.Val) != int(h.valLen)) {
			return 0, ssherrors.ErrBadInput
		}
		if !mapKey(g, content, h, setCnt, rec.Key, func(line []byte) {
			copy(line, rec.Key)
			if h.valLen != 0 {
				copy(line[h.keyLen:], rec.Val)
			}
		}) {
			cnt--
		}
	}
	return cnt, nil
}

// detectKeyValueLen reads the first record of the first stream to fix the
// build's key length and, when wantVal is set, the inline value length.
func detectKeyValueLen(reader DataReader, wantVal bool) (uint8, uint16, error) {
	if err := reader.Reset(); err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ssherrors.ErrBadInput, err)
	}
	rec, err := reader.Read(!wantVal)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ssherrors.ErrBadInput, err)
	}
	if rec.Key == nil || len(rec.Key) == 0 || len(rec.Key) > maxKeyLen {
		return 0, 0, ssherrors.ErrBadInput
	}
	keyLen := uint8(len(rec.Key))
	var valLen uint16
	if wantVal {
		if rec.Val == nil || len(rec.Val) == 0 || len(rec.Val) > maxInlineValueLen {
			return 0, 0, ssherrors.ErrBadInput
		}
		valLen = uint16(len(rec.Val))
	}
	if err := reader.Reset(); err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ssherrors.ErrBadInput, err)
	}
	return keyLen, valLen, nil
}

// emitTable writes header, guide and content through the sink.
func emitTable(h *header, guide, content []byte, w DataWriter) error {
	var buf [headerSize]byte
	h.encodeTo(buf[:])
	for _, region := range [][]byte{buf[:], guide, content} {
		if _, err := w.Write(region); err != nil {
			return fmt.Errorf("%w: %w", ssherrors.ErrFailToOutput, err)
		}
	}
	return nil
}

// buildFixed is the shared build path for KeySet and KVInline: streams are
// mapped in parallel, one goroutine per stream, all sharing the guide and
// content buffers through the CAS protocol.
func buildFixed(typ Type, keyLen uint8, valLen uint16, seed uint64,
	in []DataReader, w DataWriter) error {
	total := sumInputSize(in)
	if total == 0 {
		return ssherrors.ErrBadInput
	}

	h := &header{
		typ:    typ,
		keyLen: keyLen,
		valLen: valLen,
		seed:   seed,
		setCnt: calcSetCnt(total),
	}
	slots := h.slots()
	g := newGuideTable(slots)
	content := make([]byte, slots*uint64(h.lineSize()))

	var item atomic.Uint64
	var eg errgroup.Group
	for _, reader := range in {
		reader := reader
		eg.Go(func() error {
			if err := reader.Reset(); err != nil {
				return fmt.Errorf("%w: %w", ssherrors.ErrBadInput, err)
			}
			cnt, err := mapStream(g, content, h, reader)
			if err != nil {
				return err
			}
			item.Add(cnt)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
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

// BuildSet builds a KeySet artifact (membership only) from the given
// streams and writes it through w. Streams are consumed in parallel.
// Duplicate keys collapse to one entry.
func BuildSet(in []DataReader, w DataWriter, opts ...BuildOption) error {
	var cfg buildConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(in) == 0 {
		return ssherrors.ErrBadInput
	}
	keyLen, _, err := detectKeyValueLen(in[0], false)
	if err != nil {
		return err
	}
	return buildFixed(KeySet, keyLen, 0, cfg.buildSeed(), in, w)
}

// BuildDict builds a KVInline artifact. Every value must have the length of
// the first stream's first record. Inlining a large value consumes memory
// proportional to slot count; use BuildDictWithVariedValue for large or
// variable-length values.
func BuildDict(in []DataReader, w DataWriter, opts ...BuildOption) error {
	var cfg buildConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(in) == 0 {
		return ssherrors.ErrBadInput
	}
	keyLen, valLen, err := detectKeyValueLen(in[0], true)
	if err != nil {
		return err
	}
	return buildFixed(KVInline, keyLen, valLen, cfg.buildSeed(), in, w)
}

// keyOffReader wraps a stream for the KV_SEPARATED mapping pass: each record
// comes out with its value replaced by the 6-byte running offset the value
// will occupy in the extend blob, so the table can be mapped before a single
// value byte is written.
type keyOffReader struct {
	core   DataReader
	base   uint64
	offset uint64
	field  [offsetFieldSize]byte
}

func newKeyOffReader(core DataReader, off uint64) *keyOffReader {
	return &keyOffReader{core: core, base: off, offset: off}
}

func (r *keyOffReader) Reset() error {
	if err := r.core.Reset(); err != nil {
		return err
	}
	r.offset = r.base
	return nil
}

func (r *keyOffReader) Total() uint64 {
	return r.core.Total()
}

func (r *keyOffReader) Read(bool) (Record, error) {
	rec, err := r.core.Read(false)
	if err != nil {
		return Record{}, err
	}
	if r.offset > maxOffset || uint64(len(rec.Val)) > maxValueLen {
		return Record{}, ssherrors.ErrBadInput
	}
	writeOffsetField(r.field[:], r.offset)
	r.offset += varintLen(uint64(len(rec.Val))) + uint64(len(rec.Val))
	rec.Val = r.field[:]
	return rec, nil
}

// BuildDictWithVariedValue builds a KVSeparated artifact: variable-length
// values live in the extend blob behind 6-byte offsets. The mapping runs
// single-threaded because blob offsets are assigned in stream order, and a
// duplicate key is a hard input error (it would desynchronize the offsets
// already assigned).
func BuildDictWithVariedValue(in []DataReader, w DataWriter, opts ...BuildOption) error {
	var cfg buildConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(in) == 0 {
		return ssherrors.ErrBadInput
	}
	keyLen, _, err := detectKeyValueLen(in[0], false)
	if err != nil {
		return err
	}

	total := sumInputSize(in)
	if total == 0 {
		return ssherrors.ErrBadInput
	}
	h := &header{
		typ:    KVSeparated,
		keyLen: keyLen,
		valLen: offsetFieldSize,
		seed:   cfg.buildSeed(),
		setCnt: calcSetCnt(total),
	}
	slots := h.slots()
	g := newGuideTable(slots)
	content := make([]byte, slots*uint64(h.lineSize()))

	offset := uint64(0)
	for _, reader := range in {
		if err := reader.Reset(); err != nil {
			return fmt.Errorf("%w: %w", ssherrors.ErrBadInput, err)
		}
		wrapped := newKeyOffReader(reader, offset)
		cnt, err := mapStream(g, content, h, wrapped)
		if err != nil {
			return err
		}
		h.item += cnt
		offset = wrapped.offset
	}
	if h.item != total {
		return ssherrors.ErrBadInput
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
	if err := padExtend(offset, slots, w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ssherrors.ErrFailToOutput, err)
	}
	return nil
}
