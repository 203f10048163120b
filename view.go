package sshash

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"

	ssherrors "github.com/tamirms/sshash/errors"
	"github.com/tamirms/sshash/internal/divisor"
)

// LoadPolicy selects how Open brings the artifact into memory. The choice
// affects warm-up latency and residency, not semantics.
type LoadPolicy int

const (
	// MapOnly memory-maps the artifact and lets pages fault in on demand.
	MapOnly LoadPolicy = iota

	// MapFetch maps the artifact and hints the kernel to read it ahead.
	MapFetch

	// MapOccupy maps the artifact and asks the kernel to prefault all of it
	// up front (MADV_POPULATE_READ, Linux 5.14+). The request is best-effort:
	// on older kernels and other platforms pages fault in on demand.
	MapOccupy

	// CopyData reads the artifact into a private heap buffer.
	CopyData
)

// view is the parsed, read-only form of a loaded artifact: the header fields,
// slices over the three regions, and the prebuilt divisor for the set count.
type view struct {
	typ      Type
	keyLen   uint8
	valLen   uint16
	lineSize uint32
	seed     uint64
	item     uint64
	setCnt   divisor.Divisor
	guide    []byte
	content  []byte
	// extend covers the value blob through the end of the artifact.
	// Empty for KeySet and KVInline.
	extend []byte
}

// Hashtable is a loaded, immutable artifact.
//
// Thread safety: Search, BatchSearch, BatchFetch and the accessors are safe
// for concurrent use. Close is not safe to call concurrently with queries
// and must only be called after all queries have completed.
type Hashtable struct {
	mmap   mmap.MMap
	data   []byte
	view   view
	closed atomic.Bool
}

// Stats holds artifact statistics.
type Stats struct {
	Type       Type
	KeyLen     int
	ValLen     int
	Item       uint64
	SetCnt     uint64
	Slots      uint64
	LoadFactor float64
	Size       int64
}

// Open loads the artifact at path.
func Open(path string, policy LoadPolicy) (*Hashtable, error) {
	if policy == CopyData {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read artifact file: %w", err)
		}
		return OpenBytes(data)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact file: %w", err)
	}
	defer f.Close()

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap artifact file: %w", err)
	}

	ht := &Hashtable{mmap: mm, data: []byte(mm)}
	if err := ht.view.init(ht.data); err != nil {
		return nil, errors.Join(err, ht.Close())
	}

	switch policy {
	case MapFetch:
		madviseWillNeed(ht.data)
	case MapOccupy:
		madvisePopulate(ht.data)
	}
	return ht, nil
}

// OpenBytes creates a Hashtable over an in-memory artifact. No file is
// opened; Close releases nothing but marks the Hashtable closed, after which
// every query misses. The caller must not modify data while the Hashtable is
// in use.
func OpenBytes(data []byte) (*Hashtable, error) {
	ht := &Hashtable{data: data}
	if err := ht.view.init(data); err != nil {
		return nil, err
	}
	return ht, nil
}

// init validates the artifact layout and carves the region slices.
func (v *view) init(data []byte) error {
	if len(data) < headerSize {
		return ssherrors.ErrTruncatedFile
	}
	h, err := decodeHeader(data[:headerSize])
	if err != nil {
		return err
	}

	slots := h.slots()
	lineSize := h.lineSize()
	guideEnd := uint64(headerSize) + slots
	contentEnd := guideEnd + slots*uint64(lineSize)
	if contentEnd > uint64(len(data)) {
		return ssherrors.ErrTruncatedFile
	}
	if h.typ == KVSeparated && contentEnd+slots > uint64(len(data)) {
		return ssherrors.ErrTruncatedFile
	}

	v.typ = h.typ
	v.keyLen = h.keyLen
	v.valLen = h.valLen
	v.lineSize = lineSize
	v.seed = h.seed
	v.item = h.item
	v.setCnt = divisor.New(h.setCnt)
	v.guide = data[headerSize:guideEnd]
	v.content = data[guideEnd:contentEnd]
	v.extend = data[contentEnd:]
	return nil
}

// valid reports whether the hashtable is loaded and usable. The zero value
// and a closed hashtable answer every query with a miss.
func (ht *Hashtable) valid() bool {
	return ht != nil && ht.view.guide != nil && !ht.closed.Load()
}

// Close unmaps a file-mapped artifact and marks the Hashtable closed, after
// which every query misses. A buffer-backed Hashtable (OpenBytes, CopyData)
// keeps its reference to the buffer. Closing twice is a no-op.
func (ht *Hashtable) Close() error {
	if ht.closed.Swap(true) {
		return nil
	}
	if ht.mmap != nil {
		return ht.mmap.Unmap()
	}
	return nil
}

// Type returns the artifact mode.
func (ht *Hashtable) Type() Type {
	if !ht.valid() {
		return illegalType
	}
	return ht.view.typ
}

// KeyLen returns the fixed key length in bytes.
func (ht *Hashtable) KeyLen() int {
	if !ht.valid() {
		return 0
	}
	return int(ht.view.keyLen)
}

// ValLen returns the on-disk value field length in bytes: the inline value
// length for KVInline, 6 for KVSeparated, 0 for KeySet.
func (ht *Hashtable) ValLen() int {
	if !ht.valid() {
		return 0
	}
	return int(ht.view.valLen)
}

// Item returns the number of entries.
func (ht *Hashtable) Item() uint64 {
	if !ht.valid() {
		return 0
	}
	return ht.view.item
}

// SetCnt returns the number of 64-slot sets.
func (ht *Hashtable) SetCnt() uint64 {
	if !ht.valid() {
		return 0
	}
	return ht.view.setCnt.Value()
}

// Stats returns statistics for the artifact.
func (ht *Hashtable) Stats() Stats {
	if !ht.valid() {
		return Stats{Type: illegalType}
	}
	v := &ht.view
	slots := v.setCnt.Value() * slotsPerSet
	return Stats{
		Type:       v.typ,
		KeyLen:     int(v.keyLen),
		ValLen:     int(v.valLen),
		Item:       v.item,
		SetCnt:     v.setCnt.Value(),
		Slots:      slots,
		LoadFactor: float64(v.item) / float64(slots),
		Size:       int64(len(ht.data)),
	}
}

// Checksum returns an xxHash64 digest of the entire artifact. Two artifacts
// with equal checksums hold identical bytes; useful for operational
// comparison of build outputs.
func (ht *Hashtable) Checksum() (uint64, error) {
	if !ht.valid() {
		return 0, ssherrors.ErrClosed
	}
	return xxhash.Sum64(ht.data), nil
}
