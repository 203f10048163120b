package sshash

import (
	"fmt"

	ssherrors "github.com/tamirms/sshash/errors"
)

// Validate audits the loaded artifact against the layout invariants:
//
//  1. the header entry count equals the number of occupied guide bytes,
//  2. no guide byte carries the build-time reservation sentinel,
//  3. every occupied slot's guide byte equals its key's hash mark and the
//     key is reachable through its probe chain,
//  4. for KVSeparated, every stored offset points at a well-formed
//     (varint length, payload) pair inside the extend blob.
//
// Validate touches every slot; it is meant for tests and offline checks,
// not the query path.
func (ht *Hashtable) Validate() error {
	if !ht.valid() {
		return ssherrors.ErrInvalidArtifact
	}
	v := &ht.view
	slots := v.setCnt.Value() * slotsPerSet
	lineSize := uint64(v.lineSize)

	var occupied uint64
	for i := uint64(0); i < slots; i++ {
		m := v.guide[i]
		if m == slotEmpty {
			continue
		}
		if m&0x80 != 0 {
			return fmt.Errorf("%w: reservation sentinel 0x%02x at slot %d",
				ssherrors.ErrInvalidArtifact, m, i)
		}
		occupied++

		line := v.content[i*lineSize : (i+1)*lineSize]
		key := line[:v.keyLen]
		_, mark, _ := hashKey(key, v.seed, v.setCnt)
		if mark != m {
			return fmt.Errorf("%w: slot %d stores mark 0x%02x, key hashes to 0x%02x",
				ssherrors.ErrInvalidArtifact, i, m, mark)
		}
		if v.search(key) == nil {
			return fmt.Errorf("%w: key at slot %d is not reachable through its probe chain",
				ssherrors.ErrInvalidArtifact, i)
		}
		if v.typ == KVSeparated {
			if _, ok := separatedValue(v.extend, readOffsetField(line[v.keyLen:])); !ok {
				return fmt.Errorf("%w: slot %d offset points at a malformed extend entry",
					ssherrors.ErrInvalidArtifact, i)
			}
		}
	}
	if occupied != v.item {
		return fmt.Errorf("%w: header item %d, occupied slots %d",
			ssherrors.ErrInvalidArtifact, v.item, occupied)
	}
	return nil
}
