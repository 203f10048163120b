package sshash

import (
	"github.com/zeebo/xxh3"

	"github.com/tamirms/sshash/internal/divisor"
)

// hashKey computes the probe triple for a key: the home set, the 7-bit mark
// stored in the guide byte, and the starting slot offset within the set.
//
// The three quantities are drawn from disjoint regions of a well-mixed 64-bit
// hash (low bits mod set count, bits 51..57, bits 58..63) so they stay
// statistically independent. The seed is recorded in the artifact header and
// reused on every lookup.
func hashKey(key []byte, seed uint64, setCnt divisor.Divisor) (set uint64, mark uint8, sft uint8) {
	h := xxh3.HashSeed(key, seed)
	return setCnt.Mod(h), uint8(h>>51) & 0x7f, uint8(h >> 58)
}
