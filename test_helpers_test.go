// test_helpers_test.go holds shared infrastructure for the sshash tests:
// deterministic RNG construction, random record generation, in-memory and
// failing sinks, and build-then-open helpers.
package sshash

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/fnv"
	randv2 "math/rand/v2"
	"testing"
)

// Named seeds for deterministic reproduction.
const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

func newTestRNG(t testing.TB) *randv2.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return randv2.New(randv2.NewPCG(testSeed1^s1, testSeed2^s2))
}

// randKeys generates n distinct random keys of keyLen bytes.
func randKeys(rng *randv2.Rand, n, keyLen int) [][]byte {
	keys := make([][]byte, 0, n)
	seen := make(map[string]struct{}, n)
	for len(keys) < n {
		key := make([]byte, keyLen)
		for i := range key {
			key[i] = byte(rng.Uint32())
		}
		if _, dup := seen[string(key)]; dup {
			continue
		}
		seen[string(key)] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// randVals generates n random values of valLen bytes.
func randVals(rng *randv2.Rand, n, valLen int) [][]byte {
	vals := make([][]byte, n)
	for i := range vals {
		val := make([]byte, valLen)
		for j := range val {
			val[j] = byte(rng.Uint32())
		}
		vals[i] = val
	}
	return vals
}

// memWriter is an in-memory DataWriter.
type memWriter struct {
	bytes.Buffer
}

func (w *memWriter) Flush() error { return nil }

// failWriter fails every write after the first limit bytes.
type failWriter struct {
	limit   int
	written int
}

var errSinkFull = errors.New("sink full")

func (w *failWriter) Write(p []byte) (int, error) {
	if w.written+len(p) > w.limit {
		return 0, errSinkFull
	}
	w.written += len(p)
	return len(p), nil
}

func (w *failWriter) Flush() error { return nil }

// buildArtifact runs build and returns the artifact bytes.
func buildArtifact(t *testing.T, build func(in []DataReader, w DataWriter, opts ...BuildOption) error,
	in []DataReader, opts ...BuildOption) []byte {
	t.Helper()
	var w memWriter
	if err := build(in, &w, opts...); err != nil {
		t.Fatalf("build: %v", err)
	}
	return w.Bytes()
}

// openArtifact loads artifact bytes and registers cleanup.
func openArtifact(t *testing.T, data []byte) *Hashtable {
	t.Helper()
	ht, err := OpenBytes(data)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	t.Cleanup(func() { ht.Close() })
	return ht
}

// buildAndOpen is the common build-then-load path used across tests.
func buildAndOpen(t *testing.T, build func(in []DataReader, w DataWriter, opts ...BuildOption) error,
	keys, vals [][]byte, opts ...BuildOption) *Hashtable {
	t.Helper()
	in := []DataReader{NewSliceReader(keys, vals)}
	return openArtifact(t, buildArtifact(t, build, in, opts...))
}

// deriveArtifact runs Derive and returns the new artifact bytes.
func deriveArtifact(t *testing.T, base *Hashtable, keys, vals [][]byte) []byte {
	t.Helper()
	var w memWriter
	if err := base.Derive([]DataReader{NewSliceReader(keys, vals)}, &w); err != nil {
		t.Fatalf("Derive: %v", err)
	}
	return w.Bytes()
}
