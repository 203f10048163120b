// Bench is a benchmarking tool for measuring sshash build throughput and
// lookup latency.
//
// Usage:
//
//	go run ./cmd/bench -keys 10000000 -mode dict -val 8 -batch 64
//
// Flags:
//
//	-keys     Number of distinct keys to index (default: 10,000,000)
//	-keylen   Key length in bytes (default: 8)
//	-mode     Artifact mode: set, dict, or varied (default: dict)
//	-val      Inline value size in bytes, dict mode only (default: 8)
//	-streams  Number of input streams built in parallel (default: 4)
//	-batch    Batch size for BatchSearch/BatchFetch, 0 to skip (default: 64)
//	-policy   Load policy: map, fetch, occupy, copy (default: occupy)
//	-queries  Number of point queries to issue (default: 10,000,000)
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/tamirms/sshash"
)

// getMaxRSS returns the maximum resident set size in bytes.
func getMaxRSS() uint64 {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	maxRSS := uint64(rusage.Maxrss)
	if runtime.GOOS == "linux" {
		maxRSS *= 1024 // Linux reports kilobytes
	}
	return maxRSS
}

// genKeys derives numKeys uniformly distributed keys of keyLen bytes by
// hashing the sequence number with murmur3. Distinct inputs give distinct
// 128-bit digests for all practical purposes, so the key set is collision
// free without bookkeeping.
func genKeys(numKeys, keyLen int) [][]byte {
	flat := make([]byte, numKeys*keyLen)
	keys := make([][]byte, numKeys)
	var seq [8]byte
	for i := range keys {
		binary.LittleEndian.PutUint64(seq[:], uint64(i))
		lo, hi := murmur3.Sum128(seq[:])
		var digest [16]byte
		binary.LittleEndian.PutUint64(digest[0:8], lo)
		binary.LittleEndian.PutUint64(digest[8:16], hi)
		key := flat[i*keyLen : (i+1)*keyLen]
		for j := 0; j < keyLen; j++ {
			key[j] = digest[j%16]
		}
		keys[i] = key
	}
	return keys
}

func parsePolicy(s string) (sshash.LoadPolicy, bool) {
	switch s {
	case "map":
		return sshash.MapOnly, true
	case "fetch":
		return sshash.MapFetch, true
	case "occupy":
		return sshash.MapOccupy, true
	case "copy":
		return sshash.CopyData, true
	}
	return sshash.MapOnly, false
}

func main() {
	keysFlag := flag.Int("keys", 10_000_000, "number of distinct keys")
	keyLenFlag := flag.Int("keylen", 8, "key length in bytes")
	modeFlag := flag.String("mode", "dict", "artifact mode: set, dict or varied")
	valFlag := flag.Int("val", 8, "inline value size in bytes (dict mode)")
	streamsFlag := flag.Int("streams", 4, "number of parallel input streams")
	batchFlag := flag.Int("batch", 64, "batch size for batched lookups (0 to skip)")
	policyFlag := flag.String("policy", "occupy", "load policy: map, fetch, occupy or copy")
	queriesFlag := flag.Int("queries", 10_000_000, "number of point queries")
	flag.Parse()

	numKeys := *keysFlag
	keyLen := *keyLenFlag
	valLen := *valFlag
	mode := *modeFlag
	streams := *streamsFlag
	if streams < 1 {
		streams = 1
	}

	policy, ok := parsePolicy(*policyFlag)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown policy %q\n", *policyFlag)
		os.Exit(1)
	}

	fmt.Printf("generating %d keys of %d bytes...\n", numKeys, keyLen)
	keys := genKeys(numKeys, keyLen)

	var vals [][]byte
	switch mode {
	case "set":
		valLen = 0
	case "dict":
		vals = make([][]byte, numKeys)
		flat := make([]byte, numKeys*valLen)
		for i := range vals {
			row := flat[i*valLen : (i+1)*valLen]
			for j := range row {
				row[j] = byte(i >> (j % 8 * 8))
			}
			vals[i] = row
		}
	case "varied":
		vals = make([][]byte, numKeys)
		for i := range vals {
			row := make([]byte, i%32)
			for j := range row {
				row[j] = byte(i >> (j % 4 * 8))
			}
			vals[i] = row
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", mode)
		os.Exit(1)
	}

	// Split the records across streams the way a sharded producer would.
	readers := make([]sshash.DataReader, streams)
	per := (numKeys + streams - 1) / streams
	for s := 0; s < streams; s++ {
		lo := s * per
		hi := min(lo+per, numKeys)
		var sv [][]byte
		if vals != nil {
			sv = vals[lo:hi]
		}
		readers[s] = sshash.NewSliceReader(keys[lo:hi], sv)
	}

	dir, err := os.MkdirTemp("", "sshash-bench-*")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "bench.ssht")

	w, err := sshash.NewFileWriter(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	start := time.Now()
	switch mode {
	case "set":
		err = sshash.BuildSet(readers, w)
	case "dict":
		err = sshash.BuildDict(readers, w)
	case "varied":
		// Offsets are assigned in stream order; the build is serial.
		err = sshash.BuildDictWithVariedValue(readers, w)
	}
	if err == nil {
		err = w.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "build:", err)
		os.Exit(1)
	}
	buildDur := time.Since(start)

	info, _ := os.Stat(path)
	fmt.Printf("build: %.2fs (%.2fM keys/s), artifact %d bytes\n",
		buildDur.Seconds(), float64(numKeys)/buildDur.Seconds()/1e6, info.Size())

	ht, err := sshash.Open(path, policy)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer ht.Close()

	stats := ht.Stats()
	fmt.Printf("artifact: type=%s item=%d sets=%d load=%.3f\n",
		stats.Type, stats.Item, stats.SetCnt, stats.LoadFactor)

	// Point queries, uniformly over the key set.
	queries := *queriesFlag
	start = time.Now()
	hits := 0
	for i := 0; i < queries; i++ {
		if _, ok := ht.Search(keys[i%numKeys]); ok {
			hits++
		}
	}
	dur := time.Since(start)
	fmt.Printf("search: %d queries, %d hits, %.1f ns/op\n",
		queries, hits, float64(dur.Nanoseconds())/float64(queries))

	// Batched queries.
	if batch := *batchFlag; batch > 0 && mode != "varied" {
		out := make([][]byte, batch)
		start = time.Now()
		hits = 0
		rounds := queries / batch
		for r := 0; r < rounds; r++ {
			lo := (r * batch) % (numKeys - batch + 1)
			hits += ht.BatchSearch(keys[lo:lo+batch], out, nil)
		}
		dur = time.Since(start)
		fmt.Printf("batch_search(%d): %d queries, %d hits, %.1f ns/op\n",
			batch, rounds*batch, hits, float64(dur.Nanoseconds())/float64(rounds*batch))

		if mode == "dict" {
			packedKeys := make([]byte, batch*keyLen)
			packedOut := make([]byte, batch*valLen)
			start = time.Now()
			hits = 0
			for r := 0; r < rounds; r++ {
				lo := (r * batch) % (numKeys - batch + 1)
				for i := 0; i < batch; i++ {
					copy(packedKeys[i*keyLen:], keys[lo+i])
				}
				hits += ht.BatchFetch(packedKeys, packedOut, nil, nil)
			}
			dur = time.Since(start)
			fmt.Printf("batch_fetch(%d): %d queries, %d hits, %.1f ns/op\n",
				batch, rounds*batch, hits, float64(dur.Nanoseconds())/float64(rounds*batch))
		}
	}

	fmt.Printf("max RSS: %.1f MiB\n", float64(getMaxRSS())/(1<<20))
}
