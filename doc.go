// Package sshash implements a static, set-associative, on-disk hash index
// for read-dominant point-lookup workloads.
//
// An artifact is built offline from one or more record streams and afterwards
// is an immutable, memory-mappable file. There is no online mutation; updates
// happen by rebuilding, or by deriving a new artifact from an old one plus a
// delta stream.
//
// # Basic Usage
//
// Building an artifact:
//
//	w, err := sshash.NewFileWriter("table.ssht")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := sshash.BuildDict(readers, w); err != nil {
//	    log.Fatal(err)
//	}
//
// Querying an artifact:
//
//	ht, err := sshash.Open("table.ssht", sshash.MapOnly)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ht.Close()
//
//	val, ok := ht.Search(key)
//
// Batched lookups amortize memory latency by pipelining up to 16 probes with
// explicit prefetching; see BatchSearch and BatchFetch.
//
// # Package Structure
//
//   - Public API: build.go (BuildSet, BuildDict, BuildDictWithVariedValue),
//     view.go (Open, OpenBytes), search.go (Search), batch.go (BatchSearch,
//     BatchFetch), derive.go (Derive)
//   - Streams and sinks: reader.go (DataReader, DataWriter, SliceReader,
//     FileWriter)
//   - Serialization: header.go (64-byte artifact header)
//   - Hashing: hash.go (seeded xxh3, slot triple), internal/divisor
//     (software modulo by the odd set count)
//   - Platform: madvise_*.go, prefetch_* (OS- and arch-specific hints)
package sshash
