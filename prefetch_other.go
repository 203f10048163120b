//go:build !amd64 || purego

package sshash

import "unsafe"

// Prefetching is an optimization, not a correctness requirement; platforms
// without an intrinsic simply pay the memory latency.

func prefetchNext(p unsafe.Pointer) {}

func prefetchFuture(p unsafe.Pointer) {}
