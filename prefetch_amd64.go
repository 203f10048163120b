//go:build amd64 && !purego

package sshash

import "unsafe"

// prefetchNext issues a PREFETCHT0 for data the current probe will touch on
// its next step (high temporal locality).
//
//go:noescape
func prefetchNext(p unsafe.Pointer)

// prefetchFuture issues a PREFETCHNTA for data that may be needed later
// (low temporal locality, bypasses most of the cache hierarchy).
//
//go:noescape
func prefetchFuture(p unsafe.Pointer)
