//go:build !linux

package sshash

// madviseWillNeed is a no-op on platforms without madvise support.
func madviseWillNeed(data []byte) {}

// madvisePopulate is a no-op on platforms without madvise support.
func madvisePopulate(data []byte) {}
