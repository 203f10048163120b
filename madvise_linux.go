//go:build linux

package sshash

import "golang.org/x/sys/unix"

// MADV_POPULATE_READ was added in Linux 5.14.
// On older kernels, madvise returns EINVAL which we ignore.
const madvPopulateRead = 22

// madviseWillNeed hints the kernel to read the mapped artifact ahead.
// Best-effort: errors are silently ignored.
func madviseWillNeed(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Madvise(data, unix.MADV_WILLNEED)
}

// madvisePopulate asks the kernel to prefault the mapped artifact for
// reading. On Linux 5.14+, this uses MADV_POPULATE_READ; on older kernels
// madvise returns EINVAL and the pages fault in on demand instead.
func madvisePopulate(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Madvise(data, madvPopulateRead)
}
