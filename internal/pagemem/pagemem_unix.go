//go:build unix

package pagemem

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Map reserves size bytes of anonymous, zeroed, page-aligned memory outside
// the Go heap. The returned release function unmaps it; calling it twice is a no-op.
func Map(size int) ([]byte, func() error, error) {
	if size <= 0 {
		return nil, nil, fmt.Errorf("pagemem: invalid mapping size %d", size)
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("pagemem: mmap %d bytes: %w", size, err)
	}
	release := func() error {
		if data == nil {
			return nil
		}
		err := unix.Munmap(data)
		data = nil
		if errors.Is(err, unix.EINVAL) {
			return nil
		}
		return err
	}
	return data, release, nil
}

// Protect toggles write access for b. b must start on a page boundary of a
// slice obtained from Map.
func Protect(b []byte, readOnly bool) error {
	if len(b) == 0 {
		return nil
	}
	if !Aligned(b) {
		return ErrUnaligned
	}
	prot := unix.PROT_READ | unix.PROT_WRITE
	if readOnly {
		prot = unix.PROT_READ
	}
	return unix.Mprotect(b, prot)
}

// PageSize returns the operating system page size.
func PageSize() int {
	return unix.Getpagesize()
}
