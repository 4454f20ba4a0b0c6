//go:build !unix

package pagemem

import "fmt"

// Map allocates size bytes from the Go heap when anonymous mappings are not
// available. Alignment is not guaranteed.
func Map(size int) ([]byte, func() error, error) {
	if size <= 0 {
		return nil, nil, fmt.Errorf("pagemem: invalid mapping size %d", size)
	}
	return make([]byte, size), func() error { return nil }, nil
}

// Protect is a no-op on platforms without mprotect.
func Protect(b []byte, readOnly bool) error {
	return nil
}

// PageSize returns the page size assumed on this platform.
func PageSize() int {
	return 4096
}
