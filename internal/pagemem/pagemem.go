// Package pagemem provides platform-specific helpers for page-aligned
// anonymous memory and page-granular write protection.
package pagemem

import (
	"errors"
	"unsafe"
)

// ErrUnaligned is returned when a protection change is requested for memory
// that does not start on a page boundary.
var ErrUnaligned = errors.New("pagemem: range not page aligned")

// Aligned reports whether b starts on an operating system page boundary.
func Aligned(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))%uintptr(PageSize()) == 0
}
