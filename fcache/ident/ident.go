// Package ident interns file paths into small comparable identities.
//
// Every cache component keys on an ID rather than on the path string, so
// equality is a single integer compare and the same file reached through
// differently spelled paths ("a\b.txt", "a/./b.txt") maps to one identity.
package ident

import (
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ID identifies one interned file. The zero value is None.
type ID uint32

// None is the empty identity. It is never returned by Intern.
const None ID = 0

// Table maps canonical paths to IDs. Not safe for concurrent use.
type Table struct {
	byName map[string]ID
	names  []string // index = ID; names[0] is the empty name
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		byName: make(map[string]ID, 64),
		names:  []string{""},
	}
}

// Canonical returns the normalized form of p used as the interning key:
// forward slashes, cleaned, Unicode NFC.
func Canonical(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return norm.NFC.String(path.Clean(p))
}

// Intern returns the ID for p, allocating one on first use.
func (t *Table) Intern(p string) ID {
	key := Canonical(p)
	if id, ok := t.byName[key]; ok {
		return id
	}
	id := ID(len(t.names))
	t.names = append(t.names, key)
	t.byName[key] = id
	return id
}

// Lookup returns the ID for p without interning it.
func (t *Table) Lookup(p string) (ID, bool) {
	id, ok := t.byName[Canonical(p)]
	return id, ok
}

// Name returns the canonical path for id, or "" for None and unknown IDs.
func (t *Table) Name(id ID) string {
	if int(id) >= len(t.names) {
		return ""
	}
	return t.names[id]
}

// Len returns the number of interned identities.
func (t *Table) Len() int {
	return len(t.names) - 1
}
