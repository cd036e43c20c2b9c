package core

import "fmt"

// Buffer is an owned, fixed-size contiguous byte region with bounds-checked
// access and explicit release. It has no copy constructor — pass pointers,
// not values — and must never be written to from more than one goroutine at
// a time.
type Buffer struct {
	data []byte
	size int
}

// NewBuffer allocates a Buffer of exactly size bytes.
func NewBuffer(size int) (*Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("core: negative buffer size %d", size)
	}
	return &Buffer{data: make([]byte, size), size: size}, nil
}

// Size returns the buffer's fixed capacity.
func (b *Buffer) Size() int { return b.size }

// Data returns the full buffer, or (nil, false) if it has been released.
func (b *Buffer) Data() ([]byte, bool) {
	if b.data == nil {
		return nil, false
	}
	return b.data, true
}

// DataAt returns the tail of the buffer starting at at, or (nil, false) if
// released or out of bounds.
func (b *Buffer) DataAt(at int) ([]byte, bool) {
	if b.data == nil || at < 0 || at > b.size {
		return nil, false
	}
	return b.data[at:], true
}

// DataRange returns b.data[at:at+ln], or (nil, false) if released or if
// at+ln exceeds the buffer's size.
func (b *Buffer) DataRange(at, ln int) ([]byte, bool) {
	if b.data == nil || at < 0 || ln < 0 || at+ln > b.size {
		return nil, false
	}
	return b.data[at : at+ln], true
}

// CopyFrom overwrites the whole buffer; it succeeds iff len(src) == Size().
func (b *Buffer) CopyFrom(src []byte) bool {
	if b.data == nil || len(src) != b.size {
		return false
	}
	copy(b.data, src)
	return true
}

// CopyFromAt copies src into the buffer starting at at; it succeeds iff
// at+len(src) <= Size().
func (b *Buffer) CopyFromAt(at int, src []byte) bool {
	if b.data == nil || at < 0 || at+len(src) > b.size {
		return false
	}
	copy(b.data[at:], src)
	return true
}

// Release frees the underlying slice. Idempotent; after Release all
// accessors return the failure sentinel (ok=false).
func (b *Buffer) Release() {
	b.data = nil
}

// Released reports whether Release has been called.
func (b *Buffer) Released() bool {
	return b.data == nil
}
