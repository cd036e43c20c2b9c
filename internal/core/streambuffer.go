package core

import "sync"

// StreamAdapter is the capability the PBF tokenizer depends on: the public
// surface of StreamBuffer, kept as an interface so decode-side code never
// needs to know about FileStream/CacheBucket construction details.
type StreamAdapter interface {
	Size() uint64
	Locate(pos, size uint64) LocatorResult
	InlinePointer(pos, size uint64, prepend bool) ([]byte, LocatorResult)
	GetCopy(pos, size uint64) (*Buffer, LocatorResult)
	RemovePage(pos, size uint64) int
	RemovePageByID(id PageID) int
	RequiredPages() []Page
}

// StreamBuffer is the C1+C4 facade: a FileStream (bytes) fronted by a
// CacheBucket (paging), guarded by one sync.RWMutex. Readers
// (InlinePointer, GetCopy) take the read lock; eviction (RemovePage*) takes
// the write lock — never both disciplines for the same field, per spec §9.
type StreamBuffer struct {
	mu     sync.RWMutex
	file   *FileStream
	bucket *CacheBucket
	cfg    CacheBucketConfig
}

// NewStreamBuffer builds a StreamBuffer over path, not yet opened.
func NewStreamBuffer(path string, cfg CacheBucketConfig) *StreamBuffer {
	return &StreamBuffer{file: NewFileStream(path), cfg: cfg}
}

// Open opens the backing file and (re)builds the cache bucket.
func (sb *StreamBuffer) Open() error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if err := sb.file.Open(); err != nil {
		return err
	}
	bucket, err := NewCacheBucket(sb.file, sb.cfg)
	if err != nil {
		sb.file.Close()
		return err
	}
	sb.bucket = bucket
	return nil
}

// Close closes the backing file. The cache bucket's buffers are dropped with
// it (no explicit release needed: they become unreachable).
func (sb *StreamBuffer) Close() error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.bucket = nil
	return sb.file.Close()
}

// IsOpen reports whether the underlying file is open.
func (sb *StreamBuffer) IsOpen() bool {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return sb.file.IsOpen()
}

// IsGood reports whether the stream is open and has not hit EOF.
func (sb *StreamBuffer) IsGood() bool {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return sb.file.IsGood()
}

// IsEOF reports whether the last read observed end of file.
func (sb *StreamBuffer) IsEOF() bool {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return sb.file.IsEOF()
}

// Size returns the stream's byte length.
func (sb *StreamBuffer) Size() uint64 {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	if sb.bucket == nil {
		return 0
	}
	return sb.bucket.FileSize()
}

// CacheSize returns the number of currently-resident pages.
func (sb *StreamBuffer) CacheSize() int {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	if sb.bucket == nil {
		return 0
	}
	return sb.bucket.ResidentCount()
}

// Locate delegates to the cache bucket's locator.
func (sb *StreamBuffer) Locate(pos, size uint64) LocatorResult {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	if sb.bucket == nil {
		return LocatorResult{Kind: LocatorOutOfBound}
	}
	return sb.bucket.Locator().Locate(pos, size)
}

// InlinePointer resolves (pos,size); if the range is a single page it
// returns a zero-copy slice into the resident cache buffer (materializing it
// first when prepend is true). For any other outcome (CrossPage,
// OutOfBound, StartPageResolve) it returns (nil, locatorResult) and the
// caller is expected to fall back to GetCopy.
//
// The returned slice must not be retained past the next RemovePage* call on
// the same page id (spec §9 open question #2).
func (sb *StreamBuffer) InlinePointer(pos, size uint64, prepend bool) ([]byte, LocatorResult) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	if sb.bucket == nil {
		return nil, LocatorResult{Kind: LocatorOutOfBound}
	}
	loc := sb.bucket.Locator().Locate(pos, size)
	if !loc.OK || loc.Kind != LocatorSinglePage {
		return nil, loc
	}
	data, ok := sb.bucket.DataInline(loc.StartPageID, pos, size, prepend)
	if !ok {
		return nil, LocatorResult{Kind: loc.Kind, OK: false}
	}
	return data, loc
}

// GetCopy returns an owned copy of the bytes in [pos,pos+size), spanning
// pages as needed.
func (sb *StreamBuffer) GetCopy(pos, size uint64) (*Buffer, LocatorResult) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	if sb.bucket == nil {
		return nil, LocatorResult{Kind: LocatorOutOfBound}
	}
	return sb.bucket.GetAsCopy(pos, size)
}

// RemovePage evicts every page overlapping (pos,size).
func (sb *StreamBuffer) RemovePage(pos, size uint64) int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.bucket == nil {
		return 0
	}
	return sb.bucket.Remove(pos, size)
}

// RemovePageByID evicts a single page by id.
func (sb *StreamBuffer) RemovePageByID(id PageID) int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.bucket == nil {
		return 0
	}
	return sb.bucket.RemoveByID(id)
}

// RequiredPages returns a copy of the full page catalog.
func (sb *StreamBuffer) RequiredPages() []Page {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	if sb.bucket == nil {
		return nil
	}
	return sb.bucket.Pages()
}

var _ StreamAdapter = (*StreamBuffer)(nil)
