package core

import "fmt"

// CacheBucketSource is the minimal capability a CacheBucket needs from
// whatever backs it — a byte-addressable blob with a known size. FileStream
// is the only implementation in this repo, but tests use an in-memory one.
type CacheBucketSource interface {
	Size() (uint64, error)
	CopyTo(dst []byte, offset, length uint64) error
}

// CacheOptions is a bitmask of CacheBucket behaviors.
type CacheOptions uint8

const (
	// CacheOptionNone disables the resident-page cap.
	CacheOptionNone CacheOptions = 0
	// CacheOptionLimitMaxCacheSize enables LRU eviction once the resident
	// page count would exceed MaxCacheBytes/PageSize pages.
	CacheOptionLimitMaxCacheSize CacheOptions = 1 << 0
)

// CacheBucketConfig configures a CacheBucket.
type CacheBucketConfig struct {
	PageSize      uint64
	MaxCacheBytes uint64
	Options       CacheOptions
}

// frame is one resident page: its cached bytes plus LRU linkage.
type frame struct {
	page       Page
	buf        *Buffer
	prev, next PageID // 0 means "none" (page ids are 1-based)
}

// CacheBucket maps page ids to resident Buffers, materializing missing pages
// from a CacheBucketSource on demand and evicting by id, range, or LRU
// pressure. It is NOT internally synchronized; its owner (StreamBuffer)
// provides mutual exclusion, matching spec §4.3/§5.
type CacheBucket struct {
	cfg    CacheBucketConfig
	source CacheBucketSource

	fileSize uint64
	locator  Locator
	pages    []Page // immutable catalog, indexed by ID-1

	frames      map[PageID]*frame
	maxResident uint64

	lruHead, lruTail PageID // most-recent .. least-recent
}

// NewCacheBucket builds a CacheBucket over source, reading its size and
// building the page catalog immediately (spec §4.3 "Initialization").
func NewCacheBucket(source CacheBucketSource, cfg CacheBucketConfig) (*CacheBucket, error) {
	if cfg.PageSize == 0 {
		return nil, fmt.Errorf("core: cache bucket page size must be > 0")
	}
	cb := &CacheBucket{cfg: cfg, source: source, frames: make(map[PageID]*frame)}
	if err := cb.reload(); err != nil {
		return nil, err
	}
	return cb, nil
}

func (cb *CacheBucket) reload() error {
	size, err := cb.source.Size()
	if err != nil {
		return fmt.Errorf("core: reading source size: %w", err)
	}
	cb.fileSize = size
	cb.locator = NewLocator(size, cb.cfg.PageSize)
	cb.pages = RequiredPages(size, cb.cfg.PageSize)
	if cb.cfg.Options&CacheOptionLimitMaxCacheSize != 0 {
		cb.maxResident = TotalPages(cb.cfg.MaxCacheBytes, cb.cfg.PageSize)
	} else {
		cb.maxResident = 0
	}
	return nil
}

func (cb *CacheBucket) pageByID(id PageID) (Page, bool) {
	if id < 1 || int(id) > len(cb.pages) {
		return Page{}, false
	}
	return cb.pages[id-1], true
}

// Locator exposes the bucket's page-arithmetic locator.
func (cb *CacheBucket) Locator() Locator { return cb.locator }

// Pages returns a copy of the full (immutable) page catalog.
func (cb *CacheBucket) Pages() []Page {
	out := make([]Page, len(cb.pages))
	copy(out, cb.pages)
	return out
}

// FileSize returns the stream's byte length as of the last (re)load.
func (cb *CacheBucket) FileSize() uint64 { return cb.fileSize }

// --- LRU linkage -----------------------------------------------------------

func (cb *CacheBucket) lruUnlink(f *frame) {
	if f.prev != 0 {
		cb.frames[f.prev].next = f.next
	} else {
		cb.lruHead = f.next
	}
	if f.next != 0 {
		cb.frames[f.next].prev = f.prev
	} else {
		cb.lruTail = f.prev
	}
	f.prev, f.next = 0, 0
}

func (cb *CacheBucket) lruPushFront(f *frame) {
	f.prev = 0
	f.next = cb.lruHead
	if cb.lruHead != 0 {
		cb.frames[cb.lruHead].prev = f.page.ID
	}
	cb.lruHead = f.page.ID
	if cb.lruTail == 0 {
		cb.lruTail = f.page.ID
	}
}

func (cb *CacheBucket) lruTouch(f *frame) {
	if cb.lruHead == f.page.ID {
		return
	}
	cb.lruUnlink(f)
	cb.lruPushFront(f)
}

// evictLRU evicts the least-recently-touched resident page. Returns false if
// nothing could be evicted (cache empty).
func (cb *CacheBucket) evictLRU() bool {
	if cb.lruTail == 0 {
		return false
	}
	victim := cb.lruTail
	cb.RemoveByID(victim)
	return true
}

func (cb *CacheBucket) releaseFrame(id PageID) {
	f, ok := cb.frames[id]
	if !ok {
		return
	}
	cb.lruUnlink(f)
	f.buf.Release()
	delete(cb.frames, id)
}

func (cb *CacheBucket) enforceCap() {
	if cb.maxResident == 0 {
		return
	}
	for uint64(len(cb.frames)) > cb.maxResident {
		if !cb.evictLRU() {
			break
		}
	}
}

// --- Materialization ---------------------------------------------------

func (cb *CacheBucket) materializeOne(id PageID) error {
	if f, ok := cb.frames[id]; ok {
		cb.lruTouch(f)
		return nil
	}
	page, ok := cb.pageByID(id)
	if !ok {
		return fmt.Errorf("core: page %d not in catalog", id)
	}
	buf, err := NewBuffer(int(page.Size))
	if err != nil {
		return err
	}
	data, _ := buf.Data()
	if err := cb.source.CopyTo(data, page.Start, page.Size); err != nil {
		return fmt.Errorf("core: materializing page %d: %w", id, err)
	}
	page.State = PageAllocated
	cb.pages[id-1] = page
	f := &frame{page: page, buf: buf}
	cb.frames[id] = f
	cb.lruPushFront(f)
	cb.enforceCap()
	return nil
}

// Materialize resolves (pos,size) and ensures every page in range is
// resident, returning how many pages ended up resident. OutOfBound and
// StartPageResolve locates materialize nothing and return 0.
func (cb *CacheBucket) Materialize(pos, size uint64) (int, error) {
	loc := cb.locator.Locate(pos, size)
	if !loc.OK || loc.Kind == LocatorStartPageResolve {
		return 0, nil
	}
	count := 0
	for id := loc.StartPageID; id <= loc.EndPageID; id++ {
		if err := cb.materializeOne(id); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// DataInline returns a bounded slice directly into the resident cache buffer
// for page id, translating globalPos to an in-page offset. If the page isn't
// resident, it is materialized first when prepend is true; otherwise this
// returns (nil, false).
func (cb *CacheBucket) DataInline(id PageID, globalPos uint64, size uint64, prepend bool) ([]byte, bool) {
	page, ok := cb.pageByID(id)
	if !ok {
		return nil, false
	}
	f, ok := cb.frames[id]
	if !ok {
		if !prepend {
			return nil, false
		}
		if err := cb.materializeOne(id); err != nil {
			return nil, false
		}
		f = cb.frames[id]
	} else {
		cb.lruTouch(f)
	}
	localOff := globalPos - page.Start
	return f.buf.DataRange(int(localOff), int(size))
}

// GetAsCopy resolves (pos,size) and returns a freshly-allocated Buffer
// containing exactly those bytes, materializing any missing pages on demand.
// Returns (nil, locatorResult) on any locator or copy failure.
func (cb *CacheBucket) GetAsCopy(pos, size uint64) (*Buffer, LocatorResult) {
	loc := cb.locator.Locate(pos, size)
	if !loc.OK {
		return nil, loc
	}

	out, err := NewBuffer(int(size))
	if err != nil {
		return nil, LocatorResult{Kind: LocatorUnknown, OK: false}
	}

	if loc.Kind == LocatorSinglePage {
		if err := cb.materializeOne(loc.StartPageID); err != nil {
			return nil, LocatorResult{Kind: loc.Kind, OK: false}
		}
		page, _ := cb.pageByID(loc.StartPageID)
		src, ok := cb.frames[loc.StartPageID].buf.DataRange(int(pos-page.Start), int(size))
		if !ok || !out.CopyFrom(src) {
			return nil, LocatorResult{Kind: loc.Kind, OK: false}
		}
		return out, loc
	}

	// CrossPage: walk pages, copying each page's contribution into out.
	dstCursor := 0
	cursor := pos
	for id := loc.StartPageID; id <= loc.EndPageID; id++ {
		if err := cb.materializeOne(id); err != nil {
			return nil, LocatorResult{Kind: loc.Kind, OK: false}
		}
		page, _ := cb.pageByID(id)
		localStart := cursor
		if page.Start > localStart {
			localStart = page.Start
		}
		copyEnd := loc.End + 1
		if page.End+1 < copyEnd {
			copyEnd = page.End + 1
		}
		n := int(copyEnd - localStart)
		if n <= 0 {
			continue
		}
		src, ok := cb.frames[id].buf.DataRange(int(localStart-page.Start), n)
		if !ok {
			return nil, LocatorResult{Kind: loc.Kind, OK: false}
		}
		dst, ok := out.DataRange(dstCursor, n)
		if !ok {
			return nil, LocatorResult{Kind: loc.Kind, OK: false}
		}
		copy(dst, src)
		dstCursor += n
		cursor = copyEnd
	}
	return out, loc
}

// Remove evicts every resident page whose range overlaps (pos,size),
// returning how many pages were released. Pages already absent count as
// "already removed".
func (cb *CacheBucket) Remove(pos, size uint64) int {
	loc := cb.locator.Locate(pos, size)
	if !loc.OK || loc.Kind == LocatorStartPageResolve {
		return 0
	}
	count := 0
	for id := loc.StartPageID; id <= loc.EndPageID; id++ {
		count += cb.RemoveByID(id)
	}
	return count
}

// RemoveByID evicts page id if resident, returning 1, or 0 if it wasn't.
func (cb *CacheBucket) RemoveByID(id PageID) int {
	if _, ok := cb.frames[id]; !ok {
		return 0
	}
	cb.releaseFrame(id)
	if page, ok := cb.pageByID(id); ok {
		page.State = PageDeleted
		cb.pages[id-1] = page
	}
	return 1
}

// Reset releases every resident buffer and rebuilds the catalog from the
// source's current size.
func (cb *CacheBucket) Reset() error {
	for id := range cb.frames {
		cb.releaseFrame(id)
	}
	cb.frames = make(map[PageID]*frame)
	cb.lruHead, cb.lruTail = 0, 0
	return cb.reload()
}

// ResidentCount returns the number of currently-resident pages (for tests
// and diagnostics; matches the "dom(caches) == keys(active_pages)" invariant
// by construction — cb.frames IS the resident set).
func (cb *CacheBucket) ResidentCount() int { return len(cb.frames) }
