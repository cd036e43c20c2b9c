// Package core implements the paged stream-buffer substrate that the OSM-PBF
// pipeline is built on: a pure page-arithmetic locator, an owned fixed-size
// memory buffer, a page cache ("cache bucket") that materializes pages from a
// byte-addressable source, and a stream-buffer facade that combines the two
// behind a single reader/writer lock.
package core

import "fmt"

// PageID identifies a page within a stream. Pages are 1-based.
type PageID uint64

// PageState tracks whether a page's bytes are resident in the cache.
type PageState uint8

const (
	// PageUnallocated means the page is known (it's in the catalog) but has
	// never been materialized.
	PageUnallocated PageState = iota
	// PageAllocated means the page's bytes are resident in the cache.
	PageAllocated
	// PageDeleted means the page was evicted after having been allocated.
	PageDeleted
)

func (s PageState) String() string {
	switch s {
	case PageUnallocated:
		return "Unallocated"
	case PageAllocated:
		return "Allocated"
	case PageDeleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// Page describes one fixed-size (except possibly the last) window over a
// stream's bytes. Start/End are inclusive byte offsets.
type Page struct {
	ID    PageID
	Start uint64
	End   uint64
	Size  uint64
	State PageState
}

// TotalPages returns ceil(fileSize/pageSize), or 0 for an empty stream.
func TotalPages(fileSize, pageSize uint64) uint64 {
	if fileSize == 0 || pageSize == 0 {
		return 0
	}
	return (fileSize + pageSize - 1) / pageSize
}

// RequiredPages builds the full, immutable page catalog for a stream of the
// given size. Every page but the last has exactly pageSize bytes; the last
// page is truncated to whatever remains.
func RequiredPages(fileSize, pageSize uint64) []Page {
	total := TotalPages(fileSize, pageSize)
	if total == 0 {
		return nil
	}
	pages := make([]Page, 0, total)
	for k := uint64(1); k <= total; k++ {
		start := (k - 1) * pageSize
		end := k*pageSize - 1
		if end > fileSize-1 {
			end = fileSize - 1
		}
		pages = append(pages, Page{
			ID:    PageID(k),
			Start: start,
			End:   end,
			Size:  end - start + 1,
			State: PageUnallocated,
		})
	}
	return pages
}

// LocatorKind classifies the result of a locate query.
type LocatorKind uint8

const (
	LocatorUnknown LocatorKind = iota
	LocatorSinglePage
	LocatorCrossPage
	LocatorStartPageResolve
	LocatorOutOfBound
)

func (k LocatorKind) String() string {
	switch k {
	case LocatorSinglePage:
		return "SinglePage"
	case LocatorCrossPage:
		return "CrossPage"
	case LocatorStartPageResolve:
		return "StartPageResolve"
	case LocatorOutOfBound:
		return "OutOfBound"
	default:
		return "Unknown"
	}
}

// LocatorResult is the outcome of Locator.Locate.
type LocatorResult struct {
	StartPageID PageID
	EndPageID   PageID
	Start       uint64
	End         uint64
	TotalSize   uint64
	Kind        LocatorKind
	OK          bool
}

// Locator maps byte ranges to page ids. It is pure arithmetic over
// (fileSize, pageSize) and holds no mutable state, so the same Locator can be
// shared by the tokenizer and any number of read-only callers.
type Locator struct {
	PageSize uint64
	FileSize uint64
}

// NewLocator builds a Locator for a stream of the given size.
func NewLocator(fileSize, pageSize uint64) Locator {
	return Locator{PageSize: pageSize, FileSize: fileSize}
}

func (l Locator) totalPages() uint64 {
	return TotalPages(l.FileSize, l.PageSize)
}

// Locate resolves a (pos, size) byte range to a LocatorResult. size==0 asks
// "which page contains this offset" (StartPageResolve); pos+size>FileSize or
// pos>=FileSize is OutOfBound.
func (l Locator) Locate(pos, size uint64) LocatorResult {
	if l.FileSize == 0 || pos >= l.FileSize || (size > 0 && pos+size > l.FileSize) {
		return LocatorResult{Kind: LocatorOutOfBound, OK: false}
	}
	if size == 0 {
		startID := pos/l.PageSize + 1
		total := l.totalPages()
		if startID > total {
			startID = total
		}
		return LocatorResult{
			StartPageID: PageID(startID),
			Start:       pos,
			TotalSize:   0,
			Kind:        LocatorStartPageResolve,
			OK:          true,
		}
	}

	endPos := pos + size - 1
	if endPos > l.FileSize-1 {
		endPos = l.FileSize - 1
	}
	startID := PageID(pos/l.PageSize + 1)
	endID := PageID(endPos/l.PageSize + 1)

	kind := LocatorSinglePage
	if startID != endID {
		kind = LocatorCrossPage
	}
	return LocatorResult{
		StartPageID: startID,
		EndPageID:   endID,
		Start:       pos,
		End:         endPos,
		TotalSize:   size,
		Kind:        kind,
		OK:          true,
	}
}

// GlobalToLocal maps an absolute byte offset to its (page id, in-page offset).
func (l Locator) GlobalToLocal(pos uint64) (PageID, uint64) {
	return PageID(pos/l.PageSize + 1), pos % l.PageSize
}

// String implements fmt.Stringer for diagnostic logging.
func (r LocatorResult) String() string {
	if !r.OK {
		return fmt.Sprintf("LocatorResult{%s}", r.Kind)
	}
	if r.Kind == LocatorStartPageResolve {
		return fmt.Sprintf("LocatorResult{%s start_page=%d pos=%d}", r.Kind, r.StartPageID, r.Start)
	}
	return fmt.Sprintf("LocatorResult{%s pages=%d..%d range=[%d,%d]}", r.Kind, r.StartPageID, r.EndPageID, r.Start, r.End)
}
