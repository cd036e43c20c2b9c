package core

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestStreamBuffer_OpenCloseLifecycle(t *testing.T) {
	path := writeTempFile(t, sequentialBytes(4096+10))
	sb := NewStreamBuffer(path, CacheBucketConfig{PageSize: 4096})

	if sb.IsOpen() {
		t.Fatal("IsOpen should be false before Open")
	}
	if err := sb.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !sb.IsOpen() || !sb.IsGood() {
		t.Fatal("stream should be open and good after Open")
	}
	if sb.Size() != 4096+10 {
		t.Fatalf("Size() = %d, want %d", sb.Size(), 4096+10)
	}
	if err := sb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sb.IsOpen() {
		t.Fatal("IsOpen should be false after Close")
	}
}

func TestStreamBuffer_InlinePointerSinglePageOnly(t *testing.T) {
	data := sequentialBytes(4096 * 2)
	path := writeTempFile(t, data)
	sb := NewStreamBuffer(path, CacheBucketConfig{PageSize: 4096})
	if err := sb.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sb.Close()

	ptr, loc := sb.InlinePointer(10, 20, true)
	if ptr == nil || loc.Kind != LocatorSinglePage {
		t.Fatalf("InlinePointer single-page failed: loc=%+v", loc)
	}
	for i, b := range ptr {
		if b != data[10+i] {
			t.Fatalf("InlinePointer byte %d mismatch", i)
		}
	}

	// A cross-page range must fall back to nil, not attempt a partial slice.
	ptr, loc = sb.InlinePointer(4096-5, 10, true)
	if ptr != nil {
		t.Fatalf("InlinePointer should return nil for a cross-page range, got %v", ptr)
	}
	if loc.Kind != LocatorCrossPage {
		t.Fatalf("expected CrossPage locate result, got %s", loc.Kind)
	}
}

func TestStreamBuffer_GetCopyCrossPageFallback(t *testing.T) {
	data := sequentialBytes(4096*2 + 100)
	path := writeTempFile(t, data)
	sb := NewStreamBuffer(path, CacheBucketConfig{PageSize: 4096})
	if err := sb.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sb.Close()

	pos, size := uint64(4096-10), uint64(20)
	buf, loc := sb.GetCopy(pos, size)
	if buf == nil || loc.Kind != LocatorCrossPage {
		t.Fatalf("GetCopy cross-page failed: loc=%+v", loc)
	}
	got, _ := buf.Data()
	for i, b := range got {
		if b != data[pos+uint64(i)] {
			t.Fatalf("GetCopy byte %d mismatch", i)
		}
	}
}

func TestStreamBuffer_EvictionUnderForwardScan(t *testing.T) {
	// Simulates a tokenizer advancing page-by-page, evicting the previous
	// page once it crosses a boundary, per the "Eviction under forward scan"
	// scenario: resident-page count must never exceed 1 once the scan is
	// past the first page.
	const pageSize = 4096
	data := sequentialBytes(pageSize * 5)
	path := writeTempFile(t, data)
	sb := NewStreamBuffer(path, CacheBucketConfig{PageSize: pageSize})
	if err := sb.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sb.Close()

	var prevPage PageID
	for _, p := range sb.RequiredPages() {
		if _, loc := sb.GetCopy(p.Start, 1); loc.Kind != LocatorSinglePage {
			t.Fatalf("unexpected locate kind %s for page %d", loc.Kind, p.ID)
		}
		if prevPage != 0 {
			sb.RemovePageByID(prevPage)
		}
		prevPage = p.ID
		if sb.CacheSize() > 1 {
			t.Fatalf("CacheSize = %d after scanning page %d, want <= 1", sb.CacheSize(), p.ID)
		}
	}
}

func TestStreamBuffer_RemovePageRangeSpanningTwoPages(t *testing.T) {
	const pageSize = 4096
	data := sequentialBytes(pageSize * 3)
	path := writeTempFile(t, data)
	sb := NewStreamBuffer(path, CacheBucketConfig{PageSize: pageSize})
	if err := sb.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sb.Close()

	if _, loc := sb.GetCopy(pageSize-10, 20); loc.Kind != LocatorCrossPage {
		t.Fatalf("expected CrossPage, got %s", loc.Kind)
	}
	if n := sb.RemovePage(pageSize-10, 20); n != 2 {
		t.Fatalf("RemovePage across 2 pages removed %d, want 2", n)
	}
	if sb.CacheSize() != 0 {
		t.Fatalf("CacheSize = %d, want 0 after removing both pages", sb.CacheSize())
	}
}

func TestStreamBuffer_OpenMissingFile(t *testing.T) {
	sb := NewStreamBuffer(filepath.Join(t.TempDir(), "does-not-exist.bin"), CacheBucketConfig{PageSize: 4096})
	if err := sb.Open(); err == nil {
		t.Fatal("Open on a missing file should return an error")
	}
}
