package pbf

import (
	"bytes"
	"testing"

	"github.com/simonwaldherr/openmapd/internal/osmpb"
)

func deflateForTest(t *testing.T, raw []byte) []byte {
	t.Helper()
	buf, err := Deflate(raw)
	if err != nil {
		t.Fatalf("Deflate: %v", err)
	}
	defer buf.Release()
	data, _ := buf.Data()
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

func TestUncompress_Raw(t *testing.T) {
	got, err := Uncompress(osmpb.Blob{Raw: []byte("plain bytes")})
	if err != nil {
		t.Fatalf("Uncompress: %v", err)
	}
	if string(got) != "plain bytes" {
		t.Fatalf("got %q", got)
	}
}

func TestUncompress_Zlib(t *testing.T) {
	raw := []byte("the quick brown fox jumps over the lazy dog, repeatedly, to give zlib something to compress")
	compressed := deflateForTest(t, raw)

	got, err := Uncompress(osmpb.Blob{ZlibData: compressed, RawSize: int32(len(raw))})
	if err != nil {
		t.Fatalf("Uncompress: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("got %q, want %q", got, raw)
	}
}

func TestUncompress_ZlibSizeMismatch(t *testing.T) {
	raw := []byte("some data")
	compressed := deflateForTest(t, raw)
	_, err := Uncompress(osmpb.Blob{ZlibData: compressed, RawSize: int32(len(raw) + 10)})
	if err == nil {
		t.Fatal("expected an error when raw_size disagrees with the inflated length")
	}
}

func TestUncompress_Lzma(t *testing.T) {
	_, err := Uncompress(osmpb.Blob{LzmaData: []byte{1, 2, 3}})
	if err == nil {
		t.Fatal("expected an error for lzma_data")
	}
}

func TestUncompress_Empty(t *testing.T) {
	_, err := Uncompress(osmpb.Blob{})
	if err == nil {
		t.Fatal("expected an error for a blob with no recognized payload")
	}
}

func TestInflate_RejectsGarbageStream(t *testing.T) {
	if _, err := Inflate([]byte{0x00, 0x01, 0x02, 0x03}); err == nil {
		t.Fatal("expected an error opening a non-zlib stream")
	}
}

// TestDeflateInflate_RoundTrip exercises spec.md §8's round-trip law:
// deflate composed with inflate must be the identity on arbitrary byte
// content, including content spanning multiple 32 KiB scratch windows.
func TestDeflateInflate_RoundTrip(t *testing.T) {
	cases := map[string][]byte{
		"empty":          {},
		"short":          []byte("a short osm tag value"),
		"exact-window":   bytes.Repeat([]byte("x"), inflateScratchWindow),
		"multi-window":   bytes.Repeat([]byte("openstreetmap-pbf-round-trip "), 5000),
		"binary-content": append([]byte{0x00, 0xff, 0x10, 0x7f}, bytes.Repeat([]byte{0xAB}, 4096)...),
	}

	for name, raw := range cases {
		raw := raw
		t.Run(name, func(t *testing.T) {
			deflated, err := Deflate(raw)
			if err != nil {
				t.Fatalf("Deflate: %v", err)
			}
			deflatedData, _ := deflated.Data()
			deflatedCopy := append([]byte(nil), deflatedData...)
			deflated.Release()

			inflated, err := Inflate(deflatedCopy)
			if err != nil {
				t.Fatalf("Inflate: %v", err)
			}
			defer inflated.Release()
			got, _ := inflated.Data()

			if !bytes.Equal(got, raw) {
				t.Fatalf("round-trip mismatch: got %d bytes, want %d bytes", len(got), len(raw))
			}
		})
	}
}

func TestInflate_SegmentsAcrossMultipleScratchWindows(t *testing.T) {
	raw := bytes.Repeat([]byte("segment-boundary-check "), 10000)
	if len(raw) <= inflateScratchWindow*2 {
		t.Fatalf("test fixture too small to exercise multiple scratch windows: %d bytes", len(raw))
	}
	deflated, err := Deflate(raw)
	if err != nil {
		t.Fatalf("Deflate: %v", err)
	}
	data, _ := deflated.Data()
	compressed := append([]byte(nil), data...)
	deflated.Release()

	inflated, err := Inflate(compressed)
	if err != nil {
		t.Fatalf("Inflate: %v", err)
	}
	defer inflated.Release()
	got, _ := inflated.Data()
	if !bytes.Equal(got, raw) {
		t.Fatal("inflated content does not match original across multiple scratch windows")
	}
}
