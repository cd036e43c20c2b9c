package pbf

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/simonwaldherr/openmapd/internal/core"
	"github.com/simonwaldherr/openmapd/internal/osmpb"
)

// inflateScratchWindow is the fixed read-chunk size streamed out of the
// zlib reader between segment allocations (spec.md §4.7).
const inflateScratchWindow = 32 * 1024

// Inflate streams src through zlib inflate using a 32 KiB scratch window,
// accumulating each chunk into its own owned core.Buffer segment. On
// success the segments are flattened into a single contiguous core.Buffer,
// which the caller owns and must Release. On any error the partial
// segments are released and the call fails, per spec.md §4.7.
func Inflate(src []byte) (*core.Buffer, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("pbf: opening zlib stream: %w", err)
	}
	defer zr.Close()
	return inflateStream(zr)
}

func inflateStream(r io.Reader) (*core.Buffer, error) {
	var segments []*core.Buffer
	releaseSegments := func() {
		for _, seg := range segments {
			seg.Release()
		}
	}

	scratch := make([]byte, inflateScratchWindow)
	for {
		n, err := r.Read(scratch)
		if n > 0 {
			seg, bufErr := core.NewBuffer(n)
			if bufErr != nil {
				releaseSegments()
				return nil, fmt.Errorf("pbf: allocating inflate segment: %w", bufErr)
			}
			seg.CopyFrom(scratch[:n])
			segments = append(segments, seg)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			releaseSegments()
			return nil, fmt.Errorf("pbf: inflating: %w", err)
		}
	}

	total := 0
	for _, seg := range segments {
		total += seg.Size()
	}
	out, err := core.NewBuffer(total)
	if err != nil {
		releaseSegments()
		return nil, fmt.Errorf("pbf: allocating flattened inflate buffer: %w", err)
	}
	offset := 0
	for _, seg := range segments {
		data, _ := seg.Data()
		out.CopyFromAt(offset, data)
		offset += seg.Size()
	}
	releaseSegments()
	return out, nil
}

// Deflate compresses src with zlib, returning an owned core.Buffer the
// caller must Release. It is the symmetric counterpart to Inflate, used to
// test the deflate-then-inflate round-trip law of spec.md §8; nothing else
// in this module calls it.
func Deflate(src []byte) (*core.Buffer, error) {
	var out bytes.Buffer
	zw := zlib.NewWriter(&out)
	if _, err := zw.Write(src); err != nil {
		zw.Close()
		return nil, fmt.Errorf("pbf: deflating: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("pbf: closing zlib writer: %w", err)
	}
	buf, err := core.NewBuffer(out.Len())
	if err != nil {
		return nil, fmt.Errorf("pbf: allocating deflate buffer: %w", err)
	}
	buf.CopyFrom(out.Bytes())
	return buf, nil
}

// Uncompress returns a Blob's logical payload regardless of which
// compression scheme produced it. LzmaData blobs are rejected: no LZMA
// decoder is wired into this module (see DESIGN.md), matching real-world PBF
// producers which never actually emit it.
func Uncompress(b osmpb.Blob) ([]byte, error) {
	switch {
	case b.Raw != nil:
		return b.Raw, nil

	case b.ZlibData != nil:
		buf, err := Inflate(b.ZlibData)
		if err != nil {
			return nil, err
		}
		defer buf.Release()
		data, _ := buf.Data()
		if b.RawSize != 0 && len(data) != int(b.RawSize) {
			return nil, fmt.Errorf("pbf: inflated %d bytes, blob declared raw_size %d", len(data), b.RawSize)
		}
		// Uncompress hands ownership of the bytes to the caller as a plain
		// slice, so copy out of buf before releasing it.
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil

	case b.LzmaData != nil:
		return nil, fmt.Errorf("pbf: lzma-compressed blobs are not supported")

	default:
		return nil, fmt.Errorf("pbf: blob carries no recognized payload")
	}
}
