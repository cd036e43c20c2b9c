package osm

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/simonwaldherr/openmapd/internal/core"
	"github.com/simonwaldherr/openmapd/internal/pbf"
	"github.com/simonwaldherr/openmapd/internal/wire"
)

func encodeBlobRecord(blobType string, rawPayload []byte) []byte {
	var blobBuf []byte
	blobBuf = wire.AppendBytesField(blobBuf, 1, rawPayload)

	var headerBuf []byte
	headerBuf = wire.AppendBytesField(headerBuf, 1, []byte(blobType))
	headerBuf = wire.AppendVarintField(headerBuf, 3, uint64(len(blobBuf)))

	var out []byte
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(headerBuf)))
	out = append(out, lenPrefix[:]...)
	out = append(out, headerBuf...)
	out = append(out, blobBuf...)
	return out
}

func writeReaderTestFile(t *testing.T, records ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reader_test.osm.pbf")
	var all []byte
	for _, r := range records {
		all = append(all, r...)
	}
	if err := os.WriteFile(path, all, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestReader_EmptyHeaderOnlyScenario(t *testing.T) {
	// End-to-end scenario 1: a PBF containing only an OSMHeader record
	// must yield exactly one FileHeader and created==finished==1.
	var hb []byte
	hb = wire.AppendBytesField(hb, 4, []byte("OsmSchema-V0.6"))
	rec := encodeBlobRecord("OSMHeader", hb)
	path := writeReaderTestFile(t, rec)

	sb := core.NewStreamBuffer(path, core.CacheBucketConfig{PageSize: 4096})
	if err := sb.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sb.Close()

	tok := pbf.NewTokenizer(sb)
	r := NewReader(sb, tok, ReaderOptions{Workers: 2, Decoder: DefaultDecoderOptions})

	var mu sync.Mutex
	var elements []Element
	r.OnOSMElement(func(e Element) {
		mu.Lock()
		elements = append(elements, e)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Join()

	if len(elements) != 1 || elements[0].Kind != KindFileHeader {
		t.Fatalf("got %+v, want exactly one FileHeader", elements)
	}
	if c := r.counters; c.Created() != 1 || c.Finished() != 1 {
		t.Fatalf("counters = %+v, want created==finished==1", c)
	}
}

func TestReader_MultipleBlobsQuiescence(t *testing.T) {
	payload := make([]byte, 500)
	var records [][]byte
	for i := 0; i < 10; i++ {
		records = append(records, encodeBlobRecord("OSMData", payload))
	}
	path := writeReaderTestFile(t, records...)

	sb := core.NewStreamBuffer(path, core.CacheBucketConfig{PageSize: 4096})
	if err := sb.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sb.Close()

	tok := pbf.NewTokenizer(sb)
	r := NewReader(sb, tok, ReaderOptions{Workers: 3, Decoder: DefaultDecoderOptions})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Join()

	if !r.counters.Quiescent() {
		t.Fatalf("counters not quiescent: %+v", r.counters)
	}
	if r.counters.Created() != 10 {
		t.Fatalf("created = %d, want 10", r.counters.Created())
	}
}

func TestReader_OnDecodeErrorFiresForMalformedBlock(t *testing.T) {
	// A DenseNodes group whose id/lat/lon parallel arrays disagree in length
	// is spec.md §7 kind 5 (InvariantViolation): the block is dropped with a
	// diagnostic instead of silently discarded.
	var dn []byte
	dn = wire.AppendBytesField(dn, 1, wire.AppendVarint(wire.AppendVarint(nil, encodeSIntForReaderTest(1)), encodeSIntForReaderTest(2)))
	dn = wire.AppendBytesField(dn, 8, wire.AppendVarint(nil, encodeSIntForReaderTest(10)))
	dn = wire.AppendBytesField(dn, 9, wire.AppendVarint(nil, encodeSIntForReaderTest(10)))

	var group []byte
	group = wire.AppendBytesField(group, 2, dn)

	var block []byte
	block = wire.AppendBytesField(block, 2, group)
	block = wire.AppendVarintField(block, 17, 100)

	rec := encodeBlobRecord("OSMData", block)
	path := writeReaderTestFile(t, rec)

	sb := core.NewStreamBuffer(path, core.CacheBucketConfig{PageSize: 4096})
	if err := sb.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sb.Close()

	tok := pbf.NewTokenizer(sb)
	r := NewReader(sb, tok, ReaderOptions{Workers: 1, Decoder: DefaultDecoderOptions})

	var mu sync.Mutex
	var decodeErrs []error
	r.OnDecodeError(func(err error, _ pbf.BlobRecord) {
		mu.Lock()
		decodeErrs = append(decodeErrs, err)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Join()

	mu.Lock()
	defer mu.Unlock()
	if len(decodeErrs) != 1 {
		t.Fatalf("got %d decode errors, want 1", len(decodeErrs))
	}
}

func encodeSIntForReaderTest(n int64) uint64 {
	return uint64(n<<1) ^ uint64(n>>63)
}

func TestReader_StopBeforeStartIsNoop(t *testing.T) {
	sb := core.NewStreamBuffer(filepath.Join(t.TempDir(), "unused.pbf"), core.CacheBucketConfig{PageSize: 4096})
	tok := pbf.NewTokenizer(sb)
	r := NewReader(sb, tok, ReaderOptions{Workers: 1})
	state, err := r.Stop()
	if err != nil || state != StreamStopped {
		t.Fatalf("Stop before Start: state=%v err=%v", state, err)
	}
}
