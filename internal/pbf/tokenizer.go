package pbf

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/simonwaldherr/openmapd/internal/core"
	"github.com/simonwaldherr/openmapd/internal/osmpb"
)

// BlobRecord is one (BlobHeader, Blob, compressed-payload) triple produced
// by the tokenizer. Payload is owned by whoever currently holds the record:
// the tokenizer until OnDataReady fires, the worker that dequeues it
// thereafter. The worker must Release it once decoded.
type BlobRecord struct {
	Header  osmpb.BlobHeader
	Blob    osmpb.Blob
	Payload *core.Buffer
}

type startHandler func()
type finishHandler func(error)
type dataReadyHandler func(BlobRecord)
type errorHandler func(error, uint64)

// Tokenizer walks a Stream Buffer, splitting it into BlobRecords and raising
// them to registered callbacks, evicting pages no longer needed for forward
// progress. Event registration returns an opaque token so handlers can be
// unregistered individually, instead of the raw function pointers the
// equivalent C++ component relies on.
type Tokenizer struct {
	stream core.StreamAdapter

	mu        sync.Mutex
	nextToken int
	onStart   map[int]startHandler
	onFinish  map[int]finishHandler
	onData    map[int]dataReadyHandler
	onError   map[int]errorHandler
}

// NewTokenizer builds a Tokenizer over stream.
func NewTokenizer(stream core.StreamAdapter) *Tokenizer {
	return &Tokenizer{
		stream:   stream,
		onStart:  make(map[int]startHandler),
		onFinish: make(map[int]finishHandler),
		onData:   make(map[int]dataReadyHandler),
		onError:  make(map[int]errorHandler),
	}
}

func (t *Tokenizer) register() int {
	t.nextToken++
	return t.nextToken
}

// OnStart registers fn to run once Split begins.
func (t *Tokenizer) OnStart(fn func()) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	tok := t.register()
	t.onStart[tok] = fn
	return tok
}

// OnFinish registers fn to run once Split returns, with the terminal error
// (nil on a clean end-of-stream).
func (t *Tokenizer) OnFinish(fn func(error)) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	tok := t.register()
	t.onFinish[tok] = fn
	return tok
}

// OnDataReady registers fn to receive every BlobRecord the tokenizer
// produces. If no handler is registered, each record's payload is released
// immediately instead of leaking.
func (t *Tokenizer) OnDataReady(fn func(BlobRecord)) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	tok := t.register()
	t.onData[tok] = fn
	return tok
}

// OnError registers fn to receive record errors (position is the byte offset
// at which the error was detected): malformed records, after which Split
// stops, and blobs with an unsupported payload, which Split skips.
func (t *Tokenizer) OnError(fn func(error, uint64)) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	tok := t.register()
	t.onError[tok] = fn
	return tok
}

// Unregister removes a previously registered handler, whichever kind it is.
func (t *Tokenizer) Unregister(token int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.onStart, token)
	delete(t.onFinish, token)
	delete(t.onData, token)
	delete(t.onError, token)
}

func (t *Tokenizer) fireStart() {
	t.mu.Lock()
	handlers := make([]startHandler, 0, len(t.onStart))
	for _, h := range t.onStart {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

func (t *Tokenizer) fireFinish(err error) {
	t.mu.Lock()
	handlers := make([]finishHandler, 0, len(t.onFinish))
	for _, h := range t.onFinish {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()
	for _, h := range handlers {
		h(err)
	}
}

func (t *Tokenizer) fireDataReady(rec BlobRecord) {
	t.mu.Lock()
	handlers := make([]dataReadyHandler, 0, len(t.onData))
	for _, h := range t.onData {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()
	if len(handlers) == 0 {
		rec.Payload.Release()
		return
	}
	for _, h := range handlers {
		h(rec)
	}
}

func (t *Tokenizer) fireError(err error, pos uint64) {
	t.mu.Lock()
	handlers := make([]errorHandler, 0, len(t.onError))
	for _, h := range t.onError {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()
	for _, h := range handlers {
		h(err, pos)
	}
}

// ErrMalformedRecord reports a zero-length or truncated header/blob.
type ErrMalformedRecord struct {
	Pos uint64
}

func (e ErrMalformedRecord) Error() string {
	return fmt.Sprintf("pbf: malformed record at offset %d", e.Pos)
}

// ErrUnsupportedCompression reports a blob whose payload discriminant this
// module cannot decompress (LZMA, bzip2, or an unrecognized blob).
type ErrUnsupportedCompression struct {
	Pos uint64
}

func (e ErrUnsupportedCompression) Error() string {
	return fmt.Sprintf("pbf: unsupported blob compression at offset %d", e.Pos)
}

// fetch reads exactly n bytes starting at pos, preferring a zero-copy inline
// pointer and falling back to an owned copy across page boundaries. It
// returns the bytes plus, when they came from an owned copy, the core.Buffer
// the caller must release; that Buffer is nil when the bytes are an inline
// (borrowed) slice of the stream's cache.
func (t *Tokenizer) fetch(pos, n uint64) ([]byte, *core.Buffer, error) {
	if n == 0 {
		return nil, nil, nil
	}
	if ptr, loc := t.stream.InlinePointer(pos, n, true); ptr != nil {
		return ptr, nil, nil
	} else if !loc.OK {
		return nil, nil, fmt.Errorf("pbf: reading %d bytes at %d: %w", n, pos, ErrMalformedRecord{Pos: pos})
	}
	buf, loc := t.stream.GetCopy(pos, n)
	if buf == nil || !loc.OK {
		return nil, nil, fmt.Errorf("pbf: reading %d bytes at %d: %w", n, pos, ErrMalformedRecord{Pos: pos})
	}
	data, _ := buf.Data()
	return data, buf, nil
}

// evictIfCrossed releases the previous locator's start page if the current
// read landed on a different page ("CleanupBuffer" policy): forward
// consumption stays bounded to O(page_size) resident bytes.
func (t *Tokenizer) evictIfCrossed(prev, cur core.PageID) core.PageID {
	if prev != 0 && prev != cur {
		t.stream.RemovePageByID(prev)
	}
	return cur
}

// Split walks the entire stream, producing BlobRecords until end of stream
// or the first malformed record.
func (t *Tokenizer) Split() error {
	t.fireStart()

	var cursor uint64
	var prevPage core.PageID
	total := t.stream.Size()

	for cursor < total {
		lenBytes, lenBuf, err := t.fetch(cursor, 4)
		if err != nil {
			t.fireError(err, cursor)
			t.fireFinish(err)
			return err
		}
		headerLen := binary.BigEndian.Uint32(lenBytes)
		if lenBuf != nil {
			lenBuf.Release()
		}
		if loc := t.stream.Locate(cursor, 4); loc.OK {
			prevPage = t.evictIfCrossed(prevPage, loc.StartPageID)
		}
		cursor += 4

		if headerLen == 0 {
			err := fmt.Errorf("pbf: %w", ErrMalformedRecord{Pos: cursor})
			t.fireError(err, cursor)
			t.fireFinish(err)
			return err
		}

		headerBytes, headerBuf, err := t.fetch(cursor, uint64(headerLen))
		if err != nil {
			t.fireError(err, cursor)
			t.fireFinish(err)
			return err
		}
		header, perr := osmpb.ParseBlobHeader(headerBytes)
		if headerBuf != nil {
			headerBuf.Release()
		}
		if perr != nil {
			err := fmt.Errorf("pbf: %w: %v", ErrMalformedRecord{Pos: cursor}, perr)
			t.fireError(err, cursor)
			t.fireFinish(err)
			return err
		}
		if loc := t.stream.Locate(cursor, uint64(headerLen)); loc.OK {
			prevPage = t.evictIfCrossed(prevPage, loc.StartPageID)
		}
		cursor += uint64(headerLen)

		if header.DataSize <= 0 {
			err := fmt.Errorf("pbf: %w", ErrMalformedRecord{Pos: cursor})
			t.fireError(err, cursor)
			t.fireFinish(err)
			return err
		}

		blobBytes, blobBuf, err := t.fetch(cursor, uint64(header.DataSize))
		if err != nil {
			t.fireError(err, cursor)
			t.fireFinish(err)
			return err
		}
		blob, perr := osmpb.ParseBlob(blobBytes)
		if perr != nil {
			if blobBuf != nil {
				blobBuf.Release()
			}
			err := fmt.Errorf("pbf: %w: %v", ErrMalformedRecord{Pos: cursor}, perr)
			t.fireError(err, cursor)
			t.fireFinish(err)
			return err
		}
		if loc := t.stream.Locate(cursor, uint64(header.DataSize)); loc.OK {
			prevPage = t.evictIfCrossed(prevPage, loc.StartPageID)
		}
		cursor += uint64(header.DataSize)

		payload, err := blobPayload(blob)
		if blobBuf != nil {
			blobBuf.Release()
		}
		if err != nil {
			t.fireError(err, cursor)
			continue
		}

		t.fireDataReady(BlobRecord{Header: header, Blob: blob, Payload: payload})
	}

	t.fireFinish(nil)
	return nil
}

// blobPayload extracts an owned Buffer holding the blob's discriminant
// bytes (raw or zlib_data) so the record's lifetime no longer depends on
// the inline cache page or a temporary cross-page copy. LZMA or empty blobs
// are unsupported.
func blobPayload(blob osmpb.Blob) (*core.Buffer, error) {
	var src []byte
	switch {
	case blob.Raw != nil:
		src = blob.Raw
	case blob.ZlibData != nil:
		src = blob.ZlibData
	default:
		return nil, ErrUnsupportedCompression{}
	}
	out, err := core.NewBuffer(len(src))
	if err != nil {
		return nil, err
	}
	out.CopyFrom(src)
	return out, nil
}
