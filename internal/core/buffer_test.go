package core

import "testing"

func TestBuffer_CopyAndRead(t *testing.T) {
	buf, err := NewBuffer(8)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	if !buf.CopyFrom([]byte("abcdefgh")) {
		t.Fatal("CopyFrom should succeed when len(src)==size")
	}
	data, ok := buf.Data()
	if !ok || string(data) != "abcdefgh" {
		t.Fatalf("Data() = %q, %v", data, ok)
	}
	if buf.CopyFrom([]byte("short")) {
		t.Fatal("CopyFrom should fail when len(src)!=size")
	}
}

func TestBuffer_CopyFromAtBounds(t *testing.T) {
	buf, _ := NewBuffer(4)
	if !buf.CopyFromAt(1, []byte("ab")) {
		t.Fatal("CopyFromAt(1,2 bytes) into a 4-byte buffer should succeed")
	}
	if buf.CopyFromAt(3, []byte("ab")) {
		t.Fatal("CopyFromAt(3,2 bytes) into a 4-byte buffer should fail (3+2>4)")
	}
	data, _ := buf.Data()
	if string(data[1:3]) != "ab" {
		t.Fatalf("buffer contents = %q", data)
	}
}

func TestBuffer_DataRangeBounds(t *testing.T) {
	buf, _ := NewBuffer(10)
	if _, ok := buf.DataRange(5, 6); ok {
		t.Fatal("DataRange(5,6) on a 10-byte buffer should fail (5+6>10)")
	}
	if _, ok := buf.DataRange(5, 5); !ok {
		t.Fatal("DataRange(5,5) on a 10-byte buffer should succeed")
	}
}

func TestBuffer_ReleaseIsIdempotentAndPoisons(t *testing.T) {
	buf, _ := NewBuffer(4)
	buf.CopyFrom([]byte("data"))
	buf.Release()
	buf.Release() // must not panic

	if _, ok := buf.Data(); ok {
		t.Fatal("Data() after Release should fail")
	}
	if _, ok := buf.DataAt(0); ok {
		t.Fatal("DataAt() after Release should fail")
	}
	if _, ok := buf.DataRange(0, 1); ok {
		t.Fatal("DataRange() after Release should fail")
	}
	if buf.CopyFrom([]byte{1, 2, 3, 4}) {
		t.Fatal("CopyFrom() after Release should fail")
	}
	if !buf.Released() {
		t.Fatal("Released() should report true")
	}
}
