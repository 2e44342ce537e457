package transfer

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/nasa-jpl/odinflash/decompress"
)

func TestFileRangeSourceStreamsExactRange(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 40000) // > readBlockSize
	src := FileRangeSource{R: bytes.NewReader(data), Offset: 10, Size: 100}
	var got bytes.Buffer
	if err := src.Stream(func(b []byte) error { got.Write(b); return nil }); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !bytes.Equal(got.Bytes(), data[10:110]) {
		t.Fatalf("expected scoped range, got %d bytes", got.Len())
	}
}

func TestInMemorySourceChunksAtBlockSize(t *testing.T) {
	data := bytes.Repeat([]byte("x"), readBlockSize+5)
	src := InMemorySource{Data: data}
	var chunks [][]byte
	if err := src.Stream(func(b []byte) error {
		cp := make([]byte, len(b))
		copy(cp, b)
		chunks = append(chunks, cp)
		return nil
	}); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks for data spanning one block boundary, got %d", len(chunks))
	}
	if len(chunks[0]) != readBlockSize || len(chunks[1]) != 5 {
		t.Fatalf("unexpected chunk sizes: %d, %d", len(chunks[0]), len(chunks[1]))
	}
}

func TestDecompressedSourceStreamsThroughDecoder(t *testing.T) {
	raw := bytes.Repeat([]byte("payload-"), 2000)
	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	w.Write(raw)
	w.Close()

	src := DecompressedSource{
		Raw:     FileRangeSource{R: bytes.NewReader(gz.Bytes()), Offset: 0, Size: int64(gz.Len())},
		Decoder: decompress.GzipDecoder{},
	}
	var got bytes.Buffer
	if err := src.Stream(func(b []byte) error { got.Write(b); return nil }); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !bytes.Equal(got.Bytes(), raw) {
		t.Fatalf("expected decompressed payload to round-trip, got %d bytes want %d", got.Len(), len(raw))
	}
}
