package decompress

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"testing"
)

func lz4Frame(blocks [][]byte, uncompressed bool) []byte {
	var buf bytes.Buffer
	var magic [4]byte
	binary.LittleEndian.PutUint32(magic[:], lz4FrameMagic)
	buf.Write(magic[:])
	buf.WriteByte(0x00) // FLG: no optional fields
	buf.WriteByte(0x40) // BD: arbitrary block-size code, unused by the decoder
	buf.WriteByte(0x00) // HC: not validated

	for _, b := range blocks {
		var lenField uint32
		lenField = uint32(len(b))
		if uncompressed {
			lenField |= uncompressedBlockFlag
		}
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], lenField)
		buf.Write(lb[:])
		buf.Write(b)
	}
	buf.Write([]byte{0, 0, 0, 0}) // EndMark
	return buf.Bytes()
}

func TestLZ4DecoderUncompressedBlocks(t *testing.T) {
	frame := lz4Frame([][]byte{[]byte("hello "), []byte("world")}, true)
	var got bytes.Buffer
	err := LZ4Decoder{}.Decode(bytes.NewReader(frame), func(b []byte) error {
		got.Write(b)
		return nil
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.String() != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", got.String())
	}
}

func TestLZ4DecoderCompressedBlock(t *testing.T) {
	// the self-referential token/offset pair from lz4block_test.go,
	// wrapped in a full frame to exercise Decode end to end.
	block := []byte{0x40, 'A', 'B', 'C', 'D', 4, 0}
	frame := lz4Frame([][]byte{block}, false)
	var got bytes.Buffer
	err := LZ4Decoder{}.Decode(bytes.NewReader(frame), func(b []byte) error {
		got.Write(b)
		return nil
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.String() != "ABCDABCD" {
		t.Fatalf("expected ABCDABCD, got %q", got.String())
	}
}

func TestLZ4DecoderRejectsBadMagic(t *testing.T) {
	err := LZ4Decoder{}.Decode(bytes.NewReader([]byte{0, 0, 0, 0}), func(b []byte) error { return nil })
	if err == nil {
		t.Fatalf("expected error for bad magic")
	}
}

func TestLZ4DecoderRejectsEndMarkBeforeData(t *testing.T) {
	frame := lz4Frame(nil, true)
	err := LZ4Decoder{}.Decode(bytes.NewReader(frame), func(b []byte) error { return nil })
	if err == nil {
		t.Fatalf("expected error for EndMark before any data block")
	}
}

func TestGzipDecoderStreamsBlocks(t *testing.T) {
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	payload := bytes.Repeat([]byte("firmware-payload-"), 1000)
	if _, err := gz.Write(payload); err != nil {
		t.Fatalf("writing gzip payload: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("closing gzip writer: %v", err)
	}

	var got bytes.Buffer
	err := GzipDecoder{}.Decode(bytes.NewReader(compressed.Bytes()), func(b []byte) error {
		got.Write(b)
		return nil
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got.Bytes(), payload) {
		t.Fatalf("round-tripped payload mismatch: got %d bytes, want %d", got.Len(), len(payload))
	}
}
