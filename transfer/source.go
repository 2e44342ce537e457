package transfer

import (
	"io"

	"github.com/nasa-jpl/odinflash/decompress"
)

// readBlockSize is the read granularity used while pulling bytes from a
// member's on-disk byte range, chosen to match the device's file-block
// size so a FileRangeSource's natural chunking lines up with the
// pipeline's own block boundaries.
const readBlockSize = 128 << 10

// Source streams a member's logical (post-decompression) bytes to sink
// in bounded pieces, tagged as the design note in spec.md §9 calls for:
// a closed set of data-source variants rather than an ad-hoc bag.
type Source interface {
	// Stream delivers bytes to sink until the source is exhausted.
	Stream(sink func([]byte) error) error
}

// FileRangeSource streams raw (uncompressed) bytes directly from a
// random-access file range, used for None-compression members.
type FileRangeSource struct {
	R      io.ReaderAt
	Offset int64
	Size   int64
}

func (f FileRangeSource) Stream(sink func([]byte) error) error {
	buf := make([]byte, readBlockSize)
	var pos int64
	for pos < f.Size {
		n := int64(len(buf))
		if remaining := f.Size - pos; remaining < n {
			n = remaining
		}
		read, err := f.R.ReadAt(buf[:n], f.Offset+pos)
		if read > 0 {
			if err := sink(buf[:read]); err != nil {
				return err
			}
		}
		pos += int64(read)
		if err != nil && err != io.EOF {
			return err
		}
		if read == 0 && err == io.EOF {
			break
		}
	}
	return nil
}

// DecompressedSource wraps a compressed FileRangeSource with a streaming
// decoder, delivering decompressed blocks as they are produced (spec.md
// §4.7's streaming rule): no full decompressed payload is ever held.
type DecompressedSource struct {
	Raw     FileRangeSource
	Decoder decompress.StreamDecoder
}

func (d DecompressedSource) Stream(sink func([]byte) error) error {
	pr, pw := io.Pipe()
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Raw.Stream(func(b []byte) error {
			_, err := pw.Write(b)
			return err
		})
		pw.Close()
	}()

	decodeErr := d.Decoder.Decode(pr, decompress.BlockSink(sink))
	pr.Close()
	if rawErr := <-errCh; rawErr != nil && decodeErr == nil {
		decodeErr = rawErr
	}
	return decodeErr
}

// InMemorySource streams an already-resident byte slice. Used by tests
// and by callers presenting a small member already loaded into memory.
type InMemorySource struct {
	Data []byte
}

func (m InMemorySource) Stream(sink func([]byte) error) error {
	const step = readBlockSize
	for off := 0; off < len(m.Data); off += step {
		end := off + step
		if end > len(m.Data) {
			end = len(m.Data)
		}
		if err := sink(m.Data[off:end]); err != nil {
			return err
		}
	}
	return nil
}
