/*Package pit implements the Partition Information Table binary codec and
the filename-to-partition matching policy (spec.md §3, §4.4, §4.5).

The binary layout has no analog in the teacher corpus; its pack/unpack
follows the little-endian, fixed-width-struct discipline established in
package framing (itself grounded on usbtmc's header codec).
*/
package pit

import (
	"encoding/binary"

	"github.com/nasa-jpl/odinflash/odinerr"
)

const (
	// Magic is the required PIT header magic number.
	Magic = 0x12349876

	headerSize = 28
	entrySize  = 132
	nameField  = 32
)

// Entry is one 132-byte PIT record.
type Entry struct {
	BinaryType     uint32
	DeviceType     uint32
	PartitionID    uint32
	PartitionType  uint32
	Filesystem     uint32
	StartBlock     uint32
	NumBlocks      uint32
	FileOffset     uint32
	FileSize       uint32
	PartitionName  string
	FlashFilename  string
	FotaFilename   string
}

// Pit is the parsed partition table.
type Pit struct {
	Magic   uint32
	Count   uint32
	Entries []Entry
}

// Parse decodes a PIT from its binary representation. It validates the
// magic number and that exactly Count entries of 132 bytes each follow
// the 28-byte header, failing with *odinerr.InvalidPit otherwise.
func Parse(b []byte) (*Pit, error) {
	if len(b) < headerSize {
		return nil, &odinerr.InvalidPit{Reason: "truncated header"}
	}
	magic := binary.LittleEndian.Uint32(b[0:4])
	if magic != Magic {
		return nil, &odinerr.InvalidPit{Reason: "bad magic"}
	}
	count := binary.LittleEndian.Uint32(b[4:8])

	want := headerSize + int(count)*entrySize
	if len(b) < want {
		return nil, &odinerr.InvalidPit{Reason: "truncated entries"}
	}

	p := &Pit{Magic: magic, Count: count, Entries: make([]Entry, count)}
	off := headerSize
	for i := 0; i < int(count); i++ {
		e, err := parseEntry(b[off : off+entrySize])
		if err != nil {
			return nil, err
		}
		p.Entries[i] = e
		off += entrySize
	}
	if uint32(len(p.Entries)) != p.Count {
		return nil, &odinerr.InvalidPit{Reason: "count mismatch"}
	}
	return p, nil
}

func parseEntry(b []byte) (Entry, error) {
	if len(b) < entrySize {
		return Entry{}, &odinerr.InvalidPit{Reason: "truncated entry"}
	}
	u32 := func(off int) uint32 { return binary.LittleEndian.Uint32(b[off : off+4]) }
	e := Entry{
		BinaryType:    u32(0),
		DeviceType:    u32(4),
		PartitionID:   u32(8),
		PartitionType: u32(12),
		Filesystem:    u32(16),
		StartBlock:    u32(20),
		NumBlocks:     u32(24),
		FileOffset:    u32(28),
		FileSize:      u32(32),
	}
	off := 36
	e.PartitionName = readCString(b[off : off+nameField])
	off += nameField
	e.FlashFilename = readCString(b[off : off+nameField])
	off += nameField
	e.FotaFilename = readCString(b[off : off+nameField])
	return e, nil
}

func readCString(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// Serialize is the inverse of Parse: parse(serialize(pit)) == pit for any
// well-formed PIT.
func Serialize(p *Pit) []byte {
	out := make([]byte, headerSize+len(p.Entries)*entrySize)
	binary.LittleEndian.PutUint32(out[0:4], Magic)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(p.Entries)))
	off := headerSize
	for _, e := range p.Entries {
		serializeEntry(out[off:off+entrySize], e)
		off += entrySize
	}
	return out
}

func serializeEntry(b []byte, e Entry) {
	u32 := func(off int, v uint32) { binary.LittleEndian.PutUint32(b[off:off+4], v) }
	u32(0, e.BinaryType)
	u32(4, e.DeviceType)
	u32(8, e.PartitionID)
	u32(12, e.PartitionType)
	u32(16, e.Filesystem)
	u32(20, e.StartBlock)
	u32(24, e.NumBlocks)
	u32(28, e.FileOffset)
	u32(32, e.FileSize)
	off := 36
	writeCString(b[off:off+nameField], e.PartitionName)
	off += nameField
	writeCString(b[off:off+nameField], e.FlashFilename)
	off += nameField
	writeCString(b[off:off+nameField], e.FotaFilename)
}

// writeCString truncates s to fit in a null-padded field of len(b) bytes,
// reserving the final byte for the null terminator.
func writeCString(b []byte, s string) {
	for i := range b {
		b[i] = 0
	}
	max := len(b) - 1
	if len(s) > max {
		s = s[:max]
	}
	copy(b, s)
}
