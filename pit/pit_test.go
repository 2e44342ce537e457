package pit

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sampleEntry(id uint32, name, flash string) Entry {
	return Entry{
		BinaryType:    0,
		DeviceType:    2,
		PartitionID:   id,
		PartitionType: 0,
		Filesystem:    0,
		StartBlock:    0,
		NumBlocks:     1024,
		FileOffset:    0,
		FileSize:      0,
		PartitionName: name,
		FlashFilename: flash,
		FotaFilename:  "",
	}
}

func TestSerializeParseRoundTrip(t *testing.T) {
	original := &Pit{
		Entries: []Entry{
			sampleEntry(3, "BOOT", "boot.img"),
			sampleEntry(11, "RADIO", "modem.bin"),
		},
	}
	original.Magic = Magic
	original.Count = uint32(len(original.Entries))

	got, err := Parse(Serialize(original))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff(original, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseBadMagic(t *testing.T) {
	b := Serialize(&Pit{Entries: []Entry{sampleEntry(1, "X", "x.img")}, Count: 1})
	b[0] ^= 0xFF
	if _, err := Parse(b); err == nil {
		t.Fatalf("expected error for corrupted magic")
	}
}

func TestParseTruncated(t *testing.T) {
	b := Serialize(&Pit{Entries: []Entry{sampleEntry(1, "X", "x.img")}, Count: 1})
	if _, err := Parse(b[:len(b)-10]); err == nil {
		t.Fatalf("expected error for truncated entries")
	}
}

func TestParseCountMismatchDetectedByLength(t *testing.T) {
	b := Serialize(&Pit{Entries: []Entry{sampleEntry(1, "X", "x.img")}, Count: 1})
	// declare more entries than the buffer actually carries
	b[4] = 5
	if _, err := Parse(b); err == nil {
		t.Fatalf("expected truncated-entries error for inflated count")
	}
}

func TestNameFieldTruncation(t *testing.T) {
	long := "this-partition-name-is-much-longer-than-32-bytes-and-must-be-truncated"
	p := &Pit{Entries: []Entry{sampleEntry(1, long, "x.img")}, Count: 1}
	got, err := Parse(Serialize(p))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got.Entries[0].PartitionName) >= nameField {
		t.Fatalf("expected name truncated below %d bytes, got %d", nameField, len(got.Entries[0].PartitionName))
	}
}
