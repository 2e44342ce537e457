package framing

import "testing"

func TestSimpleFrameSize(t *testing.T) {
	f := Simple(103, 0)
	if len(f) != CommandPacketSize {
		t.Fatalf("expected %d-byte frame, got %d", CommandPacketSize, len(f))
	}
	if f[0] != 103 || f[4] != 0 {
		t.Fatalf("expected cmd/sub at offsets 0/4, got %v", f[:8])
	}
}

func TestWithU32PayloadOffset(t *testing.T) {
	f := WithU32(100, 5, 0x100000)
	r, err := ParseReply(f[:8])
	if err != nil {
		t.Fatalf("parse cmd/sub header: %v", err)
	}
	if r.CmdEcho != 100 || r.Data != 5 {
		t.Fatalf("expected cmd=100 sub=5 in header, got %+v", r)
	}
	if f[8] != 0 || f[9] != 0 || f[10] != 0x10 {
		t.Fatalf("expected payload 0x100000 little-endian at offset 8, got %v", f[8:12])
	}
}

func TestParseReplyRefusal(t *testing.T) {
	b := make([]byte, 8)
	for i := 0; i < 4; i++ {
		b[i] = 0xFF
	}
	r, err := ParseReply(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !r.IsRefusal() {
		t.Fatalf("expected refusal for cmd_echo 0xFFFFFFFF")
	}
}

func TestParseReplyShort(t *testing.T) {
	if _, err := ParseReply(make([]byte, 4)); err == nil {
		t.Fatalf("expected error for short reply")
	}
}

func TestFinalizerLayout(t *testing.T) {
	f := Finalizer(3, FinalizerPayload{
		Destination: 0,
		ActualBytes: 1024,
		Reserved:    0,
		DeviceType:  2,
		PartitionID: 3,
		Completion:  1,
	})
	if len(f) != CommandPacketSize {
		t.Fatalf("expected %d-byte finalizer frame, got %d", CommandPacketSize, len(f))
	}
	if f[0] != 102 || f[4] != 3 {
		t.Fatalf("expected cmd 102 sub 3, got %v", f[:8])
	}
	actualBytes := uint32(f[12]) | uint32(f[13])<<8 | uint32(f[14])<<16 | uint32(f[15])<<24
	if actualBytes != 1024 {
		t.Fatalf("expected actual_bytes 1024 at offset 12, got %d", actualBytes)
	}
	completion := uint32(f[28]) | uint32(f[29])<<8 | uint32(f[30])<<16 | uint32(f[31])<<24
	if completion != 1 {
		t.Fatalf("expected completion bit 1 at offset 28, got %d", completion)
	}
}
