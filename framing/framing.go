/*Package framing implements the little-endian command/reply wire format
used by the Odin/Loke protocol.

Command packets are fixed 1024-byte, zero-padded frames; reply packets
are exactly 8 bytes.  This mirrors the header pack/unpack style of
usbtmc.encBulkOutHeader/encBulkInHeader: a small struct is always
serialized into a fixed-size array using encoding/binary.LittleEndian,
never into a dynamically sized buffer.
*/
package framing

import (
	"encoding/binary"
	"fmt"
)

const (
	// CommandPacketSize is the fixed size of every command frame.
	CommandPacketSize = 1024

	// ReplyPacketSize is the fixed size of every reply frame.
	ReplyPacketSize = 8

	// RefusalEcho is the cmd_echo value a device sends to signal a
	// refusal, with the error code carried in the data field.
	RefusalEcho = 0xFFFFFFFF
)

// Reply is the 8-byte response to a command frame.
type Reply struct {
	CmdEcho uint32
	Data    uint32
}

// IsRefusal reports whether this reply is a device-side refusal.
func (r Reply) IsRefusal() bool { return r.CmdEcho == RefusalEcho }

// ParseReply decodes an 8-byte reply.  Any input shorter than
// ReplyPacketSize is a framing error.
func ParseReply(b []byte) (Reply, error) {
	if len(b) < ReplyPacketSize {
		return Reply{}, fmt.Errorf("framing: short reply, got %d bytes, want %d", len(b), ReplyPacketSize)
	}
	return Reply{
		CmdEcho: binary.LittleEndian.Uint32(b[0:4]),
		Data:    binary.LittleEndian.Uint32(b[4:8]),
	}, nil
}

// newFrame allocates a zero-padded 1024-byte command frame with cmd and
// sub already written at offsets 0 and 4.
func newFrame(cmd, sub uint32) []byte {
	buf := make([]byte, CommandPacketSize)
	binary.LittleEndian.PutUint32(buf[0:4], cmd)
	binary.LittleEndian.PutUint32(buf[4:8], sub)
	return buf
}

// Simple builds a command frame carrying no payload beyond cmd/sub.
func Simple(cmd, sub uint32) []byte {
	return newFrame(cmd, sub)
}

// WithU32 builds a command frame with a single u32 payload at offset 8.
func WithU32(cmd, sub, payload uint32) []byte {
	buf := newFrame(cmd, sub)
	binary.LittleEndian.PutUint32(buf[8:12], payload)
	return buf
}

// WithU64 builds a command frame with a single u64 payload at offset 8,
// used for the session-open total_bytes field.
func WithU64(cmd, sub uint32, payload uint64) []byte {
	buf := newFrame(cmd, sub)
	binary.LittleEndian.PutUint64(buf[8:16], payload)
	return buf
}

// FinalizerPayload is the transfer-finalizer frame's offset-8 struct:
// destination, actual_bytes, a reserved zero, device_type, partition_id,
// and the completion bit.
type FinalizerPayload struct {
	Destination  uint32 // always 0 (destination phone)
	ActualBytes  uint32
	Reserved     uint32
	DeviceType   uint32
	PartitionID  uint32
	Completion   uint32 // 1 iff this is the final chunk of the member
}

// Finalizer builds the (102, 3, ...) transfer finalizer frame.
func Finalizer(sub uint32, p FinalizerPayload) []byte {
	buf := newFrame(102, sub)
	off := 8
	for _, v := range []uint32{p.Destination, p.ActualBytes, p.Reserved, p.DeviceType, p.PartitionID, p.Completion} {
		binary.LittleEndian.PutUint32(buf[off:off+4], v)
		off += 4
	}
	return buf
}
