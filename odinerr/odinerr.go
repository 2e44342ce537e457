// Package odinerr defines the distinct error kinds produced while driving
// a device through the Odin/Loke Download Mode protocol.  Each kind is a
// concrete type so callers can recover it with errors.As instead of
// matching on strings.
package odinerr

import "fmt"

// NoDevice is returned when enumeration finds no device matching the
// configured vendor/product IDs.
type NoDevice struct {
	VendorID  uint16
	ProductID []uint16
}

func (e *NoDevice) Error() string {
	return fmt.Sprintf("no device found for vendor 0x%04X, products %04X", e.VendorID, e.ProductID)
}

// UsbOpen is returned when the transport could not claim the device's
// bulk endpoints.
type UsbOpen struct {
	Reason string
	Err    error
}

func (e *UsbOpen) Error() string { return fmt.Sprintf("usb open failed: %s: %v", e.Reason, e.Err) }
func (e *UsbOpen) Unwrap() error { return e.Err }

// Timeout is returned when a bulk read exceeds its deadline.  Phase
// identifies which operation was waiting.
type Timeout struct {
	Phase string
}

func (e *Timeout) Error() string { return fmt.Sprintf("timeout during %s", e.Phase) }

// HandshakeFailed is returned when the device's handshake reply was not
// the literal bytes "LOKE".
type HandshakeFailed struct {
	Received []byte
}

func (e *HandshakeFailed) Error() string {
	return fmt.Sprintf("handshake failed, received %q", e.Received)
}

// ProtocolMismatch is returned when a reply's echoed command does not
// match the command that was sent.
type ProtocolMismatch struct {
	ExpectedCmd uint32
	GotCmd      uint32
	GotData     uint32
}

func (e *ProtocolMismatch) Error() string {
	return fmt.Sprintf("protocol mismatch: expected cmd 0x%X, got cmd 0x%X data 0x%X",
		e.ExpectedCmd, e.GotCmd, e.GotData)
}

// Refused is returned when a reply has cmd_echo == 0xFFFFFFFF, a
// device-side refusal carrying an error code.
type Refused struct {
	ErrorCode uint32
}

func (e *Refused) Error() string { return fmt.Sprintf("device refused, error code 0x%X", e.ErrorCode) }

// InvalidPit is returned for a PIT that fails magic validation, is
// truncated, or whose entry count does not match its declared count.
type InvalidPit struct {
	Reason string
}

func (e *InvalidPit) Error() string { return fmt.Sprintf("invalid pit: %s", e.Reason) }

// ArchiveFormat is returned for a malformed TAR container: a bad header,
// a bad size field, or premature end of input.
type ArchiveFormat struct {
	Reason string
}

func (e *ArchiveFormat) Error() string { return fmt.Sprintf("archive format error: %s", e.Reason) }

// Decompression is returned when the streaming LZ4 decoder encounters an
// invalid token, a match reaching outside the window, or an EndMark
// before any data block.
type Decompression struct {
	StreamPosition int64
	Reason         string
}

func (e *Decompression) Error() string {
	return fmt.Sprintf("decompression error at byte %d: %s", e.StreamPosition, e.Reason)
}

// ByteAccountingMismatch is returned when the total_bytes declared at
// session open does not equal the sum of actual_bytes across finalizers.
type ByteAccountingMismatch struct {
	Declared uint64
	Actual   uint64
}

func (e *ByteAccountingMismatch) Error() string {
	return fmt.Sprintf("byte accounting mismatch: declared %d, actual %d", e.Declared, e.Actual)
}

// TransferRejected is returned when a finalizer reply is a refusal.
type TransferRejected struct {
	ErrorCode   uint32
	PartitionID uint32
}

func (e *TransferRejected) Error() string {
	return fmt.Sprintf("transfer rejected for partition %d: error code 0x%X", e.PartitionID, e.ErrorCode)
}

// Cancelled is returned when a caller-requested stop was honored at a
// safe phase boundary.
type Cancelled struct{}

func (e *Cancelled) Error() string { return "cancelled" }
