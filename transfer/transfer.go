/*Package transfer implements the per-member inner protocol: activation,
chunking into <=30 MiB chunks, block-level writes with the mandatory
zero-length-write synchronization markers, and finalizer exchange
(spec.md §4.7).

The chunked-write / block-ack read loop is grounded on
usbtmc.USBDevice.Write and the independent read loop in
other_examples/81efd34b_simmonmt-usbtmc__device.go.go's doRead: both
send a header/control frame, then loop over fixed-size transfers issuing
one bulk operation and one acknowledgement read per piece, exactly the
shape this package's block loop takes (though the Odin wire format, the
chunk/block sizes, and the finalizer are specific to spec.md rather than
USBTMC).
*/
package transfer

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nasa-jpl/odinflash/framing"
	"github.com/nasa-jpl/odinflash/odinerr"
	"github.com/nasa-jpl/odinflash/pit"
	"github.com/nasa-jpl/odinflash/session"
)

const (
	// MaxChunk is the largest contiguous byte range sent between one
	// (102,2)/(102,3) pair.
	MaxChunk = 30 << 20

	// SendBuffer is the single bounded accumulation buffer reused across
	// chunks; it is never grown (spec.md §5).
	SendBuffer = 30 << 20

	// FileBlockSize is the 128 KiB unit each bulk-out write/ack pair
	// transfers within a chunk.
	FileBlockSize = session.FileBlockSize

	interPhaseWait = 100 * time.Millisecond
)

// Pipeline drives one or more members' transfers over a Session.
type Pipeline struct {
	log *log.Logger
	sess *session.Session

	accum []byte // the bounded accumulation buffer, reused across chunks

	bytesSentTotal uint64
}

// New creates a Pipeline borrowing sess for the duration of a flash.
func New(sess *session.Session) *Pipeline {
	return &Pipeline{
		log:   log.New(os.Stderr, "transfer: ", log.LstdFlags),
		sess:  sess,
		accum: make([]byte, 0, SendBuffer),
	}
}

// BytesSent is the running total of actual_bytes across all finalizers
// sent so far, used for byte-accounting validation at end of flash.
func (p *Pipeline) BytesSent() uint64 { return p.bytesSentTotal }

// TransferMember activates, streams src through the bounded accumulation
// buffer, and flushes chunks as it fills (spec.md §4.7's streaming rule).
// match resolves the destination partition. A full buffer is flushed
// with completion_status=0 only once more data follows it; whatever the
// buffer holds when src is exhausted is the member's last chunk and is
// flushed with completion_status=1.
func (p *Pipeline) TransferMember(src Source, match pit.Match) error {
	if err := p.activate(); err != nil {
		return err
	}

	p.accum = p.accum[:0]
	err := src.Stream(func(block []byte) error {
		for len(block) > 0 {
			if len(p.accum) == SendBuffer {
				if err := p.flush(p.accum, false, match); err != nil {
					return err
				}
				p.accum = p.accum[:0]
			}
			space := SendBuffer - len(p.accum)
			take := len(block)
			if take > space {
				take = space
			}
			p.accum = append(p.accum, block[:take]...)
			block = block[take:]
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(p.accum) > 0 {
		if err := p.flush(p.accum, true, match); err != nil {
			return err
		}
		p.accum = p.accum[:0]
	}
	return nil
}

func (p *Pipeline) activate() error {
	frame := framing.Simple(102, 0)
	t := p.sess.Transport()
	if _, err := t.Write(frame); err != nil {
		return err
	}
	buf := make([]byte, framing.ReplyPacketSize)
	n, err := t.Read(buf, p.sess.CommandTimeoutDuration(), "transfer activate")
	if err != nil {
		return err
	}
	reply, err := framing.ParseReply(buf[:n])
	if err != nil {
		return err
	}
	if reply.IsRefusal() {
		return &odinerr.Refused{ErrorCode: reply.Data}
	}
	if reply.CmdEcho != 102 {
		return &odinerr.ProtocolMismatch{ExpectedCmd: 102, GotCmd: reply.CmdEcho, GotData: reply.Data}
	}
	return nil
}

// flush sends one chunk: the (102,2) announce, the inter-phase wait, the
// block loop with zero-length-write synchronization, and the (102,3)
// finalizer. completion reflects whether this is the last chunk of the
// member, per spec.md §4.7.d's completion_status rule.
func (p *Pipeline) flush(chunk []byte, completion bool, match pit.Match) error {
	t := p.sess.Transport()

	announce := framing.WithU32(102, 2, uint32(len(chunk)))
	if _, err := t.Write(announce); err != nil {
		return err
	}
	buf := make([]byte, framing.ReplyPacketSize)
	n, err := t.Read(buf, p.sess.CommandTimeoutDuration(), "chunk announce")
	if err != nil {
		return err
	}
	reply, err := framing.ParseReply(buf[:n])
	if err != nil {
		return err
	}
	if reply.IsRefusal() {
		return &odinerr.Refused{ErrorCode: reply.Data}
	}
	if reply.CmdEcho != 102 {
		return &odinerr.ProtocolMismatch{ExpectedCmd: 102, GotCmd: reply.CmdEcho, GotData: reply.Data}
	}

	time.Sleep(interPhaseWait)

	if err := p.writeBlocks(chunk); err != nil {
		return err
	}

	comp := uint32(0)
	if completion {
		comp = 1
	}
	finalizer := framing.Finalizer(3, framing.FinalizerPayload{
		Destination: 0,
		ActualBytes: uint32(len(chunk)),
		Reserved:    0,
		DeviceType:  match.DeviceType,
		PartitionID: match.PartitionID,
		Completion:  comp,
	})

	t.ZeroLengthWrite()
	if _, err := t.Write(finalizer); err != nil {
		return err
	}
	t.ZeroLengthWrite()

	fbuf := make([]byte, framing.ReplyPacketSize)
	fn, ferr := t.Read(fbuf, p.sess.FinalizerTimeoutDuration(), "finalizer")
	if ferr != nil {
		if completion {
			// a missing reply on the final chunk is tolerated
			p.bytesSentTotal += uint64(len(chunk))
			return nil
		}
		return ferr
	}
	freply, err := framing.ParseReply(fbuf[:fn])
	if err != nil {
		return err
	}
	if freply.IsRefusal() {
		return &odinerr.TransferRejected{ErrorCode: freply.Data, PartitionID: match.PartitionID}
	}

	p.bytesSentTotal += uint64(len(chunk))
	return nil
}

// writeBlocks splits chunk into FileBlockSize blocks, zero-padding the
// last block, performing a zero-length write before every block except
// the first (spec.md §4.7.c), and reading an 8-byte ack after each block.
func (p *Pipeline) writeBlocks(chunk []byte) error {
	t := p.sess.Transport()
	for off := 0; off < len(chunk); off += FileBlockSize {
		end := off + FileBlockSize
		var block []byte
		if end <= len(chunk) {
			block = chunk[off:end]
		} else {
			block = make([]byte, FileBlockSize)
			copy(block, chunk[off:])
		}

		if off > 0 {
			t.ZeroLengthWrite()
		}

		if _, err := t.Write(block); err != nil {
			return fmt.Errorf("transfer: block write at offset %d: %w", off, err)
		}
		ack := make([]byte, framing.ReplyPacketSize)
		n, err := t.Read(ack, p.sess.CommandTimeoutDuration(), "block ack")
		if err != nil {
			return err
		}
		reply, err := framing.ParseReply(ack[:n])
		if err != nil {
			return err
		}
		if reply.IsRefusal() {
			return &odinerr.Refused{ErrorCode: reply.Data}
		}
	}
	return nil
}
