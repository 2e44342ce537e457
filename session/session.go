/*Package session drives the 6-phase Odin/Loke conversation: handshake,
version/part-size negotiation, session open, optional PIT exchange,
per-file transfer (owned by package transfer), end-session, and reboot
(spec.md §4.6).

Structurally this mirrors comm.RemoteDevice's guarded single-flight
open/close with a retry policy grounded on that same file's
cenkalti/backoff usage: the PIT-size read is the one place spec.md §7
permits a bounded retry, and it is implemented with the identical
backoff.Retry/backoff.ConstantBackOff pairing comm.go uses around
closeEventually.
*/
package session

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/nasa-jpl/odinflash/framing"
	"github.com/nasa-jpl/odinflash/odinerr"
)

// Bulk is the transport surface the session and transfer pipeline need:
// a bulk write, a timed bulk read, the zero-length-write synchronization
// marker, and close. *transport.Transport satisfies this structurally;
// tests substitute a fake that scripts expected request/response pairs,
// grounded on the mock-hardware pattern in newport/mockXPS.go and
// pi/mock.go.
type Bulk interface {
	Write(b []byte) (int, error)
	Read(p []byte, timeout time.Duration, phase string) (int, error)
	ZeroLengthWrite() error
	Close() error
}

// Phase enumerates the legal states of a Session.
type Phase int

const (
	Disconnected Phase = iota
	Handshaking
	Negotiated
	Setup
	Ready
	Transferring
	Closing
	Rebooting
	Failed
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Handshaking:
		return "handshaking"
	case Negotiated:
		return "negotiated"
	case Setup:
		return "setup"
	case Ready:
		return "ready"
	case Transferring:
		return "transferring"
	case Closing:
		return "closing"
	case Rebooting:
		return "rebooting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	// CommandPacketSize is invariant across the session's lifetime.
	CommandPacketSize = framing.CommandPacketSize

	// FileBlockSize is the fixed block size used by the transfer pipeline.
	FileBlockSize = 128 << 10

	// MaxPitSize bounds a PIT retrieval; larger replies are a protocol error.
	MaxPitSize = 1 << 20

	// pitReadChunk is the per-iteration read size while draining a PIT.
	pitReadChunk = 500

	commandTimeout = 60 * time.Second
)

// Session is the single-tenant resource representing an active
// conversation with one device. It exclusively owns the Transport.
type Session struct {
	mu sync.Mutex

	log *log.Logger

	transport Bulk
	phase     Phase

	protocolVersion   uint16
	devicePacketSize  uint16
	commandTimeout    time.Duration
	finalizerTimeout  time.Duration

	cancelRequested bool
}

// New creates a Session bound to an already-opened transport.
func New(t Bulk, commandTimeout, finalizerTimeout time.Duration) *Session {
	return &Session{
		log:              log.New(os.Stderr, "session: ", log.LstdFlags),
		transport:        t,
		phase:            Disconnected,
		commandTimeout:   commandTimeout,
		finalizerTimeout: finalizerTimeout,
	}
}

// Phase reports the current state-machine phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// ProtocolVersion returns the version learned during negotiation.
func (s *Session) ProtocolVersion() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

// RequestCancel records a stop request to be honored at the next phase
// boundary (spec.md §5's cancellation model).
func (s *Session) RequestCancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelRequested = true
}

func (s *Session) checkCancel() error {
	s.mu.Lock()
	requested := s.cancelRequested
	s.mu.Unlock()
	if requested {
		s.fail()
		return &odinerr.Cancelled{}
	}
	return nil
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *Session) fail() {
	s.mu.Lock()
	s.phase = Failed
	s.mu.Unlock()
	s.transport.Close()
}

// sendAndExpect writes frame, reads a reply, and requires cmd_echo ==
// wantCmd and that it is not a refusal.
func (s *Session) sendAndExpect(frame []byte, wantCmd uint32, phaseName string) (framing.Reply, error) {
	if _, err := s.transport.Write(frame); err != nil {
		s.fail()
		return framing.Reply{}, err
	}
	buf := make([]byte, framing.ReplyPacketSize)
	n, err := s.transport.Read(buf, s.commandTimeout, phaseName)
	if err != nil {
		s.fail()
		return framing.Reply{}, err
	}
	reply, err := framing.ParseReply(buf[:n])
	if err != nil {
		s.fail()
		return framing.Reply{}, err
	}
	if reply.IsRefusal() {
		s.fail()
		return reply, &odinerr.Refused{ErrorCode: reply.Data}
	}
	if reply.CmdEcho != wantCmd {
		s.fail()
		return reply, &odinerr.ProtocolMismatch{ExpectedCmd: wantCmd, GotCmd: reply.CmdEcho, GotData: reply.Data}
	}
	return reply, nil
}

// Handshake writes the literal "ODIN" and requires a reply beginning with
// "LOKE".
func (s *Session) Handshake() error {
	if err := s.checkCancel(); err != nil {
		return err
	}
	s.setPhase(Handshaking)
	if _, err := s.transport.Write([]byte("ODIN")); err != nil {
		s.fail()
		return err
	}
	buf := make([]byte, 64)
	n, err := s.transport.Read(buf, s.commandTimeout, "handshake")
	if err != nil {
		s.fail()
		return err
	}
	if n < 4 {
		s.fail()
		return &odinerr.HandshakeFailed{Received: buf[:n]}
	}
	buf = buf[:n]
	if string(buf[0:4]) != "LOKE" {
		s.fail()
		return &odinerr.HandshakeFailed{Received: buf}
	}
	return nil
}

// Negotiate performs the version query and, if the device advertises a
// preferred packet size, the optional part-size negotiation.
func (s *Session) Negotiate() error {
	if err := s.checkCancel(); err != nil {
		return err
	}
	frame := framing.WithU32(100, 0, 4)
	reply, err := s.sendAndExpect(frame, 100, "version query")
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.protocolVersion = uint16(reply.Data >> 16)
	s.devicePacketSize = uint16(reply.Data & 0xFFFF)
	preferred := s.devicePacketSize
	s.mu.Unlock()

	if preferred != 0 {
		frame := framing.WithU32(100, 5, 0x100000)
		if _, err := s.sendAndExpect(frame, 100, "part-size negotiation"); err != nil {
			return err
		}
	}
	s.setPhase(Negotiated)
	return nil
}

// Setup opens the session, declaring the exact total number of
// post-decompression bytes that will be sent across all members.
func (s *Session) Setup(totalBytes uint64) error {
	if err := s.checkCancel(); err != nil {
		return err
	}
	frame := framing.WithU64(100, 2, totalBytes)
	if _, err := s.sendAndExpect(frame, 100, "session open"); err != nil {
		return err
	}
	s.setPhase(Setup)
	return nil
}

// ReadyForTransfer marks setup complete and the session ready to accept
// per-member transfers (or a PIT exchange first).
func (s *Session) ReadyForTransfer() {
	s.setPhase(Ready)
}

// ReceivePit retrieves the device's PIT. For protocol version <= 3 this
// is a no-op that returns nil, nil (spec.md §4.6).
func (s *Session) ReceivePit() ([]byte, error) {
	if err := s.checkCancel(); err != nil {
		return nil, err
	}
	if s.ProtocolVersion() <= 3 {
		return nil, nil
	}

	var pitSize uint32
	op := func() error {
		frame := framing.WithU32(101, 1, 0)
		reply, err := s.sendAndExpect(frame, 101, "pit size")
		if err != nil {
			return err
		}
		if reply.Data == 0 || reply.Data > MaxPitSize {
			return &odinerr.InvalidPit{Reason: fmt.Sprintf("declared pit size %d out of bounds", reply.Data)}
		}
		pitSize = reply.Data
		return nil
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), 1)); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, pitSize)
	for counter := uint32(0); uint32(len(buf)) < pitSize; counter++ {
		frame := framing.WithU32(101, 2, counter)
		if _, err := s.transport.Write(frame); err != nil {
			s.fail()
			return nil, err
		}
		chunk := make([]byte, pitReadChunk)
		n, err := s.transport.Read(chunk, s.commandTimeout, "pit chunk")
		if err != nil {
			s.fail()
			return nil, err
		}
		buf = append(buf, chunk[:n]...)
	}

	endFrame := framing.WithU32(101, 3, 0)
	if _, err := s.sendAndExpect(endFrame, 101, "pit end"); err != nil {
		return nil, err
	}

	return buf[:pitSize], nil
}

// UploadPit streams a new PIT to the device in 1 MiB chunks, per
// spec.md §4.6's upload path (used only when flashing a PIT override).
func (s *Session) UploadPit(data []byte) error {
	if err := s.checkCancel(); err != nil {
		return err
	}
	const chunkSize = 1 << 20
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if _, err := s.transport.Write(data[off:end]); err != nil {
			s.fail()
			return err
		}
	}
	buf := make([]byte, framing.ReplyPacketSize)
	if _, err := s.transport.Read(buf, s.commandTimeout, "pit upload reply"); err != nil {
		s.fail()
		return err
	}
	return nil
}

// BeginTransferring transitions into the per-file transfer phase. It may
// be called repeatedly across members.
func (s *Session) BeginTransferring() error {
	if err := s.checkCancel(); err != nil {
		return err
	}
	s.setPhase(Transferring)
	return nil
}

// Transport exposes the underlying transport to package transfer, which
// borrows the session for the duration of a flash.
func (s *Session) Transport() Bulk { return s.transport }

// CommandTimeoutDuration and FinalizerTimeoutDuration are exposed for the transfer
// pipeline's block/finalizer read deadlines.
func (s *Session) CommandTimeoutDuration() time.Duration   { return s.commandTimeout }
func (s *Session) FinalizerTimeoutDuration() time.Duration { return s.finalizerTimeout }

// EndSession sends the end-session command.
func (s *Session) EndSession() error {
	if err := s.checkCancel(); err != nil {
		return err
	}
	s.setPhase(Closing)
	frame := framing.Simple(103, 0)
	_, err := s.sendAndExpect(frame, 103, "end session")
	return err
}

// Reboot sends the reboot command. The device closing the link mid-reply
// is expected behavior, not an error (spec.md §7).
func (s *Session) Reboot() error {
	s.setPhase(Rebooting)
	frame := framing.Simple(103, 1)
	if _, err := s.transport.Write(frame); err != nil {
		s.log.Printf("reboot write error (ignored, link may already be down): %v", err)
	}
	buf := make([]byte, framing.ReplyPacketSize)
	if _, err := s.transport.Read(buf, s.commandTimeout, "reboot"); err != nil {
		s.log.Printf("reboot reply suppressed (expected): %v", err)
	}
	s.setPhase(Disconnected)
	return nil
}

// Disconnect releases the transport and drives the session to
// Disconnected regardless of its current phase.
func (s *Session) Disconnect() error {
	s.setPhase(Disconnected)
	return s.transport.Close()
}
