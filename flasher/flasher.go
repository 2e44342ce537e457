/*Package flasher is the top-level entry point composing transport,
archive parsing, PIT handling, the session state machine, and the
transfer pipeline (spec.md §2 item 9, §4.9).

Its composition-of-sub-devices shape is grounded on
generichttp/camera/camera.go, the teacher's pattern for a top-level type
that owns several lower-level collaborators and exposes a small set of
orchestration methods rather than reimplementing any of their logic.
*/
package flasher

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/nasa-jpl/odinflash/archive"
	"github.com/nasa-jpl/odinflash/decompress"
	"github.com/nasa-jpl/odinflash/internal/progress"
	"github.com/nasa-jpl/odinflash/odinerr"
	"github.com/nasa-jpl/odinflash/pit"
	"github.com/nasa-jpl/odinflash/session"
	"github.com/nasa-jpl/odinflash/transfer"
	"github.com/nasa-jpl/odinflash/transport"
)

// Firmware is the loaded archive plus any artifacts it carried.
type Firmware struct {
	Members      []archive.Member
	MD5          string
	EmbeddedPit  []byte
	reader       io.ReaderAt
}

// Flasher composes the protocol stack behind list/connect/load/flash.
type Flasher struct {
	log *log.Logger

	vendorID          uint16
	productIDs        []uint16
	commandTimeout    time.Duration
	finalizerTimeout  time.Duration

	transport *transport.Transport
	sess      *session.Session
}

// Config bundles the tunables an orchestrator needs; defaults match
// spec.md §6/§9's compile-time constants.
type Config struct {
	VendorID         uint16
	ProductIDs       []uint16
	CommandTimeout   time.Duration
	FinalizerTimeout time.Duration
}

// DefaultConfig returns the spec-mandated defaults: Samsung vendor ID
// 0x04E8, Download Mode product IDs 0x685D/0x68C3, 60s command timeout,
// 120s finalizer timeout.
func DefaultConfig() Config {
	return Config{
		VendorID:         0x04E8,
		ProductIDs:       []uint16{0x685D, 0x68C3},
		CommandTimeout:   60 * time.Second,
		FinalizerTimeout: 120 * time.Second,
	}
}

// New creates a Flasher from cfg, filling any zero-valued fields from
// DefaultConfig.
func New(cfg Config) *Flasher {
	def := DefaultConfig()
	if cfg.VendorID == 0 {
		cfg.VendorID = def.VendorID
	}
	if len(cfg.ProductIDs) == 0 {
		cfg.ProductIDs = def.ProductIDs
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.FinalizerTimeout == 0 {
		cfg.FinalizerTimeout = def.FinalizerTimeout
	}
	return &Flasher{
		log:              log.New(os.Stderr, "flasher: ", log.LstdFlags),
		vendorID:         cfg.VendorID,
		productIDs:       cfg.ProductIDs,
		commandTimeout:   cfg.CommandTimeout,
		finalizerTimeout: cfg.FinalizerTimeout,
	}
}

// ListDevices enumerates candidate devices without opening them.
func (f *Flasher) ListDevices() ([]transport.DeviceInfo, error) {
	t := transport.New()
	return t.Enumerate(f.vendorID, f.productIDs)
}

// Connect opens a device and drives it through handshake and setup
// negotiation, leaving the session phase at Negotiated.
func (f *Flasher) Connect() (transport.DeviceInfo, error) {
	t := transport.New()
	info, err := t.Open(f.vendorID, f.productIDs)
	if err != nil {
		return transport.DeviceInfo{}, err
	}
	sess := session.New(t, f.commandTimeout, f.finalizerTimeout)
	if err := sess.Handshake(); err != nil {
		return transport.DeviceInfo{}, err
	}
	if err := sess.Negotiate(); err != nil {
		return transport.DeviceInfo{}, err
	}
	info.ProtocolVersion = sess.ProtocolVersion()
	f.transport = t
	f.sess = sess
	return info, nil
}

// LoadFirmware parses a firmware archive and surfaces its member list,
// embedded PIT, and outer MD5. Members marked as nested sub-archives
// (spec.md §4.3, e.g. a ".csc"/".ap" wrapper) are recursively descended
// into via flattenNestedArchives so the flasher only ever sees leaf
// partition images.
func (f *Flasher) LoadFirmware(r io.ReaderAt, size int64) (*Firmware, error) {
	a, err := archive.Parse(r, size)
	if err != nil {
		return nil, err
	}
	fw := &Firmware{MD5: a.MD5, reader: r}
	var toFlatten []archive.Member
	for _, m := range a.Members {
		if strings.HasSuffix(strings.ToLower(m.Name), ".pit") {
			buf := make([]byte, m.SizeBytes)
			if _, err := r.ReadAt(buf, m.DataOffset); err != nil && err != io.EOF {
				return nil, &odinerr.ArchiveFormat{Reason: fmt.Sprintf("reading embedded pit: %v", err)}
			}
			fw.EmbeddedPit = buf
			continue
		}
		toFlatten = append(toFlatten, m)
	}
	flattened, err := flattenNestedArchives(r, toFlatten)
	if err != nil {
		return nil, err
	}
	fw.Members = flattened
	return fw, nil
}

// flattenNestedArchives recursively descends into members marked as
// nested sub-archives, replacing each with its own parsed member list so
// the transfer loop only ever sees leaf (non-nested) partition images.
// It opens each nested member through archive.OpenSub and re-parses it in
// place (spec.md §4.3: "a second pass can descend into a marked member by
// opening a sub-reader over its byte range"), translating the nested
// parse's relative offsets back into absolute offsets against r so
// sourceFor can keep reading every member from the single top-level
// reader.
func flattenNestedArchives(r io.ReaderAt, members []archive.Member) ([]archive.Member, error) {
	var out []archive.Member
	for _, m := range members {
		if !m.IsNestedArchive {
			out = append(out, m)
			continue
		}
		sub := archive.OpenSub(r, m)
		nested, err := archive.Parse(sub, m.SizeBytes)
		if err != nil {
			return nil, fmt.Errorf("flasher: parsing nested archive %q: %w", m.Name, err)
		}
		children := make([]archive.Member, len(nested.Members))
		for i, c := range nested.Members {
			c.DataOffset += m.DataOffset
			children[i] = c
		}
		flattenedChildren, err := flattenNestedArchives(r, children)
		if err != nil {
			return nil, err
		}
		out = append(out, flattenedChildren...)
	}
	return out, nil
}

// DumpPit receives the device's PIT without performing any transfer.
func (f *Flasher) DumpPit() ([]byte, error) {
	if f.sess == nil {
		return nil, fmt.Errorf("flasher: not connected")
	}
	if err := f.sess.Setup(0); err != nil {
		return nil, err
	}
	data, err := f.sess.ReceivePit()
	if err != nil {
		return nil, err
	}
	if err := f.sess.EndSession(); err != nil {
		f.log.Printf("end session after pit dump: %v", err)
	}
	return data, nil
}

// skippable reports whether a member must not be uploaded as partition
// content (spec.md §4.7's skip policy).
func skippable(m archive.Member) bool {
	if strings.Contains(m.Name, "meta-data/") {
		return true
	}
	if strings.HasSuffix(strings.ToLower(m.Name), ".zip") {
		return true
	}
	if strings.HasSuffix(strings.ToLower(m.Name), ".pit") {
		return true
	}
	if m.SizeBytes == 0 {
		return true
	}
	return false
}

// estimateDecompressedSize applies the rule-of-thumb multipliers from
// spec.md §9 note 1 when a member's exact decompressed size is not known
// ahead of time.
func estimateDecompressedSize(m archive.Member) int64 {
	switch m.Compression {
	case archive.LZ4:
		return m.SizeBytes * 4
	case archive.Gzip:
		return m.SizeBytes * 3
	default:
		return m.SizeBytes
	}
}

// Flash runs the setup byte-count pass, the PIT exchange, the transfer
// pipeline over every non-skipped member, then end-session and optional
// reboot. progressCB is invoked at most every 500ms via internal/progress.
func (f *Flasher) Flash(fw *Firmware, pitOverride []byte, reboot bool, progressCB progress.Callback) error {
	if f.sess == nil {
		return fmt.Errorf("flasher: not connected")
	}

	var toSend []archive.Member
	var total int64
	for _, m := range fw.Members {
		if skippable(m) {
			continue
		}
		toSend = append(toSend, m)
		total += estimateDecompressedSize(m)
	}

	if err := f.sess.Setup(uint64(total)); err != nil {
		return err
	}

	var activePit *pit.Pit
	if len(pitOverride) > 0 {
		if err := f.sess.UploadPit(pitOverride); err != nil {
			return err
		}
		p, err := pit.Parse(pitOverride)
		if err != nil {
			return err
		}
		activePit = p
	} else {
		data, err := f.sess.ReceivePit()
		if err != nil {
			return err
		}
		if data == nil && fw.EmbeddedPit != nil {
			data = fw.EmbeddedPit
		}
		if data != nil {
			p, err := pit.Parse(data)
			if err != nil {
				return err
			}
			activePit = p
		}
	}

	f.sess.ReadyForTransfer()

	if err := f.sess.BeginTransferring(); err != nil {
		return err
	}

	pub := progress.New(progressCB)
	pipe := transfer.New(f.sess)

	for _, m := range toSend {
		match := pit.MatchMember(m.Name, activePit)
		src := f.sourceFor(fw, m)
		if err := pipe.TransferMember(src, match); err != nil {
			return err
		}
		pub.Publish(progress.Snapshot{
			CurrentMember: m.Name,
			BytesSent:     pipe.BytesSent(),
			BytesTotal:    uint64(total),
			Percent:       100 * float64(pipe.BytesSent()) / float64(max64(total, 1)),
		})
	}
	pub.PublishFinal(progress.Snapshot{
		BytesSent:  pipe.BytesSent(),
		BytesTotal: uint64(total),
		Percent:    100,
	})

	if pipe.BytesSent() != uint64(total) {
		return &odinerr.ByteAccountingMismatch{Declared: uint64(total), Actual: pipe.BytesSent()}
	}

	if err := f.sess.EndSession(); err != nil {
		return err
	}
	if reboot {
		return f.sess.Reboot()
	}
	return nil
}

func (f *Flasher) sourceFor(fw *Firmware, m archive.Member) transfer.Source {
	raw := transfer.FileRangeSource{R: fw.reader, Offset: m.DataOffset, Size: m.SizeBytes}
	switch m.Compression {
	case archive.LZ4:
		return transfer.DecompressedSource{Raw: raw, Decoder: decompress.LZ4Decoder{}}
	case archive.Gzip:
		return transfer.DecompressedSource{Raw: raw, Decoder: decompress.GzipDecoder{}}
	default:
		return raw
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Disconnect releases the transport.
func (f *Flasher) Disconnect() error {
	if f.sess == nil {
		return nil
	}
	return f.sess.Disconnect()
}
