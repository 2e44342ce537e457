/*Package transport is a thin façade over a USB bulk endpoint pair,
grounded directly on usbtmc.NewUSBDevice's use of google/gousb: open by
vendor/product ID, detach the kernel driver, claim the default interface,
and bind the first bulk IN/OUT endpoint pair found on it (endpoint
discovery generalizes usbtmc's hardcoded InEndpoint(2)/OutEndpoint(2) to
scan the interface, following the enumeration idiom read in
other_examples' raw-ioctl USB client).

It carries no Odin/Loke semantics: callers see only write/read/enumerate/
open/close plus the protocol's one synchronization primitive, a
zero-length write.
*/
package transport

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/gousb"

	"github.com/nasa-jpl/odinflash/odinerr"
)

const (
	// maxBulkWrite is the largest single bulk-out transfer issued to the
	// endpoint; longer writes are transparently chunked.
	maxBulkWrite = 65536
)

// DeviceInfo identifies an enumerated or connected device.
type DeviceInfo struct {
	VendorID        uint16
	ProductID       uint16
	Manufacturer    string
	Product         string
	Serial          string
	ProtocolVersion uint16
	DefaultPacketSize uint16
}

// Transport is the bulk-endpoint façade used by the session state
// machine and transfer pipeline. It is owned exclusively by one Session.
type Transport struct {
	log *log.Logger

	ctx    *gousb.Context
	device *gousb.Device
	iface  *gousb.Interface
	closer func()

	in  *gousb.InEndpoint
	out *gousb.OutEndpoint

	info DeviceInfo
}

// New creates a Transport with its own gousb context and a default
// logger writing to stderr, matching the package-level *log.Logger
// convention used throughout the teacher corpus.
func New() *Transport {
	return &Transport{
		log: log.New(os.Stderr, "transport: ", log.LstdFlags),
		ctx: gousb.NewContext(),
	}
}

// Enumerate lists connected devices matching vendorID and any of
// productIDs, without opening them.
func (t *Transport) Enumerate(vendorID uint16, productIDs []uint16) ([]DeviceInfo, error) {
	want := make(map[uint16]bool, len(productIDs))
	for _, p := range productIDs {
		want[p] = true
	}
	var out []DeviceInfo
	devs, err := t.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == vendorID && want[uint16(desc.Product)]
	})
	if err != nil {
		return nil, fmt.Errorf("transport: enumerate: %w", err)
	}
	for _, d := range devs {
		info := describe(d)
		out = append(out, info)
		d.Close()
	}
	if len(out) == 0 {
		return nil, &odinerr.NoDevice{VendorID: vendorID, ProductID: productIDs}
	}
	return out, nil
}

func describe(d *gousb.Device) DeviceInfo {
	info := DeviceInfo{
		VendorID:  uint16(d.Desc.Vendor),
		ProductID: uint16(d.Desc.Product),
	}
	if m, err := d.Manufacturer(); err == nil {
		info.Manufacturer = m
	}
	if p, err := d.Product(); err == nil {
		info.Product = p
	}
	if s, err := d.SerialNumber(); err == nil {
		info.Serial = s
	}
	return info
}

// Open claims the first device matching vendorID/productIDs and binds
// its first bulk IN/OUT endpoint pair.
func (t *Transport) Open(vendorID uint16, productIDs []uint16) (DeviceInfo, error) {
	want := make(map[uint16]bool, len(productIDs))
	for _, p := range productIDs {
		want[p] = true
	}
	dev, err := t.ctx.OpenDeviceWithVIDPID(gousb.ID(vendorID), gousb.ID(firstOrZero(productIDs)))
	if err != nil || dev == nil {
		for _, pid := range productIDs {
			dev, err = t.ctx.OpenDeviceWithVIDPID(gousb.ID(vendorID), gousb.ID(pid))
			if err == nil && dev != nil {
				break
			}
		}
	}
	if err != nil {
		return DeviceInfo{}, &odinerr.UsbOpen{Reason: "open device", Err: err}
	}
	if dev == nil {
		return DeviceInfo{}, &odinerr.NoDevice{VendorID: vendorID, ProductID: productIDs}
	}

	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		return DeviceInfo{}, &odinerr.UsbOpen{Reason: "set auto detach", Err: err}
	}

	iface, closer, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		return DeviceInfo{}, &odinerr.UsbOpen{Reason: "claim default interface", Err: err}
	}

	in, out, err := discoverBulkEndpoints(iface)
	if err != nil {
		closer()
		dev.Close()
		return DeviceInfo{}, &odinerr.UsbOpen{Reason: "discover bulk endpoints", Err: err}
	}

	t.device = dev
	t.iface = iface
	t.closer = closer
	t.in = in
	t.out = out
	t.info = describe(dev)
	return t.info, nil
}

func firstOrZero(ids []uint16) uint16 {
	if len(ids) == 0 {
		return 0
	}
	return ids[0]
}

// discoverBulkEndpoints scans the bound interface setting for the first
// bulk-IN and first bulk-OUT endpoint, generalizing usbtmc's hardcoded
// endpoint number 2 for devices (like Odin targets) whose bulk pair is
// not fixed across firmware/platform builds.
func discoverBulkEndpoints(iface *gousb.Interface) (*gousb.InEndpoint, *gousb.OutEndpoint, error) {
	var inAddr, outAddr int
	for _, ep := range iface.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn && inAddr == 0 {
			inAddr = int(ep.Number)
		}
		if ep.Direction == gousb.EndpointDirectionOut && outAddr == 0 {
			outAddr = int(ep.Number)
		}
	}
	if inAddr == 0 || outAddr == 0 {
		return nil, nil, fmt.Errorf("no bulk endpoint pair found on interface")
	}
	in, err := iface.InEndpoint(inAddr)
	if err != nil {
		return nil, nil, err
	}
	out, err := iface.OutEndpoint(outAddr)
	if err != nil {
		return nil, nil, err
	}
	return in, out, nil
}

// Write sends b to the bulk-out endpoint, transparently chunking writes
// larger than maxBulkWrite.
func (t *Transport) Write(b []byte) (int, error) {
	total := 0
	for len(b) > 0 {
		n := len(b)
		if n > maxBulkWrite {
			n = maxBulkWrite
		}
		wrote, err := t.out.Write(b[:n])
		total += wrote
		if err != nil {
			return total, fmt.Errorf("transport: write: %w", err)
		}
		if wrote < n {
			return total, fmt.Errorf("transport: short write, wrote %d of %d", wrote, n)
		}
		b = b[n:]
	}
	return total, nil
}

// ZeroLengthWrite performs the zero-byte bulk-out transfer the Odin
// protocol uses as a synchronization marker around data blocks and
// finalizers (spec-mandated, not cosmetic in effect though errors from it
// are ignored by callers per the retry policy).
func (t *Transport) ZeroLengthWrite() error {
	_, err := t.out.Write(nil)
	return err
}

// Read reads up to len(p) bytes from the bulk-in endpoint, honoring
// timeout. Short reads are allowed; exceeding the timeout yields a
// *odinerr.Timeout, distinguishable from a protocol error.
func (t *Transport) Read(p []byte, timeout time.Duration, phase string) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := t.in.Read(p)
		done <- result{n, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return r.n, fmt.Errorf("transport: read: %w", r.err)
		}
		return r.n, nil
	case <-time.After(timeout):
		return 0, &odinerr.Timeout{Phase: phase}
	}
}

// Close releases the interface and device. Safe to call more than once.
func (t *Transport) Close() error {
	if t.closer != nil {
		t.closer()
		t.closer = nil
	}
	if t.device != nil {
		err := t.device.Close()
		t.device = nil
		return err
	}
	return nil
}
