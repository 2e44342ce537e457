package flasher

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nasa-jpl/odinflash/archive"
	"github.com/nasa-jpl/odinflash/internal/progress"
	"github.com/nasa-jpl/odinflash/odinerr"
	"github.com/nasa-jpl/odinflash/session"
)

// fakeBulk is a scripted session.Bulk that acknowledges every write by
// echoing back its cmd field, the same canned-response shape as
// transfer.fakeBulk/session.fakeTransport (duplicated here since it is
// unexported in those packages) — enough to drive Flash's full
// setup/PIT/transfer/end-session orchestration without a real device.
type fakeBulk struct {
	mu      sync.Mutex
	lastCmd uint32
}

func (f *fakeBulk) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(b) >= 4 {
		f.lastCmd = binary.LittleEndian.Uint32(b[0:4])
	}
	return len(b), nil
}

func (f *fakeBulk) Read(p []byte, timeout time.Duration, phase string) (int, error) {
	f.mu.Lock()
	cmd := f.lastCmd
	f.mu.Unlock()
	binary.LittleEndian.PutUint32(p[0:4], cmd)
	binary.LittleEndian.PutUint32(p[4:8], 0)
	return 8, nil
}

func (f *fakeBulk) ZeroLengthWrite() error { return nil }

func (f *fakeBulk) Close() error { return nil }

// newTestFlasher builds a Flasher wired directly to a fake transport via
// sess, bypassing Connect (which requires a real USB device).
func newTestFlasher() *Flasher {
	fb := &fakeBulk{}
	return &Flasher{sess: session.New(fb, time.Second, time.Second)}
}

func gzipCompress(t *testing.T, plain []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(plain); err != nil {
		t.Fatalf("compress fixture: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip writer: %v", err)
	}
	return buf.Bytes()
}

func TestFlashEndToEndTwoMembers(t *testing.T) {
	boot := []byte("this is the boot partition payload, several dozen bytes long")
	modem := []byte("this is the modem partition payload, a little bit shorter")

	buf := append(append([]byte{}, boot...), modem...)
	r := bytes.NewReader(buf)

	fw := &Firmware{
		reader: r,
		Members: []archive.Member{
			{Name: "boot.img", SizeBytes: int64(len(boot)), DataOffset: 0, Compression: archive.None},
			{Name: "modem.bin", SizeBytes: int64(len(modem)), DataOffset: int64(len(boot)), Compression: archive.None},
		},
	}

	f := newTestFlasher()

	var snapshots []progress.Snapshot
	err := f.Flash(fw, nil, true, func(s progress.Snapshot) {
		snapshots = append(snapshots, s)
	})
	if err != nil {
		t.Fatalf("flash: %v", err)
	}
	if len(snapshots) == 0 {
		t.Fatalf("expected at least the final progress snapshot")
	}
	last := snapshots[len(snapshots)-1]
	want := uint64(len(boot) + len(modem))
	if last.BytesSent != want {
		t.Fatalf("expected final snapshot bytes sent %d, got %d", want, last.BytesSent)
	}
	if last.Percent != 100 {
		t.Fatalf("expected final snapshot at 100%%, got %f", last.Percent)
	}
	if f.sess.Phase() != session.Disconnected {
		t.Fatalf("expected session disconnected after reboot, got %s", f.sess.Phase())
	}
}

func TestFlashByteAccountingMismatchFromGzipEstimate(t *testing.T) {
	// Highly repetitive plaintext compresses far better than the ×3
	// rule-of-thumb estimate assumes, so the declared total_bytes (3×
	// the compressed size) is guaranteed to undershoot the actual
	// decompressed byte count streamed during transfer.
	plain := bytes.Repeat([]byte{'A'}, 200000)
	compressed := gzipCompress(t, plain)

	r := bytes.NewReader(compressed)
	fw := &Firmware{
		reader: r,
		Members: []archive.Member{
			{Name: "cache.img.gz", SizeBytes: int64(len(compressed)), DataOffset: 0, Compression: archive.Gzip},
		},
	}

	f := newTestFlasher()
	err := f.Flash(fw, nil, false, nil)
	if err == nil {
		t.Fatalf("expected a byte-accounting mismatch error, got nil")
	}
	var mismatch *odinerr.ByteAccountingMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected *odinerr.ByteAccountingMismatch, got %T: %v", err, err)
	}
	if mismatch.Actual != uint64(len(plain)) {
		t.Fatalf("expected actual bytes %d, got %d", len(plain), mismatch.Actual)
	}
	if mismatch.Declared >= mismatch.Actual {
		t.Fatalf("expected declared estimate (%d) to undershoot actual (%d)", mismatch.Declared, mismatch.Actual)
	}
}

func TestSkippableRules(t *testing.T) {
	cases := []struct {
		name string
		m    archive.Member
		want bool
	}{
		{"meta-data path", archive.Member{Name: "META-INF/meta-data/foo", SizeBytes: 10}, true},
		{"zip suffix", archive.Member{Name: "extra.ZIP", SizeBytes: 10}, true},
		{"pit suffix", archive.Member{Name: "device.pit", SizeBytes: 10}, true},
		{"zero size", archive.Member{Name: "empty.bin", SizeBytes: 0}, true},
		{"ordinary partition", archive.Member{Name: "boot.img.lz4", SizeBytes: 1000}, false},
	}
	for _, c := range cases {
		if got := skippable(c.m); got != c.want {
			t.Errorf("%s: skippable() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestEstimateDecompressedSizeMultipliers(t *testing.T) {
	cases := []struct {
		comp archive.CompressionKind
		size int64
		want int64
	}{
		{archive.None, 1000, 1000},
		{archive.LZ4, 1000, 4000},
		{archive.Gzip, 1000, 3000},
	}
	for _, c := range cases {
		m := archive.Member{SizeBytes: c.size, Compression: c.comp}
		if got := estimateDecompressedSize(m); got != c.want {
			t.Errorf("estimateDecompressedSize(%v, %d) = %d, want %d", c.comp, c.size, got, c.want)
		}
	}
}

func TestMax64(t *testing.T) {
	if max64(3, 5) != 5 {
		t.Fatalf("max64(3,5) should be 5")
	}
	if max64(5, 3) != 5 {
		t.Fatalf("max64(5,3) should be 5")
	}
}
