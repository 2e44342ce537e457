package session

import (
	"errors"
	"sync"
	"time"
)

// fakeTransport scripts a sequence of expected writes and the reply bytes
// to hand back on the following read, the same call/response bookkeeping
// style as pi.MockController's state maps, adapted here to a queue since
// the session protocol is request/response rather than stateful axes.
type fakeTransport struct {
	mu sync.Mutex

	writes [][]byte // every frame written, in order, for assertions
	queue  []fakeExchange
	zwrites int
	closed  bool
}

type fakeExchange struct {
	reply []byte
	err   error
}

func newFakeTransport(replies ...[]byte) *fakeTransport {
	f := &fakeTransport{}
	for _, r := range replies {
		f.queue = append(f.queue, fakeExchange{reply: r})
	}
	return f
}

func (f *fakeTransport) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	f.writes = append(f.writes, cp)
	return len(b), nil
}

func (f *fakeTransport) Read(p []byte, timeout time.Duration, phase string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return 0, errors.New("fakeTransport: read with no queued reply for phase " + phase)
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	if next.err != nil {
		return 0, next.err
	}
	n := copy(p, next.reply)
	return n, nil
}

func (f *fakeTransport) ZeroLengthWrite() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zwrites++
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
