/*Package progress rate-limits a progress callback to at most once every
500ms (spec.md §4.9), grounded on nkt/nkt.go, the only file in the
teacher corpus directly importing golang.org/x/time.
*/
package progress

import (
	"time"

	"golang.org/x/time/rate"
)

// Snapshot is one progress observation, delivered to a Callback.
type Snapshot struct {
	CurrentMember string
	BytesSent     uint64
	BytesTotal    uint64
	Percent       float64
}

// Callback receives progress snapshots. It must not suspend (spec.md §5):
// it is invoked synchronously from within the transfer pipeline's task.
type Callback func(Snapshot)

// Publisher gates calls to an underlying Callback so it fires at most
// every interval, always allowing the final call (completion) through
// regardless of the gate.
type Publisher struct {
	cb       Callback
	sometime rate.Sometimes
}

// New wraps cb with a 500ms rate gate.
func New(cb Callback) *Publisher {
	return &Publisher{
		cb:       cb,
		sometime: rate.Sometimes{Interval: 500 * time.Millisecond},
	}
}

// Publish delivers snap to the callback if the rate gate allows it.
func (p *Publisher) Publish(snap Snapshot) {
	if p.cb == nil {
		return
	}
	p.sometime.Do(func() { p.cb(snap) })
}

// PublishFinal always delivers snap, bypassing the rate gate, for the
// final progress update of a flash.
func (p *Publisher) PublishFinal(snap Snapshot) {
	if p.cb == nil {
		return
	}
	p.cb(snap)
}
