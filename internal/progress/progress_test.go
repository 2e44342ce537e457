package progress

import "testing"

func TestPublishGatesRepeatedCalls(t *testing.T) {
	var calls int
	p := New(func(Snapshot) { calls++ })
	for i := 0; i < 10; i++ {
		p.Publish(Snapshot{BytesSent: uint64(i)})
	}
	if calls == 0 {
		t.Fatalf("expected at least the first call to pass the rate gate")
	}
	if calls == 10 {
		t.Fatalf("expected the rate gate to suppress some of 10 rapid calls, got %d", calls)
	}
}

func TestPublishFinalAlwaysFires(t *testing.T) {
	var calls int
	p := New(func(Snapshot) { calls++ })
	for i := 0; i < 5; i++ {
		p.PublishFinal(Snapshot{})
	}
	if calls != 5 {
		t.Fatalf("expected every PublishFinal call to fire, got %d of 5", calls)
	}
}

func TestNilCallbackIsSafe(t *testing.T) {
	p := New(nil)
	p.Publish(Snapshot{})
	p.PublishFinal(Snapshot{})
}
