package eventbus

import "testing"

func TestBusPublishSubscribe(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()
	bus.Publish("scan")
	v := <-ch
	if v != "scan" {
		t.Fatalf("expected scan got %v", v)
	}
	bus.Unsubscribe(ch)
}

func TestBusSlowSubscriberDrops(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()
	for i := 0; i < subBuffer+5; i++ {
		bus.Publish(i)
	}
	if got := len(ch); got != subBuffer {
		t.Fatalf("expected %d buffered events, got %d", subBuffer, got)
	}
	if got := bus.Dropped(); got != 5 {
		t.Fatalf("expected 5 dropped events, got %d", got)
	}
}

func TestBusDroppedZeroWhenKeptUp(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()
	for i := 0; i < 3; i++ {
		bus.Publish(i)
		<-ch
	}
	if got := bus.Dropped(); got != 0 {
		t.Fatalf("expected no drops, got %d", got)
	}
}

func TestBusClose(t *testing.T) {
	bus := New()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	bus.Close()
	if _, ok := <-ch1; ok {
		t.Fatalf("expected ch1 closed")
	}
	if _, ok := <-ch2; ok {
		t.Fatalf("expected ch2 closed")
	}
}

func TestBusUnsubscribeAfterClose(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()
	bus.Close()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic on Unsubscribe after Close: %v", r)
		}
	}()
	bus.Unsubscribe(ch)
}
