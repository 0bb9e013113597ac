package notify

import "testing"

func TestPublishAndSubscribe(t *testing.T) {
	h := NewHub[string](8)
	ch, unsub := h.Subscribe()
	defer unsub()

	h.Publish("hello")
	h.Publish("world")

	if got := <-ch; got != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}
	if got := <-ch; got != "world" {
		t.Fatalf("expected world, got %q", got)
	}
}

func TestCatchupOnSubscribe(t *testing.T) {
	h := NewHub[int](8)

	h.Publish(1)
	h.Publish(2)
	h.Publish(3)

	ch, unsub := h.Subscribe()
	defer unsub()

	for _, want := range []int{1, 2, 3} {
		if got := <-ch; got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
}

func TestCatchupBufferWrapsAtCapacity(t *testing.T) {
	h := NewHub[int](4)
	for i := 1; i <= 6; i++ {
		h.Publish(i)
	}

	ch, unsub := h.Subscribe()
	defer unsub()

	for _, want := range []int{3, 4, 5, 6} {
		if got := <-ch; got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := NewHub[int](2)
	_, unsub := h.Subscribe()
	defer unsub()

	// The subscriber channel has bounded capacity and nothing draining it;
	// publishing past that bound must not deadlock.
	for i := 0; i < 100; i++ {
		h.Publish(i)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub[int](4)
	ch, unsub := h.Subscribe()
	unsub()

	h.Publish(42)

	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf("expected no delivery after unsubscribe, got %d", v)
		}
	default:
	}
}
