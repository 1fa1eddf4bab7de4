package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("status.", 10)
	defer unsub()

	b.Publish(Event{Kind: "status.changed", Timestamp: time.Now(), Payload: "conv-1"})

	select {
	case evt := <-ch:
		if evt.Kind != "status.changed" {
			t.Errorf("got kind %q, want status.changed", evt.Kind)
		}
		if evt.Payload != "conv-1" {
			t.Errorf("got payload %v, want conv-1", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Publish(Event{Kind: "status.changed"})
	b.Publish(Event{Kind: "sync.message_sent"})

	select {
	case evt := <-ch:
		if evt.Kind != "sync.message_sent" {
			t.Errorf("got kind %q, want sync.message_sent", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The status event must not have been delivered to a sync subscriber.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyPrefixReceivesEverything(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	b.Publish(Event{Kind: "status.changed"})
	b.Publish(Event{Kind: "sync.online_changed"})

	for _, want := range []string{"status.changed", "sync.online_changed"} {
		select {
		case evt := <-ch:
			if evt.Kind != want {
				t.Errorf("got kind %q, want %q", evt.Kind, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("status.", 10)
	unsub()

	b.Publish(Event{Kind: "status.changed"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("status.", 1)
	defer unsub()

	// Fill the buffer, then publish one more that must be dropped.
	b.Publish(Event{Kind: "status.changed", Payload: "first"})
	b.Publish(Event{Kind: "status.changed", Payload: "second"})

	evt := <-ch
	if evt.Payload != "first" {
		t.Errorf("got %v, want first", evt.Payload)
	}
	select {
	case evt := <-ch:
		t.Errorf("dropped event was delivered: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}
