package eventbus

import (
	"testing"
	"time"

	"github.com/tunnelnet/controlplane/internal/domain"
)

func TestPublish_RoutesOnlyToMatchingUser(t *testing.T) {
	b := New()
	go b.Run()
	defer b.Stop()

	chA, cancelA := b.Subscribe("user-a")
	defer cancelA()
	chB, cancelB := b.Subscribe("user-b")
	defer cancelB()

	b.Publish(domain.InstanceEvent{UserID: "user-a", InstanceID: "i1", Status: domain.StatusActive})

	select {
	case ev := <-chA:
		if ev.InstanceID != "i1" {
			t.Errorf("chA got %+v, want i1", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("user-a did not receive its own event")
	}

	select {
	case ev := <-chB:
		t.Fatalf("user-b received user-a's event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	b := New()
	go b.Run()
	defer b.Stop()

	ch, cancel := b.Subscribe("user-a")
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel closed after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel was not closed after cancel")
	}
}

func TestStop_ClosesAllSubscribers(t *testing.T) {
	b := New()
	go b.Run()

	ch, _ := b.Subscribe("user-a")
	b.Stop()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel closed after Stop")
		}
	case <-time.After(time.Second):
		t.Fatal("channel was not closed after Stop")
	}
}
