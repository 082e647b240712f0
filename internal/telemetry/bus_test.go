package telemetry

import (
	"errors"
	"testing"
	"time"
)

func TestBus_PublishFansOutToAllSubscribers(t *testing.T) {
	bus := NewBus(nil)
	a := bus.Subscribe("a", 4)
	b := bus.Subscribe("b", 4)

	bus.Publish(TopicMetrics, map[string]int{"ticks": 10})

	select {
	case evt := <-a.Send:
		if evt.Topic != TopicMetrics {
			t.Errorf("expected topic %s, got %s", TopicMetrics, evt.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber a did not receive event")
	}

	select {
	case <-b.Send:
	case <-time.After(time.Second):
		t.Fatal("subscriber b did not receive event")
	}
}

func TestBus_PublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus(nil)
	slow := bus.Subscribe("slow", 1)

	bus.Publish(TopicLogs, "first")
	done := make(chan struct{})
	go func() {
		bus.Publish(TopicLogs, "second") // buffer already full, must not block
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a backlogged subscriber")
	}
	_ = slow
}

func TestBus_LastSnapshotIsLastWins(t *testing.T) {
	bus := NewBus(nil)
	bus.Publish(TopicPositions, "first")
	bus.Publish(TopicPositions, "second")

	evt, ok := bus.LastSnapshot(TopicPositions)
	if !ok {
		t.Fatal("expected a snapshot")
	}
	if evt.Data != "second" {
		t.Errorf("expected last-wins snapshot 'second', got %v", evt.Data)
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(nil)
	s := bus.Subscribe("temp", 1)
	bus.Unsubscribe("temp")

	_, ok := <-s.Send
	if ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestBus_MirrorFailureDoesNotPropagate(t *testing.T) {
	bus := NewBus(nil)
	bus.SetMirror(failingMirror{})

	// Should not panic or block despite the mirror always erroring.
	bus.Publish(TopicMetrics, "x")
}

type failingMirror struct{}

func (failingMirror) Notify(Topic, interface{}) error { return errors.New("boom") }
