package bus

import "testing"

func TestPublishWithoutSubscribers(t *testing.T) {
	b := New()
	// Must not block or panic.
	b.Publish(EventNewEmail, map[string]string{"id": "1"})
}

func TestSubscriberReceivesInOrder(t *testing.T) {
	b := New()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(EventProcessingEmail, 1)
	b.Publish(EventResponseGenerated, 2)
	b.Publish(EventReplySent, 3)

	want := []string{EventProcessingEmail, EventResponseGenerated, EventReplySent}
	for i, name := range want {
		ev := <-ch
		if ev.Name != name {
			t.Fatalf("event %d = %q, want %q", i, ev.Name, name)
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Overfill the subscriber buffer; Publish must never block.
	for i := 0; i < 200; i++ {
		b.Publish(EventFilesUpdated, i)
	}
	if got := len(ch); got != cap(ch) {
		t.Errorf("buffered events = %d, want full buffer %d with overflow dropped", got, cap(ch))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch := b.Subscribe()
	if b.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", b.Subscribers())
	}
	b.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Error("channel still open after Unsubscribe")
	}
	if b.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d after Unsubscribe, want 0", b.Subscribers())
	}
}
