package bus

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"recruitmate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func msg(id string) domain.InboundMessage {
	return domain.InboundMessage{Envelope: domain.Envelope{MessageID: id, PhoneNumberID: "P1"}}
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := New(4, 0, testLogger())
	if !b.Publish(msg("m1")) {
		t.Fatal("publish should succeed")
	}

	select {
	case got := <-b.Subscribe():
		if got.Envelope.MessageID != "m1" {
			t.Fatalf("unexpected message %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBus_FullDropsAfterTimeout(t *testing.T) {
	b := New(1, 20*time.Millisecond, testLogger())
	if !b.Publish(msg("m1")) {
		t.Fatal("first publish should succeed")
	}

	start := time.Now()
	if b.Publish(msg("m2")) {
		t.Fatal("second publish should be dropped")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("publish should wait for the timeout before dropping")
	}
	if b.Len() != 1 {
		t.Fatalf("expected 1 queued, got %d", b.Len())
	}
}

func TestBus_FullAcceptsWhenDrained(t *testing.T) {
	b := New(1, time.Second, testLogger())
	b.Publish(msg("m1"))

	go func() {
		time.Sleep(10 * time.Millisecond)
		<-b.Subscribe()
	}()
	if !b.Publish(msg("m2")) {
		t.Fatal("publish should succeed once a slot frees up")
	}
}

func TestBus_ClosedRejects(t *testing.T) {
	b := New(2, 0, testLogger())
	b.Publish(msg("m1"))
	b.Close()
	b.Close()

	if b.Publish(msg("m2")) {
		t.Fatal("publish after close should fail")
	}
	if got, ok := <-b.Subscribe(); !ok || got.Envelope.MessageID != "m1" {
		t.Fatal("queued message should survive close")
	}
	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("channel should be closed after draining")
	}
}
