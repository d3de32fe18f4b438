package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"recruitmate/internal/bus"
	"recruitmate/internal/cache"
	"recruitmate/internal/conversation"
	"recruitmate/internal/domain"
)

type sentMessage struct {
	channel string
	to      string
	body    string
}

type loopFixture struct {
	loop    *Loop
	store   *conversation.Store
	backend *scriptedBackend
	bus     *bus.InMemoryBus
	sentMu  sync.Mutex
	sent    []sentMessage
	sendErr error
}

func newLoopFixture(t *testing.T, backend *scriptedBackend) *loopFixture {
	t.Helper()
	mem := cache.NewMemory(1000)
	t.Cleanup(func() { mem.Close() })

	f := &loopFixture{backend: backend, bus: bus.New(10, 0, testLogger())}
	f.store = conversation.NewStore(mem, nil, conversation.Options{SystemPrompt: SystemPrompt("")}, testLogger())
	f.loop = NewLoop(LoopConfig{
		Agent:         newTestAgent(backend, 10),
		Conversations: f.store,
		Messengers: func(ch domain.ChannelConfig) domain.Messenger {
			return &lockedMessenger{f: f, channel: ch.PhoneNumberID}
		},
		Bus:            f.bus,
		Logger:         testLogger(),
		Concurrency:    4,
		MessageTimeout: 5 * time.Second,
	})
	return f
}

// lockedMessenger appends to the fixture under its mutex.
type lockedMessenger struct {
	f       *loopFixture
	channel string
}

func (m *lockedMessenger) SendText(ctx context.Context, to, body string) (*domain.SendResult, error) {
	m.f.sentMu.Lock()
	defer m.f.sentMu.Unlock()
	if m.f.sendErr != nil {
		return nil, m.f.sendErr
	}
	m.f.sent = append(m.f.sent, sentMessage{channel: m.channel, to: to, body: body})
	return &domain.SendResult{MessageIDs: []string{"wamid.out"}}, nil
}

func inbound(id, from, text string) domain.InboundMessage {
	return domain.InboundMessage{
		DeliveryID: "d-" + id,
		Envelope:   domain.Envelope{MessageID: id, PhoneNumberID: "P1", From: from, Type: "text", Text: text},
		Channel:    domain.ChannelConfig{PhoneNumberID: "P1", AccessToken: "tok"},
	}
}

func TestProcess_RepliesAndSaves(t *testing.T) {
	f := newLoopFixture(t, &scriptedBackend{responses: []*domain.BackendResponse{message("Hello there")}})

	if err := f.loop.Process(context.Background(), inbound("m1", "5511988887777", "hi")); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(f.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(f.sent))
	}
	if f.sent[0] != (sentMessage{channel: "P1", to: "5511988887777", body: "Hello there"}) {
		t.Fatalf("unexpected send %+v", f.sent[0])
	}

	session, err := f.store.LoadOrInit(context.Background(), conversation.ConversationKey("P1", "5511988887777"))
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	if rolesOf(session) != "system,user,assistant" {
		t.Fatalf("unexpected saved transcript %s", rolesOf(session))
	}
}

func TestProcess_FailureSendsNothingAndKeepsSession(t *testing.T) {
	counter := &countingTool{name: "count"}
	backend := &scriptedBackend{repeat: calls(functionCall("c", "count", `{}`))}
	f := newLoopFixture(t, backend)
	f.loop.agent = newTestAgent(backend, 1, counter)

	err := f.loop.Process(context.Background(), inbound("m1", "A", "loop"))
	if !errors.Is(err, ErrMaxRounds) {
		t.Fatalf("expected ErrMaxRounds, got %v", err)
	}
	if len(f.sent) != 0 {
		t.Fatalf("expected silence, got %d sends", len(f.sent))
	}

	session, _ := f.store.LoadOrInit(context.Background(), conversation.ConversationKey("P1", "A"))
	if session.Len() != 1 {
		t.Fatalf("session should not be saved on failure, got %d turns", session.Len())
	}
}

func TestProcess_SendFailureStillSavesSession(t *testing.T) {
	f := newLoopFixture(t, &scriptedBackend{responses: []*domain.BackendResponse{message("hi")}})
	f.sendErr = errors.New("graph api down")

	if err := f.loop.Process(context.Background(), inbound("m1", "A", "hello")); err != nil {
		t.Fatalf("send failures are not processing errors: %v", err)
	}
	session, _ := f.store.LoadOrInit(context.Background(), conversation.ConversationKey("P1", "A"))
	if session.Len() != 3 {
		t.Fatalf("expected saved session, got %d turns", session.Len())
	}
}

func TestProcess_NoReplyNoSend(t *testing.T) {
	f := newLoopFixture(t, &scriptedBackend{responses: []*domain.BackendResponse{{}}})

	if err := f.loop.Process(context.Background(), inbound("m1", "A", "hello")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(f.sent) != 0 {
		t.Fatalf("expected no send, got %d", len(f.sent))
	}
}

func TestRun_SerialisesConversationAndDrains(t *testing.T) {
	backend := &scriptedBackend{repeat: message("ack")}
	f := newLoopFixture(t, backend)

	f.bus.Publish(inbound("m1", "A", "first"))
	f.bus.Publish(inbound("m2", "A", "second"))
	f.bus.Publish(inbound("m3", "B", "other"))
	f.bus.Close()

	done := make(chan struct{})
	go func() {
		f.loop.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the bus closed")
	}

	if len(f.sent) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(f.sent))
	}

	session, _ := f.store.LoadOrInit(context.Background(), conversation.ConversationKey("P1", "A"))
	if rolesOf(session) != "system,user,assistant,user,assistant" {
		t.Fatalf("conversation A lost a turn: %s", rolesOf(session))
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	f := newLoopFixture(t, &scriptedBackend{repeat: message("ack")})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.loop.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
