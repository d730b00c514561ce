package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kbchat/kbchat/internal/contextbuilder"
	"github.com/kbchat/kbchat/internal/dedup"
	"github.com/kbchat/kbchat/internal/guardrails"
	"github.com/kbchat/kbchat/internal/store"
	"github.com/kbchat/kbchat/pkg/contracts"
	"github.com/kbchat/kbchat/pkg/models"
)

type fakeMessenger struct {
	mu      sync.Mutex
	replies []string
	pushes  []string
	pushed  chan struct{}
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{pushed: make(chan struct{}, 8)}
}

func (f *fakeMessenger) Reply(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	return nil
}

func (f *fakeMessenger) Push(_ context.Context, _, text string) error {
	f.mu.Lock()
	f.pushes = append(f.pushes, text)
	f.mu.Unlock()
	f.pushed <- struct{}{}
	return nil
}

func (f *fakeMessenger) replyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.replies)
}

func (f *fakeMessenger) lastReply() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return ""
	}
	return f.replies[len(f.replies)-1]
}

func (f *fakeMessenger) lastPush() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pushes) == 0 {
		return ""
	}
	return f.pushes[len(f.pushes)-1]
}

func (f *fakeMessenger) waitForPush(t *testing.T) {
	t.Helper()
	select {
	case <-f.pushed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for background push")
	}
}

type fakeCompleter struct {
	answer    string
	err       error
	visionOut string
	visionErr error
	onVision  func()
}

func (f *fakeCompleter) Kind() string { return "fake" }

func (f *fakeCompleter) Complete(_ context.Context, _ contracts.CompletionRequest) (string, error) {
	return f.answer, f.err
}

func (f *fakeCompleter) CompleteVision(_ context.Context, _ string, _ []byte, _ string) (string, error) {
	if f.onVision != nil {
		f.onVision()
	}
	return f.visionOut, f.visionErr
}

type fakeFetcher struct {
	data []byte
	err  error
}

func (f *fakeFetcher) Fetch(context.Context, string) ([]byte, string, error) {
	return f.data, "image/jpeg", f.err
}

func newTestPipeline(t *testing.T, msg *fakeMessenger, completer *fakeCompleter, fetcher *fakeFetcher) (*Pipeline, *store.MemoryStore) {
	t.Helper()
	dataStore := store.NewMemoryStore()
	agent := &models.AgentConfig{
		ID:            "agent-1",
		OwnerID:       "owner-1",
		PersonaPrompt: "You help.",
		MemoryEnabled: true,
	}
	if err := dataStore.PutAgent(context.Background(), agent); err != nil {
		t.Fatalf("PutAgent: %v", err)
	}

	p := New(Options{
		Seen:        dedup.NewMap(time.Hour),
		Agents:      dataStore,
		History:     dataStore,
		Binaries:    dataStore,
		Assembler:   contextbuilder.NewAssembler(dataStore, dataStore),
		Guards:      guardrails.NewEngine(nil),
		Completer:   completer,
		Fetcher:     fetcher,
		Messenger:   msg,
		ApologyText: "sorry, please try again",
		AckText:     "got your image",
	})
	return p, dataStore
}

func textEvent(id string) *models.InboundEvent {
	return &models.InboundEvent{
		MessageID:  id,
		OwnerID:    "owner-1",
		ChannelID:  "chan-1",
		AgentID:    "agent-1",
		SenderID:   "user-1",
		ReplyToken: "token-" + id,
		Kind:       models.EventText,
		Text:       "what's the refund policy?",
	}
}

func imageEvent(id string) *models.InboundEvent {
	return &models.InboundEvent{
		MessageID:  id,
		OwnerID:    "owner-1",
		ChannelID:  "chan-1",
		AgentID:    "agent-1",
		SenderID:   "user-1",
		ReplyToken: "token-" + id,
		Kind:       models.EventImage,
		BinaryRef:  "https://content.example/" + id,
	}
}

func TestTextEventRepliesAndRecordsTurns(t *testing.T) {
	msg := newFakeMessenger()
	p, dataStore := newTestPipeline(t, msg, &fakeCompleter{answer: "30 days"}, &fakeFetcher{})

	if err := p.HandleInbound(context.Background(), textEvent("m1")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if msg.lastReply() != "30 days" {
		t.Errorf("reply = %q", msg.lastReply())
	}

	turns, err := dataStore.RecentTurns(context.Background(), "owner-1", "chan-1", "agent-1", 10, models.HistoryUserAssistant)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("recorded %d turns, want user + assistant", len(turns))
	}
	if turns[0].Role != models.RoleUser || turns[1].Role != models.RoleAssistant {
		t.Errorf("turn roles: %s, %s", turns[0].Role, turns[1].Role)
	}
}

func TestDuplicateEventGetsNoSecondReply(t *testing.T) {
	msg := newFakeMessenger()
	p, _ := newTestPipeline(t, msg, &fakeCompleter{answer: "hi"}, &fakeFetcher{})

	ctx := context.Background()
	if err := p.HandleInbound(ctx, textEvent("m1")); err != nil {
		t.Fatalf("first HandleInbound: %v", err)
	}
	if err := p.HandleInbound(ctx, textEvent("m1")); err != nil {
		t.Fatalf("duplicate HandleInbound: %v", err)
	}
	if msg.replyCount() != 1 {
		t.Errorf("reply count = %d, want 1", msg.replyCount())
	}
}

func TestCompletionFailureSendsApology(t *testing.T) {
	msg := newFakeMessenger()
	p, _ := newTestPipeline(t, msg, &fakeCompleter{err: errors.New("model down")}, &fakeFetcher{})

	if err := p.HandleInbound(context.Background(), textEvent("m1")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if msg.lastReply() != "sorry, please try again" {
		t.Errorf("reply = %q, want apology", msg.lastReply())
	}
}

func TestMediaEventAckThenBackgroundPush(t *testing.T) {
	msg := newFakeMessenger()
	completer := &fakeCompleter{answer: "it shows a receipt", visionOut: "a receipt for 500 baht"}
	p, dataStore := newTestPipeline(t, msg, completer, &fakeFetcher{data: []byte("jpegbytes")})

	if err := p.HandleInbound(context.Background(), imageEvent("img1")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	// The ack goes out synchronously, before HandleInbound returns.
	if msg.lastReply() != "got your image" {
		t.Fatalf("reply = %q, want ack", msg.lastReply())
	}

	msg.waitForPush(t)
	if msg.lastPush() != "it shows a receipt" {
		t.Errorf("push = %q", msg.lastPush())
	}

	turns, err := dataStore.RecentTurns(context.Background(), "owner-1", "chan-1", "agent-1", 10, models.HistoryAllRoles)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	var found bool
	for _, turn := range turns {
		if turn.IsEnrichment() && turn.Content == "a receipt for 500 baht" {
			found = true
			if turn.Metadata[models.MetaSourceMessageID] != "img1" {
				t.Errorf("enrichment turn source = %q", turn.Metadata[models.MetaSourceMessageID])
			}
		}
	}
	if !found {
		t.Error("enrichment turn not recorded")
	}
}

func TestAnalysisTurnTaggedAfterDelivery(t *testing.T) {
	msg := newFakeMessenger()
	completer := &fakeCompleter{answer: "looks like a receipt", visionOut: "a receipt"}
	p, dataStore := newTestPipeline(t, msg, completer, &fakeFetcher{data: []byte("jpegbytes")})

	if err := p.HandleInbound(context.Background(), imageEvent("img-tag")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	msg.waitForPush(t)

	// The tag is written after the push, so allow the goroutine a
	// moment to finish.
	deadline := time.Now().Add(2 * time.Second)
	for {
		turns, err := dataStore.RecentTurns(context.Background(), "owner-1", "chan-1", "agent-1", 10, models.HistoryAllRoles)
		if err != nil {
			t.Fatalf("RecentTurns: %v", err)
		}
		for _, turn := range turns {
			if turn.IsEnrichment() && turn.Metadata[models.MetaDeliveredAt] != "" {
				if _, err := time.Parse(time.RFC3339, turn.Metadata[models.MetaDeliveredAt]); err != nil {
					t.Errorf("delivered_at = %q: %v", turn.Metadata[models.MetaDeliveredAt], err)
				}
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("analysis turn never tagged as delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMediaAckPrecedesVision(t *testing.T) {
	msg := newFakeMessenger()
	completer := &fakeCompleter{answer: "ok", visionOut: "analysis"}
	completer.onVision = func() {
		if msg.replyCount() == 0 {
			t.Error("vision ran before the acknowledgment was sent")
		}
	}
	p, _ := newTestPipeline(t, msg, completer, &fakeFetcher{data: []byte("x")})

	if err := p.HandleInbound(context.Background(), imageEvent("img1")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	msg.waitForPush(t)
}

func TestMediaFetchFailurePushesApology(t *testing.T) {
	msg := newFakeMessenger()
	p, dataStore := newTestPipeline(t, msg, &fakeCompleter{answer: "ok", visionOut: "x"},
		&fakeFetcher{err: errors.New("content expired")})

	if err := p.HandleInbound(context.Background(), imageEvent("img1")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	msg.waitForPush(t)
	if msg.lastPush() != "sorry, please try again" {
		t.Errorf("push = %q, want apology", msg.lastPush())
	}

	// A failed enrichment must not leave a partial analysis turn behind.
	turns, _ := dataStore.RecentTurns(context.Background(), "owner-1", "chan-1", "agent-1", 10, models.HistoryAllRoles)
	for _, turn := range turns {
		if turn.IsEnrichment() {
			t.Error("enrichment turn recorded despite fetch failure")
		}
	}
}

func TestVisionFailurePushesApology(t *testing.T) {
	msg := newFakeMessenger()
	p, _ := newTestPipeline(t, msg, &fakeCompleter{visionErr: errors.New("vision down")},
		&fakeFetcher{data: []byte("x")})

	if err := p.HandleInbound(context.Background(), imageEvent("img1")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	msg.waitForPush(t)
	if msg.lastPush() != "sorry, please try again" {
		t.Errorf("push = %q, want apology", msg.lastPush())
	}
}

func TestBlockedInputGetsRefusal(t *testing.T) {
	msg := newFakeMessenger()
	completer := &fakeCompleter{answer: "should not be used"}
	dataStore := store.NewMemoryStore()
	agent := &models.AgentConfig{
		ID:      "agent-1",
		OwnerID: "owner-1",
		Guardrails: models.GuardrailConfig{
			ContentFilter: &models.ContentFilterConfig{
				Enabled:      true,
				BlockedWords: []string{"refund"},
			},
		},
	}
	if err := dataStore.PutAgent(context.Background(), agent); err != nil {
		t.Fatalf("PutAgent: %v", err)
	}

	p := New(Options{
		Seen:        dedup.NewMap(time.Hour),
		Agents:      dataStore,
		History:     dataStore,
		Binaries:    dataStore,
		Assembler:   contextbuilder.NewAssembler(dataStore, dataStore),
		Guards:      guardrails.NewEngine(nil),
		Completer:   completer,
		Fetcher:     &fakeFetcher{},
		Messenger:   msg,
		ApologyText: "sorry",
		AckText:     "ack",
	})

	if err := p.HandleInbound(context.Background(), textEvent("m1")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if !strings.Contains(msg.lastReply(), "can't help") {
		t.Errorf("reply = %q, want refusal", msg.lastReply())
	}
	if msg.lastReply() == "should not be used" {
		t.Error("blocked input must not reach the model")
	}
}
