package telegram

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/gptrelay/internal/gateway"
	"github.com/user/gptrelay/internal/state"
)

// fakeBot records outgoing messages.
type fakeBot struct {
	mu        sync.Mutex
	sent      []tgbotapi.MessageConfig
	actions   int
	failMD    bool
	updates   chan tgbotapi.Update
	stopCalls int
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable")
	}
	if b.failMD && msg.ParseMode != "" {
		return tgbotapi.Message{}, errors.New("can't parse entities")
	}
	b.sent = append(b.sent, msg)
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actions++
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return b.updates
}

func (b *fakeBot) StopReceivingUpdates() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopCalls++
}

func (b *fakeBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.sent))
	for i, m := range b.sent {
		out[i] = m.Text
	}
	return out
}

func (b *fakeBot) waitSent(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if texts := b.texts(); len(texts) >= n {
			return texts
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d sent messages, got %v", n, b.texts())
	return nil
}

var testMessages = Messages{Welcome: "welcome!", Help: "help!", Failure: "try again"}

func newTestAdapter(t *testing.T, groupID int64, processor func(*gateway.Run) error) (*Adapter, *fakeBot, *state.InteractionStore) {
	t.Helper()
	gw := gateway.New(testMessages.Failure, 2)
	gw.Queue.SetProcessor(processor)
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)

	store, err := state.NewInteractionStore(filepath.Join(t.TempDir(), "interactions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	bot := &fakeBot{}
	a := newAdapter(bot, gw, store, testMessages, groupID)
	a.chunkDelay = 0
	return a, bot, store
}

func echo(run *gateway.Run) error {
	if run.Command == gateway.CommandClear {
		run.OnComplete("cleared")
		return nil
	}
	run.OnComplete("echo: " + run.Event.Text)
	return nil
}

func textMessage(chatID, userID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: chatID},
		From: &tgbotapi.User{ID: userID, UserName: "user"},
		Text: text,
	}
}

func commandMessage(chatID, userID int64, command string) *tgbotapi.Message {
	msg := textMessage(chatID, userID, "/"+command)
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(command) + 1}}
	return msg
}

func TestSplitMessage(t *testing.T) {
	short := "Hello world"
	parts := splitMessage(short)
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
	if parts[0] != short {
		t.Errorf("expected %q, got %q", short, parts[0])
	}
}

func TestSplitMessageLong(t *testing.T) {
	long := strings.Repeat("a", 9000)
	parts := splitMessage(long)
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	if len(parts[0]) != maxChunk {
		t.Errorf("expected first part length %d, got %d", maxChunk, len(parts[0]))
	}
	if strings.Join(parts, "") != long {
		t.Error("parts do not reassemble the original text")
	}
}

func TestSplitMessageMultibyte(t *testing.T) {
	long := strings.Repeat("مرحبا", 1000) // 5000 runes
	parts := splitMessage(long)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	for i, p := range parts {
		if !utf8.ValidString(p) {
			t.Errorf("part %d is not valid UTF-8", i)
		}
	}
	if utf8.RuneCountInString(parts[0]) != maxChunk {
		t.Errorf("expected %d runes in first part", maxChunk)
	}
}

func TestSendResponseChunks(t *testing.T) {
	a, bot, _ := newTestAdapter(t, 0, echo)

	a.sendResponse(42, strings.Repeat("x", 4500))
	texts := bot.texts()
	if len(texts) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(texts))
	}
	if strings.HasPrefix(texts[0], continuationPrefix) {
		t.Error("first chunk must not carry the continuation prefix")
	}
	if texts[1] != continuationPrefix+strings.Repeat("x", 500) {
		t.Errorf("unexpected continuation chunk %q", texts[1][:20])
	}
}

func TestSendResponseMarkdownFallback(t *testing.T) {
	a, bot, _ := newTestAdapter(t, 0, echo)
	bot.failMD = true

	a.sendResponse(42, "some *broken markdown")
	bot.mu.Lock()
	defer bot.mu.Unlock()
	if len(bot.sent) != 1 || bot.sent[0].ParseMode != "" {
		t.Fatalf("expected one plain-text retry, got %+v", bot.sent)
	}
}

func TestHandleMessageReplies(t *testing.T) {
	a, bot, store := newTestAdapter(t, 0, echo)

	a.handleMessage(context.Background(), textMessage(42, 7, "hello"))
	texts := bot.waitSent(t, 1)
	if texts[0] != "echo: hello" {
		t.Errorf("unexpected reply %q", texts[0])
	}
	if bot.actions != 1 {
		t.Errorf("expected a typing action, got %d", bot.actions)
	}

	_, m, err := store.Rank(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if m.MessageCount != 1 {
		t.Errorf("expected interaction recorded, got %d", m.MessageCount)
	}
}

func TestHandleMessageOtherChatNotTracked(t *testing.T) {
	a, bot, store := newTestAdapter(t, -100, echo)

	a.handleMessage(context.Background(), textMessage(42, 7, "hello"))
	bot.waitSent(t, 1)

	if _, _, err := store.Rank(context.Background(), 7); !errors.Is(err, state.ErrMemberNotFound) {
		t.Errorf("expected no tracking outside the group, got %v", err)
	}

	a.handleMessage(context.Background(), commandMessage(42, 7, "top"))
	time.Sleep(20 * time.Millisecond)
	if len(bot.texts()) != 1 {
		t.Error("/top must be ignored outside the group")
	}
}

func TestHandleCommands(t *testing.T) {
	a, bot, _ := newTestAdapter(t, 0, echo)
	ctx := context.Background()

	a.handleMessage(ctx, commandMessage(42, 7, "start"))
	a.handleMessage(ctx, commandMessage(42, 7, "help"))
	texts := bot.texts()
	if len(texts) != 2 || texts[0] != "welcome!" || texts[1] != "help!" {
		t.Fatalf("unexpected replies %v", texts)
	}

	a.handleMessage(ctx, commandMessage(42, 7, "clear"))
	texts = bot.waitSent(t, 3)
	if texts[2] != "cleared" {
		t.Errorf("expected clear acknowledgement, got %q", texts[2])
	}
}

func TestTopAndMy(t *testing.T) {
	a, bot, store := newTestAdapter(t, 0, echo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		store.Record(ctx, &state.Member{UserID: 1, Username: "alice"})
	}
	store.Record(ctx, &state.Member{UserID: 2, FirstName: "Bob"})

	a.handleMessage(ctx, commandMessage(42, 2, "top"))
	a.handleMessage(ctx, commandMessage(42, 2, "my"))
	a.handleMessage(ctx, commandMessage(42, 99, "my"))

	texts := bot.texts()
	if len(texts) != 3 {
		t.Fatalf("expected 3 replies, got %v", texts)
	}
	if !strings.Contains(texts[0], "1. @alice - 3 messages") || !strings.Contains(texts[0], "2. Bob - 1 messages") {
		t.Errorf("unexpected leaderboard:\n%s", texts[0])
	}
	if texts[1] != "📊 Your rank: 2\n✉️ Messages: 1" {
		t.Errorf("unexpected rank reply %q", texts[1])
	}
	if !strings.Contains(texts[2], "No interaction data") {
		t.Errorf("unexpected reply for unknown member %q", texts[2])
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	a, bot, _ := newTestAdapter(t, 0, echo)
	bot.updates = make(chan tgbotapi.Update)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Start(ctx)
		close(done)
	}()

	bot.updates <- tgbotapi.Update{Message: textMessage(42, 7, "hi")}
	bot.waitSent(t, 1)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if bot.stopCalls != 1 {
		t.Errorf("expected StopReceivingUpdates, got %d calls", bot.stopCalls)
	}
}
