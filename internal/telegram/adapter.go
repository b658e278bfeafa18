package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/gptrelay/internal/gateway"
	"github.com/user/gptrelay/internal/state"
	"github.com/user/gptrelay/internal/types"
)

const (
	// maxChunk is the longest text sent in one Telegram message.
	maxChunk = 4000
	// continuationPrefix marks every chunk after the first.
	continuationPrefix = "... "
	topLimit           = 10
)

// botClient is the part of *tgbotapi.BotAPI the adapter uses.
type botClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Interactions tracks per-member message counts for the leaderboard.
type Interactions interface {
	Record(ctx context.Context, m *state.Member) error
	Top(ctx context.Context, limit int) ([]*state.Member, error)
	Rank(ctx context.Context, userID int64) (int, *state.Member, error)
}

// Messages are the fixed texts the adapter sends.
type Messages struct {
	Welcome string
	Help    string
	Failure string
}

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	bot          botClient
	gateway      *gateway.Gateway
	interactions Interactions
	messages     Messages
	groupID      int64
	chunkDelay   time.Duration
}

// New creates a Telegram adapter. interactions may be nil, which disables
// /top, /my and message counting. groupID restricts those to one chat;
// zero means every chat.
func New(token string, gw *gateway.Gateway, interactions Interactions, messages Messages, groupID int64) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	slog.Info("telegram bot authorized", "username", bot.Self.UserName)
	return newAdapter(bot, gw, interactions, messages, groupID), nil
}

func newAdapter(bot botClient, gw *gateway.Gateway, interactions Interactions, messages Messages, groupID int64) *Adapter {
	return &Adapter{
		bot:          bot,
		gateway:      gw,
		interactions: interactions,
		messages:     messages,
		groupID:      groupID,
		chunkDelay:   time.Second,
	}
}

// Start begins long-polling for Telegram updates and blocks until ctx is done.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.Text == "" || update.Message.From == nil {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	a.recordInteraction(ctx, msg)

	event := &types.InboundEvent{
		Source:    "telegram",
		UserID:    types.TelegramUserID(msg.From.ID),
		ChatID:    chatID,
		Username:  msg.From.UserName,
		FirstName: msg.From.FirstName,
		LastName:  msg.From.LastName,
		Text:      msg.Text,
	}

	a.sendTyping(chatID)
	err := a.gateway.HandleInbound(ctx, event, gateway.WithOnComplete(func(response string) {
		a.sendResponse(chatID, response)
	}))
	if errors.Is(err, gateway.ErrEmptyMessage) {
		return
	}
	if err != nil {
		slog.Error("handle inbound error", "user_id", string(event.UserID), "error", err)
		a.sendResponse(chatID, a.messages.Failure)
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	userID := types.TelegramUserID(msg.From.ID)

	switch msg.Command() {
	case "start":
		slog.Info("user started the bot", "user_id", string(userID))
		a.sendResponse(chatID, a.messages.Welcome)

	case "help":
		a.sendResponse(chatID, a.messages.Help)

	case "clear":
		err := a.gateway.HandleCommand(ctx, userID, gateway.CommandClear, gateway.WithOnComplete(func(response string) {
			a.sendResponse(chatID, response)
		}))
		if err != nil {
			slog.Error("enqueue clear", "user_id", string(userID), "error", err)
			a.sendResponse(chatID, a.messages.Failure)
		}

	case "top":
		if !a.tracksChat(chatID) {
			return
		}
		a.sendResponse(chatID, a.topMembers(ctx))

	case "my":
		if !a.tracksChat(chatID) {
			return
		}
		a.sendResponse(chatID, a.myRank(ctx, msg.From.ID))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /help, /clear")
	}
}

// tracksChat reports whether interaction tracking applies to chatID.
func (a *Adapter) tracksChat(chatID int64) bool {
	if a.interactions == nil {
		return false
	}
	return a.groupID == 0 || a.groupID == chatID
}

func (a *Adapter) recordInteraction(ctx context.Context, msg *tgbotapi.Message) {
	if !a.tracksChat(msg.Chat.ID) {
		return
	}
	m := &state.Member{
		UserID:    msg.From.ID,
		Username:  msg.From.UserName,
		FirstName: msg.From.FirstName,
		LastName:  msg.From.LastName,
	}
	if err := a.interactions.Record(ctx, m); err != nil {
		slog.Warn("record interaction", "user_id", msg.From.ID, "error", err)
	}
}

func (a *Adapter) topMembers(ctx context.Context) string {
	members, err := a.interactions.Top(ctx, topLimit)
	if err != nil {
		slog.Error("load top members", "error", err)
		return a.messages.Failure
	}
	if len(members) == 0 {
		return "No interactions recorded yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🏆 Top %d most active members:\n\n", topLimit)
	for i, m := range members {
		fmt.Fprintf(&b, "%d. %s - %d messages\n", i+1, m.DisplayName(), m.MessageCount)
	}
	return b.String()
}

func (a *Adapter) myRank(ctx context.Context, userID int64) string {
	rank, m, err := a.interactions.Rank(ctx, userID)
	if errors.Is(err, state.ErrMemberNotFound) {
		return "No interaction data found for you yet."
	}
	if err != nil {
		slog.Error("load rank", "user_id", userID, "error", err)
		return a.messages.Failure
	}
	return fmt.Sprintf("📊 Your rank: %d\n✉️ Messages: %d", rank, m.MessageCount)
}

func (a *Adapter) sendTyping(chatID int64) {
	if _, err := a.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		slog.Debug("send typing action", "chat_id", chatID, "error", err)
	}
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	for i, part := range splitMessage(text) {
		if i > 0 {
			time.Sleep(a.chunkDelay)
			part = continuationPrefix + part
		}
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := a.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.bot.Send(msg); err != nil {
				slog.Error("send message error", "chat_id", chatID, "error", err)
			}
		}
	}
}

// splitMessage cuts text into chunks of at most maxChunk characters.
func splitMessage(text string) []string {
	runes := []rune(text)
	if len(runes) <= maxChunk {
		return []string{text}
	}
	var parts []string
	for len(runes) > 0 {
		end := min(maxChunk, len(runes))
		parts = append(parts, string(runes[:end]))
		runes = runes[end:]
	}
	return parts
}
