// Package telegram connects the relay to a Telegram bot via long polling.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"voicerelay/core"
	"voicerelay/handlers/channel"
)

// EventHandler consumes inbound events; implemented by channel.ChannelHandler.
type EventHandler interface {
	Handle(ctx context.Context, ch channel.Channel, ev channel.InboundEvent) error
}

// TelegramService implements channel.Channel on top of the Bot API.
type TelegramService struct {
	config     Config
	bot        *bot.Bot
	handler    EventHandler
	httpClient *http.Client
	logger     *core.Logger

	ctx context.Context // set by Run, scopes update handling
	wg  sync.WaitGroup
}

// NewTelegramService creates the bot client. It does not contact Telegram
// until Run.
func NewTelegramService(config Config, handler EventHandler, logger *core.Logger) (*TelegramService, error) {
	if logger == nil {
		logger = core.GetLogger()
	}
	if config.Token == "" {
		return nil, &core.ConfigurationError{Key: "TELEGRAM_TOKEN", Message: "telegram bot token is required"}
	}
	if config.MaxFileBytes <= 0 {
		config.MaxFileBytes = DefaultConfig().MaxFileBytes
	}

	s := &TelegramService{
		config:     config,
		handler:    handler,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With(map[string]interface{}{"component": "telegram"}),
		ctx:        context.Background(),
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(s.onUpdate),
		bot.WithSkipGetMe(),
	}
	if config.ServerURL != "" {
		opts = append(opts, bot.WithServerURL(config.ServerURL))
	}

	b, err := bot.New(config.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	s.bot = b
	return s, nil
}

func (s *TelegramService) Name() string {
	return "telegram"
}

// Run long-polls until ctx is cancelled, then waits for in-flight updates.
func (s *TelegramService) Run(ctx context.Context) error {
	s.ctx = ctx

	if s.config.DropPendingUpdates {
		if _, err := s.bot.DeleteWebhook(ctx, &bot.DeleteWebhookParams{DropPendingUpdates: true}); err != nil {
			return fmt.Errorf("telegram: drop pending updates: %w", err)
		}
		s.logger.Info("Dropped pending updates")
	}

	s.logger.Info("Telegram bot polling")
	s.bot.Start(ctx)
	s.wg.Wait()
	return nil
}

// onUpdate hands every update to its own goroutine.
func (s *TelegramService) onUpdate(_ context.Context, _ *bot.Bot, update *models.Update) {
	ev, ok := s.EventFromUpdate(update)
	if !ok {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.handler.Handle(s.ctx, s, ev)
	}()
}

// EventFromUpdate maps a Telegram update onto an inbound event. Voice and
// audio attachments are downloaded lazily by the event's Fetch.
func (s *TelegramService) EventFromUpdate(update *models.Update) (channel.InboundEvent, bool) {
	if update == nil || update.Message == nil {
		return channel.InboundEvent{}, false
	}
	msg := update.Message

	ev := channel.InboundEvent{ChatID: msg.Chat.ID, UserKey: msg.Chat.ID}
	if msg.From != nil {
		ev.UserKey = msg.From.ID
	}

	switch {
	case msg.Voice != nil:
		ev.Kind = channel.EventVoice
		ev.Filename = "voice.ogg"
		ev.Fetch = s.fetcher(msg.Voice.FileID)
	case msg.Audio != nil:
		ev.Kind = channel.EventVoice
		ev.Filename = audioFilename(msg.Audio.FileName, msg.Audio.MimeType)
		ev.Fetch = s.fetcher(msg.Audio.FileID)
	case msg.Text != "":
		if name, ok := channel.ParseCommand(msg.Text); ok {
			ev.Kind = channel.EventCommand
			ev.Command = name
		} else {
			ev.Kind = channel.EventText
			ev.Text = msg.Text
		}
	default:
		return channel.InboundEvent{}, false
	}
	return ev, true
}

func (s *TelegramService) fetcher(fileID string) func(ctx context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		return s.download(ctx, fileID)
	}
}

// download resolves a file id with getFile and fetches the content.
func (s *TelegramService) download(ctx context.Context, fileID string) ([]byte, error) {
	file, err := s.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("telegram: get file: %w", err)
	}
	if file.FileSize > s.config.MaxFileBytes {
		return nil, fmt.Errorf("telegram: file is %d bytes, limit is %d", file.FileSize, s.config.MaxFileBytes)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.bot.FileDownloadLink(file), nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: download: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram: download: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("telegram: download: %w", err)
	}
	if int64(len(data)) > s.config.MaxFileBytes {
		return nil, errors.New("telegram: download exceeds size limit")
	}
	return data, nil
}

func (s *TelegramService) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	return err
}

func (s *TelegramService) SendVoice(ctx context.Context, chatID int64, audio []byte, filename string) error {
	_, err := s.bot.SendVoice(ctx, &bot.SendVoiceParams{
		ChatID: chatID,
		Voice: &models.InputFileUpload{
			Filename: filename,
			Data:     bytes.NewReader(audio),
		},
	})
	return err
}

// audioFilename picks a name whose extension tells the transcriber the
// container.
func audioFilename(name, mimeType string) string {
	if ext := path.Ext(name); ext != "" {
		return "audio" + strings.ToLower(ext)
	}
	switch mimeType {
	case "audio/ogg", "audio/opus":
		return "audio.ogg"
	case "audio/x-wav", "audio/wav":
		return "audio.wav"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "audio.m4a"
	default:
		return "audio.mp3"
	}
}
