// Package telegram connects the archive to Telegram chats: it collects images, runs the
// /emo commands and reacts to conversation with stored images.
package telegram

import (
	"context"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/m-mizutani/emoshelf/pkg/adapter"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/emoshelf/pkg/usecase/command"
	"github.com/m-mizutani/emoshelf/pkg/usecase/dispatch"
	"github.com/m-mizutani/emoshelf/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Replier produces a conversational answer to a chat message
type Replier interface {
	Reply(ctx context.Context, message string) (*model.Response, error)
}

// Reactor may emit a stored image after a response
type Reactor interface {
	React(ctx context.Context, resp *model.Response, emitter dispatch.Emitter) *model.MediaReference
}

// Reader loads stored media for sending
type Reader interface {
	ReadAll(ctx context.Context, ref *model.MediaReference) ([]byte, error)
}

// Channel is a long polling Telegram bot
type Channel struct {
	bot      Bot
	token    string
	commands *command.UseCase
	ingester command.Ingester
	reader   Reader
	fetcher  adapter.Fetcher

	reactor     Reactor
	replier     Replier
	autoCollect bool

	mu         sync.Mutex
	lastImages map[int64]string
	wg         sync.WaitGroup
}

type Option func(*Channel)

// WithAutoCollect ingests every image posted in group chats
func WithAutoCollect(enabled bool) Option {
	return func(c *Channel) {
		c.autoCollect = enabled
	}
}

// WithReplier answers chat messages addressed to the bot and lets reactor follow up
// with an image
func WithReplier(replier Replier, reactor Reactor) Option {
	return func(c *Channel) {
		c.replier = replier
		c.reactor = reactor
	}
}

// WithFetcher replaces the fetcher used to download Telegram files
func WithFetcher(fetcher adapter.Fetcher) Option {
	return func(c *Channel) {
		c.fetcher = fetcher
	}
}

func New(bot Bot, token string, commands *command.UseCase, ingester command.Ingester, reader Reader, opts ...Option) *Channel {
	c := &Channel{
		bot:        bot,
		token:      token,
		commands:   commands,
		ingester:   ingester,
		reader:     reader,
		fetcher:    adapter.NewFetcher(),
		lastImages: make(map[int64]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Serve polls updates until ctx is canceled. Each message is handled in its own goroutine.
func (c *Channel) Serve(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.bot.GetUpdatesChan(u)

	logging.From(ctx).Info("telegram polling started", "bot", c.bot.GetSelf().UserName)

	defer func() {
		c.bot.StopReceivingUpdates()
		c.wg.Wait()
		logging.From(ctx).Info("telegram polling stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			msg := update.Message
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.handleMessage(ctx, msg)
			}()
		}
	}
}

func sourceOf(msg *tgbotapi.Message) string {
	source := "telegram:" + strconv.FormatInt(msg.Chat.ID, 10)
	if msg.From != nil {
		if msg.From.UserName != "" {
			return source + ":" + msg.From.UserName
		}
		return source + ":" + strconv.FormatInt(msg.From.ID, 10)
	}
	return source
}

// imageOf returns the file ID of the image carried by msg
func imageOf(msg *tgbotapi.Message) string {
	if msg == nil {
		return ""
	}
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID
	}
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/") {
		return msg.Document.FileID
	}
	if msg.Sticker != nil && !msg.Sticker.IsAnimated {
		return msg.Sticker.FileID
	}
	return ""
}

func (c *Channel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	ctx = logging.WithAttrs(ctx, "chat_id", msg.Chat.ID, "message_id", msg.MessageID)
	chatID := msg.Chat.ID

	fileID := imageOf(msg)
	if fileID != "" {
		c.mu.Lock()
		c.lastImages[chatID] = fileID
		c.mu.Unlock()
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}

	if strings.HasPrefix(text, "/") {
		if cmd := command.Parse(text); cmd != nil {
			c.runCommand(ctx, msg, cmd, fileID)
			return
		}
	}

	if fileID != "" {
		if c.autoCollect && !msg.Chat.IsPrivate() {
			c.collect(ctx, msg, fileID)
		}
		return
	}

	if text != "" && c.replier != nil && c.addressed(msg) {
		c.converse(ctx, msg, text)
	}
}

func (c *Channel) runCommand(ctx context.Context, msg *tgbotapi.Message, cmd *command.Command, fileID string) {
	session := &command.Session{Source: sourceOf(msg)}

	if cmd.Name == command.NameAdd {
		if fileID == "" {
			fileID = imageOf(msg.ReplyToMessage)
		}
		if fileID == "" {
			c.mu.Lock()
			fileID = c.lastImages[msg.Chat.ID]
			c.mu.Unlock()
		}
		if fileID != "" {
			data, err := c.download(ctx, fileID)
			if err != nil {
				logging.From(ctx).Warn("failed to download telegram file", "error", err)
				c.sendText(ctx, msg, "failed to download image, please try again")
				return
			}
			session.LastImage = &command.Media{Data: data}
		}
	}

	reply := c.commands.Execute(ctx, cmd, session)
	if reply.Media != nil {
		c.sendMedia(ctx, msg.Chat.ID, msg.MessageID, reply.Text, reply.Media)
		return
	}
	c.sendText(ctx, msg, reply.Text)
}

func (c *Channel) collect(ctx context.Context, msg *tgbotapi.Message, fileID string) {
	data, err := c.download(ctx, fileID)
	if err != nil {
		logging.From(ctx).Warn("failed to download telegram file", "error", err)
		return
	}

	result := c.ingester.Ingest(ctx, &model.IngestionRequest{
		Source: sourceOf(msg),
		Data:   data,
	})
	logging.From(ctx).Info("auto collected", "result", result.Message())
}

// addressed reports whether the bot should answer msg: private chats, replies to the
// bot and mentions of the bot
func (c *Channel) addressed(msg *tgbotapi.Message) bool {
	if msg.Chat.IsPrivate() {
		return true
	}
	self := c.bot.GetSelf()
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && msg.ReplyToMessage.From.ID == self.ID {
		return true
	}
	return self.UserName != "" && strings.Contains(strings.ToLower(msg.Text), "@"+strings.ToLower(self.UserName))
}

func (c *Channel) converse(ctx context.Context, msg *tgbotapi.Message, text string) {
	resp, err := c.replier.Reply(ctx, text)
	if err != nil {
		logging.From(ctx).Warn("failed to generate reply", "error", err)
		return
	}
	c.sendText(ctx, msg, resp.PlainText())

	if c.reactor == nil {
		return
	}
	c.reactor.React(ctx, resp, dispatch.EmitterFunc(func(ctx context.Context, ref *model.MediaReference) error {
		return c.emit(ctx, msg.Chat.ID, 0, "", ref)
	}))
}

func (c *Channel) download(ctx context.Context, fileID string) ([]byte, error) {
	file, err := c.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, goerr.Wrap(adapter.ErrDownloadFailed, "failed to get telegram file",
			goerr.V("file_id", fileID), goerr.V("cause", err.Error()))
	}
	return c.fetcher.Fetch(ctx, file.Link(c.token))
}

func (c *Channel) sendText(ctx context.Context, msg *tgbotapi.Message, text string) {
	if text == "" {
		return
	}
	m := tgbotapi.NewMessage(msg.Chat.ID, text)
	m.ReplyToMessageID = msg.MessageID
	if _, err := c.bot.Send(m); err != nil {
		logging.From(ctx).Warn("failed to send telegram message", "error", err)
	}
}

func (c *Channel) sendMedia(ctx context.Context, chatID int64, replyTo int, caption string, ref *model.MediaReference) {
	if err := c.emit(ctx, chatID, replyTo, caption, ref); err != nil {
		logging.From(ctx).Warn("failed to send telegram media", "key", ref.Key, "error", err)
	}
}

func (c *Channel) emit(ctx context.Context, chatID int64, replyTo int, caption string, ref *model.MediaReference) error {
	data, err := c.reader.ReadAll(ctx, ref)
	if err != nil {
		return err
	}
	file := tgbotapi.FileBytes{Name: ref.Name(), Bytes: data}

	var chattable tgbotapi.Chattable
	if ref.Format == model.FormatGIF {
		animation := tgbotapi.NewAnimation(chatID, file)
		animation.Caption = caption
		animation.ReplyToMessageID = replyTo
		chattable = animation
	} else {
		photo := tgbotapi.NewPhoto(chatID, file)
		photo.Caption = caption
		photo.ReplyToMessageID = replyTo
		chattable = photo
	}

	if _, err := c.bot.Send(chattable); err != nil {
		return goerr.Wrap(err, "failed to send media", goerr.V("chat_id", chatID), goerr.V("key", ref.Key))
	}
	return nil
}
