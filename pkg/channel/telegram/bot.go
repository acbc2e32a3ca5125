package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/m-mizutani/goerr/v2"
)

// Bot is the part of the Telegram Bot API used by the channel
type Bot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

type botAPI struct {
	bot *tgbotapi.BotAPI
}

// NewBot connects to the Telegram Bot API with token
func NewBot(token string) (Bot, error) {
	if token == "" {
		return nil, goerr.New("telegram token is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create telegram bot")
	}
	return &botAPI{bot: bot}, nil
}

func (b *botAPI) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return b.bot.GetUpdatesChan(config)
}

func (b *botAPI) StopReceivingUpdates() {
	b.bot.StopReceivingUpdates()
}

func (b *botAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return b.bot.Send(c)
}

func (b *botAPI) GetSelf() tgbotapi.User {
	return b.bot.Self
}

func (b *botAPI) GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error) {
	return b.bot.GetFile(config)
}
