package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"campusbot/internal/transport"
	"campusbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter connects the bot to Telegram via long polling and implements
// transport.Sender for the broadcast engine.
type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	runMu   sync.Mutex
	running bool
	done    chan struct{}
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{log: log, bot: b}, nil
}

// Bot exposes the underlying telebot instance so the command router can
// register handlers before Start.
func (a *Adapter) Bot() *tele.Bot { return a.bot }

func (a *Adapter) Start() {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return
	}
	a.running = true
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		a.bot.Start()
	}()
	a.log.Info("telegram adapter started", logx.Int64("bot_id", a.bot.Me.ID), logx.String("username", a.bot.Me.Username))
}

func (a *Adapter) Stop(ctx context.Context) {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if !a.running {
		return
	}
	a.running = false
	a.bot.Stop()
	select {
	case <-a.done:
	case <-ctx.Done():
	}
	a.log.Info("telegram adapter stopped")
}

// SendText implements transport.Sender. When attachments are present the
// first file is sent as a photo with the text as caption, mirroring how
// broadcast posts carry one image.
func (a *Adapter) SendText(ctx context.Context, to transport.Target, text string, attachments []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chat := &tele.Chat{ID: to.ChatID}

	var err error
	if len(attachments) > 0 {
		photo := &tele.Photo{File: tele.File{FileID: attachments[0]}, Caption: text}
		_, err = a.bot.Send(chat, photo)
	} else {
		_, err = a.bot.Send(chat, text, &tele.SendOptions{DisableWebPagePreview: true})
	}
	return classify(err)
}

// classify maps Telegram API errors onto the transport error taxonomy.
// 403 means the bot was blocked, kicked, or the account is gone; a few 400
// descriptions also indicate the chat can never be reached again.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var te *tele.Error
	if !errors.As(err, &te) {
		return err
	}
	if te.Code == 403 {
		return &transport.PermanentRejection{Code: te.Code, Description: te.Description}
	}
	if te.Code == 400 {
		desc := strings.ToLower(te.Description)
		switch {
		case strings.Contains(desc, "chat not found"),
			strings.Contains(desc, "user not found"),
			strings.Contains(desc, "chat was deactivated"),
			strings.Contains(desc, "chat was upgraded"):
			return &transport.PermanentRejection{Code: te.Code, Description: te.Description}
		}
	}
	return err
}
