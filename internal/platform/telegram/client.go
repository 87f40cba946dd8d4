// Package telegram implements worker.PlatformClient and the webhook
// update decoding for a Telegram-flavored deployment.
package telegram

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"chatrelay/internal/queue"
)

// Client sends outbound replies through the Telegram Bot API. It owns
// its own *tele.Bot instance; the worker pool constructs one Client per
// worker.
type Client struct {
	bot *tele.Bot
}

// New builds a Client that calls the Telegram Bot API directly (no
// long-polling) -- suitable for the webhook-ingress deployment, where
// updates arrive over HTTP rather than through this bot's poller.
func New(token string) (*Client, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: nil,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: new client: %w", err)
	}
	return &Client{bot: bot}, nil
}

// SendText implements worker.PlatformClient.
func (c *Client) SendText(ctx context.Context, chat queue.ChatID, text string) error {
	_, err := c.bot.Send(&tele.Chat{ID: int64(chat)}, text)
	return err
}

// Update mirrors the subset of a Telegram webhook update payload the
// relay layer cares about: the sender, chat, and message text needed to
// filter by access list and route commands.
type Update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		From *struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

// SenderID returns the message's sender id, or 0 if the update carries
// no message or no sender.
func (u *Update) SenderID() int64 {
	if u.Message == nil || u.Message.From == nil {
		return 0
	}
	return u.Message.From.ID
}

// ChatID returns the message's chat id, or 0 if the update carries no
// message.
func (u *Update) ChatID() int64 {
	if u.Message == nil {
		return 0
	}
	return u.Message.Chat.ID
}

// Text returns the message text, or "" if the update carries no
// message.
func (u *Update) Text() string {
	if u.Message == nil {
		return ""
	}
	return u.Message.Text
}
