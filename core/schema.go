package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MaxPayloadBytes bounds an inbound webhook body.
const MaxPayloadBytes = 1 << 20

// ErrUnsupportedUpdate is returned for well-formed updates the gateway does
// not route (edited messages, stickers, inline queries, ...).
var ErrUnsupportedUpdate = errors.New("unsupported update")

// Update is the subset of the Telegram Update object the gateway reads.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data"`
}

type User struct {
	ID int64 `json:"id"`
}

type Chat struct {
	ID int64 `json:"id"`
}

// ParseUpdate decodes a webhook body into an InboundEvent.
func ParseUpdate(data []byte) (InboundEvent, error) {
	if len(data) > MaxPayloadBytes {
		return nil, fmt.Errorf("payload exceeds %d byte limit", MaxPayloadBytes)
	}

	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return u.Event()
}

// Event converts a decoded update into an InboundEvent.
func (u Update) Event() (InboundEvent, error) {
	switch {
	case u.Message != nil:
		return u.messageEvent()
	case u.CallbackQuery != nil:
		return u.callbackEvent()
	default:
		return nil, fmt.Errorf("update %d: %w", u.UpdateID, ErrUnsupportedUpdate)
	}
}

func (u Update) messageEvent() (InboundEvent, error) {
	m := u.Message
	if m.From == nil || m.From.ID == 0 {
		return nil, fmt.Errorf("update %d: message has no sender", u.UpdateID)
	}
	if m.Chat.ID == 0 {
		return nil, fmt.Errorf("update %d: message has no chat", u.UpdateID)
	}
	if strings.TrimSpace(m.Text) == "" {
		return nil, fmt.Errorf("update %d: message without text: %w", u.UpdateID, ErrUnsupportedUpdate)
	}

	if cmd, arg, ok := ParseCommand(m.Text); ok {
		return CommandMessage{
			UpdateID: u.UpdateID,
			SenderID: m.From.ID,
			ChatID:   m.Chat.ID,
			Command:  cmd,
			Argument: arg,
		}, nil
	}
	return PlainMessage{
		UpdateID: u.UpdateID,
		SenderID: m.From.ID,
		ChatID:   m.Chat.ID,
		Text:     m.Text,
	}, nil
}

func (u Update) callbackEvent() (InboundEvent, error) {
	cq := u.CallbackQuery
	if cq.From.ID == 0 {
		return nil, fmt.Errorf("update %d: callback has no sender", u.UpdateID)
	}
	// Inline-mode callbacks carry no message, so there is no chat to reply to.
	if cq.Message == nil || cq.Message.Chat.ID == 0 {
		return nil, fmt.Errorf("update %d: callback without message: %w", u.UpdateID, ErrUnsupportedUpdate)
	}

	action, param := ParseCallbackData(cq.Data)
	return CallbackEvent{
		UpdateID:   u.UpdateID,
		SenderID:   cq.From.ID,
		ChatID:     cq.Message.Chat.ID,
		MessageID:  cq.Message.MessageID,
		CallbackID: cq.ID,
		Action:     action,
		Param:      param,
	}, nil
}
