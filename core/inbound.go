package core

import (
	"strings"
	"unicode"
)

// InboundEvent is a parsed Telegram update. The concrete type is one of
// CommandMessage, PlainMessage or CallbackEvent.
type InboundEvent interface {
	Sender() int64
	Chat() int64
	Update() int64
	isInbound()
}

// CommandMessage is a text message whose first token starts with "/".
type CommandMessage struct {
	UpdateID int64
	SenderID int64
	ChatID   int64
	Command  string // e.g. "/start", bot suffix stripped
	Argument string
}

// PlainMessage is any other text message.
type PlainMessage struct {
	UpdateID int64
	SenderID int64
	ChatID   int64
	Text     string
}

// CallbackEvent is an inline keyboard button press.
type CallbackEvent struct {
	UpdateID   int64
	SenderID   int64
	ChatID     int64
	MessageID  int64
	CallbackID string
	Action     string
	Param      string
}

func (e CommandMessage) Sender() int64 { return e.SenderID }
func (e CommandMessage) Chat() int64   { return e.ChatID }
func (e CommandMessage) Update() int64 { return e.UpdateID }
func (CommandMessage) isInbound()      {}

func (e PlainMessage) Sender() int64 { return e.SenderID }
func (e PlainMessage) Chat() int64   { return e.ChatID }
func (e PlainMessage) Update() int64 { return e.UpdateID }
func (PlainMessage) isInbound()      {}

func (e CallbackEvent) Sender() int64 { return e.SenderID }
func (e CallbackEvent) Chat() int64   { return e.ChatID }
func (e CallbackEvent) Update() int64 { return e.UpdateID }
func (CallbackEvent) isInbound()      {}

// Kind returns a short label for logging.
func Kind(ev InboundEvent) string {
	switch ev.(type) {
	case CommandMessage:
		return "command"
	case PlainMessage:
		return "text"
	case CallbackEvent:
		return "callback"
	default:
		return "unknown"
	}
}

// ParseCommand splits message text into a command token and its argument.
// It handles "/command", "/command args", and "/command@botname args".
// The command keeps its leading "/" and its case. ok is false when the
// text is not a command.
func ParseCommand(text string) (cmd, arg string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) == 1 {
		return "", "", false
	}

	cmd = text
	if i := strings.IndexFunc(text, unicode.IsSpace); i != -1 {
		cmd, arg = text[:i], strings.TrimSpace(text[i:])
	}

	if at := strings.Index(cmd, "@"); at != -1 {
		cmd = cmd[:at]
	}
	if cmd == "/" {
		return "", "", false
	}
	return cmd, arg, true
}

// ParseCallbackData splits "ACTION:PARAM" at the first colon. Data without
// a colon is an action with an empty param.
func ParseCallbackData(data string) (action, param string) {
	action, param, _ = strings.Cut(data, ":")
	return action, param
}
