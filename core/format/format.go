// Package format turns handler replies into Telegram messages.
package format

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jdelaire/tgate/core"
)

const (
	// MaxTextRunes is Telegram's message length limit.
	MaxTextRunes = 4096
	// MaxCallbackBytes is Telegram's callback_data limit.
	MaxCallbackBytes = 64
	// MaxListItems caps how many cards a ListReply renders.
	MaxListItems = 5

	ParseModeMarkdownV2 = "MarkdownV2"
)

// Fixed user-facing error texts.
const (
	RateLimitedText = "You're sending messages too fast, please slow down 🙂"
	GenericErrorText = "Something went wrong on our side. Please try again in a minute."
)

// Origin is where a reply goes. A non-zero MessageID means the event came
// from a button on that message, which is edited in place.
type Origin struct {
	ChatID    int64
	MessageID int64
}

// Format renders reply for origin. It never fails; an unknown reply type
// renders as the generic error.
func Format(reply core.Reply, origin Origin) core.OutboundMessage {
	var msg core.OutboundMessage

	switch r := reply.(type) {
	case core.TextReply:
		msg = core.OutboundMessage{Text: Escape(r.Content), ParseMode: ParseModeMarkdownV2}
	case core.ListReply:
		msg = formatList(r)
	case core.ConfirmationReply:
		msg = core.OutboundMessage{
			Text:      Escape(r.Prompt),
			ParseMode: ParseModeMarkdownV2,
			Keyboard: [][]core.Button{{
				{Text: "✅ Confirm", Data: "CONFIRM"},
				{Text: "❌ Cancel", Data: "CANCEL"},
			}},
		}
	case core.ErrorReply:
		return errorMessage(r.Kind, origin.ChatID)
	default:
		return errorMessage(core.ErrorGeneric, origin.ChatID)
	}

	msg.Text = truncate(msg.Text, MaxTextRunes)
	if msg.Text == "" {
		// Telegram rejects empty messages.
		return errorMessage(core.ErrorGeneric, origin.ChatID)
	}
	msg.ChatID = origin.ChatID
	msg.Method = core.MethodSend
	if origin.MessageID != 0 {
		msg.Method = core.MethodEdit
		msg.MessageID = origin.MessageID
	}
	return msg
}

func errorMessage(kind core.ErrorKind, chatID int64) core.OutboundMessage {
	text := GenericErrorText
	if kind == core.ErrorRateLimited {
		text = RateLimitedText
	}
	return core.OutboundMessage{Method: core.MethodSend, ChatID: chatID, Text: text}
}

// formatList renders the header and as many whole cards as fit in one
// message. Cutting inside a card would leave an unclosed bold entity.
func formatList(r core.ListReply) core.OutboundMessage {
	var b strings.Builder
	b.WriteString(truncate(Escape(r.Header), MaxTextRunes))
	used := utf8.RuneCountInString(b.String())

	items := r.Items
	if len(items) > MaxListItems {
		items = items[:MaxListItems]
	}

	keyboard := make([][]core.Button, 0, len(items))
	for _, it := range items {
		card := fmt.Sprintf("👤 *%s*", Escape(it.Label))
		if b.Len() > 0 {
			card = "\n\n" + card
		}
		n := utf8.RuneCountInString(card)
		if used+n > MaxTextRunes {
			break
		}
		if it.Detail != "" {
			if room := MaxTextRunes - used - n - 1; room > 0 {
				card += "\n" + truncate(Escape(it.Detail), room)
			}
		}
		b.WriteString(card)
		used += utf8.RuneCountInString(card)
		keyboard = append(keyboard, []core.Button{
			{Text: "✅ Connect", Data: CallbackData("ACCEPT", it.Key)},
			{Text: "⏭ Skip", Data: CallbackData("SKIP", it.Key)},
		})
	}

	return core.OutboundMessage{
		Text:      b.String(),
		ParseMode: ParseModeMarkdownV2,
		Keyboard:  keyboard,
	}
}

// CallbackData joins action and param, cut to MaxCallbackBytes on a rune
// boundary.
func CallbackData(action, param string) string {
	s := action
	if param != "" {
		s += ":" + param
	}
	if len(s) <= MaxCallbackBytes {
		return s
	}
	s = s[:MaxCallbackBytes]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

const markdownV2Special = "_*[]()~`>#+-=|{}.!\\"

// Escape makes s literal under MarkdownV2.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownV2Special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// truncate caps s at limit runes without leaving a dangling escape.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			s = s[:i]
			break
		}
		n++
	}
	trailing := len(s) - len(strings.TrimRight(s, "\\"))
	if trailing%2 == 1 {
		s = s[:len(s)-1]
	}
	return s
}
