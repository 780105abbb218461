package core

// Method is the Bot API method an outbound message is delivered with.
type Method string

const (
	MethodSend Method = "sendMessage"
	MethodEdit Method = "editMessageText"
)

// OutboundMessage is a formatted message ready for the platform.
type OutboundMessage struct {
	Method    Method
	ChatID    int64
	MessageID int64 // set for MethodEdit
	Text      string
	ParseMode string
	Keyboard  [][]Button
}

// Button is one inline keyboard button.
type Button struct {
	Text string
	Data string
}
