package core

// Reply is the structured result of a handler. The concrete type is one of
// TextReply, ListReply, ConfirmationReply or ErrorReply.
type Reply interface {
	isReply()
}

// TextReply is a single plain message.
type TextReply struct {
	Content string
}

// ListReply is a header followed by selectable items. Each item becomes a
// row of inline buttons whose callback data carries the item key.
type ListReply struct {
	Header string
	Items  []ListItem
}

// ListItem is one selectable entry of a ListReply.
type ListItem struct {
	Label  string
	Key    string
	Detail string
}

// ConfirmationReply asks the user to confirm or cancel.
type ConfirmationReply struct {
	Prompt string
}

// ErrorKind selects the fixed user-facing error text.
type ErrorKind int

const (
	ErrorGeneric ErrorKind = iota
	ErrorRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorRateLimited:
		return "rate_limited"
	default:
		return "generic"
	}
}

// ErrorReply never carries error detail; the formatter maps Kind to a
// fixed string.
type ErrorReply struct {
	Kind ErrorKind
}

func (TextReply) isReply()         {}
func (ListReply) isReply()         {}
func (ConfirmationReply) isReply() {}
func (ErrorReply) isReply()        {}

// HandlerResult is what a routed handler hands back to the pipeline.
type HandlerResult struct {
	Reply Reply

	// State replaces the session's conversation state when non-nil.
	State []byte

	// ResetSession drops the sender's session after the reply is sent.
	ResetSession bool
}
