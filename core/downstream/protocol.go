package downstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jdelaire/tgate/core"
)

// MaxBodyBytes bounds a downstream response body.
const MaxBodyBytes = 1 << 20

// Request is one downstream call. Fields are merged into the JSON body
// next to the identity fields.
type Request struct {
	RequestID  string
	SenderID   int64
	InternalID string
	Path       string
	Fields     map[string]any
}

// MarshalJSON encodes the request as one flat object. The identity fields
// cannot be overridden by Fields.
func (r Request) MarshalJSON() ([]byte, error) {
	body := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		body[k] = v
	}
	body["request_id"] = r.RequestID
	body["sender_id"] = r.SenderID
	body["internal_id"] = r.InternalID
	return json.Marshal(body)
}

// Response types.
const (
	TypeText         = "text"
	TypeProfile      = "profile"
	TypeMatchList    = "match_list"
	TypeConfirmation = "confirmation"
	TypeError        = "error"
)

// NoMatchesText replaces an empty match list.
const NoMatchesText = "No matches found."

// Response is the structured body every service answers with.
type Response struct {
	Type    string          `json:"type"`
	Content string          `json:"content"`
	Reply   string          `json:"response,omitempty"`
	Items   []Item          `json:"items,omitempty"`
	State   json.RawMessage `json:"state,omitempty"`
}

// Item is one match_list entry.
type Item struct {
	Name            string   `json:"name"`
	Reason          string   `json:"reason,omitempty"`
	UserID          ID       `json:"user_id,omitempty"`
	Rating          *float64 `json:"rating,omitempty"`
	MatchPercentage *float64 `json:"match_percentage,omitempty"`
}

// ID accepts a JSON string or number.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user_id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

var errEmptyResponse = errors.New("response has neither type nor content")

// decodeResponse parses and validates a response body.
func decodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Content == "" {
		resp.Content = resp.Reply
	}
	if resp.Type == "" {
		if resp.Content == "" {
			return nil, errEmptyResponse
		}
		resp.Type = TypeText
	}
	return &resp, nil
}

// ConversationState returns the state blob the service wants stored, or nil
// to keep the current one.
func (r *Response) ConversationState() []byte {
	if len(r.State) == 0 || bytes.Equal(r.State, []byte("null")) {
		return nil
	}
	return append([]byte(nil), r.State...)
}

// ToReply translates the response into a reply. Unknown types with content
// are shown as text.
func (r *Response) ToReply() core.Reply {
	switch r.Type {
	case TypeMatchList:
		if len(r.Items) == 0 {
			if r.Content == "" {
				return core.TextReply{Content: NoMatchesText}
			}
			return core.TextReply{Content: r.Content}
		}
		items := make([]core.ListItem, 0, len(r.Items))
		for _, it := range r.Items {
			items = append(items, it.listItem())
		}
		return core.ListReply{Header: r.Content, Items: items}
	case TypeConfirmation:
		return core.ConfirmationReply{Prompt: r.Content}
	case TypeError:
		return core.ErrorReply{Kind: core.ErrorGeneric}
	default:
		if r.Content == "" {
			return core.ErrorReply{Kind: core.ErrorGeneric}
		}
		return core.TextReply{Content: r.Content}
	}
}

func (it Item) listItem() core.ListItem {
	name := it.Name
	if name == "" {
		name = "Unknown"
	}
	key := string(it.UserID)
	if key == "" {
		key = name
	}

	detail := ""
	if it.Rating != nil {
		detail = "⭐ " + strconv.FormatFloat(*it.Rating, 'f', 1, 64) + "/5.0"
	}
	if it.MatchPercentage != nil {
		pct := strconv.FormatFloat(*it.MatchPercentage, 'f', -1, 64) + "% Match"
		if detail != "" {
			detail += " • " + pct
		} else {
			detail = pct
		}
	}
	if it.Reason != "" {
		if detail != "" {
			detail += "\n"
		}
		detail += it.Reason
	}
	return core.ListItem{Label: name, Key: key, Detail: detail}
}
