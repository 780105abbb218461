package downstream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jdelaire/tgate/core"
)

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
		want core.Reply
	}{
		{"text", `{"type":"text","content":"hi"}`, core.TextReply{Content: "hi"}},
		{"profile", `{"type":"profile","content":"*You*"}`, core.TextReply{Content: "*You*"}},
		{"ai response field", `{"response":"from model"}`, core.TextReply{Content: "from model"}},
		{"unknown type", `{"type":"carousel","content":"fallback"}`, core.TextReply{Content: "fallback"}},
		{"confirmation", `{"type":"confirmation","content":"Sure?"}`, core.ConfirmationReply{Prompt: "Sure?"}},
		{"error", `{"type":"error","content":"db exploded"}`, core.ErrorReply{Kind: core.ErrorGeneric}},
		{"text without content", `{"type":"text"}`, core.ErrorReply{Kind: core.ErrorGeneric}},
		{"empty match list", `{"type":"match_list","items":[]}`, core.TextReply{Content: NoMatchesText}},
		{"empty match list with header", `{"type":"match_list","content":"Nobody yet."}`, core.TextReply{Content: "Nobody yet."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := decodeResponse([]byte(tt.body))
			require.NoError(t, err)
			require.Equal(t, tt.want, resp.ToReply())
		})
	}
}

func TestDecodeMatchList(t *testing.T) {
	body := `{"type":"match_list","content":"Top matches:","items":[
		{"name":"Alice","reason":"Both love climbing","user_id":67890,"rating":4.8,"match_percentage":98},
		{"name":"Bob","user_id":"u-2"},
		{"reason":"mystery"}
	]}`
	resp, err := decodeResponse([]byte(body))
	require.NoError(t, err)

	require.Equal(t, core.ListReply{
		Header: "Top matches:",
		Items: []core.ListItem{
			{Label: "Alice", Key: "67890", Detail: "⭐ 4.8/5.0 • 98% Match\nBoth love climbing"},
			{Label: "Bob", Key: "u-2"},
			{Label: "Unknown", Key: "Unknown", Detail: "mystery"},
		},
	}, resp.ToReply())
}

func TestDecodeRejects(t *testing.T) {
	for _, body := range []string{``, `null`, `[]`, `{}`, `{"type":"match_list","items":[{"user_id":true}]}`} {
		_, err := decodeResponse([]byte(body))
		require.Error(t, err, "body %q", body)
	}
}

func TestConversationState(t *testing.T) {
	resp, err := decodeResponse([]byte(`{"type":"text","content":"x","state":{"turn":3}}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"turn":3}`, string(resp.ConversationState()))

	resp, err = decodeResponse([]byte(`{"type":"text","content":"x","state":null}`))
	require.NoError(t, err)
	require.Nil(t, resp.ConversationState())

	resp, err = decodeResponse([]byte(`{"type":"text","content":"x"}`))
	require.NoError(t, err)
	require.Nil(t, resp.ConversationState())
}
