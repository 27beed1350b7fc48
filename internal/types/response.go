package types

// ChatResponseVersion is the envelope version expected by the chat platform.
const ChatResponseVersion = "v2"

// ChatResponse is the reply envelope returned from the chat webhook.
type ChatResponse struct {
	Version string      `json:"version"`
	Content ChatContent `json:"content"`
}

type ChatContent struct {
	Messages []ChatMessage `json:"messages"`
}

type ChatMessage struct {
	Type         string       `json:"type"`
	Text         string       `json:"text"`
	QuickReplies []QuickReply `json:"quick_replies,omitempty"`
}

type QuickReply struct {
	Caption string `json:"caption"`
	Payload string `json:"payload"`
}

// NewChatResponse builds a response with one text message per part.
func NewChatResponse(parts ...string) *ChatResponse {
	r := &ChatResponse{
		Version: ChatResponseVersion,
		Content: ChatContent{Messages: []ChatMessage{}},
	}
	for _, p := range parts {
		r.AddText(p)
	}
	return r
}

// AddText appends a message. Empty text is skipped.
func (r *ChatResponse) AddText(text string, replies ...QuickReply) *ChatResponse {
	if text == "" {
		return r
	}
	r.Content.Messages = append(r.Content.Messages, ChatMessage{Type: "text", Text: text, QuickReplies: replies})
	return r
}

// Texts returns the message texts in order.
func (r *ChatResponse) Texts() []string {
	out := make([]string, 0, len(r.Content.Messages))
	for _, m := range r.Content.Messages {
		out = append(out, m.Text)
	}
	return out
}
