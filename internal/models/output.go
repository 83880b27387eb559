package models

import (
	"bytes"
	"encoding/json"
	"strings"
)

// OutputKind tags the shape of an engine result.
type OutputKind string

const (
	OutputPlainText   OutputKind = "plain_text"
	OutputMessageList OutputKind = "message_list"
	OutputStructured  OutputKind = "structured"
)

// Output is the engine result payload. Exactly one of Text, Messages or Raw is
// meaningful, selected by Kind.
type Output struct {
	Kind     OutputKind
	Text     string
	Messages []Message
	Raw      json.RawMessage
}

func PlainText(s string) Output { return Output{Kind: OutputPlainText, Text: s} }

func MessageList(m []Message) Output { return Output{Kind: OutputMessageList, Messages: m} }

func Structured(raw json.RawMessage) Output { return Output{Kind: OutputStructured, Raw: raw} }

// IsEmpty reports whether there is nothing to meter.
func (o Output) IsEmpty() bool {
	switch o.Kind {
	case OutputPlainText:
		return o.Text == ""
	case OutputMessageList:
		return len(o.Messages) == 0
	case OutputStructured:
		trimmed := bytes.TrimSpace(o.Raw)
		return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
	}
	return true
}

// TokenText returns the text that output tokens are counted from.
func (o Output) TokenText() string {
	switch o.Kind {
	case OutputPlainText:
		return o.Text
	case OutputMessageList:
		var b strings.Builder
		for i, m := range o.Messages {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(m.Content)
		}
		return b.String()
	case OutputStructured:
		return string(o.Raw)
	}
	return ""
}

func (o Output) MarshalJSON() ([]byte, error) {
	switch o.Kind {
	case OutputPlainText:
		return json.Marshal(o.Text)
	case OutputMessageList:
		return json.Marshal(o.Messages)
	case OutputStructured:
		if len(o.Raw) == 0 {
			return []byte("null"), nil
		}
		return o.Raw, nil
	}
	return []byte("null"), nil
}

func (o *Output) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*o = Output{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*o = PlainText(s)
		return nil
	case '[':
		var msgs []Message
		if err := json.Unmarshal(trimmed, &msgs); err == nil && messagesLookValid(msgs) {
			*o = MessageList(msgs)
			return nil
		}
	}
	*o = Structured(append(json.RawMessage(nil), trimmed...))
	return nil
}

func messagesLookValid(msgs []Message) bool {
	for _, m := range msgs {
		if m.Role == "" && m.Content == "" {
			return false
		}
	}
	return true
}
