package gateway

import (
	"errors"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const EventMessagesUpsert = "MESSAGES_UPSERT"

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindAudio MessageKind = "audio"
)

// Message is an inbound WhatsApp message worth classifying.
type Message struct {
	ID        string      `json:"id"`
	Phone     string      `json:"phone"`
	Name      string      `json:"name,omitempty"`
	Kind      MessageKind `json:"kind"`
	Text      string      `json:"text,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

var ErrInvalidPayload = errors.New("invalid webhook payload")

// ParseWebhook extracts the message from an Evolution API webhook body. ok is
// false for events and messages that need no handling: other event types,
// messages sent by the instance itself, group chats and unsupported message
// types.
func ParseWebhook(body []byte) (msg Message, ok bool, err error) {
	if !gjson.ValidBytes(body) {
		return Message{}, false, ErrInvalidPayload
	}
	root := gjson.ParseBytes(body)

	if !isUpsert(root.Get("event").String()) {
		return Message{}, false, nil
	}

	data := root.Get("data")
	if data.IsArray() {
		data = data.Get("0")
	}
	if !data.Exists() {
		return Message{}, false, ErrInvalidPayload
	}
	if data.Get("key.fromMe").Bool() {
		return Message{}, false, nil
	}

	jid := data.Get("key.remoteJid").String()
	if jid == "" || strings.HasSuffix(jid, "@g.us") {
		return Message{}, false, nil
	}

	msg = Message{
		ID:    data.Get("key.id").String(),
		Phone: strings.SplitN(jid, "@", 2)[0],
		Name:  data.Get("pushName").String(),
	}
	if ts := data.Get("messageTimestamp").Int(); ts > 0 {
		msg.Timestamp = time.Unix(ts, 0).UTC()
	}

	m := data.Get("message")
	messageType := data.Get("messageType").String()
	if messageType == "" {
		messageType = m.Get("messageType").String()
	}
	switch {
	case messageType == "conversation" || (messageType == "" && m.Get("conversation").Exists()):
		msg.Kind, msg.Text = KindText, m.Get("conversation").String()
	case messageType == "extendedTextMessage" || (messageType == "" && m.Get("extendedTextMessage").Exists()):
		msg.Kind, msg.Text = KindText, m.Get("extendedTextMessage.text").String()
	case messageType == "audioMessage" || (messageType == "" && m.Get("audioMessage").Exists()):
		msg.Kind = KindAudio
	default:
		return Message{}, false, nil
	}

	if msg.Kind == KindText && strings.TrimSpace(msg.Text) == "" {
		return Message{}, false, nil
	}
	if msg.Kind == KindAudio && msg.ID == "" {
		return Message{}, false, ErrInvalidPayload
	}
	return msg, true, nil
}

// isUpsert accepts both MESSAGES_UPSERT and messages.upsert.
func isUpsert(event string) bool {
	return strings.EqualFold(strings.ReplaceAll(event, ".", "_"), EventMessagesUpsert)
}
