package channel

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/rshare/internal/resource"
)

// MessageType is the "type" discriminator on the wire.
type MessageType string

const (
	TypePing        MessageType = "ping"
	TypePong        MessageType = "pong"
	TypeRequest     MessageType = "request"
	TypeResponse    MessageType = "response"
	TypeCacheUpdate MessageType = "cache-update"
)

// ContentType says how Message.Content carries the payload.
type ContentType string

const (
	// ContentDirect means Content is the resource text.
	ContentDirect ContentType = "direct"
	// ContentBlob means Content is a blob handle.
	ContentBlob ContentType = "blob"
)

// Message is the cross-context wire message.
type Message struct {
	Type         MessageType `json:"type"`
	Origin       string      `json:"origin,omitempty"`
	MessageID    string      `json:"messageId,omitempty"`
	ResourceType string      `json:"resourceType,omitempty"`
	URL          string      `json:"url,omitempty"`
	Success      *bool       `json:"success,omitempty"`
	ContentType  ContentType `json:"contentType,omitempty"`
	Content      string      `json:"content,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// Key returns the resource key a request or cache-update refers to.
func (m Message) Key() (resource.Key, error) {
	kind, err := resource.ParseKind(m.ResourceType)
	if err != nil {
		return resource.Key{}, err
	}
	if m.URL == "" {
		return resource.Key{}, fmt.Errorf("%s message without url", m.Type)
	}
	return resource.Key{Kind: kind, Locator: m.URL}, nil
}

// Succeeded reports the success flag of a response.
func (m Message) Succeeded() bool {
	return m.Success != nil && *m.Success
}

// Payload returns the message content as resource content.
func (m Message) Payload() resource.Content {
	if m.ContentType == ContentBlob {
		return resource.ByHandle(resource.Handle(m.Content))
	}
	return resource.Inline(m.Content)
}

func boolPtr(b bool) *bool { return &b }

// copyMessage round-trips m through its wire encoding.
func copyMessage(m Message) (Message, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	var out Message
	if err := json.Unmarshal(data, &out); err != nil {
		return Message{}, fmt.Errorf("decode %s message: %w", m.Type, err)
	}
	return out, nil
}
