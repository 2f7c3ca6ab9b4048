// Package channel carries execution events to the client watching a
// configuration.
package channel

import (
	"encoding/json"
	"fmt"
)

const (
	TypeConnection   = "connection"
	TypeOutput       = "output"
	TypeStart        = "start"
	TypeComplete     = "complete"
	TypeError        = "error"
	TypeEnd          = "end"
	TypeHeartbeat    = "heartbeat"
	TypeHeartbeatAck = "heartbeat_ack"
)

// Message is one event on the wire. Only the fields belonging to Type are
// encoded.
type Message struct {
	Type         string `json:"type"`
	Message      string `json:"message,omitempty"`
	Content      string `json:"content,omitempty"`
	PromptIndex  int    `json:"promptIndex,omitempty"`
	TotalPrompts int    `json:"totalPrompts,omitempty"`
	Prompt       string `json:"prompt,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"`
	ConfigID     string `json:"configId,omitempty"`
}

func Connection(configID string) Message {
	return Message{Type: TypeConnection, Message: fmt.Sprintf("WebSocket connection established for configuration %s", configID)}
}

func Output(content string) Message {
	return Message{Type: TypeOutput, Content: content}
}

func Start(index, total int, prompt string) Message {
	return Message{Type: TypeStart, PromptIndex: index, TotalPrompts: total, Prompt: prompt}
}

func Complete(index int) Message {
	return Message{Type: TypeComplete, PromptIndex: index}
}

func Error(msg string) Message {
	return Message{Type: TypeError, Message: msg}
}

func End(msg string) Message {
	return Message{Type: TypeEnd, Message: msg}
}

func HeartbeatAck(ts int64) Message {
	return Message{Type: TypeHeartbeatAck, Timestamp: ts}
}

// Terminal reports whether the message ends an execution stream.
func (m Message) Terminal() bool {
	return m.Type == TypeEnd || m.Type == TypeError
}

func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case TypeOutput:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}{m.Type, m.Content})
	case TypeStart:
		return json.Marshal(struct {
			Type         string `json:"type"`
			PromptIndex  int    `json:"promptIndex"`
			TotalPrompts int    `json:"totalPrompts"`
			Prompt       string `json:"prompt"`
		}{m.Type, m.PromptIndex, m.TotalPrompts, m.Prompt})
	case TypeComplete:
		return json.Marshal(struct {
			Type        string `json:"type"`
			PromptIndex int    `json:"promptIndex"`
		}{m.Type, m.PromptIndex})
	case TypeConnection, TypeError, TypeEnd:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{m.Type, m.Message})
	case TypeHeartbeatAck:
		return json.Marshal(struct {
			Type      string `json:"type"`
			Timestamp int64  `json:"timestamp"`
		}{m.Type, m.Timestamp})
	default:
		type plain Message
		return json.Marshal(plain(m))
	}
}
