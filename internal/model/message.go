package model

import (
	"time"
)

// Role represents the author of a message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Status represents the delivery status of a message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// MessageType distinguishes chat output from agent reasoning and tool traces.
type MessageType string

const (
	MessageTypeChat      MessageType = "chat"
	MessageTypeReasoning MessageType = "reasoning"
	MessageTypeTool      MessageType = "tool"
)

// Attachment describes a file sent along with a message.
type Attachment struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	FileSize    int64  `json:"fileSize,omitempty"`
}

// Message represents a single conversation message.
type Message struct {
	ID          string       `json:"id"`
	Content     string       `json:"content"`
	Role        Role         `json:"role"`
	Timestamp   time.Time    `json:"timestamp"`
	Status      Status       `json:"status"`
	MessageType MessageType  `json:"messageType,omitempty"`
	TaskID      string       `json:"taskId,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// EffectiveType returns the message type, defaulting to chat when unset.
func (m Message) EffectiveType() MessageType {
	if m.MessageType == "" {
		return MessageTypeChat
	}
	return m.MessageType
}

// Clone returns a copy of the message that shares no slices with the original.
func (m Message) Clone() Message {
	out := m
	if len(m.Attachments) > 0 {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	return out
}

// CloneMessages deep copies a message slice. A nil input stays nil.
func CloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

// SendMessageRequest is the body of a text send against the messaging backend.
type SendMessageRequest struct {
	AgentName      string `json:"agentName"`
	ActivationName string `json:"activationName"`
	Text           string `json:"text"`
	Topic          string `json:"topic,omitempty"`
}

// FileData carries a base64 encoded upload.
type FileData struct {
	Content     string `json:"content"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	FileSize    int64  `json:"fileSize,omitempty"`
}

// SendFileRequest is the body of a file send against the messaging backend.
type SendFileRequest struct {
	AgentName      string   `json:"agentName"`
	ActivationName string   `json:"activationName"`
	Type           string   `json:"type"`
	Text           string   `json:"text"`
	Topic          string   `json:"topic,omitempty"`
	Data           FileData `json:"data"`
}
