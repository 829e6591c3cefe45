package model

import (
	"time"
)

// Direction is the direction of a live event relative to the agent.
type Direction string

const (
	// DirectionIncoming is a message sent to the agent.
	DirectionIncoming Direction = "Incoming"
	// DirectionOutgoing is a message produced by the agent.
	DirectionOutgoing Direction = "Outgoing"
)

// LiveEvent is a message pushed by the live event stream.
type LiveEvent struct {
	ID          string      `json:"id"`
	Text        string      `json:"text"`
	Direction   Direction   `json:"direction"`
	Scope       string      `json:"scope,omitempty"`
	MessageType MessageType `json:"messageType,omitempty"`
	TaskID      string      `json:"taskId,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Topic resolves the target topic of the event.
func (e LiveEvent) Topic() string {
	if e.Scope == "" {
		return DefaultTopicID
	}
	return e.Scope
}

// Message converts the event into an agent message.
func (e LiveEvent) Message() Message {
	ts := e.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Message{
		ID:          e.ID,
		Content:     e.Text,
		Role:        RoleAgent,
		Timestamp:   ts,
		Status:      StatusDelivered,
		MessageType: e.MessageType,
		TaskID:      e.TaskID,
	}
}

// NotificationKind separates toasts from new-message notices.
type NotificationKind string

const (
	NotificationToast   NotificationKind = "toast"
	NotificationMessage NotificationKind = "message"
)

// NotificationLevel is the severity of a notification.
type NotificationLevel string

const (
	LevelInfo  NotificationLevel = "info"
	LevelError NotificationLevel = "error"
)

// Notification is a user-facing notice raised by the console core.
type Notification struct {
	Kind      NotificationKind  `json:"kind"`
	Level     NotificationLevel `json:"level"`
	Topic     string            `json:"topic,omitempty"`
	Title     string            `json:"title"`
	Body      string            `json:"body,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// ErrorEvent is streamed to console clients when something fails.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent keeps console streams alive.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
