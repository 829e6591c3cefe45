package messaging

import (
	"time"

	"github.com/capitalize-ai/agent-console/internal/model"
)

// TopicsQuery selects one page of topics.
type TopicsQuery struct {
	TenantID       string
	AgentName      string
	ActivationName string
	Page           int
	PageSize       int
}

// RemoteTopic is topic metadata as returned by the backend.
type RemoteTopic struct {
	Scope         string    `json:"scope"`
	MessageCount  int       `json:"messageCount"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

// Pagination is the paging envelope of the topics endpoint.
type Pagination struct {
	Total    int  `json:"total"`
	PageSize int  `json:"pageSize"`
	HasMore  bool `json:"hasMore"`
}

// TopicsPage is one page of topics.
type TopicsPage struct {
	Topics     []RemoteTopic `json:"topics"`
	Pagination Pagination    `json:"pagination"`
}

// HistoryQuery selects one page of topic history.
type HistoryQuery struct {
	TenantID       string
	AgentName      string
	ActivationName string
	Topic          string
	Page           int
	PageSize       int
	ChatOnly       bool
	SortOrder      string
}

// HistoryItem is a message as stored by the backend.
type HistoryItem struct {
	ID          string            `json:"id"`
	Text        string            `json:"text"`
	Direction   model.Direction   `json:"direction"`
	CreatedAt   time.Time         `json:"createdAt"`
	MessageType model.MessageType `json:"messageType,omitempty"`
	TaskID      string            `json:"taskId,omitempty"`
}

// Message maps the stored item onto the console message model.
func (h HistoryItem) Message() model.Message {
	role := model.RoleSystem
	switch h.Direction {
	case model.DirectionIncoming:
		role = model.RoleUser
	case model.DirectionOutgoing:
		role = model.RoleAgent
	}
	return model.Message{
		ID:          h.ID,
		Content:     h.Text,
		Role:        role,
		Timestamp:   h.CreatedAt,
		Status:      model.StatusDelivered,
		MessageType: h.MessageType,
		TaskID:      h.TaskID,
	}
}

// TopicRef addresses one topic of an activation.
type TopicRef struct {
	TenantID       string
	AgentName      string
	ActivationName string
	Topic          string
}
