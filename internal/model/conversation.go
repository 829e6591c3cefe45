// Package model defines data structures for the agent console.
package model

import (
	"time"
)

// DefaultTopicID is the server-side default topic that always exists.
const DefaultTopicID = "general-discussions"

// DefaultTopicName is the display name of the default topic.
const DefaultTopicName = "General Discussions"

// Topic is a conversation thread inside an agent activation.
type Topic struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	CreatedAt       time.Time `json:"createdAt"`
	Status          string    `json:"status"`
	Messages        []Message `json:"messages"`
	AssociatedTasks []string  `json:"associatedTasks"`
	IsDefault       bool      `json:"isDefault"`
	MessageCount    int       `json:"messageCount"`
	LastMessageAt   time.Time `json:"lastMessageAt,omitempty"`
}

// NewDefaultTopic synthesizes the default topic.
func NewDefaultTopic() Topic {
	return Topic{
		ID:              DefaultTopicID,
		Name:            DefaultTopicName,
		Status:          "active",
		Messages:        []Message{},
		AssociatedTasks: []string{},
		IsDefault:       true,
	}
}

// Clone deep copies the topic.
func (t Topic) Clone() Topic {
	out := t
	out.Messages = CloneMessages(t.Messages)
	if t.AssociatedTasks != nil {
		out.AssociatedTasks = append([]string(nil), t.AssociatedTasks...)
	}
	return out
}

// CloneTopics deep copies a topic slice.
func CloneTopics(in []Topic) []Topic {
	if in == nil {
		return nil
	}
	out := make([]Topic, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}

// TopicMessageState is the per-topic page cache entry.
type TopicMessageState struct {
	Messages      []Message `json:"messages"`
	IsLoading     bool      `json:"isLoading"`
	IsLoadingMore bool      `json:"isLoadingMore"`
	HasMore       bool      `json:"hasMore"`
	Page          int       `json:"page"`
}

// Clone deep copies the state.
func (s TopicMessageState) Clone() TopicMessageState {
	out := s
	out.Messages = CloneMessages(s.Messages)
	return out
}

// ActivationStatus reports whether an agent deployment accepts traffic.
type ActivationStatus string

const (
	ActivationActive   ActivationStatus = "active"
	ActivationInactive ActivationStatus = "inactive"
)

// ActivationOption describes a selectable agent deployment.
type ActivationOption struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	AgentName   string           `json:"agentName"`
	Status      ActivationStatus `json:"status"`
	Description string           `json:"description,omitempty"`
}

// Identity names the owner and target of a conversation.
type Identity struct {
	TenantID       string `json:"tenantId"`
	User           string `json:"user"`
	AgentName      string `json:"agentName"`
	ActivationName string `json:"activationName"`
}

// Key returns the composite agent+activation key.
func (i Identity) Key() string {
	return ActivationKey(i.AgentName, i.ActivationName)
}

// ActivationKey builds the composite key used to detect activation switches.
func ActivationKey(agentName, activationName string) string {
	return agentName + "-" + activationName
}

// Conversation is the merged view of all topics of one activation.
type Conversation struct {
	ID       string  `json:"id"`
	TenantID string  `json:"tenantId"`
	User     string  `json:"user"`
	Agent    string  `json:"agent"`
	Topics   []Topic `json:"topics"`
	Status   string  `json:"status"`
}

// Clone deep copies the conversation.
func (c Conversation) Clone() Conversation {
	out := c
	out.Topics = CloneTopics(c.Topics)
	return out
}

// Topic returns the topic with the given id.
func (c *Conversation) Topic(id string) (*Topic, bool) {
	for i := range c.Topics {
		if c.Topics[i].ID == id {
			return &c.Topics[i], true
		}
	}
	return nil, false
}
