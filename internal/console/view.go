package console

import (
	"github.com/capitalize-ai/agent-console/internal/live"
	"github.com/capitalize-ai/agent-console/internal/model"
	"github.com/capitalize-ai/agent-console/internal/selection"
)

// UpdateKind names the kind of a session update.
type UpdateKind string

const (
	UpdateView         UpdateKind = "view"
	UpdateNotification UpdateKind = "notification"
	UpdateUnavailable  UpdateKind = "unavailable"
)

// Update is pushed to session subscribers.
type Update struct {
	Kind         UpdateKind          `json:"kind"`
	View         *View               `json:"view,omitempty"`
	Notification *model.Notification `json:"notification,omitempty"`
}

// PageStatus is the loading state of one topic's history.
type PageStatus struct {
	IsLoading     bool `json:"isLoading"`
	IsLoadingMore bool `json:"isLoadingMore"`
	HasMore       bool `json:"hasMore"`
	Page          int  `json:"page"`
}

// LiveStatus mirrors the live listener state.
type LiveStatus struct {
	Enabled     bool   `json:"enabled"`
	Connected   bool   `json:"connected"`
	Attempts    int    `json:"attempts"`
	Unavailable bool   `json:"unavailable"`
	LastError   string `json:"lastError,omitempty"`
}

// View is the render-ready state of a session.
type View struct {
	SessionID         string                 `json:"sessionId"`
	Identity          model.Identity         `json:"identity"`
	Activation        model.ActivationOption `json:"activation"`
	Conversation      model.Conversation     `json:"conversation"`
	Selected          string                 `json:"selected"`
	URL               selection.URLState     `json:"url"`
	Unread            map[string]int         `json:"unread"`
	Pages             map[string]PageStatus  `json:"pages"`
	TotalPages        int                    `json:"totalPages"`
	HasMoreTopics     bool                   `json:"hasMoreTopics"`
	LoadingTopics     bool                   `json:"loadingTopics"`
	NotConversational bool                   `json:"notConversational"`
	Live              LiveStatus             `json:"live"`
	Degraded          bool                   `json:"degraded"`
}

// SelectedMessages returns the merged messages of the selected topic.
func (v View) SelectedMessages() []model.Message {
	for _, t := range v.Conversation.Topics {
		if t.ID == v.Selected {
			return t.Messages
		}
	}
	return nil
}

func liveStatus(enabled bool, st live.Status) LiveStatus {
	out := LiveStatus{
		Enabled:     enabled,
		Connected:   st.Connected,
		Attempts:    st.Attempts,
		Unavailable: st.MaxReconnectAttemptsReached,
	}
	if st.LastError != nil {
		out.LastError = st.LastError.Error()
	}
	return out
}
