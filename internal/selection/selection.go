// Package selection keeps the selected topic and activation consistent with
// the URL state of the console.
package selection

import (
	"net/url"
	"strings"
	"sync"

	"github.com/capitalize-ai/agent-console/internal/model"
)

// URL query parameter names.
const (
	ParamTopic          = "topic"
	ParamAgentName      = "agent-name"
	ParamActivationName = "activation-name"
)

// URLState is the console state persisted in the address bar.
type URLState struct {
	Topic          string `json:"topic,omitempty"`
	AgentName      string `json:"agentName,omitempty"`
	ActivationName string `json:"activationName,omitempty"`
}

// ParseURL reads URL state from query values.
func ParseURL(values url.Values) URLState {
	return URLState{
		Topic:          strings.TrimSpace(values.Get(ParamTopic)),
		AgentName:      strings.TrimSpace(values.Get(ParamAgentName)),
		ActivationName: strings.TrimSpace(values.Get(ParamActivationName)),
	}
}

// Values encodes the state as query values, omitting empty fields.
func (s URLState) Values() url.Values {
	v := url.Values{}
	if s.AgentName != "" {
		v.Set(ParamAgentName, s.AgentName)
	}
	if s.ActivationName != "" {
		v.Set(ParamActivationName, s.ActivationName)
	}
	if s.Topic != "" {
		v.Set(ParamTopic, s.Topic)
	}
	return v
}

// Encode returns the query string form of the state.
func (s URLState) Encode() string {
	return s.Values().Encode()
}

// Key returns the composite activation key.
func (s URLState) Key() string {
	return model.ActivationKey(s.AgentName, s.ActivationName)
}

// Decision is the outcome of a Sync.
type Decision struct {
	// Selected is the topic selected after the sync.
	Selected string `json:"selected"`
	// Changed is set when Selected differs from the previous selection.
	Changed bool `json:"changed"`
	// RewriteURL is set when the URL topic must be replaced with URLTopic.
	RewriteURL bool   `json:"rewriteUrl"`
	URLTopic   string `json:"urlTopic,omitempty"`
}

// Synchronizer tracks the selected topic of one console.
type Synchronizer struct {
	mu       sync.Mutex
	key      string
	selected string
}

// New creates a synchronizer for the given activation.
func New(agentName, activationName string) *Synchronizer {
	return &Synchronizer{key: model.ActivationKey(agentName, activationName)}
}

// SwitchActivation records the active agent+activation. When the composite
// key changes the selection is cleared and true is returned; callers must
// then drop all per-topic message state.
func (s *Synchronizer) SwitchActivation(agentName, activationName string) bool {
	key := model.ActivationKey(agentName, activationName)

	s.mu.Lock()
	defer s.mu.Unlock()
	if key == s.key {
		return false
	}
	s.key = key
	s.selected = ""
	return true
}

// Key returns the current activation key.
func (s *Synchronizer) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// Selected returns the current selection.
func (s *Synchronizer) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Sync reconciles the selection with the topic list and the URL topic:
//
//  1. a known URL topic different from the selection is adopted;
//  2. an unknown URL topic falls back to the default topic and the URL is rewritten;
//  3. with no URL topic and no selection the default topic is selected and written to the URL.
//
// Nothing happens while the topic list is empty.
func (s *Synchronizer) Sync(topics []model.Topic, urlTopic string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := Decision{Selected: s.selected}
	if len(topics) == 0 {
		return d
	}

	switch {
	case urlTopic != "" && contains(topics, urlTopic):
		if urlTopic != s.selected {
			s.selected = urlTopic
			d.Changed = true
		}
	case urlTopic != "":
		d.Changed = s.selected != model.DefaultTopicID
		s.selected = model.DefaultTopicID
		d.RewriteURL = true
		d.URLTopic = model.DefaultTopicID
	case s.selected == "":
		s.selected = model.DefaultTopicID
		d.Changed = true
		d.RewriteURL = true
		d.URLTopic = model.DefaultTopicID
	}

	d.Selected = s.selected
	return d
}

// Select sets the selection when id names a known topic.
func (s *Synchronizer) Select(topics []model.Topic, id string) bool {
	if !contains(topics, id) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = id
	return true
}

func contains(topics []model.Topic, id string) bool {
	for _, t := range topics {
		if t.ID == id {
			return true
		}
	}
	return false
}
