package selection

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-console/internal/model"
)

func topics() []model.Topic {
	return []model.Topic{model.NewDefaultTopic(), {ID: "billing", Name: "billing"}}
}

func TestURLStateRoundTrip(t *testing.T) {
	values, err := url.ParseQuery("topic=billing&agent-name=AgentA&activation-name=Inst1")
	require.NoError(t, err)

	state := ParseURL(values)
	require.Equal(t, URLState{Topic: "billing", AgentName: "AgentA", ActivationName: "Inst1"}, state)
	require.Equal(t, "AgentA-Inst1", state.Key())
	require.Equal(t, "activation-name=Inst1&agent-name=AgentA&topic=billing", state.Encode())

	require.Empty(t, URLState{}.Encode())
}

func TestSyncAdoptsKnownURLTopic(t *testing.T) {
	s := New("AgentA", "Inst1")
	d := s.Sync(topics(), "billing")

	require.Equal(t, "billing", d.Selected)
	require.True(t, d.Changed)
	require.False(t, d.RewriteURL)

	d = s.Sync(topics(), "billing")
	require.False(t, d.Changed)
}

func TestSyncUnknownURLTopicFallsBack(t *testing.T) {
	s := New("AgentA", "Inst1")
	d := s.Sync(topics(), "unknown-id")

	require.Equal(t, model.DefaultTopicID, d.Selected)
	require.True(t, d.RewriteURL)
	require.Equal(t, model.DefaultTopicID, d.URLTopic)

	rewritten := URLState{Topic: d.URLTopic}
	require.Equal(t, "topic=general-discussions", rewritten.Encode())
}

func TestSyncDefaultsWhenNothingSelected(t *testing.T) {
	s := New("AgentA", "Inst1")
	d := s.Sync(topics(), "")

	require.Equal(t, model.DefaultTopicID, d.Selected)
	require.True(t, d.Changed)
	require.True(t, d.RewriteURL)

	s.Select(topics(), "billing")
	d = s.Sync(topics(), "")
	require.Equal(t, "billing", d.Selected)
	require.False(t, d.Changed)
	require.False(t, d.RewriteURL)
}

func TestSyncWaitsForTopics(t *testing.T) {
	s := New("AgentA", "Inst1")
	d := s.Sync(nil, "unknown-id")
	require.Empty(t, d.Selected)
	require.False(t, d.RewriteURL)
}

func TestSwitchActivationClearsSelection(t *testing.T) {
	s := New("AgentA", "Inst1")
	s.Sync(topics(), "billing")

	require.False(t, s.SwitchActivation("AgentA", "Inst1"))
	require.Equal(t, "billing", s.Selected())

	require.True(t, s.SwitchActivation("AgentA", "Inst2"))
	require.Empty(t, s.Selected())
	require.Equal(t, "AgentA-Inst2", s.Key())

	d := s.Sync(topics(), "")
	require.Equal(t, model.DefaultTopicID, d.Selected)
}

func TestSelectRejectsUnknownTopic(t *testing.T) {
	s := New("AgentA", "Inst1")
	require.False(t, s.Select(topics(), "nope"))
	require.Empty(t, s.Selected())
}
