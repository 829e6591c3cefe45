package reconciler

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-console/internal/model"
)

type recordingNotifier struct {
	mu    sync.Mutex
	notes []model.Notification
}

func (n *recordingNotifier) Notify(note model.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

var identityA1 = model.Identity{TenantID: "acme", User: "u1", AgentName: "AgentA", ActivationName: "Inst1"}

func baseTopics() []model.Topic {
	billing := model.Topic{ID: "billing", Name: "billing", Status: "active"}
	return []model.Topic{model.NewDefaultTopic(), billing}
}

func msg(id string) model.Message {
	return model.Message{ID: id, Content: id, Role: model.RoleAgent, Status: model.StatusDelivered}
}

func outgoing(id, scope string, typ model.MessageType) model.LiveEvent {
	return model.LiveEvent{ID: id, Text: "text " + id, Direction: model.DirectionOutgoing, Scope: scope, MessageType: typ}
}

func newReconciler(t *testing.T) (*Reconciler, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	r := New(n, nil)
	r.ApplyTopics(identityA1, baseTopics())
	return r, n
}

func TestApplyTopicsBuildsConversation(t *testing.T) {
	r, _ := newReconciler(t)

	conv, ok := r.Conversation()
	require.True(t, ok)
	require.Equal(t, "AgentA-Inst1", conv.ID)
	require.Equal(t, "acme", conv.TenantID)
	require.Equal(t, "u1", conv.User)
	require.Equal(t, "AgentA", conv.Agent)
	require.Len(t, conv.Topics, 2)
	require.NotNil(t, conv.Topics[1].Messages)
}

func TestMetadataRefreshKeepsLoadedMessages(t *testing.T) {
	r, _ := newReconciler(t)
	r.MergeHistory("billing", []model.Message{msg("m1"), msg("m2")})
	r.MergeHistory(model.DefaultTopicID, []model.Message{msg("g1")})

	refreshes := [][]model.Topic{
		append(baseTopics(), model.Topic{ID: "new", Name: "new"}),
		baseTopics(),
		{baseTopics()[1], baseTopics()[0]},
	}
	for _, topics := range refreshes {
		for i := range topics {
			topics[i].MessageCount = 42
		}
		r.ApplyTopics(identityA1, topics)

		require.Equal(t, []string{"m1", "m2"}, ids(r.Messages("billing")))
		require.Equal(t, []string{"g1"}, ids(r.Messages(model.DefaultTopicID)))
	}

	conv, _ := r.Conversation()
	billing, ok := conv.Topic("billing")
	require.True(t, ok)
	require.Equal(t, 42, billing.MessageCount)
}

func TestIdentityChangeReplacesConversation(t *testing.T) {
	r, _ := newReconciler(t)
	r.MergeHistory("billing", []model.Message{msg("m1")})
	r.ApplyLive(outgoing("e1", "billing", ""))
	require.Equal(t, 1, r.Unread()["billing"])

	other := identityA1
	other.ActivationName = "Inst2"
	r.ApplyTopics(other, baseTopics())

	conv, _ := r.Conversation()
	require.Equal(t, "AgentA-Inst2", conv.ID)
	require.Empty(t, r.Messages("billing"))
	require.Empty(t, r.Unread())
}

func TestApplyLiveIgnoresIncoming(t *testing.T) {
	r, n := newReconciler(t)
	before, _ := r.Conversation()

	for _, dir := range []model.Direction{model.DirectionIncoming, "", "Sideways"} {
		ev := outgoing("e1", "billing", "")
		ev.Direction = dir
		require.False(t, r.ApplyLive(ev))
	}

	after, _ := r.Conversation()
	require.Equal(t, before, after)
	require.Empty(t, r.Unread())
	require.Zero(t, n.count())
}

func TestApplyLiveAppendsToScope(t *testing.T) {
	r, _ := newReconciler(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ev := outgoing("e1", "billing", "")
	ev.CreatedAt = at

	require.True(t, r.ApplyLive(ev))

	conv, _ := r.Conversation()
	billing, _ := conv.Topic("billing")
	require.Equal(t, 1, billing.MessageCount)
	require.Equal(t, at, billing.LastMessageAt)
	require.Len(t, billing.Messages, 1)
	require.Equal(t, model.RoleAgent, billing.Messages[0].Role)
	require.Equal(t, "text e1", billing.Messages[0].Content)
}

func TestApplyLiveDefaultsToGeneralDiscussions(t *testing.T) {
	r, _ := newReconciler(t)
	require.True(t, r.ApplyLive(outgoing("e1", "", "")))
	require.Equal(t, []string{"e1"}, ids(r.Messages(model.DefaultTopicID)))
}

func TestApplyLiveUnknownTopicIsNoop(t *testing.T) {
	r, n := newReconciler(t)
	require.False(t, r.ApplyLive(outgoing("e1", "missing", "")))
	require.Empty(t, r.Unread())
	require.Zero(t, n.count())
}

func TestApplyLiveSkipsDuplicateIDs(t *testing.T) {
	r, _ := newReconciler(t)
	require.True(t, r.ApplyLive(outgoing("e1", "billing", "")))
	require.False(t, r.ApplyLive(outgoing("e1", "billing", "")))

	conv, _ := r.Conversation()
	billing, _ := conv.Topic("billing")
	require.Equal(t, 1, billing.MessageCount)
	require.Equal(t, 1, r.Unread()["billing"])
}

func TestUnreadCountsChatOnNonSelectedTopic(t *testing.T) {
	r, n := newReconciler(t)
	r.SelectTopic(model.DefaultTopicID)

	r.ApplyLive(outgoing("e1", "billing", ""))
	require.Equal(t, 1, r.Unread()["billing"])
	r.ApplyLive(outgoing("e2", "billing", model.MessageTypeChat))
	require.Equal(t, 2, r.Unread()["billing"])
	require.Equal(t, 2, n.count())
	require.Equal(t, model.NotificationMessage, n.notes[0].Kind)
	require.Equal(t, "billing", n.notes[0].Topic)

	r.ApplyLive(outgoing("e3", model.DefaultTopicID, ""))
	require.Zero(t, r.Unread()[model.DefaultTopicID])

	r.SelectTopic("billing")
	require.Zero(t, r.Unread()["billing"])
	require.Equal(t, "billing", r.Selected())
}

func TestReasoningAndToolNeverCountAsUnread(t *testing.T) {
	r, n := newReconciler(t)
	r.SelectTopic(model.DefaultTopicID)

	require.True(t, r.ApplyLive(outgoing("e1", "billing", model.MessageTypeReasoning)))
	require.True(t, r.ApplyLive(outgoing("e2", "billing", model.MessageTypeTool)))

	require.Empty(t, r.Unread())
	require.Zero(t, n.count())
	require.Len(t, r.Messages("billing"), 2)
}

func TestSendOptimistic(t *testing.T) {
	r, _ := newReconciler(t)
	r.SelectTopic(model.DefaultTopicID)

	m, ok := r.SendOptimistic(model.DefaultTopicID, "Hi")
	require.True(t, ok)
	require.True(t, strings.HasPrefix(m.ID, "temp-"))
	require.True(t, IsTemporary(m.ID))
	require.Equal(t, model.RoleUser, m.Role)
	require.Equal(t, model.StatusDelivered, m.Status)
	require.Equal(t, "Hi", m.Content)

	got := r.Messages(model.DefaultTopicID)
	require.Len(t, got, 1)
	require.Equal(t, m.ID, got[0].ID)
}

func TestSendOptimisticIDsAreUnique(t *testing.T) {
	r, _ := newReconciler(t)
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	a, _ := r.SendOptimistic("billing", "one")
	b, _ := r.SendOptimistic("billing", "two")
	require.NotEqual(t, a.ID, b.ID)
}

func TestSendFileOptimistic(t *testing.T) {
	r, _ := newReconciler(t)
	m, ok := r.SendFileOptimistic("billing", model.Attachment{FileName: "report.pdf", ContentType: "application/pdf", FileSize: 12})
	require.True(t, ok)
	require.True(t, strings.HasPrefix(m.ID, "temp-file-"))
	require.Equal(t, "report.pdf", m.Content)
	require.Len(t, m.Attachments, 1)
}

func TestSendOptimisticUnknownTopic(t *testing.T) {
	r, _ := newReconciler(t)
	_, ok := r.SendOptimistic("missing", "Hi")
	require.False(t, ok)
}

func TestMergeHistoryPrependsUnique(t *testing.T) {
	r, _ := newReconciler(t)
	r.MergeHistory("billing", []model.Message{msg("m5"), msg("m6")})

	added := r.MergeHistory("billing", []model.Message{msg("m3"), msg("m4"), msg("m5")})
	require.Equal(t, []string{"m3", "m4"}, ids(added))
	require.Equal(t, []string{"m3", "m4", "m5", "m6"}, ids(r.Messages("billing")))

	require.Nil(t, r.MergeHistory("billing", []model.Message{msg("m3")}))
}

func TestClearTopicMessages(t *testing.T) {
	r, _ := newReconciler(t)
	r.ApplyLive(outgoing("e1", "billing", ""))
	r.ClearTopicMessages("billing")

	conv, _ := r.Conversation()
	billing, _ := conv.Topic("billing")
	require.Empty(t, billing.Messages)
	require.Zero(t, billing.MessageCount)
	require.Empty(t, r.Unread())
}

func TestResetClearsEverything(t *testing.T) {
	r, _ := newReconciler(t)
	r.SelectTopic("billing")
	r.Reset()

	_, ok := r.Conversation()
	require.False(t, ok)
	require.Empty(t, r.Selected())
	require.False(t, r.ApplyLive(outgoing("e1", "billing", "")))
}

func TestSnapshotsAreCopies(t *testing.T) {
	r, _ := newReconciler(t)
	r.MergeHistory("billing", []model.Message{msg("m1")})

	got := r.Messages("billing")
	got[0].Content = "mutated"
	require.Equal(t, "m1", r.Messages("billing")[0].Content)
}

func ids(messages []model.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

func TestMetadataRefreshPrunesUnreadOfRemovedTopics(t *testing.T) {
	r, _ := newReconciler(t)
	r.SelectTopic(model.DefaultTopicID)
	r.ApplyLive(outgoing("e1", "billing", model.MessageTypeChat))
	require.Equal(t, 1, r.Unread()["billing"])

	r.ApplyTopics(identityA1, []model.Topic{model.NewDefaultTopic()})
	require.NotContains(t, r.Unread(), "billing")
	require.False(t, r.HasTopic("billing"))

	r.ApplyTopics(identityA1, baseTopics())
	require.True(t, r.HasTopic("billing"))
	require.Empty(t, r.Unread())
	require.Empty(t, r.Messages("billing"))
}

func TestHasTopic(t *testing.T) {
	require.False(t, New(nil, nil).HasTopic("billing"))

	r, _ := newReconciler(t)
	require.True(t, r.HasTopic("billing"))
	require.True(t, r.HasTopic(model.DefaultTopicID))
	require.False(t, r.HasTopic("escalations"))
}
