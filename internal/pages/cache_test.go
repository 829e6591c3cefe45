package pages

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-console/internal/messaging"
	"github.com/capitalize-ai/agent-console/internal/model"
)

// fakeHistory serves a topic's history newest-first, paginated like the backend.
type fakeHistory struct {
	mu    sync.Mutex
	calls int
	items map[string][]messaging.HistoryItem // newest first
	fail  map[int]error
	gate  chan struct{}
}

func (f *fakeHistory) History(ctx context.Context, q messaging.HistoryQuery) ([]messaging.HistoryItem, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	err := f.fail[q.Page]
	all := f.items[q.Topic]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	start := (q.Page - 1) * q.PageSize
	if start >= len(all) {
		return []messaging.HistoryItem{}, nil
	}
	end := start + q.PageSize
	if end > len(all) {
		end = len(all)
	}
	return append([]messaging.HistoryItem(nil), all[start:end]...), nil
}

// history builds n items newest first: m{n} ... m1.
func history(n int) []messaging.HistoryItem {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]messaging.HistoryItem, 0, n)
	for i := n; i >= 1; i-- {
		out = append(out, messaging.HistoryItem{
			ID:        fmt.Sprintf("m%d", i),
			Text:      fmt.Sprintf("message %d", i),
			Direction: model.DirectionOutgoing,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func newCache(f *fakeHistory) *Cache {
	return NewCache(f, Target{TenantID: "acme", AgentName: "AgentA", ActivationName: "Inst1"}, nil)
}

func TestLoadInitialOrdersChronologically(t *testing.T) {
	f := &fakeHistory{items: map[string][]messaging.HistoryItem{"billing": history(3)}}
	cache := newCache(f)

	st, attempted, err := cache.LoadInitial(context.Background(), "billing")
	require.NoError(t, err)
	require.True(t, attempted)
	require.Equal(t, []string{"m1", "m2", "m3"}, ids(st.Messages))
	require.False(t, st.HasMore)
	require.False(t, st.IsLoading)
	require.Equal(t, 1, st.Page)
}

func TestLoadInitialSkippedWhenEntryExists(t *testing.T) {
	f := &fakeHistory{items: map[string][]messaging.HistoryItem{}}
	cache := newCache(f)

	st, attempted, err := cache.LoadInitial(context.Background(), "empty")
	require.NoError(t, err)
	require.True(t, attempted)
	require.Empty(t, st.Messages)

	_, attempted, err = cache.LoadInitial(context.Background(), "empty")
	require.NoError(t, err)
	require.False(t, attempted)
	require.Equal(t, 1, f.calls)
}

func TestHasMoreFollowsPageSizeHeuristic(t *testing.T) {
	f := &fakeHistory{items: map[string][]messaging.HistoryItem{
		"full":    history(27),
		"partial": history(7),
	}}
	cache := newCache(f)

	st, _, err := cache.LoadInitial(context.Background(), "full")
	require.NoError(t, err)
	require.True(t, st.HasMore)

	st, added, err := cache.LoadMore(context.Background(), "full")
	require.NoError(t, err)
	require.Len(t, added, PageSize)
	require.True(t, st.HasMore)

	st, added, err = cache.LoadMore(context.Background(), "full")
	require.NoError(t, err)
	require.Len(t, added, 7)
	require.False(t, st.HasMore)
	require.Len(t, st.Messages, 27)

	st, _, err = cache.LoadInitial(context.Background(), "partial")
	require.NoError(t, err)
	require.False(t, st.HasMore)
}

func TestLoadMorePrependsUniqueInOrder(t *testing.T) {
	items := history(20)
	// The second page overlaps the first by two messages.
	items = append(items[:10], append([]messaging.HistoryItem{items[8], items[9]}, items[10:18]...)...)
	f := &fakeHistory{items: map[string][]messaging.HistoryItem{"billing": items}}
	cache := newCache(f)

	_, _, err := cache.LoadInitial(context.Background(), "billing")
	require.NoError(t, err)

	st, added, err := cache.LoadMore(context.Background(), "billing")
	require.NoError(t, err)
	require.Equal(t, []string{"m3", "m4", "m5", "m6", "m7", "m8", "m9", "m10"}, ids(added))
	require.Equal(t, 2, st.Page)
	require.True(t, st.HasMore)

	seen := map[string]bool{}
	for _, m := range st.Messages {
		require.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
	}
	for i := 1; i < len(st.Messages); i++ {
		require.True(t, st.Messages[i-1].Timestamp.Before(st.Messages[i].Timestamp))
	}
}

func TestLoadMoreFailureKeepsMessages(t *testing.T) {
	f := &fakeHistory{
		items: map[string][]messaging.HistoryItem{"billing": history(15)},
		fail:  map[int]error{2: errors.New("backend down")},
	}
	cache := newCache(f)

	before, _, err := cache.LoadInitial(context.Background(), "billing")
	require.NoError(t, err)

	st, added, err := cache.LoadMore(context.Background(), "billing")
	require.EqualError(t, err, "backend down")
	require.Nil(t, added)
	require.False(t, st.IsLoadingMore)
	require.Equal(t, ids(before.Messages), ids(st.Messages))
	require.Equal(t, 1, st.Page)
}

func TestLoadInitialFailureLeavesEmptyEntry(t *testing.T) {
	f := &fakeHistory{
		items: map[string][]messaging.HistoryItem{"billing": history(5)},
		fail:  map[int]error{1: errors.New("backend down")},
	}
	cache := newCache(f)

	st, attempted, err := cache.LoadInitial(context.Background(), "billing")
	require.Error(t, err)
	require.True(t, attempted)
	require.Empty(t, st.Messages)
	require.False(t, st.IsLoading)

	_, attempted, _ = cache.LoadInitial(context.Background(), "billing")
	require.False(t, attempted)
}

func TestLoadMoreWithoutEntryIsNoop(t *testing.T) {
	f := &fakeHistory{}
	cache := newCache(f)

	_, added, err := cache.LoadMore(context.Background(), "billing")
	require.NoError(t, err)
	require.Nil(t, added)
	require.Zero(t, f.calls)
}

func TestResetDiscardsInFlightLoad(t *testing.T) {
	gate := make(chan struct{})
	f := &fakeHistory{items: map[string][]messaging.HistoryItem{"billing": history(3)}, gate: gate}
	cache := newCache(f)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := cache.LoadInitial(context.Background(), "billing")
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		_, ok := cache.State("billing")
		return ok
	}, time.Second, 5*time.Millisecond)

	cache.Reset(Target{TenantID: "acme", AgentName: "AgentA", ActivationName: "Inst2"})
	close(gate)

	require.ErrorIs(t, <-errCh, ErrSuperseded)
	_, ok := cache.State("billing")
	require.False(t, ok)
	require.Empty(t, cache.States())
}

func TestClearAllowsReload(t *testing.T) {
	f := &fakeHistory{items: map[string][]messaging.HistoryItem{"billing": history(2)}}
	cache := newCache(f)

	_, _, err := cache.LoadInitial(context.Background(), "billing")
	require.NoError(t, err)
	cache.Clear("billing")

	_, attempted, err := cache.LoadInitial(context.Background(), "billing")
	require.NoError(t, err)
	require.True(t, attempted)
	require.Equal(t, 2, f.calls)
}

func TestRetainDropsUnlistedTopics(t *testing.T) {
	f := &fakeHistory{items: map[string][]messaging.HistoryItem{"billing": history(3), "support": history(1)}}
	cache := newCache(f)

	_, _, err := cache.LoadInitial(context.Background(), "billing")
	require.NoError(t, err)
	_, _, err = cache.LoadInitial(context.Background(), "support")
	require.NoError(t, err)

	dropped := cache.Retain([]model.Topic{model.NewDefaultTopic(), {ID: "support"}})
	require.Equal(t, []string{"billing"}, dropped)
	_, ok := cache.State("billing")
	require.False(t, ok)
	_, ok = cache.State("support")
	require.True(t, ok)

	st, attempted, err := cache.LoadInitial(context.Background(), "billing")
	require.NoError(t, err)
	require.True(t, attempted)
	require.Equal(t, []string{"m1", "m2", "m3"}, ids(st.Messages))
}
