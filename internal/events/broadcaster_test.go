package events

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case e, ok := <-sub.C:
		require.True(t, ok, "stream closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for journal entry")
		return Event{}
	}
}

func assertNothing(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case e := <-sub.C:
		t.Fatalf("unexpected journal entry %s %v", e.Name, e.Fields)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestFilterMatch(t *testing.T) {
	e := Event{Name: "scene.loaded", Fields: map[string]interface{}{"scene": "web", SessionField: "s1"}}

	assert.True(t, Filter{}.Match(e))
	assert.True(t, Filter{Scene: "web"}.Match(e))
	assert.True(t, Filter{Scene: "web", SessionID: "s1"}.Match(e))
	assert.False(t, Filter{Scene: "db"}.Match(e))
	assert.False(t, Filter{SessionID: "s2"}.Match(e))
	assert.False(t, Filter{Scene: "web"}.Match(Event{Name: "system.startup"}))
}

func TestFilterFromQuery(t *testing.T) {
	q := url.Values{"scene": {"web"}, "session": {"s1"}, "other": {"x"}}
	assert.Equal(t, Filter{Scene: "web", SessionID: "s1"}, FilterFromQuery(q))
	assert.Equal(t, Filter{}, FilterFromQuery(url.Values{}))
}

func TestSubscribersSeeOnlyTheirSession(t *testing.T) {
	all := Subscribe(Filter{})
	defer Unsubscribe(all)
	mine := Subscribe(Filter{SessionID: "s1"})
	defer Unsubscribe(mine)

	_, err := Emit("info", "scene.loaded", "", map[string]interface{}{"scene": "web", SessionField: "s2"})
	require.NoError(t, err)
	_, err = Emit("info", "dependency.created", "", map[string]interface{}{"scene": "web", SessionField: "s1"})
	require.NoError(t, err)

	assert.Equal(t, "scene.loaded", receive(t, all).Name)
	assert.Equal(t, "dependency.created", receive(t, all).Name)

	e := receive(t, mine)
	assert.Equal(t, "dependency.created", e.Name)
	assert.Equal(t, "s1", e.Fields[SessionField])
	assertNothing(t, mine)
}

func TestRejectedNamesAreNotBroadcast(t *testing.T) {
	sub := Subscribe(Filter{})
	defer Unsubscribe(sub)

	_, err := Emit("info", "node.started", "", nil)
	require.Error(t, err)
	assertNothing(t, sub)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	sub := Subscribe(Filter{Scene: "flood"})
	defer Unsubscribe(sub)

	for i := 0; i < subscriberBuffer+10; i++ {
		_, err := Emit("info", "status.changed", "", map[string]interface{}{"scene": "flood"})
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(10), sub.Dropped())
	assert.Len(t, sub.C, subscriberBuffer)
}

func TestRecentEventsFiltered(t *testing.T) {
	Clear()
	for i := 0; i < 10; i++ {
		scene := "web"
		if i%2 == 1 {
			scene = "db"
		}
		_, err := Emit("info", "status.changed", "", map[string]interface{}{"scene": scene, "i": i})
		require.NoError(t, err)
	}

	assert.Len(t, RecentEvents(0, Filter{}), 10)
	assert.Len(t, RecentEvents(100, Filter{}), 10)

	web := RecentEvents(3, Filter{Scene: "web"})
	require.Len(t, web, 3)
	assert.Equal(t, []interface{}{4, 6, 8}, []interface{}{web[0].Fields["i"], web[1].Fields["i"], web[2].Fields["i"]})

	assert.Empty(t, RecentEvents(0, Filter{SessionID: "nobody"}))
}

func TestUnsubscribeAfterShutdownIsNoop(t *testing.T) {
	CloseAllSubscribers()
	a := Subscribe(Filter{})
	b := Subscribe(Filter{Scene: "web"})
	require.Equal(t, 2, SubscriberCount())

	CloseAllSubscribers()
	assert.Equal(t, 0, SubscriberCount())
	for _, sub := range []*Subscriber{a, b} {
		_, ok := <-sub.C
		assert.False(t, ok, "expected the stream to be closed")
	}

	assert.NotPanics(t, func() {
		Unsubscribe(a)
		Unsubscribe(b)
		Unsubscribe(a)
	})
	assert.Equal(t, 0, SubscriberCount())
}
