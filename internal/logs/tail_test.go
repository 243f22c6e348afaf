package logs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/SceneWorkbench/internal/authority"
	"github.com/AaronLay10/SceneWorkbench/internal/authority/authoritytest"
)

var key = authority.Key{Scene: "web", Service: "api"}

func line(text string) authority.LogEvent {
	return authority.LogEvent{Text: text, Type: authority.LogStdout}
}

func TestTailBuffersAndFansOut(t *testing.T) {
	auth := authoritytest.New()
	feed := authoritytest.NewFeed()
	tail, err := Open(context.Background(), key, auth, feed, 3)
	require.NoError(t, err)
	defer tail.Close(context.Background())

	assert.Equal(t, []string{"start_emitting_service_logs(web,api)"}, callStrings(auth))
	assert.Equal(t, 1, feed.LogSubscribers(key))

	var seen []string
	stop := tail.Listen(func(ev authority.LogEvent) { seen = append(seen, ev.Text) })

	for _, s := range []string{"one", "two", "three", "four"} {
		feed.PublishLog(key, line(s))
	}
	assert.Equal(t, []string{"one", "two", "three", "four"}, seen)
	assert.Equal(t, []authority.LogEvent{line("two"), line("three"), line("four")}, tail.Lines())

	stop()
	feed.PublishLog(key, line("five"))
	assert.Len(t, seen, 4)
}

func TestTailClearResetsBuffer(t *testing.T) {
	feed := authoritytest.NewFeed()
	tail, err := Open(context.Background(), key, authoritytest.New(), feed, 0)
	require.NoError(t, err)

	feed.PublishLog(key, line("old"))
	feed.PublishLog(key, authority.LogEvent{Text: "restarted", Type: authority.LogStderr, Clear: true})
	feed.PublishLog(key, line("new"))

	lines := tail.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "restarted", lines[0].Text)
	assert.Equal(t, "new", lines[1].Text)
}

func TestTailClose(t *testing.T) {
	auth := authoritytest.New()
	feed := authoritytest.NewFeed()
	tail, err := Open(context.Background(), key, auth, feed, 10)
	require.NoError(t, err)

	require.NoError(t, tail.Close(context.Background()))
	require.NoError(t, tail.Close(context.Background()))
	assert.Equal(t, 0, feed.LogSubscribers(key))
	assert.Equal(t, []string{
		"start_emitting_service_logs(web,api)",
		"stop_emitting_service_logs(web,api)",
	}, callStrings(auth))

	feed.PublishLog(key, line("late"))
	assert.Empty(t, tail.Lines())
}

func TestTailOpenFailures(t *testing.T) {
	t.Run("emission rejected", func(t *testing.T) {
		auth := authoritytest.New()
		auth.FailOn("start_emitting_service_logs", errors.New("no such service"))
		feed := authoritytest.NewFeed()

		_, err := Open(context.Background(), key, auth, feed, 10)
		require.Error(t, err)
		assert.True(t, authority.IsAuthority(err))
		assert.Equal(t, 0, feed.LogSubscribers(key))
	})

	t.Run("subscription fails", func(t *testing.T) {
		auth := authoritytest.New()
		feed := authoritytest.NewFeed()
		feed.FailSubscribe(key, errors.New("broker down"))

		_, err := Open(context.Background(), key, auth, feed, 10)
		require.Error(t, err)
		var subErr *authority.SubscriptionError
		assert.ErrorAs(t, err, &subErr)
		assert.Len(t, auth.CallsFor("stop_emitting_service_logs"), 1)
	})

	t.Run("invalid service id", func(t *testing.T) {
		auth := authoritytest.New()
		_, err := Open(context.Background(), authority.Key{Scene: "web", Service: "bad id"}, auth, authoritytest.NewFeed(), 10)
		assert.True(t, authority.IsValidation(err))
		assert.Empty(t, auth.Calls())
	})
}

func callStrings(a *authoritytest.Authority) []string {
	var out []string
	for _, c := range a.Calls() {
		out = append(out, c.String())
	}
	return out
}
