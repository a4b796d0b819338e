package stream

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildURL(t *testing.T) {
	t.Run("default params", func(t *testing.T) {
		raw, err := BuildURL("wss://gateway.example.com/2/tweets/stream", DefaultSubscriptionParams())
		require.NoError(t, err)

		u, err := url.Parse(raw)
		require.NoError(t, err)

		q := u.Query()
		assert.Contains(t, q.Get("tweet.fields"), "conversation_id")
		assert.Contains(t, q.Get("tweet.fields"), "referenced_tweets")
		assert.Contains(t, q.Get("expansions"), "referenced_tweets.id.author_id")
		assert.Equal(t, "username", q.Get("user.fields"))
		assert.Empty(t, q.Get("compress"))
	})

	t.Run("compression flag", func(t *testing.T) {
		params := DefaultSubscriptionParams()
		params.Compress = true
		raw, err := BuildURL("wss://gateway.example.com/stream", params)
		require.NoError(t, err)

		u, _ := url.Parse(raw)
		assert.Equal(t, "true", u.Query().Get("compress"))
	})

	t.Run("endpoint query params preserved", func(t *testing.T) {
		raw, err := BuildURL("wss://gateway.example.com/stream?rule=cats", DefaultSubscriptionParams())
		require.NoError(t, err)

		u, _ := url.Parse(raw)
		assert.Equal(t, "cats", u.Query().Get("rule"))
		assert.NotEmpty(t, u.Query().Get("tweet.fields"))
	})
}
