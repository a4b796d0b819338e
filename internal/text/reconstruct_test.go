package text

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tapline/internal/stream"
)

func includesWith(tweets []stream.Post, users []stream.User) *stream.Includes {
	return &stream.Includes{Tweets: tweets, Users: users}
}

func TestReconstruct_BaseText(t *testing.T) {
	t.Run("short text when no extended text", func(t *testing.T) {
		post := &stream.Post{Text: "just a post"}
		assert.Equal(t, "just a post", Reconstruct(post, nil))
	})

	t.Run("extended text wins", func(t *testing.T) {
		post := &stream.Post{
			Text:         "truncated body…",
			ExtendedText: "the full untruncated body of the post",
		}
		assert.Equal(t, "the full untruncated body of the post", Reconstruct(post, nil))
	})

	t.Run("newlines collapse to spaces", func(t *testing.T) {
		post := &stream.Post{Text: "line one\nline two\r\nline three"}
		assert.Equal(t, "line one line two line three", Reconstruct(post, nil))
	})
}

func TestReconstruct_URLSubstitution(t *testing.T) {
	t.Run("replaces short url with display form", func(t *testing.T) {
		post := &stream.Post{
			Text: "check this https://t.co/abc123 out",
			Entities: &stream.Entities{URLs: []stream.URLEntity{
				{URL: "https://t.co/abc123", DisplayURL: "example.com/article"},
			}},
		}
		assert.Equal(t, "check this example.com/article out", Reconstruct(post, nil))
	})

	t.Run("skips truncated display forms", func(t *testing.T) {
		post := &stream.Post{
			Text: "see https://t.co/abc123",
			Entities: &stream.Entities{URLs: []stream.URLEntity{
				{URL: "https://t.co/abc123", DisplayURL: "example.com/very/long/pa…"},
			}},
		}
		assert.Equal(t, "see https://t.co/abc123", Reconstruct(post, nil))
	})

	t.Run("substitutes every qualifying url", func(t *testing.T) {
		post := &stream.Post{
			Text: "a https://t.co/one b https://t.co/two",
			Entities: &stream.Entities{URLs: []stream.URLEntity{
				{URL: "https://t.co/one", DisplayURL: "first.example"},
				{URL: "https://t.co/two", DisplayURL: "second.example"},
			}},
		}
		assert.Equal(t, "a first.example b second.example", Reconstruct(post, nil))
	})
}

func TestReconstruct_Retweet(t *testing.T) {
	includes := includesWith(
		[]stream.Post{{ID: "9", AuthorID: "u1", Text: "original\ncontent"}},
		[]stream.User{{ID: "u1", Username: "origauthor"}},
	)

	t.Run("replaces whole body with RT prefix", func(t *testing.T) {
		post := &stream.Post{
			Text:       "RT @origauthor: original…",
			References: []stream.Reference{{Type: stream.RefRetweeted, ID: "9"}},
		}
		assert.Equal(t, "RT @origauthor original content", Reconstruct(post, includes))
	})

	t.Run("retweet overrides earlier quote", func(t *testing.T) {
		inc := includesWith(
			[]stream.Post{
				{ID: "5", AuthorID: "u2", Text: "quoted body"},
				{ID: "9", AuthorID: "u1", Text: "retweeted body"},
			},
			[]stream.User{
				{ID: "u1", Username: "rtauthor"},
				{ID: "u2", Username: "qauthor"},
			},
		)
		post := &stream.Post{
			Text: "my own words",
			References: []stream.Reference{
				{Type: stream.RefQuoted, ID: "5"},
				{Type: stream.RefRetweeted, ID: "9"},
			},
		}
		out := Reconstruct(post, inc)
		assert.Equal(t, "RT @rtauthor retweeted body", out)
		assert.NotContains(t, out, "quoted tweet")
	})

	t.Run("missing target degrades to unknown", func(t *testing.T) {
		post := &stream.Post{
			Text:       "whatever",
			References: []stream.Reference{{Type: stream.RefRetweeted, ID: "404"}},
		}
		assert.Equal(t, "RT @unknown", Reconstruct(post, includes))
	})
}

func TestReconstruct_Quote(t *testing.T) {
	includes := includesWith(
		[]stream.Post{{ID: "7", AuthorID: "u3", Text: "hot\ntake"}},
		[]stream.User{{ID: "u3", Username: "someone"}},
	)

	t.Run("appends bracketed annotation", func(t *testing.T) {
		post := &stream.Post{
			Text:       "interesting",
			References: []stream.Reference{{Type: stream.RefQuoted, ID: "7"}},
		}
		assert.Equal(t,
			"interesting [quoted tweet by @someone]hot take[/quoted tweet]",
			Reconstruct(post, includes))
	})

	t.Run("quoted author missing from includes", func(t *testing.T) {
		inc := includesWith([]stream.Post{{ID: "7", AuthorID: "ghost", Text: "body"}}, nil)
		post := &stream.Post{
			Text:       "look",
			References: []stream.Reference{{Type: stream.RefQuoted, ID: "7"}},
		}
		assert.Equal(t,
			"look [quoted tweet by @unknown]body[/quoted tweet]",
			Reconstruct(post, inc))
	})

	t.Run("quoted extended text wins", func(t *testing.T) {
		inc := includesWith(
			[]stream.Post{{ID: "7", AuthorID: "u3", Text: "short…", ExtendedText: "the full quoted text"}},
			[]stream.User{{ID: "u3", Username: "someone"}},
		)
		post := &stream.Post{
			Text:       "see",
			References: []stream.Reference{{Type: stream.RefQuoted, ID: "7"}},
		}
		assert.Equal(t,
			"see [quoted tweet by @someone]the full quoted text[/quoted tweet]",
			Reconstruct(post, inc))
	})
}

func TestReconstruct_RepliedToIgnored(t *testing.T) {
	post := &stream.Post{
		Text:       "@friend sure thing",
		References: []stream.Reference{{Type: stream.RefRepliedTo, ID: "3"}},
	}
	assert.Equal(t, "@friend sure thing", Reconstruct(post, nil))
}

func TestLongestExpandedURL(t *testing.T) {
	t.Run("picks longest non-media url", func(t *testing.T) {
		post := &stream.Post{
			Entities: &stream.Entities{URLs: []stream.URLEntity{
				{URL: "https://t.co/a", ExpandedURL: "https://example.com/a"},
				{URL: "https://t.co/b", ExpandedURL: "https://example.com/a/much/longer/path"},
				{URL: "https://t.co/c", ExpandedURL: "https://example.com/media/even/longer/than/that", MediaKey: "3_123"},
			}},
		}
		assert.Equal(t, "https://example.com/a/much/longer/path", LongestExpandedURL(post))
	})

	t.Run("empty without entities", func(t *testing.T) {
		assert.Equal(t, "", LongestExpandedURL(&stream.Post{}))
	})
}
