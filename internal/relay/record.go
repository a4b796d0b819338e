package relay

import (
	"tapline/internal/stream"
	"tapline/internal/text"
)

// FromPost flattens one stream post into a forwardable record, running text
// reconstruction against the includes side-table.
func FromPost(post *stream.Post, includes *stream.Includes) Record {
	return Record{
		Timestamp:      post.CreatedAt,
		Username:       includes.Username(post.AuthorID),
		TweetID:        post.ID,
		ConversationID: post.ConversationID,
		Text:           text.Reconstruct(post, includes),
		ExpandedURL:    text.LongestExpandedURL(post),
	}
}
