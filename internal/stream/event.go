// Package stream provides the client for the provider's filtered post
// firehose, delivered as JSON envelopes over a WebSocket gateway.
package stream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Reference descriptor kinds as sent by the provider.
const (
	RefQuoted    = "quoted"
	RefRetweeted = "retweeted"
	RefRepliedTo = "replied_to"
)

// URLEntity describes one URL found in a post's text.
type URLEntity struct {
	URL         string `json:"url"`
	DisplayURL  string `json:"display_url"`
	ExpandedURL string `json:"expanded_url"`
	MediaKey    string `json:"media_key,omitempty"`
}

// Reference points from one post to another with a relationship kind.
type Reference struct {
	Type string `json:"type"` // "quoted", "retweeted", "replied_to"
	ID   string `json:"id"`
}

// Entities carries the entity lists the subscription requests.
type Entities struct {
	URLs []URLEntity `json:"urls,omitempty"`
}

// Post is a single post from the stream. IDs are opaque decimal strings and
// must never be parsed into floats; see text.CompareIDs.
type Post struct {
	ID             string      `json:"id"`
	AuthorID       string      `json:"author_id"`
	ConversationID string      `json:"conversation_id"`
	CreatedAt      time.Time   `json:"created_at"`
	Text           string      `json:"text"`
	ExtendedText   string      `json:"extended_text,omitempty"`
	References     []Reference `json:"referenced_tweets,omitempty"`
	Entities       *Entities   `json:"entities,omitempty"`
}

// User is an author record from the includes side-table.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
}

// Includes is the side-table of expanded objects accompanying a post.
// A referenced post or author may be absent (provider omission); callers
// must degrade to placeholders rather than fail.
type Includes struct {
	Tweets []Post `json:"tweets,omitempty"`
	Users  []User `json:"users,omitempty"`
}

// Tweet returns the included post with the given id, or nil.
func (in *Includes) Tweet(id string) *Post {
	if in == nil {
		return nil
	}
	for i := range in.Tweets {
		if in.Tweets[i].ID == id {
			return &in.Tweets[i]
		}
	}
	return nil
}

// Username returns the handle for an author id, or "unknown" when the
// provider omitted the user record.
func (in *Includes) Username(authorID string) string {
	if in != nil {
		for i := range in.Users {
			if in.Users[i].ID == authorID {
				return in.Users[i].Username
			}
		}
	}
	return "unknown"
}

// MatchingRule identifies the filter rule an event matched.
type MatchingRule struct {
	ID  string `json:"id"`
	Tag string `json:"tag"`
}

// Event is one message from the gateway. Heartbeats carry no post.
type Event struct {
	Data          *Post          `json:"data,omitempty"`
	Includes      *Includes      `json:"includes,omitempty"`
	MatchingRules []MatchingRule `json:"matching_rules,omitempty"`
}

// IsHeartbeat reports whether the event is a liveness heartbeat rather than
// a post delivery.
func (e *Event) IsHeartbeat() bool {
	return e.Data == nil
}

// ParseEvent decodes a gateway message. Whitespace-only messages are the
// provider's keep-alive heartbeats and decode to an empty event.
func ParseEvent(data []byte) (*Event, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return &Event{}, nil
	}

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		preview := data
		if len(preview) > 50 {
			preview = preview[:50]
		}
		return nil, fmt.Errorf("unmarshal event (first bytes: %q): %w", preview, err)
	}
	return &event, nil
}
