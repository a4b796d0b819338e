package stream

import (
	"net/url"

	"github.com/google/go-querystring/query"
)

// SubscriptionParams declares which post and author fields the gateway should
// deliver and which referenced objects it should expand inline. Omitting an
// expansion silently degrades text reconstruction to placeholder handles, so
// DefaultSubscriptionParams requests everything the reconstructor reads.
type SubscriptionParams struct {
	TweetFields []string `url:"tweet.fields,comma,omitempty"`
	UserFields  []string `url:"user.fields,comma,omitempty"`
	Expansions  []string `url:"expansions,comma,omitempty"`
	Compress    bool     `url:"compress,omitempty"`
}

// DefaultSubscriptionParams returns the field set tapline depends on.
func DefaultSubscriptionParams() SubscriptionParams {
	return SubscriptionParams{
		TweetFields: []string{
			"created_at",
			"conversation_id",
			"extended_text",
			"referenced_tweets",
			"entities",
		},
		UserFields: []string{"username"},
		Expansions: []string{
			"author_id",
			"referenced_tweets.id",
			"referenced_tweets.id.author_id",
		},
	}
}

// BuildURL attaches the subscription parameters to a gateway endpoint.
func BuildURL(endpoint string, params SubscriptionParams) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}

	q, err := query.Values(params)
	if err != nil {
		return "", err
	}

	// Preserve any query parameters baked into the configured endpoint.
	existing := u.Query()
	for k, vs := range q {
		for _, v := range vs {
			existing.Add(k, v)
		}
	}
	u.RawQuery = existing.Encode()
	return u.String(), nil
}
