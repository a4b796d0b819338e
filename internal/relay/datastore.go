package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Datastore is the optional secondary persistence sink: one row insert per
// record into a hosted table over its REST interface. Inserts are
// best-effort and never block or retry the primary forward path.
type Datastore struct {
	endpoint string
	key      string
	table    string
	client   *http.Client
}

// tweetRow matches the tweets table schema.
type tweetRow struct {
	PostID         string    `json:"post_id"`
	Timestamp      time.Time `json:"timestamp"`
	XID            string    `json:"x_id"`
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	ExpandedURL    string    `json:"expanded_url,omitempty"`
}

// NewDatastore creates a datastore sink for the given endpoint and API key.
func NewDatastore(endpoint, key string) *Datastore {
	return &Datastore{
		endpoint: strings.TrimRight(endpoint, "/"),
		key:      key,
		table:    "tweets",
		client: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Insert writes one row for the record.
func (d *Datastore) Insert(ctx context.Context, rec Record) error {
	body, err := json.Marshal(tweetRow{
		PostID:         rec.TweetID,
		Timestamp:      rec.Timestamp,
		XID:            rec.Username,
		ConversationID: rec.ConversationID,
		Text:           rec.Text,
		ExpandedURL:    rec.ExpandedURL,
	})
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}

	url := d.endpoint + "/rest/v1/" + d.table
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", d.key)
	req.Header.Set("Authorization", "Bearer "+d.key)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("insert row: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("datastore status %d: %s", resp.StatusCode, readDetail(resp.Body))
	}
	return nil
}
