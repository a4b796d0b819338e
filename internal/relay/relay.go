// Package relay delivers finalized records to the downstream sinks. Forward
// never propagates a failure to the caller: one bad record must not abort
// stream consumption.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tapline/internal/metrics"
	"tapline/internal/tracing"
)

// Record is the outbound payload for one post or one merged thread. For
// grouped threads TweetID carries the conversation id.
type Record struct {
	Timestamp      time.Time
	Username       string
	TweetID        string
	ConversationID string
	Text           string
	ExpandedURL    string
}

// webhookPayload is the wire shape the sink expects.
type webhookPayload struct {
	Timestamp      time.Time `json:"timestamp"`
	Username       string    `json:"username"`
	TweetID        string    `json:"tweetId"`
	ConversationID string    `json:"conversationId"`
	TweetText      string    `json:"tweetText"`
	ExpandedURL    string    `json:"tweetExpandedURL,omitempty"`
}

// Archiver mirrors records into local storage. Implementations are
// best-effort; errors are logged and dropped.
type Archiver interface {
	Archive(rec Record) error
}

// Relay forwards records to the webhook and, when configured, to the
// secondary datastore and local archive.
type Relay struct {
	webhookURL string
	client     *http.Client
	datastore  *Datastore
	archiver   Archiver
}

// Option configures optional sinks on a Relay.
type Option func(*Relay)

// WithDatastore attaches the secondary persistence sink.
func WithDatastore(ds *Datastore) Option {
	return func(r *Relay) { r.datastore = ds }
}

// WithArchiver attaches the local archive sink.
func WithArchiver(a Archiver) Option {
	return func(r *Relay) { r.archiver = a }
}

// New creates a Relay posting to webhookURL.
func New(webhookURL string, opts ...Option) *Relay {
	r := &Relay{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Forward posts one record to the webhook, then runs the optional sinks.
// Each sink's failure is logged independently; none of them is retried and
// none affects the others.
func (r *Relay) Forward(ctx context.Context, rec Record) {
	ctx, span := tracing.ForwardSpan(ctx, rec.TweetID, rec.ConversationID)
	defer span.End()

	if err := r.post(ctx, rec); err != nil {
		metrics.ForwardsTotal.WithLabelValues("error").Inc()
		tracing.EndWithError(span, err)
		log.Error().
			Err(err).
			Str("tweet_id", rec.TweetID).
			Str("conversation_id", rec.ConversationID).
			Msg("relay: webhook forward failed")
	} else {
		metrics.ForwardsTotal.WithLabelValues("ok").Inc()
	}

	if r.datastore != nil {
		if err := r.datastore.Insert(ctx, rec); err != nil {
			metrics.DatastoreErrorsTotal.Inc()
			log.Error().
				Err(err).
				Str("tweet_id", rec.TweetID).
				Msg("relay: datastore insert failed")
		}
	}

	if r.archiver != nil {
		if err := r.archiver.Archive(rec); err != nil {
			log.Error().
				Err(err).
				Str("tweet_id", rec.TweetID).
				Msg("relay: archive write failed")
		}
	}
}

func (r *Relay) post(ctx context.Context, rec Record) error {
	body, err := json.Marshal(webhookPayload{
		Timestamp:      rec.Timestamp,
		Username:       rec.Username,
		TweetID:        rec.TweetID,
		ConversationID: rec.ConversationID,
		TweetText:      rec.Text,
		ExpandedURL:    rec.ExpandedURL,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, readDetail(resp.Body))
	}
	return nil
}

// readDetail pulls a bounded amount of response body for error logs.
func readDetail(body io.Reader) string {
	detail, err := io.ReadAll(io.LimitReader(body, 512))
	if err != nil || len(detail) == 0 {
		return "(no body)"
	}
	return string(bytes.TrimSpace(detail))
}
