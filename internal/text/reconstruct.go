// Package text rebuilds a post's display text from the raw stream event.
// Everything here is pure: no state, no I/O.
package text

import (
	"strings"

	"tapline/internal/stream"
)

const truncationMarker = "…"

// Reconstruct produces the final display text for a post given its includes
// side-table. It never returns an error and never emits embedded newlines;
// downstream consumers are row-oriented.
//
// Composition rules, in order:
//  1. extended text wins over the short text when present
//  2. shortened URLs are replaced with their display form, but only when the
//     display form is not itself truncated (no "…" marker)
//  3. references are rendered in provider order: a quote appends a bracketed
//     annotation, a retweet replaces the whole accumulated text with an
//     "RT @handle" prefix. At most one rendering survives; a later retweet
//     overwrites any earlier quote annotation.
func Reconstruct(post *stream.Post, includes *stream.Includes) string {
	out := baseText(post)

	for _, ref := range post.References {
		switch ref.Type {
		case stream.RefRetweeted:
			handle, body := resolveRef(ref.ID, includes)
			out = "RT @" + handle + " " + collapseNewlines(body)
		case stream.RefQuoted:
			handle, body := resolveRef(ref.ID, includes)
			out += " [quoted tweet by @" + handle + "]" + collapseNewlines(body) + "[/quoted tweet]"
		}
	}

	return strings.TrimSpace(collapseNewlines(out))
}

// baseText picks the post's own body and applies URL substitution.
func baseText(post *stream.Post) string {
	body := post.Text
	if post.ExtendedText != "" {
		body = post.ExtendedText
	}
	return substituteURLs(body, post.Entities)
}

// substituteURLs replaces each shortened URL appearing verbatim in the body
// with its display form, skipping display forms the provider truncated.
func substituteURLs(body string, entities *stream.Entities) string {
	if entities == nil {
		return body
	}
	for _, u := range entities.URLs {
		if u.URL == "" || u.DisplayURL == "" {
			continue
		}
		if strings.Contains(u.DisplayURL, truncationMarker) {
			continue
		}
		body = strings.ReplaceAll(body, u.URL, u.DisplayURL)
	}
	return body
}

// resolveRef looks up a referenced post and its author. A target missing
// from the includes degrades to the "unknown" handle and an empty body.
func resolveRef(id string, includes *stream.Includes) (handle, body string) {
	ref := includes.Tweet(id)
	if ref == nil {
		return "unknown", ""
	}
	refBody := ref.Text
	if ref.ExtendedText != "" {
		refBody = ref.ExtendedText
	}
	return includes.Username(ref.AuthorID), substituteURLs(refBody, ref.Entities)
}

// LongestExpandedURL returns the longest fully-expanded non-media URL among
// the post's own entities, or "" when the post carries none.
func LongestExpandedURL(post *stream.Post) string {
	if post.Entities == nil {
		return ""
	}
	var longest string
	for _, u := range post.Entities.URLs {
		if u.MediaKey != "" {
			continue
		}
		if len(u.ExpandedURL) > len(longest) {
			longest = u.ExpandedURL
		}
	}
	return longest
}

func collapseNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}
