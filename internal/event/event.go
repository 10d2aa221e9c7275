package event

import (
	"errors"
	"time"
)

// SourceKind classifies where a webhook notification came from. The kind is
// decided once at the HTTP boundary (from the route that received it) and is
// never re-interpreted downstream.
type SourceKind string

const (
	KindMedia   SourceKind = "media"
	KindGame    SourceKind = "game"
	KindGeneric SourceKind = "generic"
)

// Valid reports whether k is one of the closed set of kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case KindMedia, KindGame, KindGeneric:
		return true
	}
	return false
}

// ErrNoDestination is returned by the engine when an event arrives without a
// destination key. That is a contract violation by the listener layer, so it
// is rejected loudly instead of being dropped.
var ErrNoDestination = errors.New("event has no destination key")

// Normalized is the canonical representation every webhook source converts
// into before entering the aggregation engine.
//
// DestinationKey identifies the chat group/channel the event targets and is
// the unit of batching isolation: events with different keys never merge.
// It is immutable after creation.
type Normalized struct {
	TraceID        string
	Kind           SourceKind
	DestinationKey string
	ReceivedAt     time.Time

	// Exactly one of the payload pointers below is set, matching Kind.
	Media   *MediaPayload
	Game    *GamePayload
	Generic *GenericPayload

	// Summary is filled by the summarizer gateway when AI analysis is
	// enabled. Empty until enrichment runs (or after it fails).
	Summary string
}

// MediaPayload carries a media-server notification (new episode, movie
// added, playback event, ...). Fields are best-effort extracted from the
// vendor payload; Title is the only one the renderer relies on.
type MediaPayload struct {
	Title     string
	Subtitle  string
	MediaType string // "movie", "episode", "season", ...
	Year      int
	Overview  string
	PosterURL string
	Rating    float64
	Server    string // originating media server name, if reported
}

// GamePayload carries a notification from a game automation script. These
// payloads are loosely structured free text; Source is detected from the
// payload or request headers.
type GamePayload struct {
	Source   string // "alas", "baas", "generic_game", ...
	GameName string
	Event    string
	Level    string
	Content  string
	Raw      map[string]any
}

// GenericPayload carries a plain webhook notification.
type GenericPayload struct {
	Title string
	Body  string
	Link  string
}

// Text returns the free-form text of the event used for AI summarization.
// Only game payloads are considered unstructured enough to summarize.
func (n Normalized) Text() string {
	switch n.Kind {
	case KindGame:
		if n.Game != nil {
			return n.Game.Content
		}
	case KindGeneric:
		if n.Generic != nil {
			return n.Generic.Body
		}
	case KindMedia:
		if n.Media != nil {
			return n.Media.Overview
		}
	}
	return ""
}

// Title returns a short one-line label for the event, used in digests and
// audit entries.
func (n Normalized) Title() string {
	switch n.Kind {
	case KindMedia:
		if n.Media != nil {
			return n.Media.Title
		}
	case KindGame:
		if n.Game != nil {
			if n.Game.Event != "" {
				return n.Game.GameName + ": " + n.Game.Event
			}
			return n.Game.GameName
		}
	case KindGeneric:
		if n.Generic != nil {
			return n.Generic.Title
		}
	}
	return string(n.Kind)
}

// Unit is a render-ready group of one or more events of the same kind from
// one flush. It is produced by the merge policy, consumed once by the
// dispatcher and then discarded.
type Unit struct {
	Kind           SourceKind
	DestinationKey string
	Events         []Normalized

	// Digest summary for merged units, filled by the summarizer gateway.
	Summary string
}

// Merged reports whether the unit is a digest of multiple events.
func (u Unit) Merged() bool { return len(u.Events) > 1 }
