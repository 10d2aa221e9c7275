package listener

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"hookpush/internal/event"
)

// Parse converts a raw webhook body into a normalized event of the given
// kind. Media and game bodies must be JSON objects; generic bodies fall
// back to plain text when they are not JSON.
func Parse(kind event.SourceKind, body []byte, hdr http.Header) (event.Normalized, error) {
	switch kind {
	case event.KindMedia:
		return parseMedia(body)
	case event.KindGame:
		return parseGame(body, hdr)
	case event.KindGeneric:
		return parseGeneric(body), nil
	default:
		return event.Normalized{}, fmt.Errorf("unknown source kind %q", kind)
	}
}

// parseMedia handles the media-server webhook shapes seen in the wild.
// Detection is structural: Jellyfin/Emby send flat ItemType payloads, Plex
// nests everything under Metadata, Sonarr/Radarr send eventType plus a
// series/movie object. Anything else is parsed best-effort from common
// field names.
func parseMedia(body []byte) (event.Normalized, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return event.Normalized{}, fmt.Errorf("media payload is not a JSON object: %w", err)
	}

	m := &event.MediaPayload{}
	switch {
	case hasKey(raw, "ItemType") || hasKey(raw, "NotificationType"):
		// Jellyfin / Emby.
		m.Title = str(raw, "Name", "ItemName")
		m.MediaType = strings.ToLower(str(raw, "ItemType"))
		m.Year = num(raw, "Year")
		m.Overview = str(raw, "Overview")
		m.Server = str(raw, "ServerName")
		if s := str(raw, "SeriesName"); s != "" {
			m.Subtitle = m.Title
			m.Title = s
			episodeSubtitle(raw, m)
		}
	case hasKey(raw, "Metadata"):
		// Plex.
		meta, _ := raw["Metadata"].(map[string]any)
		if meta == nil {
			return event.Normalized{}, errors.New("plex payload has no Metadata object")
		}
		m.Title = str(meta, "title")
		m.MediaType = strings.ToLower(str(meta, "type"))
		m.Year = num(meta, "year")
		m.Overview = str(meta, "summary")
		m.Rating = flt(meta, "rating")
		if s := str(meta, "grandparentTitle"); s != "" {
			m.Subtitle = m.Title
			m.Title = s
		}
		if srv, ok := raw["Server"].(map[string]any); ok {
			m.Server = str(srv, "title")
		}
	case hasKey(raw, "eventType"):
		// Sonarr / Radarr.
		if series, ok := raw["series"].(map[string]any); ok {
			m.Title = str(series, "title")
			m.Year = num(series, "year")
			m.MediaType = "episode"
			if eps, ok := raw["episodes"].([]any); ok && len(eps) > 0 {
				if ep, ok := eps[0].(map[string]any); ok {
					m.Subtitle = fmt.Sprintf("S%02dE%02d %s",
						num(ep, "seasonNumber"), num(ep, "episodeNumber"), str(ep, "title"))
				}
			}
		} else if movie, ok := raw["movie"].(map[string]any); ok {
			m.Title = str(movie, "title")
			m.Year = num(movie, "year")
			m.MediaType = "movie"
			m.Overview = str(movie, "overview")
		}
		m.Server = str(raw, "instanceName", "applicationUrl")
	default:
		m.Title = str(raw, "title", "name", "Name")
		m.MediaType = strings.ToLower(str(raw, "type", "media_type"))
		m.Year = num(raw, "year")
		m.Overview = str(raw, "overview", "summary", "description")
		m.PosterURL = str(raw, "poster_url", "image", "thumb")
	}

	if strings.TrimSpace(m.Title) == "" {
		return event.Normalized{}, errors.New("media payload has no recognizable title")
	}
	if m.PosterURL == "" {
		m.PosterURL = str(raw, "poster_url", "image_url")
	}
	return event.Normalized{Kind: event.KindMedia, Media: m}, nil
}

func episodeSubtitle(raw map[string]any, m *event.MediaPayload) {
	season := num(raw, "SeasonNumber")
	episode := num(raw, "EpisodeNumber")
	if season > 0 || episode > 0 {
		m.Subtitle = fmt.Sprintf("S%02dE%02d %s", season, episode, m.Subtitle)
	}
}

// parseGame accepts the loosely structured pushes sent by game automation
// scripts. Field names vary per script, so each slot has a fallback chain;
// the source is detected from an explicit field, the payload text or the
// User-Agent header.
func parseGame(body []byte, hdr http.Header) (event.Normalized, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return event.Normalized{}, fmt.Errorf("game payload is not a JSON object: %w", err)
	}

	source := detectGameSource(raw, hdr)
	g := &event.GamePayload{
		Source:   source,
		GameName: str(raw, "game_name", "game"),
		Event:    str(raw, "title", "event", "action"),
		Level:    strings.ToLower(str(raw, "level")),
		Content:  str(raw, "desp", "content", "message"),
		Raw:      raw,
	}

	if g.GameName == "" {
		switch source {
		case "alas":
			g.GameName = "Azur Lane (Alas)"
		case "baas":
			g.GameName = "Blue Archive (BAAS)"
		default:
			g.GameName = "Game"
		}
	}
	if g.Event == "" {
		g.Event = "notification"
	}
	// Alas reports task failures inside the content body; surface the task
	// name in the event line.
	if source == "alas" && g.Content != "" {
		if task, ok := extractFailedTask(g.Content); ok {
			g.Event = "Task failed: " + task
		}
	}
	return event.Normalized{Kind: event.KindGame, Game: g}, nil
}

func extractFailedTask(content string) (string, bool) {
	i := strings.Index(content, "Task `")
	if i < 0 {
		return "", false
	}
	rest := content[i+len("Task `"):]
	j := strings.Index(rest, "` failed")
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

func detectGameSource(raw map[string]any, hdr http.Header) string {
	if s := strings.ToLower(str(raw, "source")); s != "" {
		switch {
		case strings.Contains(s, "alas"):
			return "alas"
		case strings.Contains(s, "baas"):
			return "baas"
		default:
			return s
		}
	}
	blob := strings.ToLower(fmt.Sprintf("%v", raw))
	if hdr != nil {
		blob += " " + strings.ToLower(hdr.Get("User-Agent"))
	}
	switch {
	case strings.Contains(blob, "baas") || strings.Contains(blob, "bluearchive"):
		return "baas"
	case strings.Contains(blob, "alas") || strings.Contains(blob, "azurlane"):
		return "alas"
	}
	return "generic_game"
}

// parseGeneric accepts anything: a JSON object with title/body fields, or a
// plain text body.
func parseGeneric(body []byte) event.Normalized {
	g := &event.GenericPayload{}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err == nil {
		g.Title = str(raw, "title", "subject", "name")
		g.Body = str(raw, "body", "message", "content", "text", "desp")
		g.Link = str(raw, "link", "url")
	} else {
		g.Body = strings.TrimSpace(string(body))
	}
	if g.Title == "" {
		g.Title = "Notification"
	}
	return event.Normalized{Kind: event.KindGeneric, Generic: g}
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

// str returns the first non-empty string among the named keys.
func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			switch t := v.(type) {
			case string:
				if s := strings.TrimSpace(t); s != "" {
					return s
				}
			case float64:
				return strconv.FormatFloat(t, 'f', -1, 64)
			}
		}
	}
	return ""
}

func num(m map[string]any, keys ...string) int {
	for _, k := range keys {
		switch t := m[k].(type) {
		case float64:
			return int(t)
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
				return n
			}
		}
	}
	return 0
}

func flt(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch t := m[k].(type) {
		case float64:
			return t
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return f
			}
		}
	}
	return 0
}
