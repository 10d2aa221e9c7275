// Package render turns merge units into Telegram HTML messages.
//
// Rendering is a pure function of (unit, configured variants); it never
// touches the network or mutates the unit. All user-supplied text is
// HTML-escaped before it reaches the message body.
package render

import (
	"fmt"
	"html"
	"strings"

	"hookpush/internal/event"
)

// Media layout variants.
const (
	MediaPoster = "poster" // rich layout with poster preview and ratings
	MediaCard   = "card"   // compact plain layout, preview disabled
)

// Game/generic layout variants.
const (
	LayoutDetail  = "detail"  // full key-value layout with timestamp
	LayoutCompact = "compact" // header plus content only
)

// Message is a fully rendered outbound message.
type Message struct {
	Text           string
	ParseMode      string
	DisablePreview bool
}

type Config struct {
	// MediaVariant selects the media layout: "poster" or "card".
	// Empty means "poster".
	MediaVariant string
	// GameVariant selects the game layout: "detail" or "compact".
	// Empty means "detail".
	GameVariant string
	// CommonVariant selects the generic layout: "detail" or "compact".
	// Empty means "detail".
	CommonVariant string
}

type Renderer struct {
	mediaVariant  string
	gameVariant   string
	commonVariant string
}

func New(cfg Config) *Renderer {
	media := strings.ToLower(strings.TrimSpace(cfg.MediaVariant))
	if media != MediaCard {
		media = MediaPoster
	}
	return &Renderer{
		mediaVariant:  media,
		gameVariant:   layoutOrDetail(cfg.GameVariant),
		commonVariant: layoutOrDetail(cfg.CommonVariant),
	}
}

func layoutOrDetail(v string) string {
	if strings.ToLower(strings.TrimSpace(v)) == LayoutCompact {
		return LayoutCompact
	}
	return LayoutDetail
}

// Render produces the message for one unit. Single-event units keep the
// full per-kind layout; merged units get a digest frame with the member
// events in arrival order.
func (r *Renderer) Render(u event.Unit) (Message, error) {
	if len(u.Events) == 0 {
		return Message{}, fmt.Errorf("render: empty unit for key %q", u.DestinationKey)
	}
	if u.Merged() {
		return r.renderDigest(u), nil
	}
	return r.renderSingle(u.Events[0]), nil
}

func (r *Renderer) renderSingle(e event.Normalized) Message {
	switch e.Kind {
	case event.KindMedia:
		return r.renderMedia(e)
	case event.KindGame:
		return r.renderGame(e)
	default:
		return r.renderGeneric(e)
	}
}

func (r *Renderer) renderMedia(e event.Normalized) Message {
	m := e.Media
	if m == nil {
		return r.renderGeneric(e)
	}

	var b strings.Builder
	b.Grow(512)

	poster := r.mediaVariant == MediaPoster && m.PosterURL != ""
	if poster {
		// Invisible link so Telegram shows the poster as the preview.
		b.WriteString(fmt.Sprintf("<a href=\"%s\">&#8205;</a>", html.EscapeString(m.PosterURL)))
	}

	b.WriteString("🎬 <b>")
	b.WriteString(esc(m.Title))
	b.WriteString("</b>")
	if m.Year > 0 {
		b.WriteString(fmt.Sprintf(" (%d)", m.Year))
	}
	b.WriteString("\n")

	if m.Subtitle != "" {
		b.WriteString(esc(m.Subtitle))
		b.WriteString("\n")
	}
	if m.MediaType != "" {
		b.WriteString("Type: ")
		b.WriteString(esc(m.MediaType))
		b.WriteString("\n")
	}
	if r.mediaVariant == MediaPoster && m.Rating > 0 {
		b.WriteString(fmt.Sprintf("Rating: ⭐ %.1f\n", m.Rating))
	}
	if m.Overview != "" {
		b.WriteString("\n")
		b.WriteString(esc(clip(m.Overview, 400)))
		b.WriteString("\n")
	}
	if m.Server != "" {
		b.WriteString("\nServer: ")
		b.WriteString(esc(m.Server))
		b.WriteString("\n")
	}
	b.WriteString("Time: ")
	b.WriteString(e.ReceivedAt.Format("01/02 15:04"))

	return Message{Text: b.String(), ParseMode: "HTML", DisablePreview: !poster}
}

func (r *Renderer) renderGame(e event.Normalized) Message {
	g := e.Game
	if g == nil {
		return r.renderGeneric(e)
	}

	var b strings.Builder
	b.Grow(512)

	b.WriteString(levelEmoji(g.Level))
	b.WriteString(" <b>")
	b.WriteString(esc(nonEmpty(g.GameName, "Game")))
	b.WriteString("</b>")

	if r.gameVariant == LayoutCompact {
		if g.Event != "" {
			b.WriteString(" · ")
			b.WriteString(esc(g.Event))
		}
		if e.Summary != "" {
			b.WriteString("\n🤖 ")
			b.WriteString(esc(e.Summary))
		} else if g.Content != "" {
			b.WriteString("\n")
			b.WriteString(esc(clip(g.Content, 300)))
		}
		return Message{Text: b.String(), ParseMode: "HTML", DisablePreview: true}
	}

	b.WriteString("\n")
	if g.Event != "" {
		b.WriteString("Event: ")
		b.WriteString(esc(g.Event))
		b.WriteString("\n")
	}
	if g.Level != "" {
		b.WriteString("Level: ")
		b.WriteString(esc(g.Level))
		b.WriteString("\n")
	}
	if g.Source != "" {
		b.WriteString("Source: ")
		b.WriteString(esc(g.Source))
		b.WriteString("\n")
	}
	b.WriteString("Time: ")
	b.WriteString(e.ReceivedAt.Format("01/02 15:04"))

	if e.Summary != "" {
		b.WriteString("\n\n🤖 ")
		b.WriteString(esc(e.Summary))
	} else if g.Content != "" {
		b.WriteString("\n\n")
		b.WriteString(esc(clip(g.Content, 600)))
	}

	return Message{Text: b.String(), ParseMode: "HTML", DisablePreview: true}
}

func (r *Renderer) renderGeneric(e event.Normalized) Message {
	var b strings.Builder
	b.Grow(256)

	b.WriteString("🔔 <b>")
	b.WriteString(esc(nonEmpty(e.Title(), "Notification")))
	b.WriteString("</b>")

	g := e.Generic
	if r.commonVariant == LayoutCompact {
		if g != nil && g.Body != "" {
			b.WriteString("\n")
			b.WriteString(esc(clip(g.Body, 300)))
		}
		return Message{Text: b.String(), ParseMode: "HTML", DisablePreview: true}
	}

	b.WriteString("\n")
	if g != nil && g.Body != "" {
		b.WriteString(esc(clip(g.Body, 600)))
		b.WriteString("\n")
	}
	if g != nil && g.Link != "" {
		b.WriteString(fmt.Sprintf("<a href=\"%s\">Details</a>\n", html.EscapeString(g.Link)))
	}
	b.WriteString("Time: ")
	b.WriteString(e.ReceivedAt.Format("01/02 15:04"))

	return Message{Text: b.String(), ParseMode: "HTML", DisablePreview: true}
}

// renderDigest frames a merged unit. Member events keep arrival order and a
// compact one-entry-per-event layout.
func (r *Renderer) renderDigest(u event.Unit) Message {
	var b strings.Builder
	b.Grow(1024)

	b.WriteString(fmt.Sprintf("%s <b>%s</b> · %d updates\n", kindEmoji(u.Kind), kindLabel(u.Kind), len(u.Events)))
	b.WriteString("━━━━━━━━━━━━━━━━━━━━\n")

	for i, e := range u.Events {
		b.WriteString(fmt.Sprintf("%d. <b>%s</b>", i+1, esc(nonEmpty(e.Title(), string(e.Kind)))))
		if line := digestDetail(e); line != "" {
			b.WriteString("\n   ")
			b.WriteString(esc(clip(line, 160)))
		}
		b.WriteString(fmt.Sprintf("\n   %s\n", e.ReceivedAt.Format("01/02 15:04")))
	}

	if u.Summary != "" {
		b.WriteString("\n🤖 ")
		b.WriteString(esc(u.Summary))
	}

	return Message{Text: b.String(), ParseMode: "HTML", DisablePreview: true}
}

func digestDetail(e event.Normalized) string {
	switch e.Kind {
	case event.KindMedia:
		if e.Media != nil && e.Media.Subtitle != "" {
			return e.Media.Subtitle
		}
	case event.KindGame:
		if e.Summary != "" {
			return e.Summary
		}
		if e.Game != nil {
			return e.Game.Content
		}
	case event.KindGeneric:
		if e.Generic != nil {
			return e.Generic.Body
		}
	}
	return ""
}

func kindEmoji(k event.SourceKind) string {
	switch k {
	case event.KindMedia:
		return "🎬"
	case event.KindGame:
		return "🎮"
	default:
		return "🔔"
	}
}

func kindLabel(k event.SourceKind) string {
	switch k {
	case event.KindMedia:
		return "Media"
	case event.KindGame:
		return "Game"
	default:
		return "Notifications"
	}
}

func levelEmoji(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error", "critical", "crash", "crashed":
		return "❌"
	case "warning", "warn":
		return "⚠️"
	case "success", "ok":
		return "✅"
	default:
		return "🎮"
	}
}

func esc(s string) string { return html.EscapeString(s) }

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func clip(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max]) + "..."
}
