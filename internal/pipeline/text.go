package pipeline

import (
	"fmt"
	"html"
	"strings"
)

// Descriptions longer than this are wrapped in an expandable blockquote so
// the notification stays compact in the chat list.
const expandableDescriptionLen = 800

// notificationText renders the HTML message sent to every recipient.
func notificationText(ep *Episode) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🎉 %s has published a new episode - %s\n",
		htmlLink(ep.PodcastTitle, ep.PodcastLink),
		htmlLink(ep.Title, ep.Link))

	if desc := strings.TrimSpace(ep.Description); desc != "" {
		b.WriteString(blockquote(html.EscapeString(desc), len(desc) > expandableDescriptionLen))
		b.WriteString("\n")
	}

	footer := []string{htmlLink("audio", ep.AudioURL)}
	if ep.PodcastSlug != "" {
		footer = append(footer, "#"+ep.PodcastSlug)
	}
	b.WriteString(strings.Join(footer, " | "))

	return b.String()
}

func htmlLink(text, url string) string {
	text = html.EscapeString(text)
	if url == "" {
		return text
	}
	return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), text)
}

func blockquote(escaped string, expandable bool) string {
	if expandable {
		return "<blockquote expandable>" + escaped + "</blockquote>"
	}
	return "<blockquote>" + escaped + "</blockquote>"
}
