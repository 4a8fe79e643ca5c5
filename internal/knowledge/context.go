package knowledge

import (
	"context"
	"fmt"
	"strings"
)

// ContextString formats the records relevant to query as a block ready
// for prompt injection. Record content is wrapped in XML-style tags and
// sanitized so stored text cannot break out of its context item.
func (b *Base) ContextString(ctx context.Context, query string, tags []string) string {
	records := b.Retrieve(ctx, query, tags, 0)
	if len(records) == 0 {
		return "No relevant past learnings found."
	}

	var sb strings.Builder
	sb.WriteString("## Relevant Past Learnings\n\n")
	for _, record := range records {
		title := escapeAngle(record.Title)
		category := escapeAngle(record.Category)
		content := strings.ReplaceAll(record.Content.SearchText(), "</context_item>", "")

		sb.WriteString("<context_item>\n")
		fmt.Fprintf(&sb, "  <title>%s</title>\n", title)
		fmt.Fprintf(&sb, "  <category>%s</category>\n", category)
		fmt.Fprintf(&sb, "  <content>\n%s\n  </content>\n", content)
		sb.WriteString("</context_item>\n\n")
	}
	return sb.String()
}

func escapeAngle(s string) string {
	return strings.ReplaceAll(s, "<", "&lt;")
}
