package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ListingPipe/internal/models"
)

// Formatter renders the alert text for a listing.
type Formatter interface {
	Format(ctx context.Context, l models.Listing) Message
}

// TextFormatter renders a fixed multi-line summary.
type TextFormatter struct{}

func (TextFormatter) Format(_ context.Context, l models.Listing) Message {
	posted := l.PostTimeHint
	if posted == "" {
		posted = l.PostedAt.UTC().Format("2006-01-02 15:04 MST")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", l.Title)
	fmt.Fprintf(&b, "Price: *%s*\n", l.PriceText())
	fmt.Fprintf(&b, "Location: %s\n", orDash(l.Location))
	fmt.Fprintf(&b, "Posted: %s\n", posted)
	fmt.Fprintf(&b, "Link: %s", l.URL)
	return Message{Text: b.String(), ImageURL: l.FirstImage()}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Generator produces text from a system and user prompt.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const summarySystemPrompt = "You write short marketplace alerts. Summarize the listing in at most two " +
	"sentences, mention price and condition if known, and do not invent details."

// GenAIFormatter prepends a generated summary to the text alert. Any
// generation failure falls back to the plain text alert.
type GenAIFormatter struct {
	Generator Generator
	Fallback  Formatter
}

func (f GenAIFormatter) Format(ctx context.Context, l models.Listing) Message {
	fallback := f.Fallback
	if fallback == nil {
		fallback = TextFormatter{}
	}
	msg := fallback.Format(ctx, l)
	if f.Generator == nil {
		return msg
	}

	user := fmt.Sprintf("Title: %s\nPrice: %s\nLocation: %s\nDescription: %s",
		l.Title, l.PriceText(), l.Location, l.Description)
	summary, err := f.Generator.Generate(ctx, summarySystemPrompt, user)
	if err != nil || strings.TrimSpace(summary) == "" {
		slog.Warn("GenAIFormatter.Format: generation failed, using plain text", "id", l.ID, "error", err)
		return msg
	}
	msg.Text = strings.TrimSpace(summary) + "\n\n" + msg.Text
	return msg
}
