package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/ListingPipe/internal/models"
)

// DefaultSlackTimeout bounds one webhook request.
const DefaultSlackTimeout = 10 * time.Second

// IsPlaceholderWebhook reports whether url is unset or still the sample value
// from the example configuration.
func IsPlaceholderWebhook(url string) bool {
	url = strings.TrimSpace(url)
	return url == "" || strings.Contains(url, "YOUR")
}

type slackAttachment struct {
	ImageURL string `json:"image_url"`
	Text     string `json:"text"`
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

// SlackNotifier posts to a Slack incoming webhook.
type SlackNotifier struct {
	url    string
	client *http.Client
}

// NewSlackNotifier returns a notifier for webhookURL. A nil client gets
// DefaultSlackTimeout.
func NewSlackNotifier(webhookURL string, client *http.Client) (*SlackNotifier, error) {
	if IsPlaceholderWebhook(webhookURL) {
		return nil, fmt.Errorf("slack webhook URL not configured")
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultSlackTimeout}
	}
	return &SlackNotifier{url: webhookURL, client: client}, nil
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Notify(ctx context.Context, _ models.Listing, msg Message) error {
	payload := slackPayload{Text: msg.Text}
	if msg.ImageURL != "" {
		payload.Attachments = []slackAttachment{{ImageURL: msg.ImageURL, Text: "Listing Image"}}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
