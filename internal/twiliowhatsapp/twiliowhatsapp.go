// Package twiliowhatsapp wraps the Twilio Messaging API used for listing alerts.
//
// A sender number prefixed with "whatsapp:" sends WhatsApp messages; any other
// sender number sends SMS/MMS.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

const whatsappPrefix = "whatsapp:"

// Sender sends one alert message, optionally with an image.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendMessageWithMedia(ctx context.Context, to string, body string, mediaURL string) error
}

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sender: "+15551234567" for SMS or "whatsapp:+15551234567".
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// Client wraps the Twilio REST API.
type Client struct {
	client   *twilio.RestClient
	from     string
	whatsapp bool
}

var _ Sender = (*Client)(nil)

func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	// Fallback to environment variables if not provided via options
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &Client{
		client:   client,
		from:     cfg.From,
		whatsapp: strings.HasPrefix(cfg.From, whatsappPrefix),
	}, nil
}

// Channel returns "whatsapp" or "sms" depending on the sender number.
func (c *Client) Channel() string {
	if c.whatsapp {
		return "whatsapp"
	}
	return "sms"
}

// SendMessage sends a text message.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	return c.SendMessageWithMedia(ctx, to, body, "")
}

// SendMessageWithMedia sends a message with an optional image URL.
func (c *Client) SendMessageWithMedia(ctx context.Context, to string, body string, mediaURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(FormatRecipient(to, c.whatsapp))
	params.SetFrom(c.from)
	params.SetBody(body)
	if mediaURL != "" {
		params.SetMediaUrl([]string{mediaURL})
	}

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}

	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("Twilio message sent", "to", to, "sid", sid, "channel", c.Channel())
	return nil
}

// FormatRecipient adds or strips the "whatsapp:" prefix to match the channel.
func FormatRecipient(to string, whatsapp bool) string {
	to = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(to), whatsappPrefix))
	if whatsapp {
		return whatsappPrefix + to
	}
	return to
}

// MockClient records messages instead of sending them. Err, when set, is
// returned by the next FailCount sends (every send when FailCount is 0).
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Err          error
	FailCount    int
	calls        int
}

type SentMessage struct {
	To       string
	Body     string
	MediaURL string
}

var _ Sender = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	return m.SendMessageWithMedia(ctx, to, body, "")
}

func (m *MockClient) SendMessageWithMedia(ctx context.Context, to string, body string, mediaURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil && (m.FailCount == 0 || m.calls <= m.FailCount) {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body, MediaURL: mediaURL})
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.SentMessages...)
}
