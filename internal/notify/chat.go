package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/BTreeMap/ListingPipe/internal/models"
)

// TextSender is satisfied by the Twilio and WhatsApp clients.
type TextSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// MediaSender is implemented by senders that can attach an image by URL.
type MediaSender interface {
	SendMessageWithMedia(ctx context.Context, to string, body string, mediaURL string) error
}

// ChatNotifier sends alerts to one recipient through a chat sender.
type ChatNotifier struct {
	channel string
	to      string
	sender  TextSender
}

// NewChatNotifier returns a notifier named "<channel>:<to>".
func NewChatNotifier(channel, to string, sender TextSender) *ChatNotifier {
	return &ChatNotifier{channel: channel, to: to, sender: sender}
}

func (c *ChatNotifier) Name() string { return c.channel + ":" + c.to }

func (c *ChatNotifier) Notify(ctx context.Context, _ models.Listing, msg Message) error {
	if ms, ok := c.sender.(MediaSender); ok && msg.ImageURL != "" {
		return ms.SendMessageWithMedia(ctx, c.to, msg.Text, msg.ImageURL)
	}
	return c.sender.SendMessage(ctx, c.to, msg.Text)
}

// ErrMockFailure is the default error returned by a failing MockNotifier.
var ErrMockFailure = errors.New("mock notifier failure")

// MockNotifier records deliveries. The first FailFirst calls fail with Err
// (ErrMockFailure when nil); FailFirst < 0 fails every call.
type MockNotifier struct {
	ChannelName string
	FailFirst   int
	Err         error

	mu        sync.Mutex
	calls     int
	Delivered []Message
}

func (m *MockNotifier) Name() string {
	if m.ChannelName == "" {
		return "mock"
	}
	return m.ChannelName
}

func (m *MockNotifier) Notify(ctx context.Context, l models.Listing, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.FailFirst < 0 || m.calls <= m.FailFirst {
		err := m.Err
		if err == nil {
			err = ErrMockFailure
		}
		return fmt.Errorf("notify %s: %w", l.ID, err)
	}
	m.Delivered = append(m.Delivered, msg)
	return nil
}

// Calls returns the number of Notify invocations.
func (m *MockNotifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
