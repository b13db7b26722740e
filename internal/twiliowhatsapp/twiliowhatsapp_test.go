package twiliowhatsapp

import (
	"context"
	"errors"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessageWithMedia(ctx, "+15551234567", "Hello Test", "https://img.example/1.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if sent[0].Body != "Hello Test" || sent[0].MediaURL != "https://img.example/1.jpg" {
		t.Errorf("unexpected message: %+v", sent[0])
	}
}

func TestMockClient_FailCount(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()
	mock.Err = errors.New("rate limited")
	mock.FailCount = 2

	for i := 0; i < 2; i++ {
		if err := mock.SendMessage(ctx, "+1", "x"); err == nil {
			t.Fatalf("call %d: expected error", i+1)
		}
	}
	if err := mock.SendMessage(ctx, "+1", "x"); err != nil {
		t.Fatalf("third call: unexpected error: %v", err)
	}
	if len(mock.Sent()) != 1 {
		t.Errorf("expected 1 recorded message, got %d", len(mock.Sent()))
	}
}

func TestFormatRecipient(t *testing.T) {
	tests := []struct {
		to       string
		whatsapp bool
		want     string
	}{
		{"+15551234567", true, "whatsapp:+15551234567"},
		{"whatsapp:+15551234567", true, "whatsapp:+15551234567"},
		{"whatsapp:+15551234567", false, "+15551234567"},
		{" +15551234567 ", false, "+15551234567"},
	}
	for _, tt := range tests {
		if got := FormatRecipient(tt.to, tt.whatsapp); got != tt.want {
			t.Errorf("FormatRecipient(%q, %v) = %q, want %q", tt.to, tt.whatsapp, got, tt.want)
		}
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(WithFrom("+15550000000")); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token")); err == nil {
		t.Error("expected error without from number")
	}

	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token"), WithFrom("whatsapp:+15550000000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Channel() != "whatsapp" {
		t.Errorf("Channel() = %q, want whatsapp", c.Channel())
	}
}
