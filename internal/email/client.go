// Package email defines the interface for transactional email delivery and
// provides a Resend-backed implementation.
package email

import (
	"context"
	"fmt"
)

// Attachment is a file sent along with a message.
type Attachment struct {
	Filename string
	Content  []byte
}

// Message is one outbound email.
type Message struct {
	From        string
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// SendResult is the provider's acknowledgement of an accepted message.
type SendResult struct {
	ID string `json:"id"`
}

// ProviderError is an error reported by the email provider itself, as
// opposed to a transport failure.
type ProviderError struct {
	Name       string
	Message    string
	StatusCode int
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("email: provider error %s (status %d): %s", e.Name, e.StatusCode, e.Message)
}

// Sender is the interface the diploma service uses to send email.
// Tests inject a stub that records calls without hitting the network.
type Sender interface {
	Send(ctx context.Context, msg Message) (*SendResult, error)
}
