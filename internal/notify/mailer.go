package notify

import (
	"slices"
	"sync"

	"github.com/rs/zerolog"
)

// Mailer delivers one HTML e-mail.
type Mailer interface {
	Send(to, subject, html string) error
}

// Message is a delivered e-mail as recorded by MemoryMailer.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// MemoryMailer keeps every message in memory. Tests use it in place of a relay.
type MemoryMailer struct {
	mu     sync.Mutex
	outbox []Message
}

func (m *MemoryMailer) Send(to, subject, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = append(m.outbox, Message{To: to, Subject: subject, HTML: html})
	return nil
}

// Sent returns a copy of the outbox in send order.
func (m *MemoryMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.outbox)
}

// LogMailer logs the envelope of each message instead of relaying it. The body is not logged
// since it carries the delivery address.
type LogMailer struct {
	Logger zerolog.Logger
	From   string
}

func (l LogMailer) Send(to, subject, html string) error {
	l.Logger.Info().
		Str("from", l.From).
		Str("to", to).
		Str("subject", subject).
		Int("body_bytes", len(html)).
		Msg("email_sent")
	return nil
}

// NopMailer drops every message.
type NopMailer struct{}

func (NopMailer) Send(string, string, string) error { return nil }
