// Package email delivers relayed reports and surveys as email messages.
//
// This package defines a Mailer interface with an SMTP implementation that
// works against Mailhog in development and any authenticated SMTP relay
// (Gmail, Postmark) in production.
package email

import (
	"context"
	"time"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Mailer sends a fully assembled message.
//
// Send returns the transport error unchanged in its chain so callers can
// report the underlying text to clients.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// =============================================================================
// Email Data Types
// =============================================================================

// Message represents a single email message.
type Message struct {
	To          []string     // Recipient addresses
	Subject     string       // Subject line
	TextBody    string       // Plain text content
	HTMLBody    string       // Optional HTML content
	Attachments []Attachment // Files attached after the body
}

// Attachment is a file carried by a Message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// =============================================================================
// Configuration Types
// =============================================================================

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string        // SMTP server hostname (e.g., "localhost" for Mailhog)
	Port     int           // SMTP server port (e.g., 1025 for Mailhog, 587 for STARTTLS)
	Username string        // SMTP authentication username (empty for Mailhog)
	Password string        // SMTP authentication password (empty for Mailhog)
	From     string        // Sender email address
	FromName string        // Sender display name
	Timeout  time.Duration // Dial and session deadline; zero means DefaultTimeout
}

// =============================================================================
// Common Constants
// =============================================================================

const (
	// DefaultFromName is the default sender display name.
	DefaultFromName = "TrackMate"

	// DefaultTimeout bounds a single SMTP session.
	DefaultTimeout = 30 * time.Second
)
