package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"
)

// =============================================================================
// SMTP Mailer Implementation
// =============================================================================

// SMTPMailer sends messages via SMTP.
//
// STARTTLS is used whenever the server offers it. Authentication is skipped
// when no credentials are configured, which is what Mailhog expects.
type SMTPMailer struct {
	config SMTPConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewSMTPMailer creates a new SMTP-based mailer.
//
// Example usage:
//
//	mailer := email.NewSMTPMailer(
//	    email.SMTPConfig{
//	        Host: "localhost",
//	        Port: 1025,
//	        From: "reports@trackmate.local",
//	        FromName: "TrackMate",
//	    },
//	    logger,
//	)
func NewSMTPMailer(config SMTPConfig, logger *slog.Logger) *SMTPMailer {
	if config.FromName == "" {
		config.FromName = DefaultFromName
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPMailer{
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Send delivers msg to every recipient in a single SMTP transaction.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("email has no recipients")
	}

	body, err := m.buildMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to build email: %w", err)
	}

	if err := m.deliver(ctx, msg.To, body); err != nil {
		m.logger.Error("failed to send email",
			"to", strings.Join(msg.To, ","),
			"subject", msg.Subject,
			"attachments", len(msg.Attachments),
			"error", err,
		)
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("email sent",
		"to", strings.Join(msg.To, ","),
		"subject", msg.Subject,
		"attachments", len(msg.Attachments),
		"bytes", len(body),
	)
	return nil
}

// =============================================================================
// Internal Methods
// =============================================================================

func (m *SMTPMailer) deliver(ctx context.Context, to []string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	addr := net.JoinHostPort(m.config.Host, fmt.Sprint(m.config.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, m.config.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.config.Host}); err != nil {
			return err
		}
	}

	// Create auth if credentials are provided (not needed for Mailhog)
	if m.config.Username != "" && m.config.Password != "" {
		auth := smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
		if err := c.Auth(auth); err != nil {
			return err
		}
	}

	if err := c.Mail(m.config.From); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// buildMessage constructs the raw message: multipart/mixed holding the body
// followed by each attachment, base64 encoded.
func (m *SMTPMailer) buildMessage(msg Message) ([]byte, error) {
	var buf bytes.Buffer

	fromHeader := (&mail.Address{Name: m.config.FromName, Address: m.config.From}).String()

	buf.WriteString(fmt.Sprintf("From: %s\r\n", fromHeader))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject)))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", m.now().Format(time.RFC1123Z)))
	buf.WriteString("MIME-Version: 1.0\r\n")

	mixed := multipart.NewWriter(&buf)
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=%q\r\n", mixed.Boundary()))
	buf.WriteString("\r\n")

	if err := writeBody(mixed, msg); err != nil {
		return nil, err
	}

	for _, a := range msg.Attachments {
		contentType := a.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", mime.FormatMediaType(contentType, map[string]string{"name": a.Filename}))
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename}))
		h.Set("Content-Transfer-Encoding", "base64")
		part, err := mixed.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if err := writeBase64(part, a.Data); err != nil {
			return nil, err
		}
	}

	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeBody adds the text part, or a multipart/alternative of text and HTML
// when an HTML body is present.
func writeBody(mixed *multipart.Writer, msg Message) error {
	if msg.HTMLBody == "" {
		return writeTextPart(mixed, "text/plain; charset=utf-8", msg.TextBody)
	}

	var alt bytes.Buffer
	altWriter := multipart.NewWriter(&alt)
	if err := writeTextPart(altWriter, "text/plain; charset=utf-8", msg.TextBody); err != nil {
		return err
	}
	if err := writeTextPart(altWriter, "text/html; charset=utf-8", msg.HTMLBody); err != nil {
		return err
	}
	if err := altWriter.Close(); err != nil {
		return err
	}

	h := textproto.MIMEHeader{}
	h.Set("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", altWriter.Boundary()))
	part, err := mixed.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(alt.Bytes())
	return err
}

func writeTextPart(w *multipart.Writer, contentType, body string) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", "base64")
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	return writeBase64(part, []byte(body))
}

// writeBase64 writes data base64 encoded in 76 character lines.
func writeBase64(w interface{ Write([]byte) (int, error) }, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := fmt.Fprintf(w, "%s\r\n", encoded[:76]); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err := fmt.Fprintf(w, "%s\r\n", encoded)
	return err
}

// =============================================================================
// Compile-time interface check
// =============================================================================

var _ Mailer = (*SMTPMailer)(nil)
