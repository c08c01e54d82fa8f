package email

import (
	"context"
	"fmt"
	"net/smtp"

	"go.uber.org/zap"

	"callwave-backend/pkg/logger"
)

// Email represents an email to be sent
type Email struct {
	To      string
	Subject string
	Text    string
}

// InvitationEmailData contains data for a call invitation email
type InvitationEmailData struct {
	InviterName string
	CallTitle   string
	JoinURL     string
}

// Sender defines the interface for sending emails
type Sender interface {
	Send(ctx context.Context, email *Email) error
}

// MockSender is a mock implementation for development/testing
type MockSender struct{}

// Send sends an email (mock implementation)
func (m *MockSender) Send(ctx context.Context, email *Email) error {
	logger.Info("Mock email sent",
		zap.String("to", email.To),
		zap.String("subject", email.Subject))
	return nil
}

// SMTPConfig holds SMTP server configuration
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends email over plain SMTP
type SMTPSender struct {
	config *SMTPConfig
}

// NewSMTPSender creates an SMTP-backed sender
func NewSMTPSender(config *SMTPConfig) *SMTPSender {
	return &SMTPSender{config: config}
}

// Send sends an email via SMTP
func (s *SMTPSender) Send(ctx context.Context, email *Email) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		s.config.From, email.To, email.Subject, email.Text)

	if err := smtp.SendMail(addr, auth, s.config.From, []string{email.To}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

// BuildInvitationEmail renders the call invitation email
func BuildInvitationEmail(to string, data *InvitationEmailData) *Email {
	title := data.CallTitle
	if title == "" {
		title = "a call"
	}

	text := fmt.Sprintf(`Hi,

%s has invited you to join %s on CallWave.

Join here: %s

If you don't know the sender, you can safely ignore this email.

Best regards,
The CallWave Team`, data.InviterName, title, data.JoinURL)

	return &Email{
		To:      to,
		Subject: fmt.Sprintf("%s invited you to a call", data.InviterName),
		Text:    text,
	}
}
