package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"time"

	"michael/backend/internal/ics"
)

// Message is one outbound booking email: a plain-text body plus a calendar
// object attached with its scheduling method, so mail clients surface it as
// an invitation or a cancellation.
type Message struct {
	To      string
	Subject string
	Body    string
	ICS     string
	Method  ics.Method
}

// Sender delivers booking emails. Satisfied by SMTP in production and by
// fakes in tests.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTP sends mail through a single configured relay. The host's own address
// receives a blind copy of every message so the host's inbox mirrors what
// participants see.
type SMTP struct {
	Host     string
	Port     int
	From     string
	HostCopy string
	Auth     smtp.Auth

	log *slog.Logger
}

func NewSMTP(host string, port int, username, password, from, hostCopy string, log *slog.Logger) *SMTP {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTP{
		Host:     host,
		Port:     port,
		From:     from,
		HostCopy: hostCopy,
		Auth:     auth,
		log:      log,
	}
}

func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := BuildMIME(s.From, msg, time.Now())
	if err != nil {
		return fmt.Errorf("mailer: build message: %w", err)
	}

	recipients := []string{msg.To}
	if s.HostCopy != "" && s.HostCopy != msg.To {
		recipients = append(recipients, s.HostCopy)
	}

	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	if err := smtp.SendMail(addr, s.Auth, s.From, recipients, payload); err != nil {
		return fmt.Errorf("mailer: send to %s via %s: %w", msg.To, s.Host, err)
	}
	s.log.Info("email sent",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("method", string(msg.Method)))
	return nil
}

// BuildMIME renders the full RFC 5322 message: multipart/mixed with the text
// body first and the calendar object as a base64 attachment carrying its
// method parameter.
func BuildMIME(from string, msg Message, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	// Header values carry participant-controlled text; strip control
	// characters so a crafted title or address cannot smuggle extra headers
	// into the message.
	fmt.Fprintf(&buf, "From: %s\r\n", ics.SanitizeText(from))
	fmt.Fprintf(&buf, "To: %s\r\n", ics.SanitizeText(msg.To))
	fmt.Fprintf(&buf, "Subject: %s\r\n", ics.SanitizeText(msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", now.UTC().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n", mw.Boundary())
	buf.WriteString("\r\n")

	textHeader := textproto.MIMEHeader{}
	textHeader.Set("Content-Type", "text/plain; charset=UTF-8")
	textPart, err := mw.CreatePart(textHeader)
	if err != nil {
		return nil, err
	}
	if _, err := textPart.Write([]byte(msg.Body)); err != nil {
		return nil, err
	}

	if msg.ICS != "" {
		calHeader := textproto.MIMEHeader{}
		calHeader.Set("Content-Type", fmt.Sprintf("text/calendar; method=%s; charset=UTF-8", msg.Method))
		calHeader.Set("Content-Transfer-Encoding", "base64")
		calHeader.Set("Content-Disposition", `attachment; filename="invite.ics"`)
		calPart, err := mw.CreatePart(calHeader)
		if err != nil {
			return nil, err
		}
		if _, err := calPart.Write([]byte(wrapBase64(msg.ICS))); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// wrapBase64 encodes and folds at 76 columns per RFC 2045.
func wrapBase64(s string) string {
	enc := base64.StdEncoding.EncodeToString([]byte(s))
	var out bytes.Buffer
	for len(enc) > 76 {
		out.WriteString(enc[:76])
		out.WriteString("\r\n")
		enc = enc[76:]
	}
	out.WriteString(enc)
	return out.String()
}
